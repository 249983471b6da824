package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bookspace/pkg/catalog"
	"bookspace/pkg/domain"
	"bookspace/pkg/events"
	"bookspace/pkg/kv"
	"bookspace/pkg/library"
)

// Config holds runtime configuration for the core application. Catalog, KV
// and Publishers override what would otherwise be built from the other
// fields; tests use them to inject fakes.
type Config struct {
	CatalogBaseURL       string
	CatalogAPIKey        string
	CatalogTimeout       time.Duration
	CatalogRatePerSecond float64
	CatalogProxy         string
	UserAgent            string

	Storage kv.Config

	AMQPURL           string
	AMQPExchange      string
	RedisAddr         string
	RedisPassword     string
	EventStream       string
	EventStreamMaxLen int64

	Catalog    catalog.Catalog
	KV         kv.Store
	Publishers []events.Publisher
	Logger     *slog.Logger
}

// App wires the catalog client, the library store and the event relays.
type App struct {
	catalog    catalog.Catalog
	medium     kv.Store
	library    *library.Store
	publishers []events.Publisher
	detach     []func()
	logger     *slog.Logger
}

// BookDetail is the detail view of one catalog book.
type BookDetail struct {
	Book             domain.Book           `json:"book"`
	PlainDescription string                `json:"plainDescription"`
	InLibrary        bool                  `json:"inLibrary"`
	Status           *domain.ReadingStatus `json:"status,omitempty"`
}

// New constructs the application.
func New(ctx context.Context, cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cat := cfg.Catalog
	if cat == nil {
		c, err := newCatalogClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		cat = c
	}

	medium := cfg.KV
	if medium == nil {
		m, err := kv.Open(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("open %s storage: %w", storageDriverName(cfg.Storage.Driver), err)
		}
		medium = m
	}

	a := &App{
		catalog: cat,
		medium:  medium,
		library: library.New(medium, library.Options{Logger: logger}),
		logger:  logger,
	}

	publishers := cfg.Publishers
	if publishers == nil {
		built, err := newPublishers(cfg)
		if err != nil {
			_ = medium.Close()
			return nil, err
		}
		publishers = built
	}
	for _, pub := range publishers {
		a.publishers = append(a.publishers, pub)
		a.detach = append(a.detach, events.Attach(a.library, pub, logger))
	}
	return a, nil
}

func newCatalogClient(cfg Config, logger *slog.Logger) (*catalog.Client, error) {
	clientCfg := catalog.Config{
		BaseURL:       cfg.CatalogBaseURL,
		APIKey:        cfg.CatalogAPIKey,
		UserAgent:     cfg.UserAgent,
		Timeout:       cfg.CatalogTimeout,
		RatePerSecond: cfg.CatalogRatePerSecond,
		Logger:        logger,
	}
	if proxyAddr := strings.TrimSpace(cfg.CatalogProxy); proxyAddr != "" {
		httpClient, err := catalog.NewProxyHTTPClient(proxyAddr, cfg.CatalogTimeout)
		if err != nil {
			return nil, fmt.Errorf("init catalog proxy: %w", err)
		}
		clientCfg.HTTPClient = httpClient
	}
	return catalog.NewClient(clientCfg), nil
}

func newPublishers(cfg Config) ([]events.Publisher, error) {
	var pubs []events.Publisher
	if strings.TrimSpace(cfg.AMQPURL) != "" {
		pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, fmt.Errorf("init amqp relay: %w", err)
		}
		pubs = append(pubs, pub)
	}
	if strings.TrimSpace(cfg.EventStream) != "" {
		pub, err := events.NewRedisStreamPublisher(events.RedisStreamConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.EventStream,
			MaxLen:   cfg.EventStreamMaxLen,
		})
		if err != nil {
			for _, p := range pubs {
				_ = p.Close()
			}
			return nil, fmt.Errorf("init redis stream relay: %w", err)
		}
		pubs = append(pubs, pub)
	}
	return pubs, nil
}

func storageDriverName(driver string) string {
	if strings.TrimSpace(driver) == "" {
		return kv.DriverFile
	}
	return driver
}

// Catalog exposes the catalog used by the app.
func (a *App) Catalog() catalog.Catalog {
	return a.catalog
}

// Library exposes the underlying store for embedding callers.
func (a *App) Library() *library.Store {
	return a.library
}

// PopularBooks lists the popular fiction feed.
func (a *App) PopularBooks(ctx context.Context) ([]domain.Book, error) {
	return a.catalog.FetchPopularBooks(ctx)
}

// SearchBooks searches the catalog. Blank queries are rejected.
func (a *App) SearchBooks(ctx context.Context, query string) ([]domain.Book, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	return a.catalog.SearchBooks(ctx, query)
}

// BookDetails fetches a book and annotates it with library state.
func (a *App) BookDetails(ctx context.Context, id string) (BookDetail, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return BookDetail{}, ErrBookIDEmpty
	}
	book, err := a.catalog.FetchBookDetails(ctx, id)
	if err != nil {
		return BookDetail{}, err
	}
	detail := BookDetail{
		Book:             book,
		PlainDescription: catalog.PlainText(book.Description),
		InLibrary:        a.library.Contains(ctx, id),
	}
	if status, ok := a.library.GetBookStatus(ctx, id); ok {
		detail.Status = &status
	}
	return detail, nil
}

// MyBooks returns the saved books.
func (a *App) MyBooks(ctx context.Context) []domain.SavedBook {
	return a.library.GetMyBooks(ctx)
}

// AddToLibrary saves book with status and returns the stored entry.
func (a *App) AddToLibrary(ctx context.Context, book domain.Book, status domain.ReadingStatus) (domain.SavedBook, error) {
	book.ID = strings.TrimSpace(book.ID)
	if book.ID == "" || strings.TrimSpace(book.Title) == "" {
		return domain.SavedBook{}, ErrInvalidBook
	}
	if !status.Valid() {
		return domain.SavedBook{}, ErrInvalidStatus
	}
	if book.Authors == nil {
		book.Authors = []string{}
	}
	if !a.library.SaveBook(ctx, book, status) {
		return domain.SavedBook{}, ErrLibraryUnavailable
	}
	for _, saved := range a.library.GetMyBooks(ctx) {
		if saved.ID == book.ID {
			return saved, nil
		}
	}
	return domain.SavedBook{}, ErrLibraryUnavailable
}

// RemoveFromLibrary deletes id from the library. Absent ids are not an error.
func (a *App) RemoveFromLibrary(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrBookIDEmpty
	}
	if !a.library.RemoveBook(ctx, id) {
		return ErrLibraryUnavailable
	}
	return nil
}

// BookStatus reports the stored status for id.
func (a *App) BookStatus(ctx context.Context, id string) (domain.ReadingStatus, bool) {
	return a.library.GetBookStatus(ctx, strings.TrimSpace(id))
}

// UpdateStatus sets the reading status for id.
func (a *App) UpdateStatus(ctx context.Context, id string, status domain.ReadingStatus) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrBookIDEmpty
	}
	if !status.Valid() {
		return ErrInvalidStatus
	}
	if !a.library.UpdateBookStatus(ctx, id, status) {
		return ErrLibraryUnavailable
	}
	return nil
}

// Close detaches relays and releases the storage medium and publishers.
func (a *App) Close() error {
	for _, detach := range a.detach {
		detach()
	}
	var errs []error
	for _, pub := range a.publishers {
		if err := pub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if err := a.medium.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	return errors.Join(errs...)
}
