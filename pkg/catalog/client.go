package catalog

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"bookspace/pkg/domain"
)

const (
	// DefaultBaseURL is the Google Books volumes endpoint.
	DefaultBaseURL = "https://www.googleapis.com/books/v1/volumes"

	maxResults   = 40
	popularQuery = "subject:fiction"
)

// Config configures a Client. Zero values pick sensible defaults.
type Config struct {
	BaseURL       string
	APIKey        string
	UserAgent     string
	Timeout       time.Duration
	RatePerSecond float64
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client calls the remote book catalog over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient constructs a catalog client.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = "bookspace/1.0"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		userAgent:  userAgent,
		httpClient: httpClient,
		logger:     logger,
	}
	if cfg.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return c
}

// SearchBooks returns up to 40 books matching query, in API order.
func (c *Client) SearchBooks(ctx context.Context, query string) ([]domain.Book, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("maxResults", strconv.Itoa(maxResults))
	return c.listVolumes(ctx, "search", params)
}

// FetchPopularBooks returns the most relevant fiction titles.
func (c *Client) FetchPopularBooks(ctx context.Context) ([]domain.Book, error) {
	params := url.Values{}
	params.Set("q", popularQuery)
	params.Set("orderBy", "relevance")
	params.Set("maxResults", strconv.Itoa(maxResults))
	return c.listVolumes(ctx, "popular", params)
}

// FetchBookDetails looks up a single volume by id.
func (c *Client) FetchBookDetails(ctx context.Context, id string) (domain.Book, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Book{}, invalidURL(errors.New("empty volume id"))
	}
	u, err := c.buildURL(url.PathEscape(id), url.Values{})
	if err != nil {
		return domain.Book{}, err
	}
	var book domain.Book
	err = c.get(ctx, "details", u, func(body []byte) error {
		b, err := decodeVolume(body)
		if err != nil {
			return err
		}
		book = b
		return nil
	})
	if err != nil {
		return domain.Book{}, err
	}
	return book, nil
}

func (c *Client) listVolumes(ctx context.Context, op string, params url.Values) ([]domain.Book, error) {
	u, err := c.buildURL("", params)
	if err != nil {
		return nil, err
	}
	var books []domain.Book
	err = c.get(ctx, op, u, func(body []byte) error {
		out, err := decodeVolumes(body)
		if err != nil {
			return err
		}
		books = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("catalog books loaded", "op", op, "count", len(books))
	return books, nil
}

func (c *Client) buildURL(path string, params url.Values) (string, error) {
	raw := c.baseURL
	if path != "" {
		raw += "/" + path
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", invalidURL(err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", invalidURL(errors.New("base URL must be absolute"))
	}
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// get performs a GET and classifies the outcome. decode is only called for
// 2xx responses with a non-empty body.
func (c *Client) get(ctx context.Context, op, rawURL string, decode func([]byte) error) error {
	start := time.Now()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return networkFailure(err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return invalidURL(err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("catalog request failed", "op", op, "err", err)
		return networkFailure(err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	c.logger.Debug("catalog response", "op", op, "status", resp.StatusCode,
		"bytes", len(body), "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return serverError(resp.StatusCode)
	}
	if readErr != nil {
		return networkFailure(readErr)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &NetworkError{Kind: KindNoData}
	}
	if err := decode(body); err != nil {
		c.logger.Warn("catalog decode failed", "op", op, "err", err)
		return decodingError(err)
	}
	return nil
}
