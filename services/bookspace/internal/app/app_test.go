package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bookspace/pkg/catalog"
	"bookspace/pkg/domain"
	"bookspace/pkg/events"
	"bookspace/pkg/kv"
	"bookspace/pkg/library"
)

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) SearchBooks(ctx context.Context, query string) ([]domain.Book, error) {
	args := m.Called(ctx, query)
	books, _ := args.Get(0).([]domain.Book)
	return books, args.Error(1)
}

func (m *mockCatalog) FetchPopularBooks(ctx context.Context) ([]domain.Book, error) {
	args := m.Called(ctx)
	books, _ := args.Get(0).([]domain.Book)
	return books, args.Error(1)
}

func (m *mockCatalog) FetchBookDetails(ctx context.Context, id string) (domain.Book, error) {
	args := m.Called(ctx, id)
	book, _ := args.Get(0).(domain.Book)
	return book, args.Error(1)
}

type recordingPublisher struct {
	events []library.Event
	closed bool
}

func (p *recordingPublisher) Publish(_ context.Context, ev library.Event) error {
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.closed = true
	return nil
}

var dune = domain.Book{
	ID:          "X1",
	Title:       "Dune",
	Authors:     []string{"Frank Herbert"},
	Description: "<p>Desert <b>planet</b></p>",
}

func newTestApp(t *testing.T) (*App, *mockCatalog, *recordingPublisher) {
	t.Helper()
	cat := &mockCatalog{}
	pub := &recordingPublisher{}
	a, err := New(context.Background(), Config{
		Catalog:    cat,
		KV:         kv.NewMemoryStore(),
		Publishers: []events.Publisher{pub},
	})
	require.NoError(t, err)
	t.Cleanup(func() { cat.AssertExpectations(t) })
	return a, cat, pub
}

func TestSearchBooks(t *testing.T) {
	a, cat, _ := newTestApp(t)
	cat.On("SearchBooks", mock.Anything, "dune").Return([]domain.Book{dune}, nil).Once()

	books, err := a.SearchBooks(context.Background(), "  dune ")
	require.NoError(t, err)
	assert.Equal(t, []domain.Book{dune}, books)

	_, err = a.SearchBooks(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestPopularBooksPassesErrorsThrough(t *testing.T) {
	a, cat, _ := newTestApp(t)
	cat.On("FetchPopularBooks", mock.Anything).Return(nil, catalog.ErrNoData).Once()

	_, err := a.PopularBooks(context.Background())
	assert.ErrorIs(t, err, catalog.ErrNoData)
}

func TestBookDetailsAnnotatesLibraryState(t *testing.T) {
	ctx := context.Background()
	a, cat, _ := newTestApp(t)
	cat.On("FetchBookDetails", mock.Anything, "X1").Return(dune, nil).Twice()

	detail, err := a.BookDetails(ctx, "X1")
	require.NoError(t, err)
	assert.False(t, detail.InLibrary)
	assert.Nil(t, detail.Status)
	assert.Equal(t, "Desert planet", detail.PlainDescription)

	_, err = a.AddToLibrary(ctx, dune, domain.StatusReading)
	require.NoError(t, err)

	detail, err = a.BookDetails(ctx, "X1")
	require.NoError(t, err)
	assert.True(t, detail.InLibrary)
	require.NotNil(t, detail.Status)
	assert.Equal(t, domain.StatusReading, *detail.Status)
}

func TestBookDetailsErrors(t *testing.T) {
	a, cat, _ := newTestApp(t)
	cat.On("FetchBookDetails", mock.Anything, "gone").Return(domain.Book{}, &catalog.NetworkError{Kind: catalog.KindServer, StatusCode: 404}).Once()

	_, err := a.BookDetails(context.Background(), "gone")
	assert.ErrorIs(t, err, catalog.ErrServer)

	_, err = a.BookDetails(context.Background(), " ")
	assert.ErrorIs(t, err, ErrBookIDEmpty)
}

func TestLibraryLifecycle(t *testing.T) {
	ctx := context.Background()
	a, _, pub := newTestApp(t)

	saved, err := a.AddToLibrary(ctx, dune, domain.StatusWantToRead)
	require.NoError(t, err)
	assert.Equal(t, "X1", saved.ID)
	assert.Equal(t, domain.StatusWantToRead, saved.Status)
	assert.False(t, saved.DateAdded.IsZero())

	require.NoError(t, a.UpdateStatus(ctx, "X1", domain.StatusCompleted))
	status, ok := a.BookStatus(ctx, "X1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, status)

	books := a.MyBooks(ctx)
	require.Len(t, books, 1)
	assert.Equal(t, domain.StatusCompleted, books[0].Status)
	require.NoError(t, a.RemoveFromLibrary(ctx, "X1"))
	assert.Empty(t, a.MyBooks(ctx))
	require.NoError(t, a.RemoveFromLibrary(ctx, "X1"))

	require.NoError(t, a.Close())
	assert.True(t, pub.closed)

	kinds := make([]library.EventKind, 0, len(pub.events))
	for _, ev := range pub.events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []library.EventKind{library.EventSaved, library.EventStatusUpdated, library.EventRemoved}, kinds)
}

func TestAddToLibraryValidation(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestApp(t)

	_, err := a.AddToLibrary(ctx, domain.Book{ID: "X1"}, domain.StatusReading)
	assert.ErrorIs(t, err, ErrInvalidBook)

	_, err = a.AddToLibrary(ctx, dune, domain.ReadingStatus("Abandoned"))
	assert.ErrorIs(t, err, ErrInvalidStatus)

	assert.ErrorIs(t, a.UpdateStatus(ctx, "X1", domain.ReadingStatus("")), ErrInvalidStatus)
	assert.ErrorIs(t, a.UpdateStatus(ctx, "", domain.StatusReading), ErrBookIDEmpty)

	saved, err := a.AddToLibrary(ctx, domain.Book{ID: "X2", Title: "No Authors"}, domain.StatusReading)
	require.NoError(t, err)
	assert.NotNil(t, saved.Authors)
}

type brokenStore struct {
	kv.Store
}

func (brokenStore) Apply(context.Context, *kv.Batch) error    { return errors.New("read-only") }
func (brokenStore) Set(context.Context, string, []byte) error { return errors.New("read-only") }

func TestWritesThatDoNotStickAreReported(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, Config{
		Catalog:    &mockCatalog{},
		KV:         brokenStore{Store: kv.NewMemoryStore()},
		Publishers: []events.Publisher{},
	})
	require.NoError(t, err)

	_, err = a.AddToLibrary(ctx, dune, domain.StatusReading)
	assert.ErrorIs(t, err, ErrLibraryUnavailable)
	assert.ErrorIs(t, a.UpdateStatus(ctx, "X1", domain.StatusReading), ErrLibraryUnavailable)
}

// writeOnceStore accepts the first batch and rejects the rest.
type writeOnceStore struct {
	kv.Store
	applied bool
}

func (s *writeOnceStore) Apply(ctx context.Context, b *kv.Batch) error {
	if s.applied {
		return errors.New("read-only")
	}
	s.applied = true
	return s.Store.Apply(ctx, b)
}

func TestFailedResaveIsReported(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, Config{
		Catalog:    &mockCatalog{},
		KV:         &writeOnceStore{Store: kv.NewMemoryStore()},
		Publishers: []events.Publisher{},
	})
	require.NoError(t, err)

	first, err := a.AddToLibrary(ctx, dune, domain.StatusReading)
	require.NoError(t, err)

	_, err = a.AddToLibrary(ctx, dune, domain.StatusReading)
	assert.ErrorIs(t, err, ErrLibraryUnavailable, "a re-save that did not land must not return the old entry")

	books := a.MyBooks(ctx)
	require.Len(t, books, 1)
	assert.True(t, books[0].DateAdded.Equal(first.DateAdded))
}

func TestNewOpensConfiguredStorage(t *testing.T) {
	a, err := New(context.Background(), Config{
		CatalogBaseURL: "http://127.0.0.1:1",
		Storage:        kv.Config{Driver: kv.DriverFile, Path: t.TempDir() + "/library.json"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.AddToLibrary(context.Background(), dune, domain.StatusReading)
	require.NoError(t, err)

	_, err = New(context.Background(), Config{Storage: kv.Config{Driver: "etcd"}})
	assert.Error(t, err)
}
