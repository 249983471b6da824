package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoVolumes = `{
  "kind": "books#volumes",
  "totalItems": 2,
  "items": [
    {"id": "X1", "volumeInfo": {"title": "Dune", "authors": ["Frank Herbert"], "description": "Arrakis", "imageLinks": {"thumbnail": "http://img/x1"}, "publishedDate": "1965"}},
    {"id": "X2", "volumeInfo": {"title": "Anonymous Tales"}}
  ]
}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
}

func TestSearchBooksMapsItemsInOrder(t *testing.T) {
	var gotQuery map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{"q": q.Get("q"), "maxResults": q.Get("maxResults"), "key": q.Get("key")}
		assert.Equal(t, "bookspace/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(twoVolumes))
	})

	books, err := c.SearchBooks(context.Background(), "dune")
	require.NoError(t, err)
	require.Len(t, books, 2)

	assert.Equal(t, "X1", books[0].ID)
	assert.Equal(t, "Dune", books[0].Title)
	assert.Equal(t, []string{"Frank Herbert"}, books[0].Authors)
	assert.Equal(t, "http://img/x1", books[0].ImageURL)
	assert.Equal(t, "1965", books[0].PublishedDate)

	assert.Equal(t, "X2", books[1].ID)
	assert.NotNil(t, books[1].Authors)
	assert.Empty(t, books[1].Authors)
	assert.Empty(t, books[1].ImageURL)

	assert.Equal(t, "dune", gotQuery["q"])
	assert.Equal(t, "40", gotQuery["maxResults"])
	assert.Empty(t, gotQuery["key"])
}

func TestFetchPopularBooksSendsRelevanceQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "subject:fiction", q.Get("q"))
		assert.Equal(t, "relevance", q.Get("orderBy"))
		assert.Equal(t, "40", q.Get("maxResults"))
		_, _ = w.Write([]byte(`{"kind":"books#volumes","totalItems":0}`))
	})

	books, err := c.FetchPopularBooks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestAPIKeyIsSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "secret", HTTPClient: srv.Client()})
	_, err := c.SearchBooks(context.Background(), "go")
	require.NoError(t, err)
}

func TestFetchBookDetails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/X1", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"X1","volumeInfo":{"title":"Dune","authors":["Frank Herbert"]}}`))
	})

	book, err := c.FetchBookDetails(context.Background(), "X1")
	require.NoError(t, err)
	assert.Equal(t, "Dune", book.Title)
	assert.Equal(t, []string{"Frank Herbert"}, book.Authors)
}

func TestFetchBookDetailsEmptyID(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := c.FetchBookDetails(context.Background(), "  ")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidURL)
	assert.Equal(t, "Invalid URL", err.Error())
}

func TestRelativeBaseURLIsInvalid(t *testing.T) {
	c := NewClient(Config{BaseURL: "books/v1/volumes"})
	_, err := c.SearchBooks(context.Background(), "dune")
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestClientErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    error
		message string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"boom"}`, want: ErrServer, message: "Server error 500"},
		{name: "empty body", status: http.StatusOK, body: "", want: ErrNoData, message: "No data found"},
		{name: "malformed json", status: http.StatusOK, body: `{"items": [`, want: ErrDecoding, message: "Failed to decode data"},
		{name: "missing title", status: http.StatusOK, body: `{"items":[{"id":"X1","volumeInfo":{}}]}`, want: ErrDecoding, message: "Failed to decode data"},
		{name: "missing volumeInfo", status: http.StatusOK, body: `{"items":[{"id":"X1"}]}`, want: ErrDecoding, message: "Failed to decode data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.SearchBooks(context.Background(), "dune")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.message, err.Error())
		})
	}
}

func TestServerErrorCarriesStatusCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := c.FetchPopularBooks(context.Background())

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, KindServer, netErr.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, netErr.StatusCode)
	assert.ErrorIs(t, err, &NetworkError{Kind: KindServer, StatusCode: http.StatusServiceUnavailable})
	assert.NotErrorIs(t, err, &NetworkError{Kind: KindServer, StatusCode: http.StatusInternalServerError})
}

func TestUnreachableHostIsNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: base})
	_, err := c.SearchBooks(context.Background(), "dune")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetworkFailure)
	assert.Contains(t, err.Error(), "Network error: ")
	assert.NotNil(t, errors.Unwrap(err))
}

func TestCanceledContextIsNetworkFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(twoVolumes))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.SearchBooks(ctx, "dune")
	assert.ErrorIs(t, err, ErrNetworkFailure)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimitedClientStillServes(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, HTTPClient: srv.Client(), RatePerSecond: 100})
	for i := 0; i < 3; i++ {
		_, err := c.SearchBooks(context.Background(), "go")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestUnknownErrorMessage(t *testing.T) {
	assert.Equal(t, "Something went wrong", ErrUnknown.Error())
	assert.Equal(t, "unknown", KindUnknown.String())
	assert.Equal(t, "server_error", KindServer.String())
}
