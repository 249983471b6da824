package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"bookspace/pkg/domain"
)

// ErrDispatcherClosed is returned when work is submitted after Close.
var ErrDispatcherClosed = errors.New("catalog dispatcher closed")

// Catalog is the set of lookups the dispatcher can run. *Client implements it.
type Catalog interface {
	SearchBooks(ctx context.Context, query string) ([]domain.Book, error)
	FetchPopularBooks(ctx context.Context) ([]domain.Book, error)
	FetchBookDetails(ctx context.Context, id string) (domain.Book, error)
}

// Result carries the outcome of an async catalog call.
type Result[T any] struct {
	Value T
	Err   error
}

// DispatcherOptions tunes a Dispatcher.
type DispatcherOptions struct {
	// MaxInFlight bounds concurrent HTTP calls. Defaults to 4.
	MaxInFlight int64
	// QueueSize is the completion buffer. Defaults to 64.
	QueueSize int
	Logger    *slog.Logger
}

// Dispatcher runs catalog calls in the background and runs every completion
// on a single goroutine, one at a time. Completion order between two calls
// follows whichever network round trip finishes first.
type Dispatcher struct {
	catalog     Catalog
	sem         *semaphore.Weighted
	completions chan func()
	done        chan struct{}
	logger      *slog.Logger

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// NewDispatcher starts the completion goroutine.
func NewDispatcher(c Catalog, opts DispatcherOptions) *Dispatcher {
	maxInFlight := opts.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		catalog:     c,
		sem:         semaphore.NewWeighted(maxInFlight),
		completions: make(chan func(), queueSize),
		done:        make(chan struct{}),
		logger:      logger,
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for fn := range d.completions {
		d.run(fn)
	}
}

func (d *Dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("catalog completion panicked", "panic", r)
		}
	}()
	fn()
}

// SearchBooks runs Catalog.SearchBooks and delivers the result to fn.
func (d *Dispatcher) SearchBooks(ctx context.Context, query string, fn func(Result[[]domain.Book])) error {
	return dispatch(d, ctx, func(ctx context.Context) ([]domain.Book, error) {
		return d.catalog.SearchBooks(ctx, query)
	}, fn)
}

// FetchPopularBooks runs Catalog.FetchPopularBooks and delivers the result to fn.
func (d *Dispatcher) FetchPopularBooks(ctx context.Context, fn func(Result[[]domain.Book])) error {
	return dispatch(d, ctx, d.catalog.FetchPopularBooks, fn)
}

// FetchBookDetails runs Catalog.FetchBookDetails and delivers the result to fn.
func (d *Dispatcher) FetchBookDetails(ctx context.Context, id string, fn func(Result[domain.Book])) error {
	return dispatch(d, ctx, func(ctx context.Context) (domain.Book, error) {
		return d.catalog.FetchBookDetails(ctx, id)
	}, fn)
}

// Close stops accepting work, waits for in-flight calls and runs their
// completions. It must not be called from inside a completion.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.inflight.Wait()
	close(d.completions)
	<-d.done
}

func (d *Dispatcher) begin() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	d.inflight.Add(1)
	return true
}

func dispatch[T any](d *Dispatcher, ctx context.Context, call func(context.Context) (T, error), fn func(Result[T])) error {
	if !d.begin() {
		return ErrDispatcherClosed
	}
	go func() {
		defer d.inflight.Done()
		res := invoke(d, ctx, call)
		d.completions <- func() { fn(res) }
	}()
	return nil
}

func invoke[T any](d *Dispatcher, ctx context.Context, call func(context.Context) (T, error)) (res Result[T]) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		res.Err = networkFailure(err)
		return res
	}
	defer d.sem.Release(1)
	defer func() {
		if r := recover(); r != nil {
			res = Result[T]{Err: &NetworkError{Kind: KindUnknown, Err: fmt.Errorf("panic: %v", r)}}
		}
	}()
	res.Value, res.Err = call(ctx)
	return res
}

// Feed issues a token for every call and drops completions that are no
// longer the most recent one issued on the feed. Use one Feed per
// destination, e.g. one per list screen.
type Feed struct {
	d      *Dispatcher
	latest atomic.Uint64
}

// NewFeed returns a Feed backed by d.
func (d *Dispatcher) NewFeed() *Feed {
	return &Feed{d: d}
}

// SearchBooks is Dispatcher.SearchBooks with stale results dropped.
func (f *Feed) SearchBooks(ctx context.Context, query string, fn func(Result[[]domain.Book])) error {
	return f.d.SearchBooks(ctx, query, latestOnly(f, fn))
}

// FetchPopularBooks is Dispatcher.FetchPopularBooks with stale results dropped.
func (f *Feed) FetchPopularBooks(ctx context.Context, fn func(Result[[]domain.Book])) error {
	return f.d.FetchPopularBooks(ctx, latestOnly(f, fn))
}

// FetchBookDetails is Dispatcher.FetchBookDetails with stale results dropped.
func (f *Feed) FetchBookDetails(ctx context.Context, id string, fn func(Result[domain.Book])) error {
	return f.d.FetchBookDetails(ctx, id, latestOnly(f, fn))
}

func latestOnly[T any](f *Feed, fn func(Result[T])) func(Result[T]) {
	token := f.latest.Add(1)
	return func(res Result[T]) {
		if f.latest.Load() != token {
			f.d.logger.Debug("catalog result superseded", "token", token)
			return
		}
		fn(res)
	}
}
