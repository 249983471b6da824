// Package events forwards library mutations to external brokers.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"bookspace/pkg/library"
)

// Publisher delivers one library event.
type Publisher interface {
	Publish(ctx context.Context, ev library.Event) error
	Close() error
}

// Subscriber is the part of library.Store a relay needs.
type Subscriber interface {
	Subscribe(fn library.Listener) func()
}

const (
	publishTimeout = 5 * time.Second
	relayBuffer    = 64
)

// Attach subscribes pub to store. Events are handed to a per-publisher
// goroutine so a slow broker never blocks library writes; when its buffer is
// full the event is dropped with a warning. Publish failures are logged and
// dropped. The returned func detaches the relay and waits for queued events
// to be published.
func Attach(store Subscriber, pub Publisher, logger *slog.Logger) func() {
	if logger == nil {
		logger = slog.Default()
	}
	r := &relay{
		pub:    pub,
		logger: logger,
		queue:  make(chan library.Event, relayBuffer),
		done:   make(chan struct{}),
	}
	go r.run()
	unsubscribe := store.Subscribe(r.enqueue)

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			r.mu.Lock()
			r.closed = true
			close(r.queue)
			r.mu.Unlock()
			<-r.done
		})
	}
}

type relay struct {
	pub    Publisher
	logger *slog.Logger
	queue  chan library.Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func (r *relay) enqueue(ev library.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.logger.Warn("library event dropped: relay queue full", "event_id", ev.ID, "kind", string(ev.Kind), "book_id", ev.BookID)
	}
}

func (r *relay) run() {
	defer close(r.done)
	for ev := range r.queue {
		r.publish(ev)
	}
}

func (r *relay) publish(ev library.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.pub.Publish(ctx, ev); err != nil {
		r.logger.Warn("library event publish failed", "event_id", ev.ID, "kind", string(ev.Kind), "book_id", ev.BookID, "err", err)
		return
	}
	r.logger.Debug("library event published", "event_id", ev.ID, "kind", string(ev.Kind))
}

// RoutingKey is the topic used for ev, e.g. "library.saved".
func RoutingKey(ev library.Event) string {
	return "library." + string(ev.Kind)
}

func encode(ev library.Event) ([]byte, error) {
	return json.Marshal(ev)
}
