package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"bookspace/pkg/domain"
	"bookspace/pkg/kv"
	"bookspace/pkg/library"
)

type recordingPublisher struct {
	events []library.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev library.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestAttachForwardsEvents(t *testing.T) {
	ctx := context.Background()
	store := library.New(kv.NewMemoryStore(), library.Options{})
	pub := &recordingPublisher{}
	detach := Attach(store, pub, nil)

	store.SaveBook(ctx, domain.Book{ID: "X1", Title: "Dune", Authors: []string{}}, domain.StatusWantToRead)
	store.RemoveBook(ctx, "X1")
	detach()
	store.SaveBook(ctx, domain.Book{ID: "X2", Title: "Emma", Authors: []string{}}, domain.StatusReading)

	if len(pub.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(pub.events))
	}
	if got := RoutingKey(pub.events[0]); got != "library.saved" {
		t.Fatalf("unexpected routing key: %q", got)
	}
	if got := RoutingKey(pub.events[1]); got != "library.removed" {
		t.Fatalf("unexpected routing key: %q", got)
	}
}

// blockingPublisher holds every publish until release is closed.
type blockingPublisher struct {
	release   chan struct{}
	published chan library.Event
}

func (p *blockingPublisher) Publish(ctx context.Context, ev library.Event) error {
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.published <- ev
	return nil
}

func (p *blockingPublisher) Close() error { return nil }

func TestAttachDoesNotBlockWrites(t *testing.T) {
	ctx := context.Background()
	store := library.New(kv.NewMemoryStore(), library.Options{})
	pub := &blockingPublisher{release: make(chan struct{}), published: make(chan library.Event, 8)}
	detach := Attach(store, pub, nil)

	done := make(chan struct{})
	go func() {
		store.SaveBook(ctx, domain.Book{ID: "X1", Title: "Dune", Authors: []string{}}, domain.StatusReading)
		store.UpdateBookStatus(ctx, "X1", domain.StatusCompleted)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("library writes blocked on a stalled publisher")
	}

	close(pub.release)
	detach()
	if len(pub.published) != 2 {
		t.Fatalf("expected queued events to be flushed on detach, got %d", len(pub.published))
	}
}

func TestAttachSwallowsPublishErrors(t *testing.T) {
	ctx := context.Background()
	store := library.New(kv.NewMemoryStore(), library.Options{})
	detach := Attach(store, &recordingPublisher{err: errors.New("broker down")}, nil)
	defer detach()

	store.SaveBook(ctx, domain.Book{ID: "X1", Title: "Dune", Authors: []string{}}, domain.StatusReading)
	if !store.Contains(ctx, "X1") {
		t.Fatalf("publish failure must not affect the store")
	}
}

func TestAMQPMessage(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := library.Event{ID: "ev-1", Kind: library.EventStatusUpdated, BookID: "X1", Status: domain.StatusCompleted, At: at}
	msg, err := amqpMessage(ev)
	if err != nil {
		t.Fatalf("amqp message: %v", err)
	}
	if msg.ContentType != "application/json" || msg.MessageId != "ev-1" || msg.Type != "status_updated" {
		t.Fatalf("unexpected message headers: %+v", msg)
	}
	if !msg.Timestamp.Equal(at) {
		t.Fatalf("unexpected timestamp: %v", msg.Timestamp)
	}
	var decoded library.Event
	if err := json.Unmarshal(msg.Body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.BookID != "X1" || decoded.Status != domain.StatusCompleted {
		t.Fatalf("unexpected body: %+v", decoded)
	}
}

func TestNewAMQPPublisherRequiresURL(t *testing.T) {
	if _, err := NewAMQPPublisher(" ", ""); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestRedisStreamPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	pub, err := NewRedisStreamPublisher(RedisStreamConfig{Addr: mr.Addr(), Stream: "test:events", MaxLen: 100})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	t.Cleanup(func() { _ = pub.Close() })

	ev := library.Event{ID: "ev-1", Kind: library.EventSaved, BookID: "X1", Status: domain.StatusReading, At: time.Now().UTC()}
	if err := pub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	entries, err := client.XRange(context.Background(), "test:events", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Values["kind"] != "saved" || entries[0].Values["bookId"] != "X1" {
		t.Fatalf("unexpected entry: %+v", entries[0].Values)
	}
}

func TestNewRedisStreamPublisherRequiresAddr(t *testing.T) {
	if _, err := NewRedisStreamPublisher(RedisStreamConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
