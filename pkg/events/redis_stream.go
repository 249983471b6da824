package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"bookspace/pkg/library"
)

// RedisStreamConfig configures a RedisStreamPublisher.
type RedisStreamConfig struct {
	Addr     string
	Password string
	Stream   string
	// MaxLen trims the stream approximately. Zero keeps every entry.
	MaxLen int64
}

// RedisStreamPublisher appends events to a Redis stream.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamPublisher(cfg RedisStreamConfig) (*RedisStreamPublisher, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "bookspace:library:events"
	}
	return &RedisStreamPublisher{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Password,
		}),
		stream: stream,
		maxLen: cfg.MaxLen,
	}, nil
}

// Publish adds one stream entry per event.
func (p *RedisStreamPublisher) Publish(ctx context.Context, ev library.Event) error {
	payload, err := encode(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"id":      ev.ID,
			"kind":    string(ev.Kind),
			"bookId":  ev.BookID,
			"payload": string(payload),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

func (p *RedisStreamPublisher) Close() error {
	return p.client.Close()
}
