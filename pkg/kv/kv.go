// Package kv is the durable key-value medium the library store persists to.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when the key has never been set or was deleted.
var ErrNotFound = errors.New("kv: key not found")

// Store is a small key-value medium. Values are opaque bytes; the file and
// SQL backends additionally require them to be valid JSON.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Apply runs every operation in b in order. Backends that can do so
	// apply the batch atomically.
	Apply(ctx context.Context, b *Batch) error
	Close() error
}

// Op is one batched write. Value is ignored for deletes.
type Op struct {
	Key    string
	Value  []byte
	Delete bool
}

// Batch is an ordered list of writes.
type Batch struct {
	ops []Op
}

// Set queues a write of value under key.
func (b *Batch) Set(key string, value []byte) *Batch {
	b.ops = append(b.ops, Op{Key: key, Value: value})
	return b
}

// Delete queues removal of key.
func (b *Batch) Delete(key string) *Batch {
	b.ops = append(b.ops, Op{Key: key, Delete: true})
	return b
}

// Ops returns the queued operations.
func (b *Batch) Ops() []Op {
	if b == nil {
		return nil
	}
	return b.ops
}

// Len reports the number of queued operations.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.ops)
}

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverSQL    = "sql"
	DriverMinio  = "minio"
)

// MinioConfig locates an S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string
}

// Config selects and configures a backend.
type Config struct {
	Driver string
	// Path is the JSON document used by the file driver.
	Path string
	// DatabaseURL is a postgres:// DSN or a sqlite:// path for the sql driver.
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string
	Minio         MinioConfig
}

// Open builds the backend named by cfg.Driver. An empty driver means file.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverFile
	}
	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverFile:
		return NewFileStore(cfg.Path)
	case DriverRedis:
		s := NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case DriverSQL:
		return NewGormStore(cfg.DatabaseURL)
	case DriverMinio:
		return NewMinioStore(ctx, cfg.Minio)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
