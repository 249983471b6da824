package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore keeps every key in one JSON document on disk. Each write
// rewrites the document through a temp file and rename, so a batch either
// lands completely or not at all. Values are stored compacted: Get returns
// the bytes given to Set minus insignificant whitespace.
//
// A document that no longer parses is moved aside to
// <path>.corrupt-<timestamp> and the store starts over empty.
type FileStore struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewFileStore prepares a store at path, creating the parent directory.
func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("file store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{path: path, logger: slog.Default()}, nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	v, ok := doc[key]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(v), nil
}

func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	return s.Apply(ctx, new(Batch).Set(key, value))
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	return s.Apply(ctx, new(Batch).Delete(key))
}

func (s *FileStore) Apply(_ context.Context, b *Batch) error {
	for _, op := range b.Ops() {
		if !op.Delete && !json.Valid(op.Value) {
			return fmt.Errorf("file store: value for %q is not valid JSON", op.Key)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	for _, op := range b.Ops() {
		if op.Delete {
			delete(doc, op.Key)
			continue
		}
		doc[op.Key] = json.RawMessage(append([]byte(nil), op.Value...))
	}
	return s.write(doc)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	doc := make(map[string]json.RawMessage)
	if len(strings.TrimSpace(string(data))) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		if qerr := s.quarantine(err); qerr != nil {
			return nil, qerr
		}
		return make(map[string]json.RawMessage), nil
	}
	return doc, nil
}

func (s *FileStore) quarantine(parseErr error) error {
	aside := fmt.Sprintf("%s.corrupt-%s", s.path, time.Now().UTC().Format("20060102T150405.000000000"))
	if err := os.Rename(s.path, aside); err != nil {
		return fmt.Errorf("parse %s: %w (move aside: %v)", s.path, parseErr, err)
	}
	s.logger.Warn("kv file document corrupt, moved aside", "path", s.path, "moved_to", aside, "err", parseErr)
	return nil
}

func (s *FileStore) write(doc map[string]json.RawMessage) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	data := buf.Bytes()
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
