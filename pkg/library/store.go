// Package library persists the user's saved books and their reading status.
package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookspace/pkg/domain"
	"bookspace/pkg/kv"
)

// Keys of the two persisted records.
const (
	SavedBooksKey   = "savedBooks"
	BookStatusesKey = "bookStatuses"
)

// Options configures a Store.
type Options struct {
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Store keeps the saved-book list and the status map consistent. Failures
// from the medium or from encoding are logged and swallowed: reads fall back
// to empty or absent and writes become no-ops. A write never proceeds on top
// of a read the medium failed to serve.
type Store struct {
	kv     kv.Store
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex

	subMu     sync.RWMutex
	nextSub   int
	listeners []subscription
}

type subscription struct {
	id int
	fn Listener
}

// New wraps a kv medium.
func New(medium kv.Store, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{kv: medium, logger: logger, now: now}
}

// SaveBook adds book with status, replacing any existing entry with the same
// id. The replacement goes to the end of the list with a fresh dateAdded.
// It reports whether the write was committed.
func (s *Store) SaveBook(ctx context.Context, book domain.Book, status domain.ReadingStatus) bool {
	if !status.Valid() {
		s.logger.Warn("library save skipped: invalid status", "book_id", book.ID, "status", string(status))
		return false
	}
	s.mu.Lock()
	books, statuses, err := s.loadAll(ctx)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("library save skipped: medium unreadable", "book_id", book.ID, "err", err)
		return false
	}

	kept := books[:0]
	for _, b := range books {
		if b.ID != book.ID {
			kept = append(kept, b)
		}
	}
	kept = append(kept, domain.NewSavedBook(book, status, s.now()))
	statuses[book.ID] = string(status)

	ok := s.write(ctx, "save", kept, statuses)
	s.mu.Unlock()
	if ok {
		s.emit(EventSaved, book.ID, status)
	}
	return ok
}

// RemoveBook deletes the book and its status. Unknown ids are a no-op and
// report true; false means the medium could not be read or written.
func (s *Store) RemoveBook(ctx context.Context, id string) bool {
	s.mu.Lock()
	books, statuses, err := s.loadAll(ctx)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("library remove skipped: medium unreadable", "book_id", id, "err", err)
		return false
	}

	kept := books[:0]
	found := false
	for _, b := range books {
		if b.ID == id {
			found = true
			continue
		}
		kept = append(kept, b)
	}
	if _, ok := statuses[id]; ok {
		found = true
		delete(statuses, id)
	}
	if !found {
		s.mu.Unlock()
		return true
	}
	ok := s.write(ctx, "remove", kept, statuses)
	s.mu.Unlock()
	if ok {
		s.emit(EventRemoved, id, "")
	}
	return ok
}

// GetMyBooks returns the saved books in insertion order. The status map is
// authoritative: an entry's Status is the mapped status when one is stored.
func (s *Store) GetMyBooks(ctx context.Context) []domain.SavedBook {
	s.mu.Lock()
	defer s.mu.Unlock()
	books, err := s.loadBooks(ctx)
	if err != nil {
		s.logger.Warn("library read failed", "key", SavedBooksKey, "err", err)
		return []domain.SavedBook{}
	}
	statuses, err := s.loadStatuses(ctx)
	if err != nil {
		s.logger.Warn("library read failed", "key", BookStatusesKey, "err", err)
		statuses = map[string]string{}
	}
	out := make([]domain.SavedBook, 0, len(books))
	for _, b := range books {
		if mapped, ok := domain.ParseReadingStatus(statuses[b.ID]); ok {
			b.Status = mapped
		}
		if !b.Status.Valid() {
			s.logger.Warn("library dropping entry with unknown status", "book_id", b.ID, "status", string(b.Status))
			continue
		}
		out = append(out, b)
	}
	return out
}

// GetBookStatus reports the stored status for id.
func (s *Store) GetBookStatus(ctx context.Context, id string) (domain.ReadingStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	statuses, err := s.loadStatuses(ctx)
	if err != nil {
		s.logger.Warn("library read failed", "key", BookStatusesKey, "err", err)
		return "", false
	}
	code, ok := statuses[id]
	if !ok {
		return "", false
	}
	return domain.ParseReadingStatus(code)
}

// UpdateBookStatus sets the status for id whether or not the book is saved.
// Only the status map is rewritten. It reports whether the write was
// committed.
func (s *Store) UpdateBookStatus(ctx context.Context, id string, status domain.ReadingStatus) bool {
	if !status.Valid() {
		s.logger.Warn("library status update skipped: invalid status", "book_id", id, "status", string(status))
		return false
	}
	s.mu.Lock()
	statuses, err := s.loadStatuses(ctx)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("library status update skipped: medium unreadable", "book_id", id, "err", err)
		return false
	}
	statuses[id] = string(status)
	data, err := json.Marshal(statuses)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("library encode statuses failed", "err", err)
		return false
	}
	err = s.kv.Set(ctx, BookStatusesKey, data)
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("library write failed", "op", "update_status", "book_id", id, "err", err)
		return false
	}
	s.emit(EventStatusUpdated, id, status)
	return true
}

// Contains reports whether id is in the saved list.
func (s *Store) Contains(ctx context.Context, id string) bool {
	for _, b := range s.GetMyBooks(ctx) {
		if b.ID == id {
			return true
		}
	}
	return false
}

// Subscribe registers fn for every committed mutation. Listeners run in
// subscription order. The returned func removes the subscription.
func (s *Store) Subscribe(fn Listener) func() {
	s.subMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.listeners = append(s.listeners, subscription{id: id, fn: fn})
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			for i, sub := range s.listeners {
				if sub.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) emit(kind EventKind, bookID string, status domain.ReadingStatus) {
	s.subMu.RLock()
	subs := make([]subscription, len(s.listeners))
	copy(subs, s.listeners)
	s.subMu.RUnlock()
	if len(subs) == 0 {
		return
	}
	ev := Event{
		ID:     uuid.NewString(),
		Kind:   kind,
		BookID: bookID,
		Status: status,
		At:     s.now().UTC(),
	}
	for _, sub := range subs {
		sub.fn(ev)
	}
}

func (s *Store) write(ctx context.Context, op string, books []domain.SavedBook, statuses map[string]string) bool {
	booksData, err := json.Marshal(books)
	if err != nil {
		s.logger.Warn("library encode books failed", "op", op, "err", err)
		return false
	}
	statusData, err := json.Marshal(statuses)
	if err != nil {
		s.logger.Warn("library encode statuses failed", "op", op, "err", err)
		return false
	}
	b := new(kv.Batch).Set(SavedBooksKey, booksData).Set(BookStatusesKey, statusData)
	if err := s.kv.Apply(ctx, b); err != nil {
		s.logger.Warn("library write failed", "op", op, "err", err)
		return false
	}
	return true
}

// loadAll reads both records. Only medium failures are returned; missing or
// undecodable records come back empty.
func (s *Store) loadAll(ctx context.Context) ([]domain.SavedBook, map[string]string, error) {
	books, err := s.loadBooks(ctx)
	if err != nil {
		return nil, nil, err
	}
	statuses, err := s.loadStatuses(ctx)
	if err != nil {
		return nil, nil, err
	}
	return books, statuses, nil
}

func (s *Store) loadBooks(ctx context.Context) ([]domain.SavedBook, error) {
	data, err := s.read(ctx, SavedBooksKey)
	if err != nil || data == nil {
		return []domain.SavedBook{}, err
	}
	var books []domain.SavedBook
	if err := json.Unmarshal(data, &books); err != nil {
		s.logger.Warn("library decode books failed", "err", err)
		return []domain.SavedBook{}, nil
	}
	if books == nil {
		books = []domain.SavedBook{}
	}
	return books, nil
}

func (s *Store) loadStatuses(ctx context.Context) (map[string]string, error) {
	data, err := s.read(ctx, BookStatusesKey)
	if err != nil || data == nil {
		return make(map[string]string), err
	}
	statuses := make(map[string]string)
	if err := json.Unmarshal(data, &statuses); err != nil {
		s.logger.Warn("library decode statuses failed", "err", err)
		return make(map[string]string), nil
	}
	if statuses == nil {
		statuses = make(map[string]string)
	}
	return statuses, nil
}

// read returns nil data for a key that was never written.
func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	data, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}
