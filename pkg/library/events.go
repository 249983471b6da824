package library

import (
	"time"

	"bookspace/pkg/domain"
)

// EventKind names a library mutation.
type EventKind string

const (
	EventSaved         EventKind = "saved"
	EventRemoved       EventKind = "removed"
	EventStatusUpdated EventKind = "status_updated"
)

// Event describes one committed mutation. Status is empty for removals.
type Event struct {
	ID     string               `json:"id"`
	Kind   EventKind            `json:"kind"`
	BookID string               `json:"bookId"`
	Status domain.ReadingStatus `json:"status,omitempty"`
	At     time.Time            `json:"at"`
}

// Listener receives events synchronously on the goroutine that made the change.
type Listener func(Event)
