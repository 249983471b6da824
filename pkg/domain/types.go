package domain

import "time"

// ReadingStatus is the user's progress on a saved book. The string value is
// both the display label and the persisted code.
type ReadingStatus string

const (
	StatusWantToRead ReadingStatus = "Want to read"
	StatusReading    ReadingStatus = "Reading"
	StatusCompleted  ReadingStatus = "Completed"
)

var readingStatuses = []ReadingStatus{StatusWantToRead, StatusReading, StatusCompleted}

// ReadingStatuses returns every status in display order.
func ReadingStatuses() []ReadingStatus {
	out := make([]ReadingStatus, len(readingStatuses))
	copy(out, readingStatuses)
	return out
}

// ParseReadingStatus maps a persisted code back to a status.
// Unknown codes report false.
func ParseReadingStatus(code string) (ReadingStatus, bool) {
	for _, s := range readingStatuses {
		if string(s) == code {
			return s, true
		}
	}
	return "", false
}

// StatusAt returns the status at a display position, defaulting to
// StatusWantToRead when the index is out of range.
func StatusAt(index int) ReadingStatus {
	if index < 0 || index >= len(readingStatuses) {
		return StatusWantToRead
	}
	return readingStatuses[index]
}

// Index returns the display position of s, or -1 for an unknown status.
func (s ReadingStatus) Index() int {
	for i, known := range readingStatuses {
		if known == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the known statuses.
func (s ReadingStatus) Valid() bool {
	return s.Index() >= 0
}

func (s ReadingStatus) String() string {
	return string(s)
}

// Book is a catalog entry as returned by the remote book API.
type Book struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	Description   string   `json:"description,omitempty"`
	ImageURL      string   `json:"imageURL,omitempty"`
	PublishedDate string   `json:"publishedDate,omitempty"`
}

// SavedBook is a library entry: a copy of the book at save time plus the
// reading status and the moment it was added.
type SavedBook struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Authors       []string      `json:"authors"`
	Description   string        `json:"description,omitempty"`
	ImageURL      string        `json:"imageURL,omitempty"`
	PublishedDate string        `json:"publishedDate,omitempty"`
	Status        ReadingStatus `json:"status"`
	DateAdded     time.Time     `json:"dateAdded"`
}

// NewSavedBook copies b into a library entry.
func NewSavedBook(b Book, status ReadingStatus, now time.Time) SavedBook {
	authors := make([]string, len(b.Authors))
	copy(authors, b.Authors)
	return SavedBook{
		ID:            b.ID,
		Title:         b.Title,
		Authors:       authors,
		Description:   b.Description,
		ImageURL:      b.ImageURL,
		PublishedDate: b.PublishedDate,
		Status:        status,
		DateAdded:     now,
	}
}

// Book returns the catalog fields of the entry.
func (s SavedBook) Book() Book {
	authors := make([]string, len(s.Authors))
	copy(authors, s.Authors)
	return Book{
		ID:            s.ID,
		Title:         s.Title,
		Authors:       authors,
		Description:   s.Description,
		ImageURL:      s.ImageURL,
		PublishedDate: s.PublishedDate,
	}
}
