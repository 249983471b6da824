package app

import "errors"

var (
	ErrEmptyQuery    = errors.New("search query required")
	ErrInvalidBook   = errors.New("book id and title required")
	ErrInvalidStatus = errors.New("invalid reading status")
	ErrBookIDEmpty   = errors.New("book id required")

	// ErrLibraryUnavailable is returned when a library write did not stick.
	// The store itself never reports failures; the app notices by reading back.
	ErrLibraryUnavailable = errors.New("library storage unavailable")
)
