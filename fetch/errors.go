package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingURL is returned when no URL was supplied.
	ErrMissingURL = errors.New("file URL is required")

	// ErrInvalidURL is returned for URLs that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid file URL")
)

// FetchError represents a failed download.
type FetchError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}
