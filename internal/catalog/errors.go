package catalog

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoCatalogAvailable means no snapshot is effective at the requested instant.
	ErrNoCatalogAvailable = errors.New("no catalog available")
	// ErrCatalogFetch marks a release that could not be retrieved from the feed.
	ErrCatalogFetch = errors.New("catalog fetch failed")
	// ErrOutOfOrder rejects a snapshot whose effective-from collides with a registered one.
	ErrOutOfOrder = errors.New("catalog snapshot out of order")
)

// NoCatalogError reports the instant that had no effective snapshot.
type NoCatalogError struct {
	At       time.Time
	Earliest time.Time
}

func (e *NoCatalogError) Error() string {
	if e.Earliest.IsZero() {
		return fmt.Sprintf("%s at %s: no releases registered", ErrNoCatalogAvailable, e.At.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("%s at %s: earliest release is effective from %s",
		ErrNoCatalogAvailable, e.At.UTC().Format(time.RFC3339), e.Earliest.UTC().Format(time.RFC3339))
}

func (e *NoCatalogError) Unwrap() error { return ErrNoCatalogAvailable }

// FetchError wraps the final failure of a release fetch.
type FetchError struct {
	Release string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: release %s: %v", ErrCatalogFetch, e.Release, e.Err)
}

func (e *FetchError) Unwrap() []error { return []error{ErrCatalogFetch, e.Err} }
