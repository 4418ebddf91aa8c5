package domain

import (
	"errors"
	"fmt"
)

// FetchError is returned by Fetcher implementations when a page could not be
// fetched or parsed. Kind drives retry behavior; zero-result fetches are NOT
// fetch errors and return empty slices instead.
type FetchError struct {
	URL  string
	Kind FailureKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps a network-level failure (timeout, transport error).
func NewTransientError(url string, err error) *FetchError {
	return &FetchError{URL: url, Kind: FailureTransient, Err: err}
}

// NewParseError wraps a structural failure on a fetched page.
func NewParseError(url string, err error) *FetchError {
	return &FetchError{URL: url, Kind: FailureParse, Err: err}
}

// KindOf extracts the failure kind from an error, defaulting to transient so
// unknown failures stay retryable.
func KindOf(err error) FailureKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FailureTransient
}
