package listing

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrNotFound is returned by stores when no listing matches the lookup key.
var ErrNotFound = errors.New("listing not found")

// FetchKind classifies a failed fetch attempt.
type FetchKind string

// Fetch failure classes.
const (
	FetchTransient FetchKind = "transient"
	FetchBlocked   FetchKind = "blocked"
	FetchTimeout   FetchKind = "timeout"
)

// FetchError wraps a page fetch failure with its coarse classification.
type FetchError struct {
	URL  string
	Kind FetchKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError classifies err and wraps it for the retry layer.
func NewFetchError(url string, statusCode int, err error) *FetchError {
	return &FetchError{URL: url, Kind: classifyFetch(statusCode, err), Err: err}
}

func classifyFetch(statusCode int, err error) FetchKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FetchTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FetchTimeout
	}
	switch statusCode {
	case 403, 429, 503:
		return FetchBlocked
	}
	return FetchTransient
}
