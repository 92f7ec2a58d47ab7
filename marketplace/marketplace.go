// Package marketplace declares the contract with the external marketplace
// search API. Provider wiring (auth, token refresh, HTTP) is intentionally
// out of scope here; compkit defines the interface so host apps can
// implement it.
package marketplace

import (
	"context"
	"fmt"
)

// ErrorKind classifies a marketplace failure.
type ErrorKind string

const (
	ErrorKindUnavailable ErrorKind = "unavailable"
	ErrorKindRateLimited ErrorKind = "rate_limited"
)

// Error wraps a marketplace failure. The pipeline treats any marketplace
// error as "no results", never as a pipeline crash.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("marketplace: %s", e.Kind)
	}
	return fmt.Sprintf("marketplace: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Listing is one text-matched candidate returned by the marketplace, read-only
// to compkit. Rank is the marketplace's own relative order, 0-based.
type Listing struct {
	ExternalID string
	Title      string
	Price      float64
	Currency   string
	ImageURL   string
	Rank       int
}

// Client is the marketplace search capability consumed by the pipeline.
type Client interface {
	Search(ctx context.Context, query string, limit int) ([]Listing, error)
}
