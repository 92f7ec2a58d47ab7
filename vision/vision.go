package vision

import (
	"context"
	"fmt"
)

// ErrorKind classifies a provider failure.
type ErrorKind string

const (
	ErrorKindTimeout      ErrorKind = "timeout"
	ErrorKindUnavailable  ErrorKind = "unavailable"
	ErrorKindInvalidImage ErrorKind = "invalid_image"
)

// ProviderError wraps a failure local to a single provider call. It is
// recorded on the provider's Result and never aborts the fan-out on its own.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("vision provider %s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("vision provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Image is the raw photo handed to providers.
type Image struct {
	ContentType string
	Bytes       []byte
}

// Entity is a web/knowledge-graph style label with the provider's own score.
type Entity struct {
	Label string
	Score float32
}

// BoundingBox uses coordinates normalized to [0,1] relative to the image.
type BoundingBox struct {
	X float32
	Y float32
	W float32
	H float32
}

// Object is a localized object detection.
type Object struct {
	Label string
	Score float32
	Box   *BoundingBox
}

// Result is the normalized output of one provider call. A provider that
// failed contributes a Result with Err set and empty Entities/Objects.
type Result struct {
	ProviderID string
	Entities   []Entity
	Objects    []Object
	RawText    string
	Err        *ProviderError
}

// OK reports whether the provider produced a usable analysis.
func (r Result) OK() bool { return r.Err == nil }

// Provider is the single capability all vision backends implement: given
// image bytes, return entities/objects/text with confidence. The gateway has
// no provider-specific branching; adding a backend means implementing this.
type Provider interface {
	ID() string
	Analyze(ctx context.Context, img Image) (Result, error)
}
