// Package fusion combines the partial, possibly-conflicting outputs of
// multiple vision providers into one confidence-scored attribute set.
//
// The deterministic Voting strategy is the default. An LLM-backed Reasoner
// can be layered on top for ambiguous photos, but it always falls back to
// Voting, so the deterministic path stays available for testing and outages.
package fusion

import (
	"context"

	"github.com/doujins-org/compkit/vision"
)

// Field names attributes that are voted on individually.
type Field string

const (
	FieldBrand       Field = "brand"
	FieldProductName Field = "product_name"
	FieldCategory    Field = "category"
)

// AttributeSet is the fused identification of the photographed item. An empty
// string means the field is absent. Never mutated after creation.
type AttributeSet struct {
	Brand       string
	ProductName string
	Category    string

	// Secondary holds remaining high-score labels, deduplicated and sorted.
	Secondary []string

	// Confidence is the overall confidence, the maximum over the per-field
	// confidences. Non-decreasing in the number of agreeing providers.
	Confidence float32

	// FieldConfidence maps each emitted field to its own confidence.
	FieldConfidence map[Field]float32

	// Provenance maps each emitted field to the IDs of the providers whose
	// candidates contributed its value, sorted.
	Provenance map[Field][]string
}

// Empty reports whether nothing identifiable was extracted.
func (a AttributeSet) Empty() bool {
	return a.Brand == "" && a.ProductName == "" && a.Category == ""
}

// Strategy turns normalized provider results into one AttributeSet.
type Strategy interface {
	Synthesize(ctx context.Context, results []vision.Result) (AttributeSet, error)
}
