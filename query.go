package compkit

import (
	"strings"

	"github.com/doujins-org/compkit/fusion"
	"github.com/doujins-org/compkit/internal/normalize"
)

// BuildQuery derives the marketplace search query from fused attributes:
// "brand product_name" when either is present, the category as a fallback,
// and "" when nothing identifiable was extracted. Callers must treat "" as
// "cannot search" rather than querying with it.
func BuildQuery(attrs fusion.AttributeSet) string {
	brand := normalize.QueryTerm(attrs.Brand)
	product := normalize.QueryTerm(attrs.ProductName)

	// A product name that already leads with the brand is not repeated.
	if brand != "" && product != "" &&
		strings.HasPrefix(normalize.Label(product), normalize.Label(brand)) {
		return product
	}
	if q := strings.TrimSpace(brand + " " + product); q != "" {
		return q
	}
	return normalize.QueryTerm(attrs.Category)
}
