package catalog

import (
	"cmp"
	"slices"
	"strings"
)

// MinFacetProducts is the product count a category must exceed to be offered
// as a filter.
const MinFacetProducts = 100

// Facet is a category together with the number of products it holds.
type Facet struct {
	Name         string
	ProductCount int
}

// SelectFacets keeps facets with more than MinFacetProducts products and
// orders them by product count, largest first. Ties keep their input order.
func SelectFacets(all []Facet) []Facet {
	out := make([]Facet, 0, len(all))
	for _, f := range all {
		if f.ProductCount > MinFacetProducts {
			out = append(out, f)
		}
	}
	slices.SortStableFunc(out, func(a, b Facet) int {
		return cmp.Compare(b.ProductCount, a.ProductCount)
	})
	return out
}

// FilterFacets returns the facets whose name contains term, ignoring case.
// An empty term returns the input unchanged.
func FilterFacets(facets []Facet, term string) []Facet {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return facets
	}
	var out []Facet
	for _, f := range facets {
		if strings.Contains(strings.ToLower(f.Name), term) {
			out = append(out, f)
		}
	}
	return out
}
