package explorer

import (
	"slices"

	"github.com/xenking/food-explorer/internal/domain/catalog"
)

// Status of the visible result list.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	// StatusEmpty is a successful request with zero matches.
	StatusEmpty Status = "empty"
	// StatusFailed is a failed request; Error says why.
	StatusFailed Status = "failed"
)

// View is what the presentation shows.
type View string

const (
	ViewList   View = "list"
	ViewDetail View = "detail"
)

// State is everything the presentation renders. Snapshots handed out by the
// Controller are copies and safe to keep.
type State struct {
	// Version increases with every published change.
	Version uint64

	Query    catalog.Query
	Products []catalog.Product
	Total    int
	HasTotal bool
	HasMore  bool
	Status   Status
	// Error is a user-facing failure message; empty on success, including a
	// successful search with zero matches.
	Error string
	// Notice is a user-facing informational message, such as an unknown
	// barcode.
	Notice string

	// LookingUp is the code of an unfinished single-product lookup.
	LookingUp string

	View       View
	DetailCode string
	Detail     *catalog.Product

	Facets     []catalog.Facet
	FacetError string
}

func initialState() State {
	return State{
		Query:  catalog.DefaultQuery(),
		Status: StatusIdle,
		View:   ViewList,
	}
}

func (s State) clone() State {
	s.Products = slices.Clone(s.Products)
	s.Facets = slices.Clone(s.Facets)
	if s.Detail != nil {
		d := *s.Detail
		s.Detail = &d
	}
	return s
}

// merge appends next to visible, dropping products whose code is already
// present. Products without a code are always kept.
func merge(visible, next []catalog.Product) []catalog.Product {
	seen := make(map[string]struct{}, len(visible)+len(next))
	out := make([]catalog.Product, 0, len(visible)+len(next))
	for _, batch := range [][]catalog.Product{visible, next} {
		for _, p := range batch {
			if p.Code != "" {
				if _, dup := seen[p.Code]; dup {
					continue
				}
				seen[p.Code] = struct{}{}
			}
			out = append(out, p)
		}
	}
	return out
}
