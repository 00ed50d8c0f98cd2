package explorer

import (
	"strings"

	"github.com/xenking/food-explorer/internal/domain/catalog"
)

// Event is a discrete user action.
type Event interface {
	event()
}

// TextChanged replaces the free-text search.
type TextChanged struct{ Text string }

// CategoryChanged replaces the category filter. Empty clears it.
type CategoryChanged struct{ Category string }

// SortFieldChanged selects the sort key.
type SortFieldChanged struct{ Field catalog.SortField }

// SortDirectionToggled flips ascending and descending.
type SortDirectionToggled struct{}

// PageAdvanced requests the next page ("load more").
type PageAdvanced struct{}

// BarcodeSubmitted looks up a scanned or typed code.
type BarcodeSubmitted struct{ Code string }

// ProductOpened opens the detail view of a listed product.
type ProductOpened struct{ Code string }

// BackToList leaves the detail view.
type BackToList struct{}

func (TextChanged) event()          {}
func (CategoryChanged) event()      {}
func (SortFieldChanged) event()     {}
func (SortDirectionToggled) event() {}
func (PageAdvanced) event()         {}
func (BarcodeSubmitted) event()     {}
func (ProductOpened) event()        {}
func (BackToList) event()           {}

// FetchMode is the catalog request an event calls for.
type FetchMode int

const (
	// FetchNone changes nothing remote.
	FetchNone FetchMode = iota
	// FetchReplace loads page 1 and replaces the visible set.
	FetchReplace
	// FetchReload loads pages 1..Page and replaces the visible set.
	FetchReload
	// FetchAppend loads Page and adds it to the visible set.
	FetchAppend
	// FetchLookup resolves a single code.
	FetchLookup
)

func (m FetchMode) String() string {
	switch m {
	case FetchReplace:
		return "replace"
	case FetchReload:
		return "reload"
	case FetchAppend:
		return "append"
	case FetchLookup:
		return "lookup"
	default:
		return "none"
	}
}

// Reduce derives the next query from q and ev. It is pure: the controller
// owns the state and performs the fetch. An event producing an invalid query
// leaves q unchanged.
func Reduce(q catalog.Query, ev Event) (catalog.Query, FetchMode) {
	next := q
	var mode FetchMode

	switch ev := ev.(type) {
	case TextChanged:
		next.Text = strings.TrimSpace(ev.Text)
		next.Page = 1
		mode = FetchReplace
	case CategoryChanged:
		next.Category = strings.TrimSpace(ev.Category)
		next.Page = 1
		mode = FetchReplace
	case SortFieldChanged:
		next.SortField = ev.Field
		mode = FetchReload
	case SortDirectionToggled:
		next.SortDirection = next.SortDirection.Toggle()
		mode = FetchReload
	case PageAdvanced:
		next.Page++
		mode = FetchAppend
	case BarcodeSubmitted, ProductOpened:
		mode = FetchLookup
	case BackToList:
		mode = FetchReload
	default:
		return q, FetchNone
	}

	if err := next.Validate(); err != nil {
		return q, FetchNone
	}
	return next, mode
}
