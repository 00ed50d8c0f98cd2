// Package ordering sorts catalog results on the client side.
//
// The catalog's own ordering is not trusted, so every non-empty result page is
// re-sorted here. Comparison follows one policy for all fields: two numeric
// values compare as numbers, anything else compares as lowercase text through
// a locale collator, and a missing value is the empty string.
package ordering

import (
	"cmp"
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/xenking/food-explorer/internal/domain/catalog"
)

// Engine orders products using the text collation rules of one locale.
type Engine struct {
	tag language.Tag
}

// New returns an Engine collating text for the given locale.
func New(tag language.Tag) *Engine {
	return &Engine{tag: tag}
}

// Order returns a stably sorted copy of products. The input slice is not
// modified. Descending negates the comparator, so equal elements keep their
// input order in both directions.
func (e *Engine) Order(products []catalog.Product, field catalog.SortField, dir catalog.SortDirection) []catalog.Product {
	out := slices.Clone(products)
	if len(out) < 2 {
		return out
	}

	// collate.Collator keeps internal buffers, so each call gets its own.
	c := collate.New(e.tag)
	sign := 1
	if dir == catalog.Descending {
		sign = -1
	}

	slices.SortStableFunc(out, func(a, b catalog.Product) int {
		return sign * compare(c, a.SortValue(field), b.SortValue(field))
	})
	return out
}

var defaultEngine = New(language.Und)

// Default returns the engine using the root collation.
func Default() *Engine { return defaultEngine }

// Order sorts with the root collation.
func Order(products []catalog.Product, field catalog.SortField, dir catalog.SortDirection) []catalog.Product {
	return defaultEngine.Order(products, field, dir)
}

func compare(c *collate.Collator, a, b catalog.SortValue) int {
	if a.Numeric && b.Numeric {
		return cmp.Compare(a.Num, b.Num)
	}
	return c.CompareString(strings.ToLower(a.String()), strings.ToLower(b.String()))
}
