package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// PageSize is the fixed number of products requested per search page.
const PageSize = 24

// ErrNotFound is returned when the catalog has no product for a code.
var ErrNotFound = errors.New("product not found")

// NetworkError reports a transport or decoding failure on a catalog request.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("catalog %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetwork reports whether err is (or wraps) a *NetworkError.
func IsNetwork(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// Grade is a nutrition grade, one of "a".."e". The zero value means unknown.
type Grade string

// ParseGrade normalises a raw grade value. Anything outside a..e is unknown.
func ParseGrade(s string) Grade {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) == 1 && s[0] >= 'a' && s[0] <= 'e' {
		return Grade(s)
	}
	return ""
}

// Nutrients holds per-100g nutrition values.
type Nutrients struct {
	EnergyKcal decimal.Decimal
	// HasEnergy is false when the catalog gave no energy value, so a zero
	// EnergyKcal is a real zero only when it is set.
	HasEnergy    bool
	FatGrams     decimal.Decimal
	CarbGrams    decimal.Decimal
	ProteinGrams decimal.Decimal
}

// Product is a single catalog record. It is built fresh from every catalog
// response and never mutated afterwards.
type Product struct {
	Code            string
	Name            string
	ImageURL        string
	Categories      string
	IngredientsText string
	NutritionGrade  Grade
	Nutrients       Nutrients
	Labels          string
	Quantity        string
	// CreatedAt is the unix time the product was added, 0 when unknown.
	CreatedAt int64
	// Popularity is the comma-joined list of popularity tags.
	Popularity string
}

// ResultPage is one page of search results.
type ResultPage struct {
	Products []Product
	Total    int
	HasTotal bool
}

// Client is the remote catalog surface the rest of the application depends on.
type Client interface {
	Search(ctx context.Context, q Query) (*ResultPage, error)
	LookupByCode(ctx context.Context, code string) (*Product, error)
	ListFacets(ctx context.Context) ([]Facet, error)
}

// NormalizeCode trims whitespace around a product code.
func NormalizeCode(code string) string {
	return strings.TrimSpace(code)
}
