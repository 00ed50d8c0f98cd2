package catalog

import (
	"strconv"

	"github.com/go-faster/errors"
)

// SortField names the product attribute results are ordered by. Values are
// the catalog's own field keys so they can be sent upstream unchanged.
type SortField string

const (
	SortByName       SortField = "product_name"
	SortByGrade      SortField = "nutrition_grades"
	SortByDateAdded  SortField = "created_t"
	SortByPopularity SortField = "popularity_tags"
)

var sortFieldAliases = map[string]SortField{
	"name":       SortByName,
	"grade":      SortByGrade,
	"dateAdded":  SortByDateAdded,
	"date_added": SortByDateAdded,
	"popularity": SortByPopularity,

	string(SortByName):       SortByName,
	string(SortByGrade):      SortByGrade,
	string(SortByDateAdded):  SortByDateAdded,
	string(SortByPopularity): SortByPopularity,
}

// ParseSortField accepts either the short name ("grade") or the catalog key
// ("nutrition_grades").
func ParseSortField(s string) (SortField, error) {
	f, ok := sortFieldAliases[s]
	if !ok {
		return "", errors.Errorf("unknown sort field %q", s)
	}
	return f, nil
}

func (f SortField) valid() bool {
	switch f {
	case SortByName, SortByGrade, SortByDateAdded, SortByPopularity:
		return true
	}
	return false
}

// SortDirection is ascending or descending.
type SortDirection string

const (
	Ascending  SortDirection = "asc"
	Descending SortDirection = "desc"
)

// ParseSortDirection parses "asc" or "desc".
func ParseSortDirection(s string) (SortDirection, error) {
	switch d := SortDirection(s); d {
	case Ascending, Descending:
		return d, nil
	}
	return "", errors.Errorf("unknown sort direction %q", s)
}

// Toggle flips the direction.
func (d SortDirection) Toggle() SortDirection {
	if d == Descending {
		return Ascending
	}
	return Descending
}

// Query describes one catalog search request.
type Query struct {
	Text          string
	Category      string
	SortField     SortField
	SortDirection SortDirection
	Page          int
}

// DefaultQuery is the query a fresh session starts with.
func DefaultQuery() Query {
	return Query{
		SortField:     SortByName,
		SortDirection: Ascending,
		Page:          1,
	}
}

// Validate checks the query invariants: page is at least 1 and the sort
// field is always paired with a known direction.
func (q Query) Validate() error {
	if q.Page < 1 {
		return errors.Errorf("page must be >= 1, got %d", q.Page)
	}
	if !q.SortField.valid() {
		return errors.Errorf("unknown sort field %q", q.SortField)
	}
	if _, err := ParseSortDirection(string(q.SortDirection)); err != nil {
		return err
	}
	return nil
}

// SortValue is a product attribute prepared for comparison.
type SortValue struct {
	Numeric bool
	Num     float64
	Text    string
}

// String renders the value as text, the form used when the other side of a
// comparison is not numeric.
func (v SortValue) String() string {
	if v.Numeric {
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	}
	return v.Text
}

// SortValue extracts the attribute addressed by f. Missing values come back
// as the empty string.
func (p Product) SortValue(f SortField) SortValue {
	switch f {
	case SortByName:
		return SortValue{Text: p.Name}
	case SortByGrade:
		return SortValue{Text: string(p.NutritionGrade)}
	case SortByDateAdded:
		if p.CreatedAt == 0 {
			return SortValue{}
		}
		return SortValue{Numeric: true, Num: float64(p.CreatedAt)}
	case SortByPopularity:
		return SortValue{Text: p.Popularity}
	}
	return SortValue{}
}
