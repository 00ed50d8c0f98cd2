package catalog

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectFacets(t *testing.T) {
	got := SelectFacets([]Facet{
		{Name: "A", ProductCount: 150},
		{Name: "B", ProductCount: 50},
		{Name: "C", ProductCount: 300},
	})

	assert.Equal(t, []Facet{
		{Name: "C", ProductCount: 300},
		{Name: "A", ProductCount: 150},
	}, got)
}

func TestSelectFacets_BoundaryAndTies(t *testing.T) {
	got := SelectFacets([]Facet{
		{Name: "exactly", ProductCount: 100},
		{Name: "first", ProductCount: 101},
		{Name: "second", ProductCount: 101},
	})

	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Name)
	assert.Equal(t, "second", got[1].Name)
}

func TestFilterFacets(t *testing.T) {
	facets := []Facet{
		{Name: "Dairies", ProductCount: 500},
		{Name: "Plant-based foods", ProductCount: 400},
		{Name: "Non-dairy milks", ProductCount: 200},
	}

	assert.Equal(t, facets, FilterFacets(facets, "  "))
	assert.Equal(t, []Facet{facets[0], facets[2]}, FilterFacets(facets, "DAIR"))
	assert.Empty(t, FilterFacets(facets, "beverages"))
}

func TestQueryValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(q *Query)
		wantErr bool
	}{
		{name: "default", mutate: func(*Query) {}},
		{name: "zero page", mutate: func(q *Query) { q.Page = 0 }, wantErr: true},
		{name: "unknown field", mutate: func(q *Query) { q.SortField = "price" }, wantErr: true},
		{name: "missing direction", mutate: func(q *Query) { q.SortDirection = "" }, wantErr: true},
		{name: "descending popularity", mutate: func(q *Query) {
			q.SortField = SortByPopularity
			q.SortDirection = Descending
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := DefaultQuery()
			tt.mutate(&q)
			if tt.wantErr {
				assert.Error(t, q.Validate())
			} else {
				assert.NoError(t, q.Validate())
			}
		})
	}
}

func TestParseSortField(t *testing.T) {
	for in, want := range map[string]SortField{
		"name":             SortByName,
		"grade":            SortByGrade,
		"dateAdded":        SortByDateAdded,
		"popularity":       SortByPopularity,
		"nutrition_grades": SortByGrade,
		"created_t":        SortByDateAdded,
	} {
		got, err := ParseSortField(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSortField("price")
	assert.Error(t, err)
}

func TestSortDirectionToggle(t *testing.T) {
	assert.Equal(t, Descending, Ascending.Toggle())
	assert.Equal(t, Ascending, Descending.Toggle())
}

func TestParseGrade(t *testing.T) {
	assert.Equal(t, Grade("a"), ParseGrade("A"))
	assert.Equal(t, Grade("e"), ParseGrade(" e "))
	assert.Equal(t, Grade(""), ParseGrade("unknown"))
	assert.Equal(t, Grade(""), ParseGrade("f"))
	assert.Equal(t, Grade(""), ParseGrade(""))
}

func TestProductSortValue(t *testing.T) {
	p := Product{Name: "Milk", NutritionGrade: "b", CreatedAt: 1700000000, Popularity: "top-75,top-100"}

	assert.Equal(t, SortValue{Text: "Milk"}, p.SortValue(SortByName))
	assert.Equal(t, SortValue{Text: "b"}, p.SortValue(SortByGrade))
	assert.Equal(t, SortValue{Numeric: true, Num: 1700000000}, p.SortValue(SortByDateAdded))
	assert.Equal(t, "1700000000", p.SortValue(SortByDateAdded).String())
	assert.Equal(t, SortValue{Text: "top-75,top-100"}, p.SortValue(SortByPopularity))

	// Unknown creation date is missing, not zero.
	assert.Equal(t, SortValue{}, Product{}.SortValue(SortByDateAdded))
}

func TestNetworkError(t *testing.T) {
	cause := errors.New("connection reset")
	err := errors.Wrap(&NetworkError{Op: "search", Err: cause}, "fetch page")

	assert.True(t, IsNetwork(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "catalog search: connection reset")
	assert.False(t, IsNetwork(ErrNotFound))
}
