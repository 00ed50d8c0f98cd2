package explorer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xenking/food-explorer/internal/domain/catalog"
)

func TestReduce(t *testing.T) {
	base := catalog.Query{
		Text:          "milk",
		Category:      "",
		SortField:     catalog.SortByGrade,
		SortDirection: catalog.Ascending,
		Page:          3,
	}

	for _, tt := range []struct {
		name  string
		event Event
		want  catalog.Query
		mode  FetchMode
	}{
		{
			name:  "TextResetsPage",
			event: TextChanged{Text: "  cheese "},
			want:  catalog.Query{Text: "cheese", SortField: catalog.SortByGrade, SortDirection: catalog.Ascending, Page: 1},
			mode:  FetchReplace,
		},
		{
			name:  "CategoryResetsPage",
			event: CategoryChanged{Category: "dairy"},
			want:  catalog.Query{Text: "milk", Category: "dairy", SortField: catalog.SortByGrade, SortDirection: catalog.Ascending, Page: 1},
			mode:  FetchReplace,
		},
		{
			name:  "SortFieldKeepsPage",
			event: SortFieldChanged{Field: catalog.SortByDateAdded},
			want:  catalog.Query{Text: "milk", SortField: catalog.SortByDateAdded, SortDirection: catalog.Ascending, Page: 3},
			mode:  FetchReload,
		},
		{
			name:  "Toggle",
			event: SortDirectionToggled{},
			want:  catalog.Query{Text: "milk", SortField: catalog.SortByGrade, SortDirection: catalog.Descending, Page: 3},
			mode:  FetchReload,
		},
		{
			name:  "PageAdvanced",
			event: PageAdvanced{},
			want:  catalog.Query{Text: "milk", SortField: catalog.SortByGrade, SortDirection: catalog.Ascending, Page: 4},
			mode:  FetchAppend,
		},
		{
			name:  "BarcodeLeavesQuery",
			event: BarcodeSubmitted{Code: "3017620422003"},
			want:  base,
			mode:  FetchLookup,
		},
		{
			name:  "ProductOpened",
			event: ProductOpened{Code: "1"},
			want:  base,
			mode:  FetchLookup,
		},
		{
			name:  "BackToList",
			event: BackToList{},
			want:  base,
			mode:  FetchReload,
		},
		{
			name:  "UnknownSortField",
			event: SortFieldChanged{Field: "calories"},
			want:  base,
			mode:  FetchNone,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, mode := Reduce(base, tt.event)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.mode, mode)
		})
	}
}

func TestReduce_TextThenCategory(t *testing.T) {
	q := catalog.DefaultQuery()

	q, _ = Reduce(q, TextChanged{Text: "milk"})
	q, _ = Reduce(q, PageAdvanced{})
	assert.Equal(t, 2, q.Page)

	q, mode := Reduce(q, CategoryChanged{Category: "dairy"})
	assert.Equal(t, FetchReplace, mode)
	assert.Equal(t, catalog.Query{
		Text:          "milk",
		Category:      "dairy",
		SortField:     catalog.SortByName,
		SortDirection: catalog.Ascending,
		Page:          1,
	}, q)
}

func TestReduce_ToggleTwice(t *testing.T) {
	q := catalog.DefaultQuery()
	q, _ = Reduce(q, SortDirectionToggled{})
	q, _ = Reduce(q, SortDirectionToggled{})
	assert.Equal(t, catalog.DefaultQuery(), q)
}

func TestMerge(t *testing.T) {
	visible := []catalog.Product{{Code: "1", Name: "a"}, {Name: "no code"}}
	next := []catalog.Product{{Code: "1", Name: "a again"}, {Code: "2"}, {Name: "no code"}}

	got := merge(visible, next)
	assert.Equal(t, []catalog.Product{
		{Code: "1", Name: "a"},
		{Name: "no code"},
		{Code: "2"},
		{Name: "no code"},
	}, got)
}

func TestFetchModeString(t *testing.T) {
	assert.Equal(t, "append", FetchAppend.String())
	assert.Equal(t, "none", FetchMode(42).String())
}
