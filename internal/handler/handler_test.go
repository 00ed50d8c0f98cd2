package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/food-explorer/internal/domain/catalog"
	"github.com/xenking/food-explorer/internal/domain/journal"
)

// --- Mock implementations ---

type mockCatalog struct {
	lastQuery catalog.Query
	page      *catalog.ResultPage
	products  map[string]catalog.Product
	facets    []catalog.Facet
	err       error
}

func (m *mockCatalog) Search(_ context.Context, q catalog.Query) (*catalog.ResultPage, error) {
	m.lastQuery = q
	if m.err != nil {
		return nil, m.err
	}
	return m.page, nil
}

func (m *mockCatalog) LookupByCode(_ context.Context, code string) (*catalog.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.products[code]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

func (m *mockCatalog) ListFacets(context.Context) ([]catalog.Facet, error) {
	return m.facets, m.err
}

type mockHistory struct {
	limit   int
	entries []journal.Entry
	err     error
}

func (m *mockHistory) History(_ context.Context, limit int) ([]journal.Entry, error) {
	m.limit = limit
	return m.entries, m.err
}

// --- Helpers ---

func serve(t *testing.T, h *Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

var errUpstream = &catalog.NetworkError{Op: "search", Err: errors.New("connection reset")}

// --- Tests ---

func TestSearchProducts(t *testing.T) {
	cat := &mockCatalog{page: &catalog.ResultPage{
		Products: []catalog.Product{{Code: "1", Name: "Milk"}},
		Total:    1,
		HasTotal: true,
	}}
	h := New(cat, nil)

	rec := serve(t, h, "/products?q=milk&category=dairies&sort=grade&order=desc&page=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, catalog.Query{
		Text:          "milk",
		Category:      "dairies",
		SortField:     catalog.SortByGrade,
		SortDirection: catalog.Descending,
		Page:          2,
	}, cat.lastQuery)
	assert.JSONEq(t, `{
		"query": {"text": "milk", "category": "dairies", "sort": "nutrition_grades", "order": "desc", "page": 2},
		"products": [{"code": "1", "name": "Milk", "nutrients": {"energy_kcal": 0, "fat_g": 0, "carbs_g": 0, "protein_g": 0}}],
		"total": 1
	}`, rec.Body.String())
}

func TestSearchProducts_Defaults(t *testing.T) {
	cat := &mockCatalog{page: &catalog.ResultPage{}}
	rec := serve(t, New(cat, nil), "/products")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, catalog.DefaultQuery(), cat.lastQuery)
	assert.JSONEq(t, `{
		"query": {"text": "", "category": "", "sort": "product_name", "order": "asc", "page": 1},
		"products": []
	}`, rec.Body.String())
}

func TestSearchProducts_BadRequest(t *testing.T) {
	for _, target := range []string{
		"/products?sort=calories",
		"/products?order=sideways",
		"/products?page=0",
		"/products?page=two",
	} {
		t.Run(target, func(t *testing.T) {
			rec := serve(t, New(&mockCatalog{}, nil), target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"code":400`)
		})
	}
}

func TestSearchProducts_Upstream(t *testing.T) {
	rec := serve(t, New(&mockCatalog{err: errUpstream}, nil), "/products?q=milk")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"code": 502, "message": "product catalog unavailable"}`, rec.Body.String())
}

func TestGetProduct(t *testing.T) {
	cat := &mockCatalog{products: map[string]catalog.Product{
		"3017620422003": {Code: "3017620422003", Name: "Nutella"},
	}}
	h := New(cat, nil)

	t.Run("found", func(t *testing.T) {
		rec := serve(t, h, "/products/3017620422003")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"name":"Nutella"`)
	})

	t.Run("not found returns 404", func(t *testing.T) {
		rec := serve(t, h, "/products/0000")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"code": 404, "message": "product not found"}`, rec.Body.String())
	})

	t.Run("upstream failure returns 502", func(t *testing.T) {
		rec := serve(t, New(&mockCatalog{err: errUpstream}, nil), "/products/1")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("unexpected error returns 500", func(t *testing.T) {
		rec := serve(t, New(&mockCatalog{err: errors.New("bug")}, nil), "/products/1")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestListCategories(t *testing.T) {
	cat := &mockCatalog{facets: []catalog.Facet{
		{Name: "Dairies", ProductCount: 900},
		{Name: "Cheeses", ProductCount: 400},
		{Name: "Plant-based milks", ProductCount: 150},
	}}
	h := New(cat, nil)

	rec := serve(t, h, "/categories")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"name": "Dairies", "products": 900},
		{"name": "Cheeses", "products": 400},
		{"name": "Plant-based milks", "products": 150}
	]`, rec.Body.String())

	rec = serve(t, h, "/categories?q=MILK")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"name": "Plant-based milks", "products": 150}]`, rec.Body.String())

	rec = serve(t, h, "/categories?q=bread")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListLookups(t *testing.T) {
	at := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	history := &mockHistory{entries: []journal.Entry{
		{ID: uuid.New(), Code: "1", Outcome: journal.OutcomeNotFound, CreatedAt: at},
	}}
	h := New(&mockCatalog{}, history)

	rec := serve(t, h, "/lookups")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultHistoryLimit, history.limit)
	assert.Contains(t, rec.Body.String(), `"outcome":"not_found"`)

	rec = serve(t, h, "/lookups?limit=1000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxHistoryLimit, history.limit)

	rec = serve(t, h, "/lookups?limit=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	history.err = errors.New("db down")
	rec = serve(t, h, "/lookups")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListLookups_WithoutJournal(t *testing.T) {
	rec := serve(t, New(&mockCatalog{}, nil), "/lookups")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
