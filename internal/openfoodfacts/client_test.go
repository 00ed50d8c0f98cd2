package openfoodfacts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/food-explorer/internal/domain/catalog"
)

const searchBody = `{
  "count": "3",
  "page": 1,
  "page_size": 24,
  "products": [
    {"code": "3", "product_name": "cherry jam", "nutrition_grades": "d", "created_t": 1700000300,
     "nutriments": {"energy-kcal_100g": 250, "fat_100g": "0.1", "carbohydrates_100g": 60, "proteins_100g": 0.5},
     "popularity_tags": ["top-100-scans-2023", "top-1000-scans-2023"]},
    {"_id": "1", "product_name": "Apple juice", "nutrition_grades": "unknown", "created_t": "1700000100",
     "nutriments": {"energy_100g": 418.4}},
    {"code": "2", "product_name": "banana chips", "image_url": "https://img/2.jpg", "labels": null}
  ]
}`

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	f, err := NewHTTPFetcher(srv.URL, WithRetry(2, time.Millisecond), WithTimeout(time.Second))
	require.NoError(t, err)
	return NewClient(f)
}

func productCodes(ps []catalog.Product) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Code
	}
	return out
}

func TestClient_Search(t *testing.T) {
	var got url.Values
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, searchPath, r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		got = r.URL.Query()
		_, _ = w.Write([]byte(searchBody))
	}))

	q := catalog.DefaultQuery()
	q.Text = "juice"
	q.Category = "Beverages"
	q.Page = 2

	page, err := c.Search(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, "process", got.Get("action"))
	assert.Equal(t, "true", got.Get("json"))
	assert.Equal(t, "24", got.Get("page_size"))
	assert.Equal(t, "2", got.Get("page"))
	assert.Equal(t, "juice", got.Get("search_terms"))
	assert.Equal(t, "categories", got.Get("tagtype_0"))
	assert.Equal(t, "contains", got.Get("tag_contains_0"))
	assert.Equal(t, "Beverages", got.Get("tag_0"))
	assert.Equal(t, "product_name", got.Get("sort_by"))
	assert.Equal(t, "asc", got.Get("sort_order"))

	assert.True(t, page.HasTotal)
	assert.Equal(t, 3, page.Total)
	// Re-ordered by name regardless of the order the catalog answered in.
	assert.Equal(t, []string{"1", "2", "3"}, productCodes(page.Products))

	apple, banana, cherry := page.Products[0], page.Products[1], page.Products[2]
	assert.Equal(t, catalog.Grade(""), apple.NutritionGrade)
	assert.Equal(t, int64(1700000100), apple.CreatedAt)
	assert.True(t, decimal.NewFromInt(100).Equal(apple.Nutrients.EnergyKcal), apple.Nutrients.EnergyKcal.String())
	assert.True(t, apple.Nutrients.HasEnergy)
	assert.Equal(t, "https://img/2.jpg", banana.ImageURL)
	assert.False(t, banana.Nutrients.HasEnergy)
	assert.Empty(t, banana.Labels)
	assert.Equal(t, catalog.Grade("d"), cherry.NutritionGrade)
	assert.Equal(t, "top-100-scans-2023,top-1000-scans-2023", cherry.Popularity)
	assert.True(t, decimal.RequireFromString("0.1").Equal(cherry.Nutrients.FatGrams))
	assert.True(t, decimal.NewFromInt(250).Equal(cherry.Nutrients.EnergyKcal))
}

func TestClient_SearchDescendingDate(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(searchBody))
	}))

	q := catalog.DefaultQuery()
	q.SortField = catalog.SortByDateAdded
	q.SortDirection = catalog.Descending

	page, err := c.Search(context.Background(), q)
	require.NoError(t, err)
	// Product 2 has no created_t, so it is the smallest value.
	assert.Equal(t, []string{"3", "1", "2"}, productCodes(page.Products))
}

func TestClient_SearchNoMatches(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"count":0,"products":[]}`))
	}))

	page, err := c.Search(context.Background(), catalog.DefaultQuery())
	require.NoError(t, err)
	assert.Empty(t, page.Products)
	assert.True(t, page.HasTotal)
	assert.Zero(t, page.Total)
}

func TestClient_SearchNetworkErrors(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		attempts int32
	}{
		{
			name: "server error is retried",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			attempts: 2,
		},
		{
			name: "client error is not retried",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			},
			attempts: 1,
		},
		{
			name: "undecodable body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("<html>maintenance</html>"))
			},
			attempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			}))

			page, err := c.Search(context.Background(), catalog.DefaultQuery())
			require.Error(t, err)
			assert.Nil(t, page)
			assert.True(t, catalog.IsNetwork(err), err.Error())
			assert.Equal(t, tt.attempts, calls.Load())
		})
	}
}

func TestClient_SearchRecoversAfterRetry(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(searchBody))
	}))

	page, err := c.Search(context.Background(), catalog.DefaultQuery())
	require.NoError(t, err)
	assert.Len(t, page.Products, 3)
}

func TestClient_SearchInvalidQuery(t *testing.T) {
	c := NewClient(fetcherFunc(func(context.Context, string, url.Values) ([]byte, error) {
		t.Fatal("fetcher must not be called")
		return nil, nil
	}))

	q := catalog.DefaultQuery()
	q.Page = 0
	_, err := c.Search(context.Background(), q)
	require.Error(t, err)
	assert.False(t, catalog.IsNetwork(err))
}

func TestClient_LookupByCode(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v0/product/3017620422003.json":
			_, _ = w.Write([]byte(`{"status":1,"code":"3017620422003","product":{
				"product_name":"Nutella","quantity":"400 g","nutrition_grades":"e",
				"categories":"Spreads,Sweet spreads","ingredients_text":"Sugar, palm oil",
				"nutriments":{"energy-kcal_100g":539,"energy_100g":2252}}}`))
		case "/api/v0/product/5449000000996.json":
			_, _ = w.Write([]byte(`{"status":1,"code":"5449000000996","product":{
				"product_name":"Still water","nutriments":{"energy-kcal_100g":0}}}`))
		case "/api/v0/product/0000000000000.json":
			_, _ = w.Write([]byte(`{"status":0,"status_verbose":"product not found","code":"0000000000000"}`))
		case "/api/v0/product/404.json":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	ctx := context.Background()

	p, err := c.LookupByCode(ctx, " 3017620422003 ")
	require.NoError(t, err)
	assert.Equal(t, "3017620422003", p.Code)
	assert.Equal(t, "Nutella", p.Name)
	assert.Equal(t, "400 g", p.Quantity)
	assert.Equal(t, catalog.Grade("e"), p.NutritionGrade)
	assert.True(t, decimal.NewFromInt(539).Equal(p.Nutrients.EnergyKcal), "kcal wins over kJ")

	water, err := c.LookupByCode(ctx, "5449000000996")
	require.NoError(t, err)
	assert.True(t, water.Nutrients.HasEnergy)
	assert.True(t, water.Nutrients.EnergyKcal.IsZero())

	_, err = c.LookupByCode(ctx, "0000000000000")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = c.LookupByCode(ctx, "404")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = c.LookupByCode(ctx, "   ")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = c.LookupByCode(ctx, "500")
	assert.True(t, catalog.IsNetwork(err))
	assert.NotErrorIs(t, err, catalog.ErrNotFound)
}

func TestClient_ListFacets(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, categoriesPath, r.URL.Path)
		_, _ = w.Write([]byte(`{"count":3,"tags":[
			{"id":"en:a","name":"A","products":150,"known":1},
			{"id":"en:b","name":"B","products":50},
			{"id":"en:c","name":"C","products":"300"}]}`))
	}))

	facets, err := c.ListFacets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []catalog.Facet{
		{Name: "C", ProductCount: 300},
		{Name: "A", ProductCount: 150},
	}, facets)
}

func TestClient_CancelledContext(t *testing.T) {
	block := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-block
	}))
	// Registered after the server so it runs before srv.Close.
	t.Cleanup(func() { close(block) })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Search(ctx, catalog.DefaultQuery())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPFetcher_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(srv.URL)
	require.NoError(t, err)

	err = f.Ping(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
}

func TestHTTPFetcher_ReadBudgetIsShared(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"status": 0}`))
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(srv.URL, WithBudgets(10, 2))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	codes := []string{"1", "2", "3", "4", "5", "6"}
	for _, code := range codes {
		if _, err = f.Fetch(ctx, productPath(code), nil); err != nil {
			break
		}
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 2, calls.Load(), "distinct codes share the read budget")

	// The search budget is separate.
	_, err = f.Fetch(context.Background(), searchPath, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestHTTPFetcher_RetriesSpendBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(srv.URL, WithBudgets(10, 2), WithRetry(3, time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err = f.Fetch(ctx, productPath("3017620422003"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 2, calls.Load())
}

func TestHTTPFetcher_ResponseTooLarge(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write(make([]byte, maxBodySize+1))
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(srv.URL, WithRetry(3, time.Millisecond))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), categoriesPath, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
	assert.EqualValues(t, 1, calls.Load(), "not retried")

	c := NewClient(f)
	_, err = c.ListFacets(context.Background())
	require.Error(t, err)
	assert.True(t, catalog.IsNetwork(err))
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestNewHTTPFetcher_RejectsRelativeURL(t *testing.T) {
	_, err := NewHTTPFetcher("/relative")
	assert.Error(t, err)
}

type fetcherFunc func(ctx context.Context, path string, query url.Values) ([]byte, error)

func (f fetcherFunc) Fetch(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return f(ctx, path, query)
}
