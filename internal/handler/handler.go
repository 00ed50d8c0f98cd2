// Package handler exposes the catalog and the lookup journal over REST.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/food-explorer/internal/domain/catalog"
	"github.com/xenking/food-explorer/internal/domain/journal"
	"github.com/xenking/food-explorer/internal/wire"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// History lists journaled lookups, newest first.
type History interface {
	History(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Handler serves the /api routes.
type Handler struct {
	catalog catalog.Client
	history History
}

// New returns a Handler. history may be nil, in which case /lookups is not
// routed.
func New(c catalog.Client, history History) *Handler {
	return &Handler{
		catalog: c,
		history: history,
	}
}

// Routes returns the router to mount under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/products", h.searchProducts)
	r.Get("/products/{code}", h.getProduct)
	r.Get("/categories", h.listCategories)
	if h.history != nil {
		r.Get("/lookups", h.listLookups)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}

func (h *Handler) searchProducts(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.catalog.Search(r.Context(), q)
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "search"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.ResultPage(e, q, page) })
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.LookupByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "lookup"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.Product(e, *p) })
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	facets, err := h.catalog.ListFacets(r.Context())
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "list facets"))
		return
	}
	facets = catalog.FilterFacets(facets, r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.Facets(e, facets) })
}

func (h *Handler) listLookups(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := h.history.History(r.Context(), limit)
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "history"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.Entries(e, entries) })
}

// parseQuery reads a catalog query from the URL. Missing parameters take the
// default query's values.
func parseQuery(r *http.Request) (catalog.Query, error) {
	v := r.URL.Query()
	q := catalog.DefaultQuery()
	q.Text = v.Get("q")
	q.Category = v.Get("category")

	if s := v.Get("sort"); s != "" {
		f, err := catalog.ParseSortField(s)
		if err != nil {
			return q, err
		}
		q.SortField = f
	}
	if s := v.Get("order"); s != "" {
		d, err := catalog.ParseSortDirection(s)
		if err != nil {
			return q, err
		}
		q.SortDirection = d
	}
	if s := v.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return q, errors.Errorf("invalid page %q", s)
		}
		q.Page = n
	}
	return q, q.Validate()
}

// fail maps domain errors to responses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, "product not found")
	case catalog.IsNetwork(err):
		zctx.From(r.Context()).Warn("Catalog unavailable", zap.Error(err))
		writeError(w, http.StatusBadGateway, "product catalog unavailable")
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the answer.
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	body(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) { wire.Error(e, status, message) })
}
