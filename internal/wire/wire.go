// Package wire encodes domain values as the JSON the presentation layer
// consumes. The REST handlers and the session socket share it.
package wire

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/food-explorer/internal/capture"
	"github.com/xenking/food-explorer/internal/domain/catalog"
	"github.com/xenking/food-explorer/internal/domain/journal"
	"github.com/xenking/food-explorer/internal/explorer"
)

func num(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.String()))
}

// optStr writes name only when v is non-empty.
func optStr(e *jx.Encoder, name, v string) {
	if v == "" {
		return
	}
	e.FieldStart(name)
	e.Str(v)
}

// Product writes a catalog product.
func Product(e *jx.Encoder, p catalog.Product) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(p.Code)
	e.FieldStart("name")
	e.Str(p.Name)
	optStr(e, "image_url", p.ImageURL)
	optStr(e, "categories", p.Categories)
	optStr(e, "ingredients_text", p.IngredientsText)
	optStr(e, "nutrition_grade", string(p.NutritionGrade))
	e.FieldStart("nutrients")
	e.ObjStart()
	e.FieldStart("energy_kcal")
	num(e, p.Nutrients.EnergyKcal)
	e.FieldStart("fat_g")
	num(e, p.Nutrients.FatGrams)
	e.FieldStart("carbs_g")
	num(e, p.Nutrients.CarbGrams)
	e.FieldStart("protein_g")
	num(e, p.Nutrients.ProteinGrams)
	e.ObjEnd()
	optStr(e, "labels", p.Labels)
	optStr(e, "quantity", p.Quantity)
	if p.CreatedAt != 0 {
		e.FieldStart("created_t")
		e.Int64(p.CreatedAt)
	}
	optStr(e, "popularity", p.Popularity)
	e.ObjEnd()
}

// Products writes a JSON array of products.
func Products(e *jx.Encoder, ps []catalog.Product) {
	e.ArrStart()
	for _, p := range ps {
		Product(e, p)
	}
	e.ArrEnd()
}

// Facets writes a JSON array of facets.
func Facets(e *jx.Encoder, fs []catalog.Facet) {
	e.ArrStart()
	for _, f := range fs {
		e.ObjStart()
		e.FieldStart("name")
		e.Str(f.Name)
		e.FieldStart("products")
		e.Int(f.ProductCount)
		e.ObjEnd()
	}
	e.ArrEnd()
}

// Query writes a catalog query. Sort fields use the catalog keys.
func Query(e *jx.Encoder, q catalog.Query) {
	e.ObjStart()
	e.FieldStart("text")
	e.Str(q.Text)
	e.FieldStart("category")
	e.Str(q.Category)
	e.FieldStart("sort")
	e.Str(string(q.SortField))
	e.FieldStart("order")
	e.Str(string(q.SortDirection))
	e.FieldStart("page")
	e.Int(q.Page)
	e.ObjEnd()
}

// ResultPage writes one page of search results.
func ResultPage(e *jx.Encoder, q catalog.Query, page *catalog.ResultPage) {
	e.ObjStart()
	e.FieldStart("query")
	Query(e, q)
	e.FieldStart("products")
	Products(e, page.Products)
	if page.HasTotal {
		e.FieldStart("total")
		e.Int(page.Total)
	}
	e.ObjEnd()
}

// State writes a controller snapshot.
func State(e *jx.Encoder, s explorer.State) {
	e.ObjStart()
	e.FieldStart("version")
	e.UInt64(s.Version)
	e.FieldStart("query")
	Query(e, s.Query)
	e.FieldStart("status")
	e.Str(string(s.Status))
	e.FieldStart("products")
	Products(e, s.Products)
	if s.HasTotal {
		e.FieldStart("total")
		e.Int(s.Total)
	}
	e.FieldStart("has_more")
	e.Bool(s.HasMore)
	optStr(e, "error", s.Error)
	optStr(e, "notice", s.Notice)
	optStr(e, "looking_up", s.LookingUp)
	e.FieldStart("view")
	e.Str(string(s.View))
	if s.View == explorer.ViewDetail && s.Detail != nil {
		e.FieldStart("detail")
		Product(e, *s.Detail)
	}
	e.FieldStart("facets")
	Facets(e, s.Facets)
	optStr(e, "facet_error", s.FacetError)
	e.ObjEnd()
}

// Capture writes a capture workflow snapshot.
func Capture(e *jx.Encoder, s capture.Snapshot) {
	e.ObjStart()
	e.FieldStart("version")
	e.UInt64(s.Version)
	e.FieldStart("state")
	e.Str(string(s.State))
	optStr(e, "code", s.Code)
	optStr(e, "message", s.Message)
	e.ObjEnd()
}

// Entries writes journal entries.
func Entries(e *jx.Encoder, entries []journal.Entry) {
	e.ArrStart()
	for _, en := range entries {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(en.ID.String())
		e.FieldStart("code")
		e.Str(en.Code)
		e.FieldStart("outcome")
		e.Str(string(en.Outcome))
		optStr(e, "product_name", en.ProductName)
		e.FieldStart("energy_kcal")
		if en.EnergyKcal.Valid {
			num(e, en.EnergyKcal.Decimal)
		} else {
			e.Null()
		}
		e.FieldStart("created_at")
		e.Str(en.CreatedAt.UTC().Format(time.RFC3339Nano))
		e.ObjEnd()
	}
	e.ArrEnd()
}

// Error writes the {code, message} error body.
func Error(e *jx.Encoder, code int, message string) {
	e.ObjStart()
	e.FieldStart("code")
	e.Int(code)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
}
