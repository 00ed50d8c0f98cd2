// Command catalog-record captures live catalog responses into a fixture file
// the server can replay with EXPLORER_FIXTURES_PATH.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/food-explorer/internal/domain/catalog"
	"github.com/xenking/food-explorer/internal/fixture"
	"github.com/xenking/food-explorer/internal/openfoodfacts"
)

type options struct {
	baseURL     string
	out         string
	queries     []string
	codes       []string
	pages       int
	concurrency int
	timeout     time.Duration
}

func main() {
	var (
		opts    options
		queries string
		codes   string
	)

	flag.StringVar(&opts.baseURL, "base-url", openfoodfacts.DefaultBaseURL, "catalog base URL")
	flag.StringVar(&opts.out, "out", "fixtures.jsonl.gz", "fixture file to write")
	flag.StringVar(&queries, "queries", ",milk,bread,chocolate", "comma-separated search texts; an empty entry records the default listing")
	flag.StringVar(&codes, "codes", "3017620422003,5449000000996", "comma-separated barcodes to look up")
	flag.IntVar(&opts.pages, "pages", 2, "result pages to record per search and sort")
	flag.IntVar(&opts.concurrency, "concurrency", 4, "requests in flight")
	flag.DurationVar(&opts.timeout, "timeout", 15*time.Second, "per-request timeout")
	flag.Parse()

	opts.queries = strings.Split(queries, ",")
	opts.codes = splitNonEmpty(codes)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("catalog record failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("catalog record completed successfully", slog.String("out", opts.out))
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func run(ctx context.Context, opts options) error {
	live, err := openfoodfacts.NewHTTPFetcher(opts.baseURL,
		openfoodfacts.WithTimeout(opts.timeout),
		openfoodfacts.WithRetry(3, 500*time.Millisecond),
		openfoodfacts.WithUserAgent("food-explorer-recorder/1.0"),
	)
	if err != nil {
		return errors.Wrap(err, "create fetcher")
	}
	rec := fixture.NewRecorder(live, fixture.NewStore(), zap.NewNop())
	client := openfoodfacts.NewClient(rec)

	sorts := []catalog.SortField{
		catalog.SortByName,
		catalog.SortByGrade,
		catalog.SortByDateAdded,
		catalog.SortByPopularity,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)

	g.Go(func() error {
		facets, err := client.ListFacets(gctx)
		if err != nil {
			return errors.Wrap(err, "facets")
		}
		slog.Info("recorded facets", slog.Int("count", len(facets)))
		return nil
	})

	for _, text := range opts.queries {
		for _, sort := range sorts {
			for _, dir := range []catalog.SortDirection{catalog.Ascending, catalog.Descending} {
				for page := 1; page <= opts.pages; page++ {
					q := catalog.Query{
						Text:          strings.TrimSpace(text),
						SortField:     sort,
						SortDirection: dir,
						Page:          page,
					}
					g.Go(func() error {
						res, err := client.Search(gctx, q)
						if err != nil {
							return errors.Wrapf(err, "search %q by %s page %d", q.Text, q.SortField, q.Page)
						}
						slog.Info("recorded search",
							slog.String("text", q.Text),
							slog.String("sort", string(q.SortField)),
							slog.String("order", string(q.SortDirection)),
							slog.Int("page", q.Page),
							slog.Int("products", len(res.Products)),
						)
						return nil
					})
				}
			}
		}
	}

	for _, code := range opts.codes {
		g.Go(func() error {
			p, err := client.LookupByCode(gctx, code)
			switch {
			case errors.Is(err, catalog.ErrNotFound):
				slog.Warn("barcode not in catalog", slog.String("code", code))
				return nil
			case err != nil:
				return errors.Wrapf(err, "lookup %s", code)
			}
			slog.Info("recorded product", slog.String("code", code), slog.String("name", p.Name))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	store := rec.Store()
	if err := store.Save(opts.out); err != nil {
		return errors.Wrap(err, "save fixtures")
	}
	slog.Info("fixtures written", slog.Int("responses", store.Len()))
	return nil
}
