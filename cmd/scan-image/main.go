// Command scan-image reads a barcode from an image file through the capture
// workflow and prints the matching catalog product.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/food-explorer/internal/barcode"
	"github.com/xenking/food-explorer/internal/capture"
	"github.com/xenking/food-explorer/internal/capture/imagecam"
	"github.com/xenking/food-explorer/internal/domain/catalog"
	"github.com/xenking/food-explorer/internal/fixture"
	"github.com/xenking/food-explorer/internal/openfoodfacts"
	"github.com/xenking/food-explorer/internal/wire"
)

func main() {
	var (
		imagePath string
		baseURL   string
		fixtures  string
		timeout   time.Duration
	)

	flag.StringVar(&imagePath, "image", "", "image file containing a barcode (png, jpeg or gif)")
	flag.StringVar(&baseURL, "base-url", openfoodfacts.DefaultBaseURL, "catalog base URL")
	flag.StringVar(&fixtures, "fixtures", "", "replay a recorded fixture file instead of the live catalog")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	if imagePath == "" {
		slog.Error("an image is required: set --image")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	if err := run(ctx, imagePath, baseURL, fixtures); err != nil {
		slog.Error("scan failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, imagePath, baseURL, fixtures string) error {
	cam, err := imagecam.Load(imagePath)
	if err != nil {
		return err
	}

	code, err := scan(ctx, cam)
	if err != nil {
		return err
	}
	slog.Info("barcode read", slog.String("code", code))

	var f openfoodfacts.Fetcher
	if fixtures != "" {
		store, err := fixture.Load(fixtures)
		if err != nil {
			return errors.Wrap(err, "load fixtures")
		}
		f = fixture.NewFetcher(store)
	} else {
		live, err := openfoodfacts.NewHTTPFetcher(baseURL, openfoodfacts.WithRetry(3, 500*time.Millisecond))
		if err != nil {
			return errors.Wrap(err, "create fetcher")
		}
		f = live
	}

	p, err := openfoodfacts.NewClient(f).LookupByCode(ctx, code)
	if errors.Is(err, catalog.ErrNotFound) {
		return errors.Errorf("no product found for barcode %s", code)
	}
	if err != nil {
		return errors.Wrap(err, "lookup")
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.SetIdent(2)
	wire.Product(e, *p)
	_, err = fmt.Println(e.String())
	return err
}

// scan drives one capture attempt against cam and returns the decoded text.
func scan(ctx context.Context, cam capture.Camera) (string, error) {
	snaps := make(chan capture.Snapshot, 16)
	wf, err := capture.NewWorkflow(cam, barcode.New(), capture.Options{
		OnChange: func(s capture.Snapshot) {
			select {
			case snaps <- s:
			default:
			}
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "create workflow")
	}
	defer wf.Close()

	if err := wf.Start(); err != nil {
		return "", errors.Wrap(err, "start capture")
	}

	for {
		select {
		case s := <-snaps:
			switch s.State {
			case capture.StateStreaming:
				if err := wf.Capture(); err != nil {
					return "", errors.Wrap(err, "capture frame")
				}
			case capture.StateResolved:
				return s.Code, nil
			case capture.StateFailed, capture.StateCancelled:
				return "", errors.New(s.Message)
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
