package fixture

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/food-explorer/internal/openfoodfacts"
)

// ErrNoRecording is returned when a replayed request was never recorded.
var ErrNoRecording = errors.New("no recording")

// missError matches ErrNoRecording and unwraps to a 404 so the catalog client
// treats an unrecorded product as unknown rather than as a transport failure.
type missError struct {
	key    string
	status *openfoodfacts.StatusError
}

func (e *missError) Error() string { return "no recording for " + e.key }
func (e *missError) Is(target error) bool { return target == ErrNoRecording }
func (e *missError) Unwrap() error { return e.status }

// Fetcher replays a Store.
type Fetcher struct {
	store *Store
}

var _ openfoodfacts.Fetcher = (*Fetcher)(nil)

// NewFetcher returns a Fetcher replaying s.
func NewFetcher(s *Store) *Fetcher {
	return &Fetcher{store: s}
}

// Fetch returns the recorded body for the request.
func (f *Fetcher) Fetch(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := Key(path, query)
	body, ok := f.store.Get(key)
	if !ok {
		return nil, &missError{
			key:    key,
			status: &openfoodfacts.StatusError{Code: http.StatusNotFound, Path: path},
		}
	}
	return body, nil
}

// Ping always succeeds.
func (f *Fetcher) Ping(context.Context) error { return nil }

// Recorder captures every successful response of the wrapped fetcher.
type Recorder struct {
	next  openfoodfacts.Fetcher
	store *Store
	lg    *zap.Logger
}

var _ openfoodfacts.Fetcher = (*Recorder)(nil)

// NewRecorder records responses from next into s.
func NewRecorder(next openfoodfacts.Fetcher, s *Store, lg *zap.Logger) *Recorder {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Recorder{next: next, store: s, lg: lg}
}

// Fetch forwards to the wrapped fetcher and records the body on success.
func (r *Recorder) Fetch(ctx context.Context, path string, query url.Values) ([]byte, error) {
	body, err := r.next.Fetch(ctx, path, query)
	if err != nil {
		return nil, err
	}
	key := Key(path, query)
	r.store.Put(key, body)
	r.lg.Debug("Recorded", zap.String("key", key), zap.Int("bytes", len(body)))
	return body, nil
}

// Store returns the store being recorded into.
func (r *Recorder) Store() *Store { return r.store }
