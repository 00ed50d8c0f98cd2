// Package fixture records catalog responses and replays them.
//
// A recording is a gzip stream of JSON lines, one {"key","body"} object per
// request, where key is the request path plus its canonical query string.
// Servers and tests can run against a recording instead of the live catalog.
package fixture

import (
	"bytes"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
)

// Key is the canonical recording key for a request.
func Key(path string, query url.Values) string {
	if enc := query.Encode(); enc != "" {
		return path + "?" + enc
	}
	return path
}

// Store is an in-memory recording. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	bodies map[string][]byte
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{bodies: make(map[string][]byte)}
}

// Get returns the recorded body for key.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bodies[key]
	return b, ok
}

// Put records body under key, replacing any previous recording.
func (s *Store) Put(key string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[key] = slices.Clone(body)
}

// Len returns the number of recordings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bodies)
}

// Keys returns the recorded keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.bodies))
	for k := range s.bodies {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	slices.Sort(keys)
	return keys
}

// WriteTo writes the recording as gzip JSON lines, sorted by key so that
// re-recording the same requests produces a stable file.
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	zw := pgzip.NewWriter(cw)

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	for _, k := range s.Keys() {
		body, _ := s.Get(k)

		e.Reset()
		e.ObjStart()
		e.FieldStart("key")
		e.Str(k)
		e.FieldStart("body")
		if jx.Valid(body) {
			e.Raw(bytes.TrimSpace(body))
		} else {
			e.Str(string(body))
		}
		e.ObjEnd()

		if _, err := zw.Write(append(e.Bytes(), '\n')); err != nil {
			return cw.n, errors.Wrapf(err, "write %q", k)
		}
	}
	if err := zw.Close(); err != nil {
		return cw.n, errors.Wrap(err, "close gzip")
	}
	return cw.n, nil
}

// ReadStore parses a recording written by WriteTo. Objects are read as a
// stream, so bodies may span several lines.
func ReadStore(r io.Reader) (*Store, error) {
	zr, err := pgzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "open gzip")
	}
	defer func() { _ = zr.Close() }()

	s := NewStore()
	d := jx.Decode(zr, 64*1024)
	for n := 1; d.Next() != jx.Invalid; n++ {
		key, body, err := decodeEntry(d)
		if err != nil {
			return nil, errors.Wrapf(err, "entry %d", n)
		}
		s.bodies[key] = body
	}
	return s, nil
}

func decodeEntry(d *jx.Decoder) (key string, body []byte, _ error) {
	err := d.ObjBytes(func(d *jx.Decoder, k []byte) error {
		switch string(k) {
		case "key":
			v, err := d.Str()
			key = v
			return err
		case "body":
			if d.Next() == jx.String {
				v, err := d.Str()
				body = []byte(v)
				return err
			}
			v, err := d.Raw()
			body = slices.Clone(v)
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return "", nil, err
	}
	if key == "" {
		return "", nil, errors.New("missing key")
	}
	return key, body, nil
}

// Load reads a recording file.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open recording")
	}
	defer func() { _ = f.Close() }()
	return ReadStore(f)
}

// Save writes the recording to path atomically.
func (s *Store) Save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := s.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "rename")
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
