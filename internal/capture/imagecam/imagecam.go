// Package imagecam is a capture.Camera backed by a still image.
package imagecam

import (
	"context"
	"image"
	_ "image/gif" // register decoders
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync/atomic"

	"github.com/go-faster/errors"

	"github.com/xenking/food-explorer/internal/capture"
)

// Camera serves the same image on every frame.
type Camera struct {
	img image.Image
}

// New returns a Camera showing img.
func New(img image.Image) *Camera {
	return &Camera{img: img}
}

// Load decodes the image at path.
func Load(path string) (*Camera, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return New(img), nil
}

// Open implements capture.Camera. The facing preference is ignored.
func (c *Camera) Open(ctx context.Context, _ capture.Facing) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Stream{img: c.img}, nil
}

// Stream is an open Camera.
type Stream struct {
	img     image.Image
	stopped atomic.Bool
}

// Frame returns the image until the stream is stopped.
func (s *Stream) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.stopped.Load() {
		return nil, errors.New("stream stopped")
	}
	return s.img, nil
}

// Stop implements capture.Stream.
func (s *Stream) Stop() error {
	s.stopped.Store(true)
	return nil
}

// Stopped reports whether Stop was called.
func (s *Stream) Stopped() bool {
	return s.stopped.Load()
}
