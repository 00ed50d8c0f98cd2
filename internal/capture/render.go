package capture

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/go-faster/errors"
	"golang.org/x/image/draw"
)

// Default frame buffer geometry.
const (
	DefaultFrameWidth  = 640
	DefaultFrameHeight = 480
	DefaultJPEGQuality = 90
)

// Render stretches src over a width x height buffer and encodes it as JPEG.
func Render(src image.Image, width, height, quality int) ([]byte, error) {
	if src == nil || src.Bounds().Empty() {
		return nil, errors.New("empty frame")
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid frame size %dx%d", width, height)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, errors.Wrap(err, "encode jpeg")
	}
	return buf.Bytes(), nil
}
