// Package barcode decodes retail barcodes from still images.
package barcode

import (
	"bytes"
	"context"
	"image"
	_ "image/gif" // register decoders
	_ "image/jpeg"
	_ "image/png"

	"github.com/go-faster/errors"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"

	"github.com/xenking/food-explorer/internal/capture"
)

// Decoder reads UPC/EAN codes first, then Code 128. It is stateless and safe
// for concurrent use.
type Decoder struct {
	hints map[gozxing.DecodeHintType]any
}

// New returns a Decoder that spends extra effort on hard images.
func New() *Decoder {
	return &Decoder{hints: map[gozxing.DecodeHintType]any{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}}
}

// Decode implements capture.Decoder. An image without a readable barcode
// yields capture.ErrNoBarcode.
func (d *Decoder) Decode(ctx context.Context, frame []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return "", errors.Wrap(err, "decode image")
	}
	return d.DecodeImage(ctx, img)
}

// DecodeImage decodes an already decoded image.
func (d *Decoder) DecodeImage(ctx context.Context, img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", errors.Wrap(err, "binarize")
	}

	// Readers hold scratch buffers, so each decode builds its own.
	readers := []gozxing.Reader{
		oned.NewMultiFormatUPCEANReader(d.hints),
		oned.NewCode128Reader(),
	}
	for _, r := range readers {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		res, err := r.Decode(bmp, d.hints)
		if err != nil {
			continue
		}
		if text := res.GetText(); text != "" {
			return text, nil
		}
	}
	return "", capture.ErrNoBarcode
}
