// Package encoder exports the raw or binarized pixels of a scan.
package encoder

import (
	"bytes"
	"context"
	"image"
	"image/png"

	"github.com/Skryldev/fprint/core"
	apperrors "github.com/Skryldev/fprint/errors"
)

// PNG encodes scans to PNG format.
type PNG struct{}

func NewPNG() *PNG { return &PNG{} }

func (p *PNG) CanEncode(format core.Format) bool { return format == core.FormatPNG }

func (p *PNG) Encode(ctx context.Context, img *core.Image, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "png.encode", err)
	}

	src, err := source(img, opts, "png.encode")
	if err != nil {
		return nil, err
	}

	enc := &png.Encoder{CompressionLevel: png.DefaultCompression}
	if opts.Lossless {
		enc.CompressionLevel = png.BestCompression
	}

	var buf bytes.Buffer
	if err := enc.Encode(&buf, src); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "png.encode", err)
	}
	return buf.Bytes(), nil
}

// source picks the buffer to export. Binarized export requires a scan
// that went through minutiae detection.
func source(img *core.Image, opts core.EncodeOptions, op string) (*image.Gray, error) {
	if img == nil || img.Width() == 0 || img.Height() == 0 {
		return nil, apperrors.New(apperrors.CategoryEncode, op, apperrors.ErrEmptyInput)
	}
	if !opts.Binarized {
		return img.Gray(), nil
	}
	g := img.BinarizedGray()
	if g == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, op, apperrors.ErrEmptyInput)
	}
	return g, nil
}
