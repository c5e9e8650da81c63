// Package decoder loads encoded fingerprint scans into greyscale
// core.Image values.
package decoder

import (
	"context"
	"image"
	"image/jpeg"
	"io"

	"github.com/Skryldev/fprint/core"
	apperrors "github.com/Skryldev/fprint/errors"
	"github.com/Skryldev/fprint/utils"
)

// JPEG decodes JPEG scans using the standard library.
type JPEG struct{}

// NewJPEG returns an initialised JPEG decoder.
func NewJPEG() *JPEG { return &JPEG{} }

func (j *JPEG) CanDecode(format core.Format) bool {
	return format == core.FormatJPEG
}

func (j *JPEG) Decode(ctx context.Context, r io.Reader) (*core.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jpeg.decode", err)
	}

	img, err := jpeg.Decode(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jpeg.decode", err)
	}
	return toImage(img, "jpeg.decode")
}

// toImage flattens any decoded image to 8-bit greyscale.
func toImage(src image.Image, op string) (*core.Image, error) {
	g, ok := src.(*image.Gray)
	if !ok || g.Rect.Min != (image.Point{}) {
		g = utils.ToGray(src)
	}
	out, err := core.NewImageFromGray(g)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, op, err)
	}
	return out, nil
}
