package decoder

import (
	"context"
	"image"
	"io"

	"github.com/Skryldev/fprint/core"
	apperrors "github.com/Skryldev/fprint/errors"
)

// Auto sniffs the container and decodes any format registered with the
// image package. The sibling decoders in this package register PNG, JPEG
// and WebP. It serves core.FormatUnknown.
type Auto struct{}

func NewAuto() *Auto { return &Auto{} }

func (a *Auto) CanDecode(format core.Format) bool {
	return format == core.FormatUnknown
}

func (a *Auto) Decode(ctx context.Context, r io.Reader) (*core.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "auto.decode", err)
	}

	img, name, err := image.Decode(r)
	if err != nil {
		if err == image.ErrFormat {
			return nil, apperrors.New(apperrors.CategoryDecode, "auto.decode", apperrors.ErrUnsupportedFormat)
		}
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "auto.decode", err)
	}
	return toImage(img, "auto.decode."+name)
}
