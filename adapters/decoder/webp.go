package decoder

import (
	"context"
	"io"

	"golang.org/x/image/webp"

	"github.com/Skryldev/fprint/core"
	apperrors "github.com/Skryldev/fprint/errors"
	"github.com/Skryldev/fprint/utils"
)

// WebP decodes WebP scans using golang.org/x/image/webp.
type WebP struct {
	ChunkSize int
}

func NewWebP(chunkSize int) *WebP {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}
	return &WebP{ChunkSize: chunkSize}
}

func (w *WebP) CanDecode(format core.Format) bool {
	return format == core.FormatWebP
}

func (w *WebP) Decode(ctx context.Context, r io.Reader) (*core.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "webp.decode", err)
	}

	buf, err := utils.DrainReader(ctx, r, w.ChunkSize)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "webp.drain", err)
	}
	defer utils.ReleaseBuffer(buf)

	img, err := webp.Decode(utils.BytesReader(buf.Bytes()))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "webp.decode", err)
	}
	return toImage(img, "webp.decode")
}
