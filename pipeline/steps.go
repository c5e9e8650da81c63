package pipeline

import (
	"context"
	"fmt"

	"github.com/Skryldev/fprint/core"
	apperrors "github.com/Skryldev/fprint/errors"
)

// ─── Normalization ────────────────────────────────────────────────────────────

// FlipHorizontal reverses every row of a width*height buffer in place.
func FlipHorizontal(buf []byte, width, height int) {
	for y := 0; y < height; y++ {
		row := buf[y*width : (y+1)*width]
		for l, r := 0, width-1; l < r; l, r = l+1, r-1 {
			row[l], row[r] = row[r], row[l]
		}
	}
}

// FlipVertical reverses the row order of a width*height buffer in place.
func FlipVertical(buf []byte, width, height int) {
	tmp := make([]byte, width)
	for top, bottom := 0, height-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := buf[top*width : (top+1)*width]
		b := buf[bottom*width : (bottom+1)*width]
		copy(tmp, a)
		copy(a, b)
		copy(b, tmp)
	}
}

// InvertColors complements every byte of buf in place.
func InvertColors(buf []byte) {
	for i, v := range buf {
		buf[i] = 255 - v
	}
}

// NormalizeStep applies the scan's pending flags in a fixed order
// (horizontal flip, vertical flip, inversion) and clears them.
type NormalizeStep struct{}

func (s *NormalizeStep) Name() string { return "normalize" }

func (s *NormalizeStep) Execute(ctx context.Context, scan *core.Scan) (*core.Scan, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancelled(s.Name(), err)
	}
	if len(scan.Data) != scan.Size() {
		return nil, apperrors.New(apperrors.CategoryInput, s.Name(), apperrors.ErrInvalidDimensions)
	}
	if scan.Flags&core.FlagHFlipped != 0 {
		FlipHorizontal(scan.Data, scan.Width, scan.Height)
	}
	if scan.Flags&core.FlagVFlipped != 0 {
		FlipVertical(scan.Data, scan.Width, scan.Height)
	}
	if scan.Flags&core.FlagColorsInverted != 0 {
		InvertColors(scan.Data)
	}
	scan.Flags &^= core.FlagHFlipped | core.FlagVFlipped | core.FlagColorsInverted
	return scan, nil
}

// ─── Extraction ───────────────────────────────────────────────────────────────

// ExtractStep hands the normalized scan to the configured Extractor.
type ExtractStep struct {
	Extractor core.Extractor
}

func (s *ExtractStep) Name() string { return "extract" }

func (s *ExtractStep) Execute(ctx context.Context, scan *core.Scan) (*core.Scan, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancelled(s.Name(), err)
	}
	if s.Extractor == nil {
		return nil, apperrors.New(apperrors.CategoryConfig, s.Name(), fmt.Errorf("no extractor configured"))
	}
	out := s.Extractor.Extract(ctx, core.ExtractInput{
		Data:   scan.Data,
		Width:  scan.Width,
		Height: scan.Height,
		PPMM:   scan.PPMM,
	})
	if out.Status != 0 {
		return nil, apperrors.New(apperrors.CategoryExtract, s.Name(), &apperrors.ScanError{Code: out.Status})
	}
	scan.Binarized = out.Binarized
	scan.Minutiae = out.Minutiae
	return scan, nil
}

var (
	_ core.Step = (*NormalizeStep)(nil)
	_ core.Step = (*ExtractStep)(nil)
)
