// Package vips is the libvips codec backend. It decodes any format libvips
// understands into a greyscale scan and exports raw or binarized scans.
package vips

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/fprint/core"
	apperrors "github.com/Skryldev/fprint/errors"
	"github.com/Skryldev/fprint/utils"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	DefaultQuality int
	MaxCacheSize   int
	MaxWorkers     int
	ChunkSize      int
	ReportLeaks    bool
}

// Backend is a libvips-powered Decoder.
// Safe for concurrent use across goroutines.
type Backend struct {
	cfg BackendConfig
}

// NewBackend initialises libvips and returns a ready Backend.
// Call Shutdown() when the process exits.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.DefaultQuality <= 0 {
		cfg.DefaultQuality = 85
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 32 * 1024
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
		CollectStats:     true,
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() {
	govips.Shutdown()
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanDecode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP, core.FormatUnknown:
		return true
	}
	return false
}

func (b *Backend) Decode(ctx context.Context, r io.Reader) (*core.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}

	buf, err := utils.DrainReader(ctx, r, b.cfg.ChunkSize)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.drain", err)
	}
	raw := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)

	ref, err := govips.NewImageFromBuffer(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	defer ref.Close()

	if err := toGrey(ref); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.grey", err)
	}
	pix, err := ref.ToBytes()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.bytes", err)
	}
	img, err := core.NewImageFromData(ref.Width(), ref.Height(), pix)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	return img, nil
}

// toGrey reduces ref to a single 8-bit band.
func toGrey(ref *govips.ImageRef) error {
	if ref.Interpretation() != govips.InterpretationBW {
		if err := ref.ToColorSpace(govips.InterpretationBW); err != nil {
			return err
		}
	}
	if ref.Bands() > 1 {
		if err := ref.ExtractBand(0, 1); err != nil {
			return err
		}
	}
	if ref.BandFormat() != govips.BandFormatUchar {
		return ref.Cast(govips.BandFormatUchar)
	}
	return nil
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

// Encoder exports scans in one format through libvips.
type Encoder struct {
	backend *Backend
	format  core.Format
}

// Encoder returns the encoder for format f.
func (b *Backend) Encoder(f core.Format) *Encoder {
	return &Encoder{backend: b, format: f}
}

func (e *Encoder) CanEncode(f core.Format) bool {
	return f == e.format
}

func (e *Encoder) Encode(ctx context.Context, img *core.Image, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode", err)
	}
	if img == nil || img.Width() == 0 || img.Height() == 0 {
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode", apperrors.ErrEmptyInput)
	}

	src := img.Gray()
	if opts.Binarized {
		if src = img.BinarizedGray(); src == nil {
			return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode",
				fmt.Errorf("%w: scan has no binarized data", apperrors.ErrEmptyInput))
		}
	}

	// libvips takes the greyscale buffer as an uncompressed PNG.
	var staged bytes.Buffer
	if err := (&png.Encoder{CompressionLevel: png.NoCompression}).Encode(&staged, src); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.stage", err)
	}
	ref, err := govips.NewImageFromBuffer(staged.Bytes())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.load", err)
	}
	defer ref.Close()

	quality := opts.Quality
	if quality <= 0 {
		quality = e.backend.cfg.DefaultQuality
	}

	switch e.format {
	case core.FormatJPEG:
		ep := govips.NewJpegExportParams()
		ep.Quality = quality
		ep.StripMetadata = true
		ep.Interlace = opts.Interlaced
		buf, _, err := ref.ExportJpeg(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.jpeg", err)
		}
		return buf, nil

	case core.FormatPNG:
		ep := govips.NewPngExportParams()
		ep.StripMetadata = true
		ep.Interlace = opts.Interlaced
		buf, _, err := ref.ExportPng(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.png", err)
		}
		return buf, nil

	case core.FormatWebP:
		ep := govips.NewWebpExportParams()
		ep.Quality = quality
		ep.Lossless = opts.Lossless
		ep.StripMetadata = true
		buf, _, err := ref.ExportWebp(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.webp", err)
		}
		return buf, nil

	default:
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, e.format))
	}
}

// ─── RegisterVipsBackend ──────────────────────────────────────────────────────

// RegisterVipsBackend replaces Go stdlib codecs with libvips for all formats.
func RegisterVipsBackend(reg core.Registry, b *Backend) {
	for _, f := range []core.Format{core.FormatJPEG, core.FormatPNG, core.FormatWebP} {
		reg.RegisterDecoder(f, b)
		reg.RegisterEncoder(f, b.Encoder(f))
	}
	reg.RegisterDecoder(core.FormatUnknown, b)
}

// compile-time interface checks
var (
	_ core.Decoder = (*Backend)(nil)
	_ core.Encoder = (*Encoder)(nil)
)
