package core

import (
	"image"
	"math"
	"sync"

	apperrors "github.com/Skryldev/fprint/errors"
	"github.com/Skryldev/fprint/utils"
)

// MaxDimension bounds image width and height.
const MaxDimension = math.MaxUint16

// ImageFlags are pending normalizations a driver requests for a scan.
type ImageFlags uint8

const (
	FlagHFlipped ImageFlags = 1 << iota
	FlagVFlipped
	FlagColorsInverted
)

// Image owns a greyscale fingerprint scan and, after extraction, its
// binarized form and minutiae. The raw buffer is always width*height bytes;
// binarized data and minutiae are either both nil or both set.
type Image struct {
	mu sync.RWMutex

	width  int
	height int
	ppmm   float64
	flags  ImageFlags

	data      []byte
	binarized []byte
	minutiae  []Minutia
}

// NewImage returns a zeroed image of the given size.
func NewImage(width, height int) (*Image, error) {
	if width < 0 || height < 0 || width > MaxDimension || height > MaxDimension {
		return nil, apperrors.New(apperrors.CategoryInput, "image.new", apperrors.ErrInvalidDimensions)
	}
	return &Image{
		width:  width,
		height: height,
		data:   make([]byte, width*height),
	}, nil
}

// NewImageFromData copies data into a new image. len(data) must equal
// width*height.
func NewImageFromData(width, height int, data []byte) (*Image, error) {
	img, err := NewImage(width, height)
	if err != nil {
		return nil, err
	}
	if err := img.SetData(data); err != nil {
		return nil, err
	}
	return img, nil
}

// NewImageFromGray copies a decoded greyscale image.
func NewImageFromGray(g *image.Gray) (*Image, error) {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	img, err := NewImage(w, h)
	if err != nil {
		return nil, err
	}
	for y := 0; y < h; y++ {
		off := g.PixOffset(g.Rect.Min.X, g.Rect.Min.Y+y)
		copy(img.data[y*w:(y+1)*w], g.Pix[off:off+w])
	}
	return img, nil
}

func (i *Image) Width() int  { return i.width }
func (i *Image) Height() int { return i.height }

// PPMM returns the resolution in points per millimetre.
func (i *Image) PPMM() float64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.ppmm
}

func (i *Image) SetPPMM(ppmm float64) {
	i.mu.Lock()
	i.ppmm = ppmm
	i.mu.Unlock()
}

// Flags returns the pending normalization flags.
func (i *Image) Flags() ImageFlags {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.flags
}

// SetFlags records normalizations that extraction must apply first.
func (i *Image) SetFlags(f ImageFlags) {
	i.mu.Lock()
	i.flags = f
	i.mu.Unlock()
}

// Data returns the raw buffer. Treat it as read-only; it is replaced, not
// modified, when an extraction commits.
func (i *Image) Data() []byte {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.data
}

// SetData overwrites the raw pixels and drops any previous analysis.
func (i *Image) SetData(data []byte) error {
	if len(data) != i.width*i.height {
		return apperrors.New(apperrors.CategoryInput, "image.set_data", apperrors.ErrInvalidDimensions)
	}
	i.mu.Lock()
	i.data = utils.CloneBytes(data)
	i.binarized = nil
	i.minutiae = nil
	i.mu.Unlock()
	return nil
}

// Binarized returns the ridge/valley image, or nil before extraction.
func (i *Image) Binarized() []byte {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.binarized
}

// Minutiae returns the extracted points, or nil before extraction.
func (i *Image) Minutiae() []Minutia {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.minutiae
}

// Analyzed reports whether an extraction has been committed.
func (i *Image) Analyzed() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.minutiae != nil
}

// Gray returns a copy of the raw buffer as an *image.Gray.
func (i *Image) Gray() *image.Gray {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return utils.GrayFromBytes(utils.CloneBytes(i.data), i.width, i.height)
}

// BinarizedGray returns a copy of the binarized buffer, or nil.
func (i *Image) BinarizedGray() *image.Gray {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.binarized == nil {
		return nil
	}
	return utils.GrayFromBytes(utils.CloneBytes(i.binarized), i.width, i.height)
}

// Snapshot copies everything extraction needs into an isolated work item.
func (i *Image) Snapshot() *Scan {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return &Scan{
		Width:  i.width,
		Height: i.height,
		PPMM:   i.ppmm,
		Flags:  i.flags,
		Data:   utils.CloneBytes(i.data),
	}
}

// commit installs a finished scan. The normalized raw buffer replaces the
// original.
func (i *Image) commit(s *Scan) {
	i.mu.Lock()
	i.flags = s.Flags
	i.data = s.Data
	i.binarized = s.Binarized
	i.minutiae = s.Minutiae
	// Binarized and minutiae are either both absent or both present.
	if i.binarized == nil {
		i.binarized = []byte{}
	}
	if i.minutiae == nil {
		i.minutiae = []Minutia{}
	}
	i.mu.Unlock()
}

// Scan is the private copy of an Image processed by the minutiae pipeline.
type Scan struct {
	Width     int
	Height    int
	PPMM      float64
	Flags     ImageFlags
	Data      []byte
	Binarized []byte
	Minutiae  []Minutia
}

// Size returns the number of pixels.
func (s *Scan) Size() int { return s.Width * s.Height }
