// Package gocv provides an OpenCV backed binarizer for the default
// extractor.
package gocv

import (
	"fmt"
	"image"

	cv "gocv.io/x/gocv"

	"github.com/Skryldev/fprint/adapters/extractor"
)

// Binarizer smooths the scan with a Gaussian kernel and applies OpenCV's
// mean adaptive threshold. Ridges come out as extractor.Ridge.
type Binarizer struct {
	// BlurSize is the Gaussian kernel side; even values are rounded up.
	BlurSize int
	// Offset is subtracted from the local mean before thresholding.
	Offset float32
}

var _ extractor.Binarizer = (*Binarizer)(nil)

func New() *Binarizer {
	return &Binarizer{BlurSize: 3, Offset: 2}
}

func (b *Binarizer) Binarize(data []byte, width, height, radius int) ([]byte, error) {
	if len(data) != width*height {
		return nil, fmt.Errorf("gocv binarize: buffer has %d bytes, want %d", len(data), width*height)
	}
	src, err := cv.NewMatFromBytes(height, width, cv.MatTypeCV8U, data)
	if err != nil {
		return nil, fmt.Errorf("gocv binarize: %w", err)
	}
	defer src.Close()

	smooth := cv.NewMat()
	defer smooth.Close()
	k := b.BlurSize | 1
	if k < 3 {
		k = 3
	}
	cv.GaussianBlur(src, &smooth, image.Pt(k, k), 0, 0, cv.BorderDefault)

	dst := cv.NewMat()
	defer dst.Close()
	cv.AdaptiveThreshold(smooth, &dst, 255, cv.AdaptiveThresholdMean, cv.ThresholdBinary, 2*radius+1, b.Offset)
	if dst.Empty() {
		return nil, fmt.Errorf("gocv binarize: threshold produced no output")
	}

	// ThresholdBinary keeps pixels above the local mean as 255.
	out := dst.ToBytes()
	for i, v := range out {
		if v == 0 {
			out[i] = extractor.Ridge
		} else {
			out[i] = extractor.Valley
		}
	}
	return out, nil
}
