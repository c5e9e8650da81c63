package utils

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// ToGray converts any decoded image into an 8-bit greyscale image whose
// bounds start at the origin.
func ToGray(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), src, b.Min, xdraw.Src)
	return dst
}

// GrayFromBytes wraps a width*height byte buffer as an *image.Gray without
// copying.
func GrayFromBytes(data []byte, width, height int) *image.Gray {
	return &image.Gray{Pix: data, Stride: width, Rect: image.Rect(0, 0, width, height)}
}

// Resize scales a greyscale buffer by integer factors using bilinear
// interpolation. Small sensors upscale their frames before extraction.
func Resize(data []byte, width, height, wFactor, hFactor int) ([]byte, int, int) {
	if wFactor < 1 {
		wFactor = 1
	}
	if hFactor < 1 {
		hFactor = 1
	}
	src := GrayFromBytes(data, width, height)
	dst := image.NewGray(image.Rect(0, 0, width*wFactor, height*hFactor))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst.Pix, dst.Rect.Dx(), dst.Rect.Dy()
}
