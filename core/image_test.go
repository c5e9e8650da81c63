package core

import (
	"errors"
	"image"
	"testing"

	apperrors "github.com/Skryldev/fprint/errors"
)

func TestNewImageDimensions(t *testing.T) {
	tests := []struct {
		w, h    int
		wantErr bool
	}{
		{0, 0, false},
		{3, 4, false},
		{-1, 4, true},
		{MaxDimension + 1, 1, true},
	}
	for _, tc := range tests {
		img, err := NewImage(tc.w, tc.h)
		if (err != nil) != tc.wantErr {
			t.Errorf("NewImage(%d,%d): err=%v, wantErr %v", tc.w, tc.h, err, tc.wantErr)
			continue
		}
		if err == nil && len(img.Data()) != tc.w*tc.h {
			t.Errorf("NewImage(%d,%d): data length %d", tc.w, tc.h, len(img.Data()))
		}
		if err != nil && !errors.Is(err, apperrors.ErrInvalidDimensions) {
			t.Errorf("NewImage(%d,%d): unexpected error %v", tc.w, tc.h, err)
		}
	}
}

func TestImageFreshIsUnanalyzed(t *testing.T) {
	img, _ := NewImage(4, 4)
	if img.Binarized() != nil || img.Minutiae() != nil || img.Analyzed() {
		t.Error("new image must have neither binarized data nor minutiae")
	}
	if err := img.SetData(make([]byte, 15)); !errors.Is(err, apperrors.ErrInvalidDimensions) {
		t.Errorf("SetData with short buffer: got %v", err)
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	img, _ := NewImageFromData(2, 2, []byte{1, 2, 3, 4})
	img.SetPPMM(19.685)
	img.SetFlags(FlagVFlipped)

	s := img.Snapshot()
	s.Data[0] = 99
	s.Flags = 0
	if img.Data()[0] != 1 || img.Flags() != FlagVFlipped {
		t.Error("mutating the snapshot changed the source image")
	}
	if s.PPMM != 19.685 || s.Width != 2 || s.Height != 2 {
		t.Errorf("snapshot metadata: %+v", s)
	}
}

func TestCommitEmptyMinutiaeStillAnalyzed(t *testing.T) {
	img, _ := NewImage(1, 1)
	img.commit(&Scan{Width: 1, Height: 1, Data: []byte{7}, Binarized: []byte{0}})
	if !img.Analyzed() || img.Minutiae() == nil || len(img.Binarized()) != 1 {
		t.Error("commit with no minutiae must still mark the image analyzed")
	}
}

func TestCommitEmptyImage(t *testing.T) {
	img, err := NewImage(0, 0)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	img.commit(&Scan{})
	if img.Binarized() == nil || img.Minutiae() == nil {
		t.Errorf("binarized nil=%v minutiae nil=%v, want both present",
			img.Binarized() == nil, img.Minutiae() == nil)
	}
}

func TestNewImageFromGraySubImage(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range g.Pix {
		g.Pix[i] = byte(i)
	}
	sub := g.SubImage(image.Rect(1, 1, 3, 3)).(*image.Gray)
	img, err := NewImageFromGray(sub)
	if err != nil {
		t.Fatalf("NewImageFromGray: %v", err)
	}
	want := []byte{5, 6, 9, 10}
	for i, v := range img.Data() {
		if v != want[i] {
			t.Fatalf("pixel %d: got %d, want %d", i, v, want[i])
		}
	}
}
