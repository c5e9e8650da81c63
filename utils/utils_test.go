package utils

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
)

func TestSquaredDeviation(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want int
	}{
		{"empty", nil, 0},
		{"single", []byte{42}, 0},
		{"constant", []byte{10, 10, 10, 10}, 0},
		{"two levels", []byte{0, 0, 255, 255}, 16256},
		{"ramp", []byte{0, 1, 2, 3}, 1}, // mean 1: (1+0+1+4)/4
	}
	for _, tc := range tests {
		if got := SquaredDeviation(tc.buf); got != tc.want {
			t.Errorf("%s: SquaredDeviation(%v) = %d, want %d", tc.name, tc.buf, got, tc.want)
		}
	}
}

func TestSquaredDeviationConstantAnySize(t *testing.T) {
	for n := 1; n < 64; n++ {
		buf := bytes.Repeat([]byte{200}, n)
		if got := SquaredDeviation(buf); got != 0 {
			t.Fatalf("size %d: got %d, want 0", n, got)
		}
	}
}

func TestMeanSquareDiff(t *testing.T) {
	a := []byte{1, 2, 3, 4, 5, 6}
	if got := MeanSquareDiff(a, a, len(a)); got != 0 {
		t.Errorf("identical buffers: got %d, want 0", got)
	}
	for _, delta := range []byte{1, 7, 100} {
		b := make([]byte, len(a))
		for i := range a {
			b[i] = a[i] + delta
		}
		want := int(delta) * int(delta)
		if got := MeanSquareDiff(a, b, len(a)); got != want {
			t.Errorf("delta %d: got %d, want %d", delta, got, want)
		}
	}
	if got := MeanSquareDiff(a, []byte{9, 9, 9, 9, 9, 9}, 0); got != 0 {
		t.Errorf("n=0: got %d, want 0", got)
	}
	// Only the first n bytes count.
	if got := MeanSquareDiff([]byte{0, 0, 50}, []byte{0, 0, 0}, 2); got != 0 {
		t.Errorf("prefix: got %d, want 0", got)
	}
}

func TestResize(t *testing.T) {
	data := bytes.Repeat([]byte{128}, 4*3)
	out, w, h := Resize(data, 4, 3, 2, 3)
	if w != 8 || h != 9 {
		t.Fatalf("dimensions: got %dx%d, want 8x9", w, h)
	}
	if len(out) != w*h {
		t.Fatalf("length: got %d, want %d", len(out), w*h)
	}
	for i, v := range out {
		if v != 128 {
			t.Fatalf("pixel %d: got %d, want 128", i, v)
		}
	}
}

func TestToGray(t *testing.T) {
	src := image.NewRGBA(image.Rect(5, 5, 9, 7))
	for y := 5; y < 7; y++ {
		for x := 5; x < 9; x++ {
			src.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	g := ToGray(src)
	if g.Rect.Dx() != 4 || g.Rect.Dy() != 2 || g.Rect.Min != (image.Point{}) {
		t.Fatalf("bounds: got %v", g.Rect)
	}
	for i, v := range g.Pix {
		if v != 255 {
			t.Fatalf("pixel %d: got %d, want 255", i, v)
		}
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		data []byte
		want string
	}{
		{[]byte{0xFF, 0xD8, 0xFF, 0xE0}, "jpeg"},
		{[]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A}, "png"},
		{[]byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "webp"},
		{[]byte{1, 2}, "unknown"},
	}
	for _, tc := range tests {
		if got := DetectFormat(tc.data); got != tc.want {
			t.Errorf("DetectFormat(%v) = %s, want %s", tc.data, got, tc.want)
		}
	}
}

func TestDrainReaderLimit(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr error
	}{
		{"below", 7, nil},
		{"exact", 8, nil},
		{"above", 9, ErrLimitExceeded},
	}
	for _, tc := range tests {
		r := &LimitedReader{R: bytes.NewReader(make([]byte, tc.size)), Max: 8}
		buf, err := DrainReader(context.Background(), r, 4)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.wantErr)
			continue
		}
		if err == nil {
			if buf.Len() != tc.size {
				t.Errorf("%s: read %d bytes, want %d", tc.name, buf.Len(), tc.size)
			}
			ReleaseBuffer(buf)
		}
	}
}

// stallReader returns (0, nil) once, then fails with err.
type stallReader struct {
	stalled bool
	err     error
}

func (s *stallReader) Read(p []byte) (int, error) {
	if !s.stalled {
		s.stalled = true
		return 0, nil
	}
	return 0, s.err
}

func TestLimitedReaderBoundaryErrors(t *testing.T) {
	diskErr := errors.New("read failed")
	r := &LimitedReader{R: &stallReader{err: diskErr}, Max: 4}
	r.n = 4

	if n, err := r.Read(make([]byte, 8)); n != 0 || err != nil {
		t.Errorf("empty read at the limit: got (%d, %v), want (0, nil)", n, err)
	}
	if _, err := r.Read(make([]byte, 8)); !errors.Is(err, diskErr) {
		t.Errorf("I/O error at the limit: got %v, want %v", err, diskErr)
	}
}
