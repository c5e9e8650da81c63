package core

import (
	"errors"
	"testing"

	apperrors "github.com/Skryldev/fprint/errors"
)

func analyzedImage(t *testing.T, n int) *Image {
	t.Helper()
	img, _ := NewImage(n, n)
	m := make([]Minutia, 0, n)
	for i := n - 1; i >= 0; i-- {
		m = append(m, Minutia{X: i, Y: i})
	}
	img.commit(&Scan{Width: n, Height: n, Data: make([]byte, n*n), Binarized: make([]byte, n*n), Minutiae: m})
	return img
}

func TestPrintAddFromImage(t *testing.T) {
	info := DeviceInfo{Driver: "virtual_image", DeviceID: "dev-1"}
	p := NewPrint(info)
	if !p.Blank() {
		t.Fatal("new print should be blank")
	}
	if err := p.AddFromImage(analyzedImage(t, 4)); err == nil {
		t.Fatal("AddFromImage on an undefined print should fail")
	}
	if err := p.SetType(PrintMinutiae); err != nil {
		t.Fatalf("SetType: %v", err)
	}
	if err := p.SetType(PrintRaw); err == nil {
		t.Fatal("changing the print type should fail")
	}
	if err := p.AddFromImage(analyzedImage(t, 4)); err != nil {
		t.Fatalf("AddFromImage: %v", err)
	}
	tmpl := p.Templates[0]
	if tmpl[0].X != 0 || tmpl[3].X != 3 {
		t.Errorf("template not sorted: %v", tmpl)
	}
	if !p.Compatible(info) || p.Compatible(DeviceInfo{Driver: "other"}) {
		t.Error("Compatible mismatch")
	}
}

func TestPrintTemplateCap(t *testing.T) {
	p := &Print{Type: PrintMinutiae}
	if err := p.AddFromImage(analyzedImage(t, MaxTemplateMinutiae+20)); err != nil {
		t.Fatalf("AddFromImage: %v", err)
	}
	tmpl := p.Templates[0]
	if got := len(tmpl); got != MaxTemplateMinutiae {
		t.Fatalf("template size: got %d, want %d", got, MaxTemplateMinutiae)
	}
	// Detection order runs from x=219 down to x=0; the first 200 found are kept.
	if tmpl[0].X != 20 || tmpl[len(tmpl)-1].X != 219 {
		t.Errorf("kept x range %d..%d, want 20..219", tmpl[0].X, tmpl[len(tmpl)-1].X)
	}
}

func TestPrintMarshalRoundTrip(t *testing.T) {
	p := NewPrint(DeviceInfo{Driver: "d", DeviceID: "x"})
	p.Type = PrintRaw
	p.Data = []byte("finger-1")
	p.Username = "alice"

	b, err := p.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := UnmarshalPrint(b)
	if err != nil {
		t.Fatalf("UnmarshalPrint: %v", err)
	}
	if !got.Equal(p) || got.ID != p.ID || got.Username != "alice" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if _, err := UnmarshalPrint([]byte("{")); !errors.Is(err, apperrors.ErrDataInvalid) {
		t.Errorf("garbage: expected DATA_INVALID, got %v", err)
	}
}
