package gocv_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/Skryldev/fprint/adapters/extractor"
	"github.com/Skryldev/fprint/adapters/gocv"
	"github.com/Skryldev/fprint/core"
)

func TestBinarizeRidge(t *testing.T) {
	const side = 48
	data := bytes.Repeat([]byte{255}, side*side)
	for y := 22; y <= 25; y++ {
		for x := 10; x < 38; x++ {
			data[y*side+x] = 0
		}
	}

	bin, err := gocv.New().Binarize(data, side, side, 6)
	if err != nil {
		t.Fatalf("Binarize: %v", err)
	}
	if len(bin) != side*side {
		t.Fatalf("length %d", len(bin))
	}
	if bin[23*side+24] != extractor.Ridge {
		t.Error("ridge pixel not detected")
	}
	if bin[5*side+5] != extractor.Valley {
		t.Error("background pixel marked as ridge")
	}
}

func TestBinarizeRejectsShortBuffer(t *testing.T) {
	if _, err := gocv.New().Binarize(make([]byte, 10), 8, 8, 3); err == nil {
		t.Fatal("expected an error")
	}
}

func TestPluggedIntoExtractor(t *testing.T) {
	ex := &extractor.Extractor{Binarizer: gocv.New()}
	out := ex.Extract(context.Background(), core.ExtractInput{
		Data:   bytes.Repeat([]byte{200}, 32*32),
		Width:  32,
		Height: 32,
	})
	if out.Status != extractor.StatusOK || len(out.Binarized) != 32*32 {
		t.Fatalf("status %d, binarized %d bytes", out.Status, len(out.Binarized))
	}
}
