package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Skryldev/fprint/config"
	apperrors "github.com/Skryldev/fprint/errors"
)

// fakeRunner inverts the scan and reports one minutia per row.
type fakeRunner struct {
	block  chan struct{} // when set, Run waits for it before returning
	err    error
	badBin bool
	nilBin bool
}

func (f *fakeRunner) Run(ctx context.Context, s *Scan) (*Scan, map[string]time.Duration, error) {
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	for i, v := range s.Data {
		s.Data[i] = 255 - v
	}
	s.Flags = 0
	s.Binarized = make([]byte, s.Size())
	if f.badBin {
		s.Binarized = s.Binarized[:len(s.Binarized)-1]
	}
	if f.nilBin {
		s.Binarized = nil
	}
	s.Minutiae = make([]Minutia, 0, s.Height)
	for y := 0; y < s.Height; y++ {
		s.Minutiae = append(s.Minutiae, Minutia{X: 0, Y: y})
	}
	return s, nil, nil
}

func newTestProcessor(t *testing.T, r PipelineRunner) *Processor {
	t.Helper()
	cfg := config.Default()
	cfg.WorkerCount = 2
	cfg.QueueSize = 4
	p := New(cfg, NewRegistry(), r)
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

func newTestImage(t *testing.T) *Image {
	t.Helper()
	img, err := NewImageFromData(3, 2, []byte{0, 1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("NewImageFromData: %v", err)
	}
	img.SetFlags(FlagColorsInverted)
	return img
}

func TestDetectMinutiaeSyncCommits(t *testing.T) {
	p := newTestProcessor(t, &fakeRunner{})
	img := newTestImage(t)

	if err := p.DetectMinutiaeSync(context.Background(), img); err != nil {
		t.Fatalf("DetectMinutiaeSync: %v", err)
	}
	if got := img.Data(); got[0] != 255 || got[5] != 250 {
		t.Errorf("raw data not replaced by normalized scan: %v", got)
	}
	if img.Flags() != 0 {
		t.Errorf("flags: got %v, want cleared", img.Flags())
	}
	if len(img.Binarized()) != img.Width()*img.Height() {
		t.Errorf("binarized: got %d bytes", len(img.Binarized()))
	}
	if len(img.Minutiae()) != 2 {
		t.Errorf("minutiae: got %d, want 2", len(img.Minutiae()))
	}
	if p.ProcessedCount() != 1 {
		t.Errorf("processed: got %d, want 1", p.ProcessedCount())
	}
}

func TestDetectMinutiaeAsync(t *testing.T) {
	p := newTestProcessor(t, &fakeRunner{})
	img := newTestImage(t)

	done := make(chan error, 1)
	p.DetectMinutiae(context.Background(), img, func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("async extraction: %v", err)
		}
		if !img.Analyzed() {
			t.Error("image not analyzed after success")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("async extraction timed out")
	}
}

func TestDetectMinutiaeCancelledBeforeCommit(t *testing.T) {
	block := make(chan struct{})
	p := newTestProcessor(t, &fakeRunner{block: block})
	img := newTestImage(t)
	orig := append([]byte(nil), img.Data()...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	p.DetectMinutiae(ctx, img, func(err error) { done <- err })

	cancel()
	close(block)

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled extraction never completed")
	}
	if img.Binarized() != nil || img.Minutiae() != nil {
		t.Error("cancelled extraction left binarized data or minutiae behind")
	}
	if img.Flags() != FlagColorsInverted {
		t.Error("cancelled extraction cleared the pending flags")
	}
	for i, v := range img.Data() {
		if v != orig[i] {
			t.Fatalf("raw data modified at %d", i)
		}
	}
}

func TestDetectMinutiaeAlreadyCancelled(t *testing.T) {
	p := newTestProcessor(t, &fakeRunner{})
	img := newTestImage(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.DetectMinutiaeSync(ctx, img); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if img.Analyzed() {
		t.Error("image analyzed despite cancellation")
	}
}

func TestDetectMinutiaeFailure(t *testing.T) {
	scanErr := apperrors.New(apperrors.CategoryExtract, "extract", &apperrors.ScanError{Code: 2})
	p := newTestProcessor(t, &fakeRunner{err: scanErr})
	img := newTestImage(t)

	err := p.DetectMinutiaeSync(context.Background(), img)
	var se *apperrors.ScanError
	if !errors.As(err, &se) || se.Code != 2 {
		t.Fatalf("expected ScanError code 2, got %v", err)
	}
	if img.Binarized() != nil || img.Minutiae() != nil {
		t.Error("failed extraction committed data")
	}
	if p.ErrorCount() != 1 {
		t.Errorf("errors: got %d, want 1", p.ErrorCount())
	}
}

func TestDetectMinutiaeRejectsShortBinarized(t *testing.T) {
	p := newTestProcessor(t, &fakeRunner{badBin: true})
	img := newTestImage(t)
	if err := p.DetectMinutiaeSync(context.Background(), img); !apperrors.IsCategory(err, apperrors.CategoryExtract) {
		t.Fatalf("expected extract error, got %v", err)
	}
	if img.Analyzed() {
		t.Error("image analyzed despite invalid binarized buffer")
	}
}

func TestDetectMinutiaeRejectsMissingBinarized(t *testing.T) {
	p := newTestProcessor(t, &fakeRunner{nilBin: true})
	img, err := NewImage(0, 0)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	if err := p.DetectMinutiaeSync(context.Background(), img); !apperrors.IsCategory(err, apperrors.CategoryExtract) {
		t.Fatalf("expected extract error, got %v", err)
	}
	if img.Analyzed() || img.Binarized() != nil {
		t.Error("image analyzed without a binarized buffer")
	}
}

func TestQueueFullAndStop(t *testing.T) {
	cfg := config.Default()
	cfg.QueueSize = 1
	p := New(cfg, NewRegistry(), &fakeRunner{}) // not started: nothing drains the queue

	first := make(chan error, 1)
	p.DetectMinutiae(context.Background(), newTestImage(t), func(err error) { first <- err })

	second := make(chan error, 1)
	p.DetectMinutiae(context.Background(), newTestImage(t), func(err error) { second <- err })
	if err := <-second; !errors.Is(err, apperrors.ErrWorkerPoolFull) {
		t.Fatalf("expected ErrWorkerPoolFull, got %v", err)
	}

	p.Stop()
	if err := <-first; !errors.Is(err, apperrors.ErrWorkerPoolStopped) {
		t.Fatalf("queued job: expected ErrWorkerPoolStopped, got %v", err)
	}
	if err := p.DetectMinutiaeSync(context.Background(), newTestImage(t)); !errors.Is(err, apperrors.ErrWorkerPoolStopped) {
		t.Fatalf("after stop: expected ErrWorkerPoolStopped, got %v", err)
	}
}
