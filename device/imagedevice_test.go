package device_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Skryldev/fprint/config"
	"github.com/Skryldev/fprint/core"
	"github.com/Skryldev/fprint/device"
	apperrors "github.com/Skryldev/fprint/errors"
)

// countRunner reports as many minutiae as the value of the first pixel.
type countRunner struct{}

func (countRunner) Run(_ context.Context, s *core.Scan) (*core.Scan, map[string]time.Duration, error) {
	s.Binarized = make([]byte, s.Size())
	n := int(s.Data[0])
	s.Minutiae = make([]core.Minutia, 0, n)
	for i := 0; i < n; i++ {
		s.Minutiae = append(s.Minutiae, core.Minutia{X: i % s.Width, Y: i / s.Width})
	}
	return s, nil, nil
}

// sizeMatcher scores 100 when both prints carry templates of equal size.
type sizeMatcher struct{}

func (sizeMatcher) Score(enrolled, probe *core.Print) int {
	if len(enrolled.Templates) == 0 || len(probe.Templates) == 0 {
		return 0
	}
	if len(enrolled.Templates[0]) == len(probe.Templates[0]) {
		return 100
	}
	return 0
}

type fakeImageDriver struct {
	host        device.ImageHost
	activated   chan struct{}
	deactivated chan struct{}
	activateErr error
	immediate   *core.Image
}

func newFakeImageDriver() *fakeImageDriver {
	return &fakeImageDriver{
		activated:   make(chan struct{}, 8),
		deactivated: make(chan struct{}, 8),
	}
}

func (f *fakeImageDriver) Open(_ context.Context, host device.ImageHost) error {
	f.host = host
	return nil
}

func (f *fakeImageDriver) Close(context.Context) error { return nil }

func (f *fakeImageDriver) Activate(context.Context) error {
	if f.activateErr != nil {
		return f.activateErr
	}
	f.activated <- struct{}{}
	return nil
}

func (f *fakeImageDriver) Deactivate(context.Context) error {
	f.deactivated <- struct{}{}
	return nil
}

type immediateDriver struct{ *fakeImageDriver }

func (f immediateDriver) CaptureNow(context.Context) (*core.Image, error) {
	return f.immediate, nil
}

func (f *fakeImageDriver) scan(t *testing.T, minutiae byte) {
	t.Helper()
	img, err := core.NewImageFromData(8, 8, bytes.Repeat([]byte{minutiae}, 64))
	if err != nil {
		t.Fatalf("NewImageFromData: %v", err)
	}
	f.host.ReportFingerStatus(true)
	f.host.ImageCaptured(img)
	f.host.ReportFingerStatus(false)
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func newImageTestDevice(t *testing.T, drv device.ImageDriver) *device.Device {
	t.Helper()
	cfg := config.Default()
	cfg.WorkerCount = 1
	proc := core.New(cfg, core.NewRegistry(), countRunner{})
	proc.Start()
	t.Cleanup(proc.Stop)

	d, err := device.NewImage(drv, core.DeviceInfo{Driver: "fake_image", Name: "Fake image reader"},
		device.ImageDeviceConfig{EnrollStages: 2, MatchThreshold: 40, MinMinutiae: 10, DefaultPPMM: 19.685},
		proc, sizeMatcher{}, device.Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	t.Cleanup(d.Shutdown)
	if err := d.OpenSync(context.Background()); err != nil {
		t.Fatalf("OpenSync: %v", err)
	}
	return d
}

func TestImageDeviceInfo(t *testing.T) {
	d := newImageTestDevice(t, newFakeImageDriver())
	if d.EnrollStages() != 2 || !d.SupportsIdentify() || !d.SupportsCapture() || d.HasStorage() {
		t.Fatalf("unexpected capabilities: stages=%d identify=%v capture=%v storage=%v",
			d.EnrollStages(), d.SupportsIdentify(), d.SupportsCapture(), d.HasStorage())
	}
}

func enrollPrint(t *testing.T, d *device.Device, drv *fakeImageDriver) *core.Print {
	t.Helper()
	progress := make(chan core.EnrollProgress, 8)
	done := make(chan error, 1)
	var enrolled *core.Print
	d.Enroll(context.Background(), d.NewPrint(), func(p core.EnrollProgress) { progress <- p },
		func(p *core.Print, err error) {
			enrolled = p
			done <- err
		})
	waitSignal(t, drv.activated, "activation")

	next := func() core.EnrollProgress {
		t.Helper()
		select {
		case p := <-progress:
			return p
		case <-time.After(2 * time.Second):
			t.Fatal("no enroll progress")
			return core.EnrollProgress{}
		}
	}

	drv.scan(t, 20)
	if p := next(); p.Stage != 1 || p.Retry != nil || p.Print == nil {
		t.Fatalf("first stage: %+v", p)
	}
	drv.scan(t, 3)
	if p := next(); p.Stage != 1 || p.Retry == nil || p.Retry.Code != apperrors.RetryGeneral {
		t.Fatalf("too few minutiae should be a retry: %+v", p)
	}
	drv.scan(t, 20)
	if p := next(); p.Stage != 2 || p.Retry != nil {
		t.Fatalf("second stage: %+v", p)
	}

	if err := waitErr(t, done); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	waitSignal(t, drv.deactivated, "deactivation")
	if enrolled.Type != core.PrintMinutiae || len(enrolled.Templates) != 2 || enrolled.EnrollDate.IsZero() {
		t.Fatalf("enrolled print: type=%s templates=%d", enrolled.Type, len(enrolled.Templates))
	}
	return enrolled
}

func TestImageDeviceEnrollVerifyIdentify(t *testing.T) {
	ctx := context.Background()
	drv := newFakeImageDriver()
	d := newImageTestDevice(t, drv)
	enrolled := enrollPrint(t, d, drv)

	tests := []struct {
		name     string
		minutiae byte
		want     bool
	}{
		{"match", 20, true},
		{"no match", 30, false},
	}
	for _, tt := range tests {
		t.Run("verify "+tt.name, func(t *testing.T) {
			type result struct {
				matched bool
				err     error
			}
			res := make(chan result, 1)
			d.Verify(ctx, enrolled, func(matched bool, captured *core.Print, err error) {
				if err == nil && captured == nil {
					t.Error("verify should report the captured print")
				}
				res <- result{matched, err}
			})
			waitSignal(t, drv.activated, "activation")
			drv.scan(t, tt.minutiae)
			select {
			case r := <-res:
				if r.err != nil || r.matched != tt.want {
					t.Fatalf("matched=%v err=%v, want %v", r.matched, r.err, tt.want)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("verify did not complete")
			}
			waitSignal(t, drv.deactivated, "deactivation")
		})
	}

	other := d.NewPrint()
	other.Type = core.PrintMinutiae
	other.Templates = [][]core.Minutia{make([]core.Minutia, 5)}
	type idResult struct {
		match *core.Print
		err   error
	}
	res := make(chan idResult, 1)
	d.Identify(ctx, []*core.Print{other, enrolled}, func(match, _ *core.Print, err error) {
		res <- idResult{match, err}
	})
	waitSignal(t, drv.activated, "activation")
	drv.scan(t, 20)
	if r := <-res; r.err != nil || r.match != enrolled {
		t.Fatalf("identify: match=%v err=%v", r.match, r.err)
	}
}

func TestImageDeviceVerifyRetryIsFatal(t *testing.T) {
	drv := newFakeImageDriver()
	d := newImageTestDevice(t, drv)

	done := make(chan error, 1)
	d.Verify(context.Background(), d.NewPrint(), func(_ bool, _ *core.Print, err error) { done <- err })
	waitSignal(t, drv.activated, "activation")
	drv.host.ReportFingerStatus(true)
	drv.host.RetryScan(apperrors.RetryTooShort)

	err := waitErr(t, done)
	if !errors.Is(err, apperrors.ErrGeneral) || err.Error() != apperrors.RetryTooShort.Message() {
		t.Fatalf("got %v, want GENERAL with the retry message", err)
	}
}

func TestImageDeviceCapture(t *testing.T) {
	ctx := context.Background()

	drv := newFakeImageDriver()
	d := newImageTestDevice(t, drv)
	if _, err := d.CaptureSync(ctx, false); !errors.Is(err, apperrors.ErrNotSupported) {
		t.Fatalf("capture without wait: got %v, want NOT_SUPPORTED", err)
	}

	type capResult struct {
		img *core.Image
		err error
	}
	res := make(chan capResult, 1)
	d.Capture(ctx, true, func(img *core.Image, err error) { res <- capResult{img, err} })
	waitSignal(t, drv.activated, "activation")
	drv.scan(t, 1)
	r := <-res
	if r.err != nil || r.img == nil {
		t.Fatalf("capture: %v", r.err)
	}
	if r.img.PPMM() != 19.685 {
		t.Errorf("default ppmm not applied: %v", r.img.PPMM())
	}
	if r.img.Analyzed() {
		t.Error("capture must not run minutiae detection")
	}

	base := newFakeImageDriver()
	base.immediate, _ = core.NewImage(4, 4)
	d = newImageTestDevice(t, immediateDriver{base})
	img, err := d.CaptureSync(ctx, false)
	if err != nil || img != base.immediate {
		t.Fatalf("immediate capture: img=%v err=%v", img, err)
	}
}

func TestImageDeviceCancel(t *testing.T) {
	drv := newFakeImageDriver()
	d := newImageTestDevice(t, drv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	d.Verify(ctx, d.NewPrint(), func(_ bool, _ *core.Print, err error) { done <- err })
	waitSignal(t, drv.activated, "activation")

	cancel()
	if err := waitErr(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	waitSignal(t, drv.deactivated, "deactivation")
}

func TestImageDeviceActivateError(t *testing.T) {
	drv := newFakeImageDriver()
	drv.activateErr = apperrors.ErrProto
	d := newImageTestDevice(t, drv)

	if _, _, err := d.VerifySync(context.Background(), d.NewPrint()); !errors.Is(err, apperrors.ErrProto) {
		t.Fatalf("got %v, want PROTO", err)
	}
	if d.State() != device.StateIdle {
		t.Fatalf("state: got %s", d.State())
	}
}
