package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Skryldev/fprint/core"
	apperrors "github.com/Skryldev/fprint/errors"
)

// ImageHost receives the reports of an ImageDriver. Its methods may be
// called from any goroutine.
type ImageHost interface {
	ReportFingerStatus(present bool)
	ImageCaptured(img *core.Image)
	RetryScan(code apperrors.RetryCode)
	SessionError(err error)
}

// ImageDriver is a reader that only produces images. ImageDevice supplies
// enrollment, matching and capture on top of it.
type ImageDriver interface {
	Open(ctx context.Context, host ImageHost) error
	Close(ctx context.Context) error
	// Activate starts finger detection. Images are reported through the
	// host until Deactivate is called.
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
}

// ImmediateCapturer is implemented by image drivers that can take a scan
// without waiting for a finger.
type ImmediateCapturer interface {
	CaptureNow(ctx context.Context) (*core.Image, error)
}

// Extraction runs minutiae detection on an image. *core.Processor
// satisfies it.
type Extraction interface {
	DetectMinutiae(ctx context.Context, img *core.Image, done func(err error))
}

// ImageDeviceConfig tunes ImageDevice.
type ImageDeviceConfig struct {
	EnrollStages   int
	MatchThreshold int
	MinMinutiae    int
	DefaultPPMM    float64
}

type imageState int

const (
	imageInactive imageState = iota
	imageAwaitFingerOn
	imageCapture
	imageAwaitFingerOff
)

const minutiaeFailedMsg = "Minutiae detection failed, please retry"

// ImageDevice adapts an ImageDriver to the Driver, Identifier, Capturer
// and Canceler capabilities.
type ImageDevice struct {
	drv     ImageDriver
	extract Extraction
	matcher core.Matcher
	cfg     ImageDeviceConfig
	logger  core.Logger

	mu     sync.Mutex
	op     *Operation
	state  imageState
	active bool
	stage  int
}

var (
	_ Driver     = (*ImageDevice)(nil)
	_ Identifier = (*ImageDevice)(nil)
	_ Capturer   = (*ImageDevice)(nil)
	_ Canceler   = (*ImageDevice)(nil)
	_ ImageHost  = (*ImageDevice)(nil)
)

// NewImage builds a Device backed by an image-only driver. The returned
// device declares identify and capture; info.EnrollStages is taken from
// cfg.
func NewImage(drv ImageDriver, info core.DeviceInfo, cfg ImageDeviceConfig, ex Extraction, m core.Matcher, opts Options) (*Device, error) {
	if drv == nil || ex == nil || m == nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "device.new_image",
			fmt.Errorf("image driver, extraction and matcher are required"))
	}
	if cfg.EnrollStages < 1 {
		return nil, apperrors.New(apperrors.CategoryConfig, "device.new_image",
			fmt.Errorf("enroll stages must be at least 1, got %d", cfg.EnrollStages))
	}
	info.EnrollStages = cfg.EnrollStages
	info.Features |= core.FeatureIdentify | core.FeatureCapture

	idev := &ImageDevice{drv: drv, extract: ex, matcher: m, cfg: cfg, logger: opts.Logger}
	d, err := New(idev, info, opts)
	if err != nil {
		return nil, err
	}
	idev.logger = d.logger
	return d, nil
}

// ── Driver ───────────────────────────────────────────────────────────────────

func (d *ImageDevice) Open(op *Operation) {
	op.CompleteOpen(d.drv.Open(op.Context(), d))
}

func (d *ImageDevice) Close(op *Operation) {
	op.CompleteClose(d.drv.Close(op.Context()))
}

func (d *ImageDevice) Enroll(op *Operation) {
	if err := op.Template().SetType(core.PrintMinutiae); err != nil {
		op.Fail(apperrors.ErrDataInvalid)
		return
	}
	d.activate(op)
}

func (d *ImageDevice) Verify(op *Operation)   { d.activate(op) }
func (d *ImageDevice) Identify(op *Operation) { d.activate(op) }

func (d *ImageDevice) Capture(op *Operation) {
	if op.WaitForFinger() {
		d.activate(op)
		return
	}
	ic, ok := d.drv.(ImmediateCapturer)
	if !ok {
		op.Fail(apperrors.ErrNotSupported)
		return
	}
	img, err := ic.CaptureNow(op.Context())
	if err == nil && img != nil {
		d.applyDefaultPPMM(img)
	}
	op.CompleteCapture(img, err)
}

// Cancel aborts the operation; the driver is deactivated before the
// cancellation is reported.
func (d *ImageDevice) Cancel(op *Operation) {
	d.finish(op, func() { op.Fail(op.CancelError()) })
}

func (d *ImageDevice) activate(op *Operation) {
	d.mu.Lock()
	d.op = op
	d.stage = 0
	d.state = imageAwaitFingerOn
	d.active = true
	d.mu.Unlock()

	if err := d.drv.Activate(op.Context()); err != nil {
		d.mu.Lock()
		if d.op == op {
			d.op = nil
			d.active = false
			d.state = imageInactive
		}
		d.mu.Unlock()
		op.Fail(err)
	}
}

// finish clears the operation, deactivates the driver and then runs
// complete. It does nothing if op is no longer current, so only the first
// terminal report wins.
func (d *ImageDevice) finish(op *Operation, complete func()) {
	d.mu.Lock()
	if d.op != op {
		d.mu.Unlock()
		return
	}
	d.op = nil
	wasActive := d.active
	d.active = false
	d.state = imageInactive
	d.mu.Unlock()

	go func() {
		if wasActive {
			if err := d.drv.Deactivate(context.Background()); err != nil && d.logger != nil {
				d.logger.Warn("image_device.deactivate.failed", "error", err.Error())
			}
		}
		complete()
	}()
}

// ── ImageHost ────────────────────────────────────────────────────────────────

func (d *ImageDevice) ReportFingerStatus(present bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.op == nil {
		return
	}
	switch {
	case present && d.state == imageAwaitFingerOn:
		d.state = imageCapture
	case !present && d.state == imageAwaitFingerOff:
		d.state = imageAwaitFingerOn
	}
}

func (d *ImageDevice) ImageCaptured(img *core.Image) {
	d.mu.Lock()
	op := d.op
	if op == nil || d.state != imageCapture || img == nil {
		d.mu.Unlock()
		if d.logger != nil {
			d.logger.Warn("image_device.image_ignored", "reason", "not waiting for an image")
		}
		return
	}
	d.state = imageAwaitFingerOff
	d.mu.Unlock()

	d.applyDefaultPPMM(img)
	if op.Cancelled() {
		d.finish(op, func() { op.Fail(op.CancelError()) })
		return
	}
	if op.Action() == ActionCapture {
		d.finish(op, func() { op.CompleteCapture(img, nil) })
		return
	}
	d.extract.DetectMinutiae(op.Context(), img, func(err error) {
		d.minutiaeDetected(op, img, err)
	})
}

func (d *ImageDevice) RetryScan(code apperrors.RetryCode) {
	d.mu.Lock()
	op := d.op
	if op != nil && d.state == imageCapture {
		d.state = imageAwaitFingerOff
	}
	d.mu.Unlock()
	if op != nil {
		d.retry(op, apperrors.NewRetry(code))
	}
}

func (d *ImageDevice) SessionError(err error) {
	d.mu.Lock()
	op := d.op
	d.mu.Unlock()
	if op == nil {
		if d.logger != nil {
			d.logger.Warn("image_device.session_error.ignored", "error", fmt.Sprint(err))
		}
		return
	}
	d.finish(op, func() { op.Fail(err) })
}

// ── scan handling ────────────────────────────────────────────────────────────

func (d *ImageDevice) minutiaeDetected(op *Operation, img *core.Image, err error) {
	d.mu.Lock()
	current := d.op == op
	d.mu.Unlock()
	if !current {
		return
	}

	if err != nil {
		if apperrors.IsCategory(err, apperrors.CategoryCancelled) {
			d.finish(op, func() { op.Fail(op.CancelError()) })
			return
		}
		if d.logger != nil {
			d.logger.Debug("image_device.extract.failed", "op", op.ID(), "error", err.Error())
		}
		d.retry(op, apperrors.NewRetryMsg(apperrors.RetryGeneral, minutiaeFailedMsg))
		return
	}
	if len(img.Minutiae()) < d.cfg.MinMinutiae {
		d.retry(op, apperrors.NewRetry(apperrors.RetryGeneral))
		return
	}

	probe := core.NewPrint(op.Device().Info())
	_ = probe.SetType(core.PrintMinutiae)
	if err := probe.AddFromImage(img); err != nil {
		d.finish(op, func() { op.Fail(err) })
		return
	}

	switch op.Action() {
	case ActionEnroll:
		d.enrollStage(op, img, probe)
	case ActionVerify:
		match := core.MatchFail
		if d.matcher.Score(op.EnrolledPrint(), probe) >= d.cfg.MatchThreshold {
			match = core.MatchSuccess
		}
		d.finish(op, func() { op.CompleteVerify(match, probe, nil) })
	case ActionIdentify:
		var found *core.Print
		for _, c := range op.Candidates() {
			if c != nil && d.matcher.Score(c, probe) >= d.cfg.MatchThreshold {
				found = c
				break
			}
		}
		d.finish(op, func() { op.CompleteIdentify(found, probe, nil) })
	}
}

func (d *ImageDevice) enrollStage(op *Operation, img *core.Image, probe *core.Print) {
	tmpl := op.Template()

	// Extractions of consecutive scans may finish concurrently.
	d.mu.Lock()
	if d.op != op || d.stage >= d.cfg.EnrollStages {
		d.mu.Unlock()
		return
	}
	if err := tmpl.AddFromImage(img); err != nil {
		d.mu.Unlock()
		d.finish(op, func() { op.Fail(err) })
		return
	}
	d.stage++
	stage := d.stage
	d.mu.Unlock()

	op.ReportEnrollProgress(stage, probe, nil)
	if stage >= d.cfg.EnrollStages {
		tmpl.EnrollDate = time.Now()
		d.finish(op, func() { op.CompleteEnroll(tmpl, nil) })
	}
}

// retry reports r as enroll progress, or aborts any other action with
// the retry message.
func (d *ImageDevice) retry(op *Operation, r *apperrors.Retry) {
	if op.Action() != ActionEnroll {
		d.finish(op, func() { op.Fail(r.Fatal()) })
		return
	}
	d.mu.Lock()
	stage := d.stage
	d.mu.Unlock()
	op.ReportEnrollProgress(stage, nil, r)
}

func (d *ImageDevice) applyDefaultPPMM(img *core.Image) {
	if img.PPMM() == 0 && d.cfg.DefaultPPMM > 0 {
		img.SetPPMM(d.cfg.DefaultPPMM)
	}
}
