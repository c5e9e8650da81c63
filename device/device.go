package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Skryldev/fprint/core"
	apperrors "github.com/Skryldev/fprint/errors"
	"github.com/Skryldev/fprint/hooks"
)

// Options carries the optional collaborators of a Device.
type Options struct {
	Logger  core.Logger
	Metrics core.MetricsCollector
}

// Device is a session over one reader. All state transitions and callback
// delivery happen on a single control goroutine; public methods only post
// requests to it and are safe for concurrent use.
type Device struct {
	info   core.DeviceInfo
	driver Driver

	identifier Identifier
	capturer   Capturer
	storage    Storage
	canceler   Canceler

	logger  core.Logger
	metrics core.MetricsCollector

	events   chan event
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	state atomic.Int32

	// owned by the control goroutine
	current *Operation
}

type event interface{}

type evtRequest struct{ op *Operation }

type evtComplete struct {
	op     *Operation
	result Result
}

type evtProgress struct {
	op       *Operation
	progress core.EnrollProgress
}

type evtCancel struct{ op *Operation }

// New validates the declared features against the driver and starts the
// control goroutine. Call Shutdown when the reader goes away.
func New(drv Driver, info core.DeviceInfo, opts Options) (*Device, error) {
	if drv == nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "device.new", fmt.Errorf("driver must not be nil"))
	}
	if info.EnrollStages < 1 {
		return nil, apperrors.New(apperrors.CategoryConfig, "device.new",
			fmt.Errorf("enroll stages must be at least 1, got %d", info.EnrollStages))
	}
	if info.DeviceID == "" {
		info.DeviceID = uuid.NewString()
	}

	d := &Device{
		info:    info,
		driver:  drv,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		events:  make(chan event, 64),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if d.logger == nil {
		d.logger = hooks.NewSlogLogger(slog.Default())
	}

	var ok bool
	if info.Features.Has(core.FeatureIdentify) {
		if d.identifier, ok = drv.(Identifier); !ok {
			return nil, d.featureError("identify")
		}
	}
	if info.Features.Has(core.FeatureCapture) {
		if d.capturer, ok = drv.(Capturer); !ok {
			return nil, d.featureError("capture")
		}
	}
	if info.Features.Has(core.FeatureStorage) {
		if d.storage, ok = drv.(Storage); !ok {
			return nil, d.featureError("storage")
		}
	}
	d.canceler, _ = drv.(Canceler)

	go d.loop()
	return d, nil
}

func (d *Device) featureError(name string) error {
	return apperrors.New(apperrors.CategoryConfig, "device.new",
		fmt.Errorf("driver %s declares %s but does not implement it", d.info.Driver, name))
}

// ── introspection ────────────────────────────────────────────────────────────

func (d *Device) Info() core.DeviceInfo   { return d.info }
func (d *Device) Driver() string          { return d.info.Driver }
func (d *Device) DeviceID() string        { return d.info.DeviceID }
func (d *Device) Name() string            { return d.info.Name }
func (d *Device) Kind() core.DeviceKind   { return d.info.Kind }
func (d *Device) ScanType() core.ScanType { return d.info.ScanType }
func (d *Device) EnrollStages() int       { return d.info.EnrollStages }
func (d *Device) SupportsIdentify() bool  { return d.identifier != nil }
func (d *Device) SupportsCapture() bool   { return d.capturer != nil }
func (d *Device) HasStorage() bool        { return d.storage != nil }
func (d *Device) State() State            { return State(d.state.Load()) }
func (d *Device) NewPrint() *core.Print   { return core.NewPrint(d.info) }

// Shutdown stops the control goroutine. An operation still in flight
// completes with a GENERAL error; later requests fail the same way.
func (d *Device) Shutdown() {
	d.quitOnce.Do(func() { close(d.quit) })
	<-d.done
}

// ── async API ────────────────────────────────────────────────────────────────

// Open opens the reader. done runs on the control goroutine.
func (d *Device) Open(ctx context.Context, done func(err error)) {
	op := newOperation(d, ctx, ActionOpen)
	op.done = func(r Result) { callErr(done, r.Err) }
	d.submit(op)
}

// Close closes the reader. It is rejected with BUSY while an operation is
// in flight; in-flight operations are never cancelled implicitly.
func (d *Device) Close(ctx context.Context, done func(err error)) {
	op := newOperation(d, ctx, ActionClose)
	op.done = func(r Result) { callErr(done, r.Err) }
	d.submit(op)
}

// Enroll fills template, which must be a blank print, over the configured
// number of stages. progress receives one record per stage or retry.
func (d *Device) Enroll(ctx context.Context, template *core.Print, progress core.ProgressFunc, done func(p *core.Print, err error)) {
	op := newOperation(d, ctx, ActionEnroll)
	op.template = template
	op.progress = progress
	op.done = func(r Result) {
		if done != nil {
			done(r.Print, r.Err)
		}
	}
	d.submit(op)
}

// Verify scans a finger and compares it with enrolled.
func (d *Device) Verify(ctx context.Context, enrolled *core.Print, done func(matched bool, captured *core.Print, err error)) {
	op := newOperation(d, ctx, ActionVerify)
	op.enrolled = enrolled
	op.done = func(r Result) {
		if done != nil {
			done(r.Err == nil && r.Match == core.MatchSuccess, r.Print, r.Err)
		}
	}
	d.submit(op)
}

// Identify scans a finger and searches candidates for it.
func (d *Device) Identify(ctx context.Context, candidates []*core.Print, done func(match, captured *core.Print, err error)) {
	op := newOperation(d, ctx, ActionIdentify)
	op.candidates = candidates
	op.done = func(r Result) {
		if done != nil {
			done(r.Matched, r.Print, r.Err)
		}
	}
	d.submit(op)
}

// Capture returns a raw scan. With waitForFinger the driver waits for a
// finger before capturing.
func (d *Device) Capture(ctx context.Context, waitForFinger bool, done func(img *core.Image, err error)) {
	op := newOperation(d, ctx, ActionCapture)
	op.wait = waitForFinger
	op.done = func(r Result) {
		if done != nil {
			done(r.Image, r.Err)
		}
	}
	d.submit(op)
}

// DeletePrint removes p from onboard storage.
func (d *Device) DeletePrint(ctx context.Context, p *core.Print, done func(err error)) {
	op := newOperation(d, ctx, ActionDelete)
	op.enrolled = p
	op.done = func(r Result) { callErr(done, r.Err) }
	d.submit(op)
}

// ListPrints returns the prints held in onboard storage.
func (d *Device) ListPrints(ctx context.Context, done func(prints []*core.Print, err error)) {
	op := newOperation(d, ctx, ActionList)
	op.done = func(r Result) {
		if done != nil {
			done(r.Prints, r.Err)
		}
	}
	d.submit(op)
}

func callErr(fn func(error), err error) {
	if fn != nil {
		fn(err)
	}
}

// ── control goroutine ────────────────────────────────────────────────────────

// submit posts a caller request. Callers may be running inside a callback
// on the control goroutine itself, so a full queue hands the send off
// instead of blocking.
func (d *Device) submit(op *Operation) {
	ev := evtRequest{op: op}
	select {
	case <-d.quit:
		op.done(Result{Err: apperrors.NewDeviceMsg(apperrors.CodeGeneral, "device has been removed")})
		return
	default:
	}
	select {
	case d.events <- ev:
	default:
		go func() {
			select {
			case d.events <- ev:
			case <-d.quit:
			}
		}()
	}
}

// postDriver posts a driver report. Drivers never run on the control
// goroutine, so blocking keeps reports in order.
func (d *Device) postDriver(ev event) {
	select {
	case d.events <- ev:
	case <-d.quit:
	}
}

func (d *Device) loop() {
	defer close(d.done)
	for {
		select {
		case <-d.quit:
			d.teardown()
			return
		case ev := <-d.events:
			d.handle(ev)
		}
	}
}

// teardown fails the in-flight operation and any request still queued.
func (d *Device) teardown() {
	removed := func() Result {
		return Result{Err: apperrors.NewDeviceMsg(apperrors.CodeGeneral, "device has been removed")}
	}
	if op := d.current; op != nil {
		d.current = nil
		if op.stopCancel != nil {
			op.stopCancel()
		}
		d.deliver(op, removed())
	}
	d.setState(StateClosed)
	for {
		select {
		case ev := <-d.events:
			if req, ok := ev.(evtRequest); ok {
				d.deliver(req.op, removed())
			}
		default:
			return
		}
	}
}

func (d *Device) handle(ev event) {
	switch e := ev.(type) {
	case evtRequest:
		d.handleRequest(e.op)
	case evtComplete:
		d.handleComplete(e.op, e.result)
	case evtProgress:
		d.handleProgress(e.op, e.progress)
	case evtCancel:
		if e.op == d.current && !e.op.Completed() && d.canceler != nil {
			d.logger.Debug("device.op.cancel", "device", d.info.DeviceID, "action", e.op.action.String())
			go d.canceler.Cancel(e.op)
		}
	}
}

func (d *Device) handleRequest(op *Operation) {
	if err := d.admit(op); err != nil {
		d.logger.Debug("device.op.rejected",
			"device", d.info.DeviceID,
			"action", op.action.String(),
			"state", d.State().String(),
			"error", err.Error(),
		)
		d.deliver(op, Result{Err: err})
		return
	}
	if err := op.ctx.Err(); err != nil {
		d.deliver(op, Result{Err: apperrors.Cancelled(op.action.String(), err)})
		return
	}

	switch op.action {
	case ActionOpen:
		d.setState(StateOpening)
	case ActionClose:
		d.setState(StateClosing)
	default:
		d.setState(StateBusy)
	}
	d.current = op
	op.started = time.Now()
	op.stopCancel = context.AfterFunc(op.ctx, func() { d.postDriver(evtCancel{op: op}) })

	d.logger.Debug("device.op.start", "device", d.info.DeviceID, "action", op.action.String(), "op", op.id)
	go d.dispatch(op)
}

// admit applies the framework rules that are checked before the driver
// is ever involved.
func (d *Device) admit(op *Operation) error {
	state := d.State()
	switch op.action {
	case ActionOpen:
		switch state {
		case StateIdle, StateBusy:
			return apperrors.ErrAlreadyOpen
		case StateOpening, StateClosing:
			return apperrors.ErrBusy
		}
		return nil
	case ActionClose:
		switch state {
		case StateClosed, StateOpening:
			return apperrors.ErrNotOpen
		case StateBusy, StateClosing:
			return apperrors.ErrBusy
		}
		return nil
	}

	switch state {
	case StateBusy:
		return apperrors.ErrBusy
	case StateClosed, StateOpening, StateClosing:
		return apperrors.ErrNotOpen
	}

	switch op.action {
	case ActionEnroll:
		if op.template == nil || !op.template.Blank() {
			return apperrors.ErrDataInvalid
		}
	case ActionVerify:
		if op.enrolled == nil {
			return apperrors.ErrDataInvalid
		}
	case ActionIdentify:
		if d.identifier == nil {
			return apperrors.ErrNotSupported
		}
	case ActionCapture:
		if d.capturer == nil {
			return apperrors.ErrNotSupported
		}
	case ActionDelete:
		if d.storage == nil {
			return apperrors.ErrNotSupported
		}
		if op.enrolled == nil {
			return apperrors.ErrDataInvalid
		}
	case ActionList:
		if d.storage == nil {
			return apperrors.ErrNotSupported
		}
	}
	return nil
}

// dispatch runs the driver on its own goroutine so a blocking driver
// never stalls the control goroutine.
func (d *Device) dispatch(op *Operation) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("device.driver.panic", "device", d.info.DeviceID, "action", op.action.String(), "panic", r)
			op.Fail(apperrors.NewDeviceMsg(apperrors.CodeGeneral, fmt.Sprintf("driver panic: %v", r)))
		}
	}()

	switch op.action {
	case ActionOpen:
		d.driver.Open(op)
	case ActionClose:
		d.driver.Close(op)
	case ActionEnroll:
		d.driver.Enroll(op)
	case ActionVerify:
		d.driver.Verify(op)
	case ActionIdentify:
		d.identifier.Identify(op)
	case ActionCapture:
		d.capturer.Capture(op)
	case ActionDelete:
		d.storage.DeletePrint(op)
	case ActionList:
		d.storage.ListPrints(op)
	}
}

func (d *Device) handleComplete(op *Operation, res Result) {
	if op != d.current {
		d.logger.Warn("device.op.stale_completion", "device", d.info.DeviceID, "op", op.id)
		return
	}
	d.current = nil
	if op.stopCancel != nil {
		op.stopCancel()
	}

	switch d.State() {
	case StateOpening:
		if res.Err == nil {
			d.setState(StateIdle)
		} else {
			d.setState(StateClosed)
		}
	case StateClosing:
		d.setState(StateClosed)
	default:
		d.setState(StateIdle)
	}

	elapsed := time.Since(op.started)
	if d.metrics != nil {
		d.metrics.RecordProcessingTime("device."+op.action.String(), elapsed)
		if res.Err != nil {
			d.metrics.RecordError("device."+op.action.String(), string(apperrors.CategoryDevice))
		}
	}
	if res.Err != nil {
		d.logger.Debug("device.op.done",
			"device", d.info.DeviceID,
			"action", op.action.String(),
			"duration_ms", elapsed.Milliseconds(),
			"error", res.Err.Error(),
		)
	} else {
		d.logger.Debug("device.op.done",
			"device", d.info.DeviceID,
			"action", op.action.String(),
			"duration_ms", elapsed.Milliseconds(),
		)
	}
	d.deliver(op, res)
}

func (d *Device) handleProgress(op *Operation, p core.EnrollProgress) {
	if op != d.current {
		return
	}
	stage := p.Stage
	if stage > d.info.EnrollStages {
		d.logger.Warn("device.enroll.stage_overflow", "device", d.info.DeviceID, "stage", stage)
		stage = d.info.EnrollStages
	}
	if stage < op.lastStage {
		d.logger.Warn("device.enroll.stage_regressed", "device", d.info.DeviceID, "stage", stage, "last", op.lastStage)
		stage = op.lastStage
	}
	if p.Retry != nil {
		stage = op.lastStage
	}
	op.lastStage = stage
	p.Stage = stage

	d.logger.Debug("device.enroll.progress", "device", d.info.DeviceID, "stage", stage, "retry", p.Retry.String())
	if op.progress != nil {
		d.safeCall(func() { op.progress(p) })
	}
}

func (d *Device) deliver(op *Operation, res Result) {
	d.safeCall(func() { op.done(res) })
}

func (d *Device) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("device.callback.panic", "device", d.info.DeviceID, "panic", r)
		}
	}()
	fn()
}

func (d *Device) setState(s State) {
	from := State(d.state.Swap(int32(s)))
	if from != s {
		d.logger.Debug("device.state", "device", d.info.DeviceID, "from", from.String(), "to", s.String())
	}
}
