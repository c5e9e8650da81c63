package device

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Skryldev/fprint/core"
	apperrors "github.com/Skryldev/fprint/errors"
)

// Result is the terminal outcome of an operation. Exactly one of Err or
// the action's value fields is meaningful.
type Result struct {
	Err     error
	Print   *core.Print // enrolled print, or the print captured by verify/identify
	Match   core.MatchResult
	Matched *core.Print // identify
	Image   *core.Image
	Prints  []*core.Print
}

// Operation is a single in-flight request. Drivers read its inputs and
// report progress and the terminal outcome through its methods, from any
// goroutine.
type Operation struct {
	id     string
	action Action
	ctx    context.Context //nolint:containedctx // cancellation token of the request
	dev    *Device

	template   *core.Print
	enrolled   *core.Print
	candidates []*core.Print
	wait       bool

	progress core.ProgressFunc
	done     func(Result)

	completed  atomic.Bool
	started    time.Time
	stopCancel func() bool

	// owned by the control goroutine
	lastStage int
}

func (op *Operation) ID() string                 { return op.id }
func (op *Operation) Action() Action             { return op.action }
func (op *Operation) Context() context.Context   { return op.ctx }
func (op *Operation) Device() *Device            { return op.dev }
func (op *Operation) Template() *core.Print      { return op.template }
func (op *Operation) EnrolledPrint() *core.Print { return op.enrolled }
func (op *Operation) Candidates() []*core.Print  { return op.candidates }
func (op *Operation) WaitForFinger() bool        { return op.wait }
func (op *Operation) Cancelled() bool            { return op.ctx.Err() != nil }

// Completed reports whether a terminal outcome was already reported.
func (op *Operation) Completed() bool { return op.completed.Load() }

// CancelError returns the error a driver should report when it aborts
// because of cancellation.
func (op *Operation) CancelError() error {
	err := op.ctx.Err()
	if err == nil {
		err = context.Canceled
	}
	return apperrors.Cancelled(op.action.String(), err)
}

// ReportEnrollProgress reports a completed stage, or a retry condition for
// the current stage. It is ignored for any action other than enroll.
func (op *Operation) ReportEnrollProgress(stage int, p *core.Print, retry *apperrors.Retry) {
	if op.action != ActionEnroll {
		op.dev.logger.Warn("device.op.progress_ignored", "device", op.dev.info.DeviceID, "action", op.action.String())
		return
	}
	if op.completed.Load() {
		op.dev.logger.Warn("device.op.progress_after_completion", "device", op.dev.info.DeviceID, "op", op.id)
		return
	}
	op.dev.postDriver(evtProgress{op: op, progress: core.EnrollProgress{Stage: stage, Print: p, Retry: retry}})
}

func (op *Operation) CompleteOpen(err error)  { op.complete(ActionOpen, Result{Err: err}) }
func (op *Operation) CompleteClose(err error) { op.complete(ActionClose, Result{Err: err}) }

// CompleteEnroll finishes an enrollment with the filled template or an
// error.
func (op *Operation) CompleteEnroll(p *core.Print, err error) {
	switch {
	case err != nil:
		p = nil
	case p == nil:
		err = apperrors.NewDeviceMsg(apperrors.CodeGeneral, "Driver did not provide a valid print and failed to provide an error!")
	}
	op.complete(ActionEnroll, Result{Err: err, Print: p})
}

// CompleteVerify finishes a verification. captured may be reported even
// when the match fails.
func (op *Operation) CompleteVerify(match core.MatchResult, captured *core.Print, err error) {
	switch {
	case err != nil:
		match, captured = core.MatchError, nil
	case match == core.MatchError:
		err = apperrors.NewDeviceMsg(apperrors.CodeGeneral, "Driver reported an error without specifying a reason")
		captured = nil
	}
	op.complete(ActionVerify, Result{Err: err, Match: match, Print: captured})
}

// CompleteIdentify finishes an identification. matched is nil when no
// candidate matched.
func (op *Operation) CompleteIdentify(matched, captured *core.Print, err error) {
	if err != nil {
		matched, captured = nil, nil
	}
	op.complete(ActionIdentify, Result{Err: err, Matched: matched, Print: captured})
}

func (op *Operation) CompleteCapture(img *core.Image, err error) {
	switch {
	case err != nil:
		img = nil
	case img == nil:
		err = apperrors.NewDeviceMsg(apperrors.CodeGeneral, "Driver did not provide an image and failed to provide an error!")
	}
	op.complete(ActionCapture, Result{Err: err, Image: img})
}

func (op *Operation) CompleteDelete(err error) { op.complete(ActionDelete, Result{Err: err}) }

func (op *Operation) CompleteList(prints []*core.Print, err error) {
	switch {
	case err != nil:
		prints = nil
	case prints == nil:
		prints = []*core.Print{}
	}
	op.complete(ActionList, Result{Err: err, Prints: prints})
}

// Fail reports a terminal error for any action.
func (op *Operation) Fail(err error) {
	if err == nil {
		err = apperrors.ErrGeneral
	}
	op.complete(op.action, Result{Err: err})
}

func (op *Operation) complete(action Action, res Result) {
	if action != op.action {
		op.dev.logger.Error("device.op.wrong_completion",
			"device", op.dev.info.DeviceID,
			"action", op.action.String(),
			"reported", action.String(),
		)
		res = Result{Err: apperrors.NewDeviceMsg(apperrors.CodeGeneral,
			fmt.Sprintf("driver completed %s while %s was in flight", action, op.action))}
	}
	if !op.completed.CompareAndSwap(false, true) {
		op.dev.logger.Warn("device.op.duplicate_completion", "device", op.dev.info.DeviceID, "op", op.id)
		return
	}
	op.dev.postDriver(evtComplete{op: op, result: res})
}

func newOperation(d *Device, ctx context.Context, action Action) *Operation {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Operation{
		id:     uuid.NewString(),
		action: action,
		ctx:    ctx,
		dev:    d,
	}
}
