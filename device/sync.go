package device

import (
	"context"

	"github.com/Skryldev/fprint/core"
)

// The *Sync helpers block until the operation completes. They must not be
// called from a callback, which runs on the control goroutine.

func (d *Device) OpenSync(ctx context.Context) error {
	ch := make(chan error, 1)
	d.Open(ctx, func(err error) { ch <- err })
	return <-ch
}

func (d *Device) CloseSync(ctx context.Context) error {
	ch := make(chan error, 1)
	d.Close(ctx, func(err error) { ch <- err })
	return <-ch
}

// EnrollSync enrolls into template. progress may be nil.
func (d *Device) EnrollSync(ctx context.Context, template *core.Print, progress core.ProgressFunc) (*core.Print, error) {
	type result struct {
		p   *core.Print
		err error
	}
	ch := make(chan result, 1)
	d.Enroll(ctx, template, progress, func(p *core.Print, err error) { ch <- result{p, err} })
	r := <-ch
	return r.p, r.err
}

func (d *Device) VerifySync(ctx context.Context, enrolled *core.Print) (bool, *core.Print, error) {
	type result struct {
		matched  bool
		captured *core.Print
		err      error
	}
	ch := make(chan result, 1)
	d.Verify(ctx, enrolled, func(matched bool, captured *core.Print, err error) {
		ch <- result{matched, captured, err}
	})
	r := <-ch
	return r.matched, r.captured, r.err
}

// IdentifySync returns the matching candidate, or nil when none matched.
func (d *Device) IdentifySync(ctx context.Context, candidates []*core.Print) (*core.Print, *core.Print, error) {
	type result struct {
		match, captured *core.Print
		err             error
	}
	ch := make(chan result, 1)
	d.Identify(ctx, candidates, func(match, captured *core.Print, err error) {
		ch <- result{match, captured, err}
	})
	r := <-ch
	return r.match, r.captured, r.err
}

func (d *Device) CaptureSync(ctx context.Context, waitForFinger bool) (*core.Image, error) {
	type result struct {
		img *core.Image
		err error
	}
	ch := make(chan result, 1)
	d.Capture(ctx, waitForFinger, func(img *core.Image, err error) { ch <- result{img, err} })
	r := <-ch
	return r.img, r.err
}

func (d *Device) DeletePrintSync(ctx context.Context, p *core.Print) error {
	ch := make(chan error, 1)
	d.DeletePrint(ctx, p, func(err error) { ch <- err })
	return <-ch
}

func (d *Device) ListPrintsSync(ctx context.Context) ([]*core.Print, error) {
	type result struct {
		prints []*core.Print
		err    error
	}
	ch := make(chan result, 1)
	d.ListPrints(ctx, func(prints []*core.Print, err error) { ch <- result{prints, err} })
	r := <-ch
	return r.prints, r.err
}
