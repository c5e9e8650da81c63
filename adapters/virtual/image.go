// Package virtual provides readers that exist only in process: an image
// sensor fed with scans by the caller (or over a unix socket) and a
// storage reader driven by queued commands. Both are used for testing
// applications without hardware.
package virtual

import (
	"context"
	"sync"

	"github.com/Skryldev/fprint/core"
	"github.com/Skryldev/fprint/device"
	apperrors "github.com/Skryldev/fprint/errors"
	"github.com/Skryldev/fprint/utils"
)

// ImageDriverName is reported as the driver id of virtual image readers.
const ImageDriverName = "virtual_image"

// ImageOptions tunes the simulated sensor.
type ImageOptions struct {
	// MinVariance rejects scans flatter than this, the way a sensor
	// rejects an empty platen. 0 accepts everything.
	MinVariance int
	// MinFrameDiff rejects a scan whose mean square difference to the
	// previous accepted scan is lower (a latent print). 0 disables it.
	MinFrameDiff int
	// ScaleX and ScaleY upscale every scan before it is reported.
	ScaleX int
	ScaleY int
	// Flags are added to every scan.
	Flags core.ImageFlags
	// MaxFrameBytes caps width*height of frames read by Serve. 0 means
	// DefaultMaxFrameBytes.
	MaxFrameBytes int64
}

// DefaultMaxFrameBytes is the frame cap used when ImageOptions leaves it
// unset.
const DefaultMaxFrameBytes = 4 << 20

// Image is a device.ImageDriver whose scans are pushed with SendImage.
// Scans sent while the reader is not looking for a finger are queued and
// delivered on the next activation.
type Image struct {
	opts ImageOptions

	mu      sync.Mutex
	host    device.ImageHost
	open    bool
	active  bool
	pending []*core.Image
	last    *core.Image
}

var (
	_ device.ImageDriver       = (*Image)(nil)
	_ device.ImmediateCapturer = (*Image)(nil)
)

func NewImage(opts ImageOptions) *Image {
	return &Image{opts: opts}
}

// Info describes the reader. id may be empty to have one generated.
func (v *Image) Info(id string) core.DeviceInfo {
	return core.DeviceInfo{
		Driver:   ImageDriverName,
		DeviceID: id,
		Name:     "Virtual image device for debugging",
		Kind:     core.KindVirtual,
		ScanType: core.ScanPress,
	}
}

func (v *Image) Open(_ context.Context, host device.ImageHost) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.host = host
	v.open = true
	return nil
}

func (v *Image) Close(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.host = nil
	v.open = false
	v.active = false
	v.pending = nil
	v.last = nil
	return nil
}

func (v *Image) Activate(context.Context) error {
	v.mu.Lock()
	if !v.open {
		v.mu.Unlock()
		return apperrors.ErrNotOpen
	}
	v.active = true
	pending := v.pending
	v.pending = nil
	v.mu.Unlock()

	if len(pending) > 0 {
		go func() {
			for _, f := range pending {
				v.deliver(f)
			}
		}()
	}
	return nil
}

func (v *Image) Deactivate(context.Context) error {
	v.mu.Lock()
	v.active = false
	v.mu.Unlock()
	return nil
}

// CaptureNow returns the oldest queued scan, or a copy of the last
// accepted one.
func (v *Image) CaptureNow(context.Context) (*core.Image, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.pending) > 0 {
		f := v.pending[0]
		v.pending = v.pending[1:]
		return f, nil
	}
	if v.last == nil {
		return nil, apperrors.NewDeviceMsg(apperrors.CodeGeneral, "no scan available")
	}
	return copyImage(v.last)
}

// SendImage presents a scan to the sensor. img is copied.
func (v *Image) SendImage(img *core.Image) error {
	if img == nil {
		return apperrors.ErrDataInvalid
	}
	frame, err := v.prepare(img)
	if err != nil {
		return err
	}

	v.mu.Lock()
	if !v.open {
		v.mu.Unlock()
		return apperrors.ErrNotOpen
	}
	if !v.active {
		v.pending = append(v.pending, frame)
		v.mu.Unlock()
		return nil
	}
	v.mu.Unlock()

	v.deliver(frame)
	return nil
}

// SetFinger reports a finger being placed on or lifted from the sensor.
func (v *Image) SetFinger(present bool) error {
	v.mu.Lock()
	host, open := v.host, v.open
	v.mu.Unlock()
	if !open {
		return apperrors.ErrNotOpen
	}
	host.ReportFingerStatus(present)
	return nil
}

// Retry makes the sensor report a scan problem instead of an image.
func (v *Image) Retry(code apperrors.RetryCode) error {
	v.mu.Lock()
	host, open := v.host, v.open
	v.mu.Unlock()
	if !open {
		return apperrors.ErrNotOpen
	}
	host.RetryScan(code)
	return nil
}

// Fail ends the running operation with err, as a transport failure would.
func (v *Image) Fail(err error) error {
	v.mu.Lock()
	host, open := v.host, v.open
	v.mu.Unlock()
	if !open {
		return apperrors.ErrNotOpen
	}
	host.SessionError(err)
	return nil
}

func (v *Image) deliver(frame *core.Image) {
	v.mu.Lock()
	host := v.host
	if host == nil {
		v.mu.Unlock()
		return
	}
	code, ok := v.check(frame)
	if ok {
		v.last = frame
	}
	v.mu.Unlock()

	host.ReportFingerStatus(true)
	if ok {
		host.ImageCaptured(frame)
	} else {
		host.RetryScan(code)
	}
	host.ReportFingerStatus(false)
}

// check must be called with v.mu held.
func (v *Image) check(frame *core.Image) (apperrors.RetryCode, bool) {
	data := frame.Data()
	if v.opts.MinVariance > 0 && utils.SquaredDeviation(data) < v.opts.MinVariance {
		return apperrors.RetryCenterFinger, false
	}
	if v.opts.MinFrameDiff > 0 && v.last != nil &&
		v.last.Width() == frame.Width() && v.last.Height() == frame.Height() &&
		utils.MeanSquareDiff(v.last.Data(), data, len(data)) < v.opts.MinFrameDiff {
		return apperrors.RetryRemoveFinger, false
	}
	return 0, true
}

func (v *Image) prepare(img *core.Image) (*core.Image, error) {
	data, w, h := img.Data(), img.Width(), img.Height()
	if v.opts.ScaleX > 1 || v.opts.ScaleY > 1 {
		data, w, h = utils.Resize(data, w, h, v.opts.ScaleX, v.opts.ScaleY)
	}
	frame, err := core.NewImageFromData(w, h, data)
	if err != nil {
		return nil, err
	}
	frame.SetPPMM(img.PPMM())
	frame.SetFlags(img.Flags() | v.opts.Flags)
	return frame, nil
}

func copyImage(img *core.Image) (*core.Image, error) {
	out, err := core.NewImageFromData(img.Width(), img.Height(), img.Data())
	if err != nil {
		return nil, err
	}
	out.SetPPMM(img.PPMM())
	out.SetFlags(img.Flags())
	return out, nil
}
