// Package fprint is the entry point of the fingerprint reader framework. A
// Context owns the codec registry, the minutiae extraction worker pool,
// the matcher and the readers registered with it.
package fprint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Skryldev/fprint/adapters/decoder"
	"github.com/Skryldev/fprint/adapters/encoder"
	"github.com/Skryldev/fprint/adapters/extractor"
	"github.com/Skryldev/fprint/adapters/matcher"
	"github.com/Skryldev/fprint/adapters/storage"
	"github.com/Skryldev/fprint/adapters/virtual"
	"github.com/Skryldev/fprint/config"
	"github.com/Skryldev/fprint/core"
	"github.com/Skryldev/fprint/device"
	apperrors "github.com/Skryldev/fprint/errors"
	"github.com/Skryldev/fprint/hooks"
	"github.com/Skryldev/fprint/pipeline"
	"github.com/Skryldev/fprint/utils"
)

// Re-export Format constants for convenience.
const (
	JPEG = core.FormatJPEG
	PNG  = core.FormatPNG
	WebP = core.FormatWebP
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Context is the primary entry point.
type Context struct {
	cfg  config.Config
	reg  *core.DefaultRegistry
	proc *core.Processor

	mu        sync.RWMutex
	logger    core.Logger
	metrics   core.MetricsCollector
	extractor core.Extractor
	hooks     []core.Hook
	matcher   core.Matcher
	devices   []*device.Device
	serveCtx  context.Context //nolint:containedctx // lifetime of the virtual reader sockets
	cancel    context.CancelFunc
	serving   sync.WaitGroup
}

// New creates a fully wired Context with the default PNG, JPEG and WebP
// codecs, the built-in extractor and matcher, and a logger configured from
// cfg.LogLevel and cfg.LogFormat.
func New(cfg config.Config) (*Context, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "fprint.new", err)
	}

	reg := core.NewRegistry()
	reg.RegisterDecoder(core.FormatJPEG, decoder.NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, decoder.NewPNG())
	reg.RegisterDecoder(core.FormatWebP, decoder.NewWebP(cfg.ChunkSize))
	reg.RegisterDecoder(core.FormatUnknown, decoder.NewAuto())
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(cfg.DefaultQuality))
	reg.RegisterEncoder(core.FormatPNG, encoder.NewPNG())

	c := &Context{
		cfg:       cfg,
		reg:       reg,
		logger:    hooks.NewLogger(cfg.LogLevel, cfg.LogFormat),
		extractor: extractor.New(),
		matcher:   matcher.New(),
	}
	c.proc = core.New(cfg, reg, c.pipeline())
	c.proc.SetLogger(c.logger)
	return c, nil
}

// pipeline must be called with c.mu held, or before c is shared.
func (c *Context) pipeline() *pipeline.Pipeline {
	pl := pipeline.Default(c.extractor)
	for _, h := range c.hooks {
		pl.AddHook(h)
	}
	return pl
}

// Config returns the configuration the Context was built with.
func (c *Context) Config() config.Config { return c.cfg }

// SetLogger attaches a structured logger. Readers added afterwards use it.
func (c *Context) SetLogger(l core.Logger) {
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
	c.proc.SetLogger(l)
}

// SetMetrics attaches a metrics collector. Readers added afterwards use it.
func (c *Context) SetMetrics(m core.MetricsCollector) {
	c.mu.Lock()
	c.metrics = m
	c.mu.Unlock()
	c.proc.SetMetrics(m)
}

// AddHook registers an observer for extraction step events.
func (c *Context) AddHook(h core.Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
	c.proc.SetRunner(c.pipeline())
}

// SetExtractor replaces the minutiae detector.
func (c *Context) SetExtractor(ex core.Extractor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extractor = ex
	c.proc.SetRunner(c.pipeline())
}

// SetMatcher replaces the matcher used by readers added afterwards.
func (c *Context) SetMatcher(m core.Matcher) {
	c.mu.Lock()
	c.matcher = m
	c.mu.Unlock()
}

// RegisterDecoder registers a custom decoder for the given format.
func (c *Context) RegisterDecoder(f core.Format, d core.Decoder) { c.reg.RegisterDecoder(f, d) }

// RegisterEncoder registers a custom encoder for the given format.
func (c *Context) RegisterEncoder(f core.Format, e core.Encoder) { c.reg.RegisterEncoder(f, e) }

// Start starts the extraction worker pool.
func (c *Context) Start() { c.proc.Start() }

// Stop removes every reader, stops the virtual reader sockets and shuts
// down the worker pool.
func (c *Context) Stop() {
	c.mu.Lock()
	devices := c.devices
	c.devices = nil
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	for _, d := range devices {
		d.Shutdown()
	}
	if cancel != nil {
		cancel()
	}
	c.serving.Wait()
	c.proc.Stop()
}

func (c *Context) deviceOptions() device.Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return device.Options{Logger: c.logger, Metrics: c.metrics}
}

// AddDevice registers a reader driven by drv.
func (c *Context) AddDevice(drv device.Driver, info core.DeviceInfo) (*device.Device, error) {
	d, err := device.New(drv, info, c.deviceOptions())
	if err != nil {
		return nil, err
	}
	c.track(d)
	return d, nil
}

// AddImageDevice registers an image-only reader. Enrollment, matching and
// capture are provided on top of it using cfg.Device.
func (c *Context) AddImageDevice(drv device.ImageDriver, info core.DeviceInfo) (*device.Device, error) {
	c.mu.RLock()
	m := c.matcher
	c.mu.RUnlock()

	d, err := device.NewImage(drv, info, device.ImageDeviceConfig{
		EnrollStages:   c.cfg.Device.EnrollStages,
		MatchThreshold: c.cfg.Device.MatchThreshold,
		MinMinutiae:    c.cfg.Device.MinMinutiae,
		DefaultPPMM:    c.cfg.Device.DefaultPPMM,
	}, c.proc, m, c.deviceOptions())
	if err != nil {
		return nil, err
	}
	c.track(d)
	return d, nil
}

// AddVirtualStorageDevice registers a virtual reader whose onboard
// storage lives in bucket of the configured storage backend.
func (c *Context) AddVirtualStorageDevice(ctx context.Context, bucket string) (*device.Device, *virtual.Storage, error) {
	store, err := storage.OpenPrintStore(ctx, c.cfg, bucket)
	if err != nil {
		return nil, nil, err
	}
	drv := virtual.NewStorage(store)
	d, err := c.AddDevice(drv, drv.Info(bucket))
	if err != nil {
		return nil, nil, err
	}
	return d, drv, nil
}

// DiscoverVirtual registers a virtual image reader when the
// FP_VIRTUAL_IMAGE environment variable names a socket path. Scans are
// read from that socket until Stop. It returns nil, nil when the variable
// is unset.
func (c *Context) DiscoverVirtual() (*device.Device, error) {
	path := os.Getenv(virtual.EnvImageSocket)
	if path == "" {
		return nil, nil
	}
	ln, err := virtual.Listen(path)
	if err != nil {
		return nil, err
	}
	drv := virtual.NewImage(virtual.ImageOptions{MaxFrameBytes: c.cfg.MaxImageBytes})
	d, err := c.AddImageDevice(drv, drv.Info(""))
	if err != nil {
		ln.Close()
		return nil, err
	}

	c.mu.Lock()
	if c.cancel == nil {
		c.serveCtx, c.cancel = context.WithCancel(context.Background())
	}
	ctx, logger := c.serveCtx, c.logger
	c.mu.Unlock()

	c.serving.Add(1)
	go func() {
		defer c.serving.Done()
		if err := drv.Serve(ctx, ln, logger); err != nil {
			logger.Error("virtual.serve.failed", "path", path, "error", err.Error())
		}
	}()
	return d, nil
}

func (c *Context) track(d *device.Device) {
	c.mu.Lock()
	c.devices = append(c.devices, d)
	c.mu.Unlock()
}

// Devices returns the registered readers in registration order.
func (c *Context) Devices() []*device.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*device.Device, len(c.devices))
	copy(out, c.devices)
	return out
}

// RemoveDevice shuts d down and forgets it.
func (c *Context) RemoveDevice(d *device.Device) {
	c.mu.Lock()
	for i, x := range c.devices {
		if x == d {
			c.devices = append(c.devices[:i], c.devices[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	d.Shutdown()
}

// DetectMinutiae extracts the minutiae of img in the background; see
// core.Processor.DetectMinutiae.
func (c *Context) DetectMinutiae(ctx context.Context, img *core.Image, done func(err error)) {
	c.proc.DetectMinutiae(ctx, img, done)
}

// DetectMinutiaeSync is the blocking form of DetectMinutiae.
func (c *Context) DetectMinutiaeSync(ctx context.Context, img *core.Image) error {
	return c.proc.DetectMinutiaeSync(ctx, img)
}

// DecodeImage loads an encoded scan. An empty format is sniffed from the
// data. Input larger than cfg.MaxImageBytes is rejected.
func (c *Context) DecodeImage(ctx context.Context, r io.Reader, format core.Format) (*core.Image, error) {
	if c.cfg.MaxImageBytes > 0 {
		r = &utils.LimitedReader{R: r, Max: c.cfg.MaxImageBytes}
	}
	buf, err := utils.DrainReader(ctx, r, c.cfg.ChunkSize)
	if err != nil {
		if errors.Is(err, utils.ErrLimitExceeded) {
			return nil, apperrors.New(apperrors.CategoryInput, "fprint.decode",
				fmt.Errorf("scan exceeds %d bytes", c.cfg.MaxImageBytes))
		}
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "fprint.decode", err)
	}
	defer utils.ReleaseBuffer(buf)
	if buf.Len() == 0 {
		return nil, apperrors.New(apperrors.CategoryInput, "fprint.decode", apperrors.ErrEmptyInput)
	}

	if format == "" {
		format = core.Format(utils.DetectFormat(buf.Bytes()))
	}
	dec, ok := c.reg.DecoderFor(format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryDecode, "fprint.decode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
	}
	return dec.Decode(ctx, utils.BytesReader(buf.Bytes()))
}

// EncodeImage serialises the raw scan, or with opts.Binarized its ridge
// map, in format.
func (c *Context) EncodeImage(ctx context.Context, img *core.Image, format core.Format, opts core.EncodeOptions) ([]byte, error) {
	enc, ok := c.reg.EncoderFor(format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryEncode, "fprint.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
	}
	return enc.Encode(ctx, img, opts)
}

// Stats returns lightweight extraction statistics.
func (c *Context) Stats() (processed, errors int64) {
	return c.proc.ProcessedCount(), c.proc.ErrorCount()
}
