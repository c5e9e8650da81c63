package core

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Skryldev/fprint/config"
	apperrors "github.com/Skryldev/fprint/errors"
)

// PipelineRunner is a minimal interface over pipeline.Pipeline so that core
// does not import the pipeline package (avoiding a circular dependency).
type PipelineRunner interface {
	Run(ctx context.Context, s *Scan) (*Scan, map[string]time.Duration, error)
}

// Processor runs minutiae extraction on a bounded worker pool.  It is safe
// for concurrent use.
type Processor struct {
	cfg      config.Config
	registry Registry
	logger   Logger
	metrics  MetricsCollector

	runnerMu sync.RWMutex
	runner   PipelineRunner

	// Worker pool.
	jobQueue chan Job
	wg       sync.WaitGroup
	once     sync.Once
	stopMu   sync.RWMutex
	stopped  bool
	shutdown chan struct{}

	// Atomic counters for lightweight internal metrics.
	processedCount int64
	errorCount     int64
}

// New creates a Processor with the given config.  Call Start() before
// submitting jobs; call Stop() when done.
func New(cfg config.Config, reg Registry, runner PipelineRunner) *Processor {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Processor{
		cfg:      cfg,
		registry: reg,
		runner:   runner,
		jobQueue: make(chan Job, queueSize),
		shutdown: make(chan struct{}),
	}
}

// SetLogger attaches a structured logger.
func (p *Processor) SetLogger(l Logger) { p.logger = l }

// SetMetrics attaches a metrics collector.
func (p *Processor) SetMetrics(m MetricsCollector) { p.metrics = m }

// SetRunner swaps the extraction pipeline. Jobs already running keep the
// previous one.
func (p *Processor) SetRunner(r PipelineRunner) {
	p.runnerMu.Lock()
	p.runner = r
	p.runnerMu.Unlock()
}

// Registry returns the codec registry so callers can register
// encoders/decoders after construction.
func (p *Processor) Registry() Registry { return p.registry }

// Start launches the worker pool.  It is idempotent.
func (p *Processor) Start() {
	p.once.Do(func() {
		workerCount := p.cfg.WorkerCount
		if workerCount <= 0 {
			workerCount = runtime.NumCPU()
		}
		for i := 0; i < workerCount; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

// Stop shuts down all workers. Jobs still queued complete with
// ErrWorkerPoolStopped.
func (p *Processor) Stop() {
	p.stopMu.Lock()
	if p.stopped {
		p.stopMu.Unlock()
		return
	}
	p.stopped = true
	close(p.shutdown)
	p.stopMu.Unlock()

	p.wg.Wait()
	for {
		select {
		case job := <-p.jobQueue:
			p.finish(job, apperrors.New(apperrors.CategoryPipeline, "detect_minutiae", apperrors.ErrWorkerPoolStopped))
		default:
			return
		}
	}
}

// DetectMinutiae snapshots img and extracts its minutiae in the
// background. On success the normalized scan, binarized data and minutiae
// are committed to img together; done receives the outcome on a worker
// goroutine. A full queue is reported through done as ErrWorkerPoolFull.
func (p *Processor) DetectMinutiae(ctx context.Context, img *Image, done func(err error)) {
	job := p.newJob(ctx, img, done)
	if err := ctx.Err(); err != nil {
		p.finish(job, apperrors.Cancelled("detect_minutiae", err))
		return
	}
	if err := p.Submit(job); err != nil {
		p.finish(job, err)
	}
}

// DetectMinutiaeSync is the blocking form of DetectMinutiae. It waits for a
// free queue slot instead of failing when the pool is saturated.
func (p *Processor) DetectMinutiaeSync(ctx context.Context, img *Image) error {
	result := make(chan error, 1)
	job := p.newJob(ctx, img, func(err error) { result <- err })

	p.stopMu.RLock()
	if p.stopped {
		p.stopMu.RUnlock()
		return apperrors.New(apperrors.CategoryPipeline, "detect_minutiae", apperrors.ErrWorkerPoolStopped)
	}
	select {
	case p.jobQueue <- job:
		p.stopMu.RUnlock()
	case <-ctx.Done():
		p.stopMu.RUnlock()
		return apperrors.Cancelled("detect_minutiae", ctx.Err())
	}
	return <-result
}

// Submit enqueues an extraction job.  Returns ErrWorkerPoolFull if the
// queue is full.
func (p *Processor) Submit(job Job) error {
	p.stopMu.RLock()
	defer p.stopMu.RUnlock()
	if p.stopped {
		return apperrors.New(apperrors.CategoryPipeline, "submit", apperrors.ErrWorkerPoolStopped)
	}
	select {
	case p.jobQueue <- job:
		return nil
	default:
		return apperrors.Transient("submit", apperrors.ErrWorkerPoolFull)
	}
}

func (p *Processor) newJob(ctx context.Context, img *Image, done func(error)) Job {
	return Job{
		ID:     uuid.NewString(),
		Ctx:    ctx,
		Scan:   img.Snapshot(),
		Target: img,
		Done:   done,
	}
}

// ── worker pool internals ──────────────────────────────────────────────────────

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			return
		case job := <-p.jobQueue:
			p.processJob(job)
		}
	}
}

func (p *Processor) processJob(job Job) {
	ctx := job.Ctx
	if timeout := p.cfg.JobTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := p.extract(ctx, job)
	if p.metrics != nil {
		p.metrics.RecordProcessingTime("detect_minutiae", time.Since(start))
		p.metrics.RecordMemory(int64(len(job.Scan.Data)))
		if err != nil {
			p.metrics.RecordError("detect_minutiae", categoryOf(err))
		}
	}
	p.finish(job, err)
}

// extract normalizes and analyzes the job's private scan, then commits it
// unless the context was cancelled in the meantime.
func (p *Processor) extract(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Cancelled("detect_minutiae", err)
	}

	p.runnerMu.RLock()
	runner := p.runner
	p.runnerMu.RUnlock()
	if runner == nil {
		return apperrors.New(apperrors.CategoryConfig, "detect_minutiae", fmt.Errorf("no extraction pipeline configured"))
	}

	out, _, err := runner.Run(ctx, job.Scan)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apperrors.Cancelled("detect_minutiae", ctxErr)
		}
		return err
	}
	if out.Binarized == nil {
		return apperrors.New(apperrors.CategoryExtract, "detect_minutiae",
			fmt.Errorf("extractor returned no binarized buffer"))
	}
	if len(out.Binarized) != out.Size() {
		return apperrors.New(apperrors.CategoryExtract, "detect_minutiae",
			fmt.Errorf("%w: binarized buffer has %d bytes, want %d", apperrors.ErrInvalidDimensions, len(out.Binarized), out.Size()))
	}
	if err := ctx.Err(); err != nil {
		return apperrors.Cancelled("detect_minutiae", err)
	}

	job.Target.commit(out)
	if p.logger != nil {
		p.logger.Debug("extract.commit",
			"job", job.ID,
			"width", out.Width,
			"height", out.Height,
			"minutiae", len(out.Minutiae),
		)
	}
	return nil
}

func (p *Processor) finish(job Job, err error) {
	if err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		if p.logger != nil {
			p.logger.Debug("extract.failed", "job", job.ID, "error", err.Error())
		}
	} else {
		atomic.AddInt64(&p.processedCount, 1)
	}
	if job.Done != nil {
		job.Done(err)
	}
}

func categoryOf(err error) string {
	for _, c := range []apperrors.Category{
		apperrors.CategoryCancelled,
		apperrors.CategoryExtract,
		apperrors.CategoryTransient,
		apperrors.CategoryConfig,
	} {
		if apperrors.IsCategory(err, c) {
			return string(c)
		}
	}
	return string(apperrors.CategoryPipeline)
}

// ProcessedCount returns the number of committed extractions.
func (p *Processor) ProcessedCount() int64 { return atomic.LoadInt64(&p.processedCount) }

// ErrorCount returns the number of failed or cancelled extractions.
func (p *Processor) ErrorCount() int64 { return atomic.LoadInt64(&p.errorCount) }
