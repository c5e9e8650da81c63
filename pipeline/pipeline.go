// Package pipeline wires extraction steps together, runs hooks, and handles
// retries.
package pipeline

import (
	"context"
	"time"

	"github.com/Skryldev/fprint/core"
	apperrors "github.com/Skryldev/fprint/errors"
)

// Pipeline executes a sequence of Steps with hook and retry support.
type Pipeline struct {
	steps      []core.Step
	hooks      []core.Hook
	maxRetries int
	retryDelay time.Duration
}

// New returns an empty Pipeline.
func New() *Pipeline { return &Pipeline{} }

// Default returns the standard minutiae pipeline: normalize, then extract.
// It never retries; WithRetry is only for pipelines with custom steps.
func Default(ex core.Extractor) *Pipeline {
	return New().Use(&NormalizeStep{}, &ExtractStep{Extractor: ex})
}

// Use appends a step to the pipeline.  Returns the same Pipeline for chaining.
func (p *Pipeline) Use(s ...core.Step) *Pipeline {
	p.steps = append(p.steps, s...)
	return p
}

// AddHook registers an observer.
func (p *Pipeline) AddHook(h core.Hook) *Pipeline {
	p.hooks = append(p.hooks, h)
	return p
}

// WithRetry sets the maximum retry count and delay for transient failures.
// Extraction failures are never transient, so only custom steps benefit.
func (p *Pipeline) WithRetry(maxRetries int, delay time.Duration) *Pipeline {
	p.maxRetries = maxRetries
	p.retryDelay = delay
	return p
}

// Run executes the pipeline on s.  It returns the final Scan and a map
// of per-step timing observations.
func (p *Pipeline) Run(ctx context.Context, s *core.Scan) (*core.Scan, map[string]time.Duration, error) {
	timings := make(map[string]time.Duration, len(p.steps))
	current := s

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, timings, apperrors.Cancelled(step.Name(), err)
		}

		result, elapsed, err := p.runStep(ctx, step, current)
		timings[step.Name()] = elapsed
		if err != nil {
			return nil, timings, err
		}
		current = result
	}
	return current, timings, nil
}

// runStep executes a single step, calling hooks and retrying transient errors.
func (p *Pipeline) runStep(ctx context.Context, step core.Step, s *core.Scan) (*core.Scan, time.Duration, error) {
	p.callHooksBefore(ctx, step.Name(), s)

	var (
		result  *core.Scan
		elapsed time.Duration
		err     error
	)

	attempts := p.maxRetries + 1
	for i := 0; i < attempts; i++ {
		start := time.Now()
		result, err = step.Execute(ctx, s)
		elapsed = time.Since(start)

		if err == nil || !apperrors.IsRetryable(err) || i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			err = apperrors.Cancelled(step.Name(), ctx.Err())
		case <-time.After(p.retryDelay):
			continue
		}
		break
	}

	p.callHooksAfter(ctx, step.Name(), result, elapsed, err)
	return result, elapsed, err
}

func (p *Pipeline) callHooksBefore(ctx context.Context, name string, s *core.Scan) {
	for _, h := range p.hooks {
		h.BeforeStep(ctx, name, s)
	}
}

func (p *Pipeline) callHooksAfter(ctx context.Context, name string, s *core.Scan, d time.Duration, err error) {
	for _, h := range p.hooks {
		h.AfterStep(ctx, name, s, d, err)
	}
}

var _ core.PipelineRunner = (*Pipeline)(nil)
