package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"sheet-to-json/parsers"
)

// Task produces the result of one background conversion.
type Task func(ctx context.Context) (*parsers.ConversionResult, error)

// Runner executes tasks in the background and records their outcome in a Registry.
// At most maxConcurrent tasks run at once; the others stay pending until a slot frees up.
type Runner struct {
	ctx      context.Context
	registry *Registry
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// NewRunner creates a Runner. Tasks run with ctx, never with a request context,
// so a client disconnect does not abort them.
func NewRunner(ctx context.Context, registry *Registry, maxConcurrent int) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Runner{
		ctx:      ctx,
		registry: registry,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		logger:   log.With().Str("component", "runner").Logger(),
	}
}

// Submit starts task for job in the background.
func (r *Runner) Submit(job Job, task Task) {
	r.SubmitWithCleanup(job, task, nil)
}

// SubmitWithCleanup is Submit with a cleanup func that runs once the job
// has finished, whether or not the task was ever started.
func (r *Runner) SubmitWithCleanup(job Job, task Task, cleanup func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if cleanup != nil {
			defer cleanup()
		}
		r.run(job, task)
	}()
}

// Wait blocks until every submitted task has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(job Job, task Task) {
	logger := r.logger.With().Str("job_id", job.ID).Logger()

	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		r.fail(logger, job.ID, fmt.Sprintf("job was not started: %v", err))
		return
	}
	defer r.sem.Release(1)

	start := time.Now()
	result, err := r.execute(task)
	if err == nil && result == nil {
		err = fmt.Errorf("conversion produced no result")
	}
	if err != nil {
		r.fail(logger, job.ID, err.Error())
		return
	}

	if err := r.registry.Complete(job.ID, result); err != nil {
		logger.Error().Err(err).Msg("failed to complete job")
		return
	}
	logger.Info().
		Str("sheet", result.SheetName).
		Int("total_rows", result.TotalRows).
		Dur("duration", time.Since(start)).
		Msg("job ready")
}

// execute runs task, turning a panic into an error so the job still terminates.
func (r *Runner) execute(task Task) (result *parsers.ConversionResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("conversion panicked: %v", p)
		}
	}()
	return task(r.ctx)
}

func (r *Runner) fail(logger zerolog.Logger, id, detail string) {
	if err := r.registry.Fail(id, detail); err != nil {
		logger.Error().Err(err).Msg("failed to record job failure")
		return
	}
	logger.Warn().Str("detail", detail).Msg("job failed")
}
