// Package jobs tracks background conversions from acceptance until their
// result is evicted.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sheet-to-json/parsers"
)

// State is the lifecycle state of a job.
type State string

const (
	StatePending State = "pending"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}

var (
	// ErrNotFound is returned for unknown or evicted job ids.
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyTerminal is returned when a finished job is completed or failed again.
	ErrAlreadyTerminal = errors.New("job already finished")
)

// Job is a snapshot of a background conversion.
type Job struct {
	ID          string
	FileURL     string
	State       State
	Result      *parsers.ConversionResult
	Error       string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Recorder receives every job transition. Implementations must not block for long.
type Recorder interface {
	JobCreated(job Job)
	JobFinished(job Job)
}

// Options configures a Registry.
type Options struct {
	// TTL is how long finished jobs stay queryable. Zero keeps them forever.
	TTL time.Duration
	// SweepInterval is how often Run evicts expired jobs (default: 1m).
	SweepInterval time.Duration
	// Recorder is notified of transitions; may be nil.
	Recorder Recorder
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Registry is an in-memory job table safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	ttl      time.Duration
	interval time.Duration
	recorder Recorder
	now      func() time.Time
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		jobs:     make(map[string]*Job),
		ttl:      opts.TTL,
		interval: opts.SweepInterval,
		recorder: opts.Recorder,
		now:      opts.Now,
		logger:   log.With().Str("component", "jobs").Logger(),
	}
}

// Create registers a new pending job.
func (r *Registry) Create(fileURL string) Job {
	job := &Job{
		ID:        uuid.NewString(),
		FileURL:   fileURL,
		State:     StatePending,
		CreatedAt: r.now(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	jobsTotal.WithLabelValues(string(StatePending)).Inc()
	jobsInFlight.Inc()
	if r.recorder != nil {
		r.recorder.JobCreated(*job)
	}
	return *job
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *job, nil
}

// Complete moves a pending job to ready with its result.
func (r *Registry) Complete(id string, result *parsers.ConversionResult) error {
	return r.finish(id, func(job *Job) {
		job.State = StateReady
		job.Result = result
	})
}

// Fail moves a pending job to failed.
func (r *Registry) Fail(id string, detail string) error {
	return r.finish(id, func(job *Job) {
		job.State = StateFailed
		job.Error = detail
	})
}

func (r *Registry) finish(id string, apply func(*Job)) error {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if job.State.Terminal() {
		r.mu.Unlock()
		return ErrAlreadyTerminal
	}
	apply(job)
	now := r.now()
	job.CompletedAt = &now
	snapshot := *job
	r.mu.Unlock()

	jobsTotal.WithLabelValues(string(snapshot.State)).Inc()
	jobsInFlight.Dec()
	if r.recorder != nil {
		r.recorder.JobFinished(snapshot)
	}
	return nil
}

// Sweep evicts finished jobs older than the TTL and returns how many were removed.
// Pending jobs are never evicted.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, job := range r.jobs {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Run sweeps expired jobs until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	if r.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				jobsEvicted.Add(float64(n))
				r.logger.Debug().Int("evicted", n).Int("remaining", r.Len()).Msg("swept expired jobs")
			}
		}
	}
}
