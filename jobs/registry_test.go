package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheet-to-json/parsers"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingRecorder struct {
	mu       sync.Mutex
	created  []Job
	finished []Job
}

func (r *recordingRecorder) JobCreated(job Job) {
	r.mu.Lock()
	r.created = append(r.created, job)
	r.mu.Unlock()
}

func (r *recordingRecorder) JobFinished(job Job) {
	r.mu.Lock()
	r.finished = append(r.finished, job)
	r.mu.Unlock()
}

func sampleResult() *parsers.ConversionResult {
	header := parsers.NewHeader(parsers.RawRow{"a"})
	return &parsers.ConversionResult{
		SheetName: "Sheet1",
		TotalRows: 1,
		Records:   []parsers.Record{header.Project(parsers.RawRow{int64(1)})},
	}
}

func TestRegistry_CreateThenGetIsPending(t *testing.T) {
	reg := NewRegistry(Options{})

	job := reg.Create("https://example.com/a.xlsx")
	_, err := uuid.Parse(job.ID)
	assert.NoError(t, err, "job id should be a UUID")

	got, err := reg.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, "https://example.com/a.xlsx", got.FileURL)
}

func TestRegistry_UnknownIDIsNotFound(t *testing.T) {
	reg := NewRegistry(Options{})
	reg.Create("https://example.com/a.xlsx")

	_, err := reg.Get("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, reg.Complete("does-not-exist", sampleResult()), ErrNotFound)
	assert.ErrorIs(t, reg.Fail("does-not-exist", "x"), ErrNotFound)
}

func TestRegistry_CompleteIsTerminal(t *testing.T) {
	rec := &recordingRecorder{}
	reg := NewRegistry(Options{Recorder: rec})
	job := reg.Create("u")

	result := sampleResult()
	require.NoError(t, reg.Complete(job.ID, result))

	got, err := reg.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateReady, got.State)
	assert.Same(t, result, got.Result)
	assert.NotNil(t, got.CompletedAt)

	assert.ErrorIs(t, reg.Fail(job.ID, "late failure"), ErrAlreadyTerminal)
	assert.ErrorIs(t, reg.Complete(job.ID, sampleResult()), ErrAlreadyTerminal)

	got, _ = reg.Get(job.ID)
	assert.Equal(t, StateReady, got.State, "state must never revert")
	assert.Same(t, result, got.Result)

	assert.Len(t, rec.created, 1)
	require.Len(t, rec.finished, 1)
	assert.Equal(t, StateReady, rec.finished[0].State)
}

func TestRegistry_Fail(t *testing.T) {
	reg := NewRegistry(Options{})
	job := reg.Create("u")

	require.NoError(t, reg.Fail(job.ID, "decode spreadsheet: no sheets"))

	got, err := reg.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, "decode spreadsheet: no sheets", got.Error)
	assert.ErrorIs(t, reg.Complete(job.ID, sampleResult()), ErrAlreadyTerminal)
}

func TestRegistry_IDsAreUnique(t *testing.T) {
	reg := NewRegistry(Options{})

	var wg sync.WaitGroup
	ids := make(chan string, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- reg.Create("u").ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, 200, reg.Len())
}

func TestRegistry_SweepEvictsOnlyExpiredFinishedJobs(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	reg := NewRegistry(Options{TTL: time.Hour, Now: clock.Now})

	pending := reg.Create("pending")
	old := reg.Create("old")
	require.NoError(t, reg.Complete(old.ID, sampleResult()))

	clock.Advance(30 * time.Minute)
	recent := reg.Create("recent")
	require.NoError(t, reg.Fail(recent.ID, "x"))

	clock.Advance(45 * time.Minute)
	assert.Equal(t, 1, reg.Sweep())

	_, err := reg.Get(old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = reg.Get(recent.ID)
	assert.NoError(t, err)
	_, err = reg.Get(pending.ID)
	assert.NoError(t, err, "pending jobs are never evicted")
}

func TestRegistry_SweepDisabledWithoutTTL(t *testing.T) {
	reg := NewRegistry(Options{})
	job := reg.Create("u")
	require.NoError(t, reg.Complete(job.ID, sampleResult()))

	assert.Zero(t, reg.Sweep())
	assert.Equal(t, 1, reg.Len())
}

func TestRunner_CompletesAndFails(t *testing.T) {
	reg := NewRegistry(Options{})
	runner := NewRunner(context.Background(), reg, 2)

	ok := reg.Create("ok")
	bad := reg.Create("bad")
	panicky := reg.Create("panic")

	runner.Submit(ok, func(ctx context.Context) (*parsers.ConversionResult, error) {
		return sampleResult(), nil
	})
	runner.Submit(bad, func(ctx context.Context) (*parsers.ConversionResult, error) {
		return nil, errors.New("fetch https://x: bad status: 500")
	})
	runner.Submit(panicky, func(ctx context.Context) (*parsers.ConversionResult, error) {
		panic("unexpected")
	})
	runner.Wait()

	got, _ := reg.Get(ok.ID)
	assert.Equal(t, StateReady, got.State)

	got, _ = reg.Get(bad.ID)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, "fetch https://x: bad status: 500", got.Error)

	got, _ = reg.Get(panicky.ID)
	assert.Equal(t, StateFailed, got.State)
	assert.Contains(t, got.Error, "unexpected")
}

func TestRunner_BoundsConcurrency(t *testing.T) {
	reg := NewRegistry(Options{})
	runner := NewRunner(context.Background(), reg, 2)

	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	release := make(chan struct{})
	for i := 0; i < 6; i++ {
		job := reg.Create("u")
		runner.Submit(job, func(ctx context.Context) (*parsers.ConversionResult, error) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()

			<-release

			mu.Lock()
			running--
			mu.Unlock()
			return sampleResult(), nil
		})
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	runner.Wait()

	assert.LessOrEqual(t, peak, 2)
}

func TestRunner_CancelledContextFailsQueuedJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reg := NewRegistry(Options{})
	runner := NewRunner(ctx, reg, 1)

	job := reg.Create("u")
	cleaned := false
	runner.SubmitWithCleanup(job, func(ctx context.Context) (*parsers.ConversionResult, error) {
		return sampleResult(), nil
	}, func() { cleaned = true })
	runner.Wait()

	got, _ := reg.Get(job.ID)
	assert.Equal(t, StateFailed, got.State)
	assert.Contains(t, got.Error, "not started")
	assert.True(t, cleaned, "cleanup runs even when the task never starts")
}
