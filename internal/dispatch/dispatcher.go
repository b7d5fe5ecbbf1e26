// Package dispatch creates report jobs, runs their workers in the background
// and applies worker outcomes to the job registry.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scrapejobs/internal/metrics"
	"github.com/kiranshivaraju/scrapejobs/internal/registry"
	"github.com/kiranshivaraju/scrapejobs/pkg/models"
	"golang.org/x/sync/semaphore"
)

const archiveTimeout = 5 * time.Second

var (
	// ErrInvalidInput is returned by Submit when no accounts are given.
	ErrInvalidInput = errors.New("at least one account is required")

	// ErrNotFound is returned when a job or result is unknown or evicted.
	ErrNotFound = registry.ErrNotFound

	// ErrResultLost is returned by Poll when a completed job has no stored
	// result. The job is deleted before the error is returned.
	ErrResultLost = errors.New("result of completed job is missing")
)

// Registry is the job registry the dispatcher mutates.
type Registry interface {
	Create(id uuid.UUID, ttl time.Duration, opts ...registry.Field) (models.Job, error)
	Get(id uuid.UUID) (models.Job, error)
	Transition(id uuid.UUID, state models.JobState, opts ...registry.Field) (models.Job, error)
	Complete(id uuid.UUID, payload models.Payload) (models.Job, error)
	Delete(id uuid.UUID) bool
	Status() ([]models.JobSummary, []uuid.UUID)
	Results() *registry.ResultStore
}

// Options groups dependencies for Dispatcher.
type Options struct {
	Registry      Registry      // Required
	Worker        Worker        // Required
	TTL           time.Duration // Required: lifetime of a job from creation
	MaxConcurrent int64         // Optional: 0 runs every worker immediately
	Archiver      Archiver      // Optional
	Logger        *slog.Logger  // Optional
}

// Status is the diagnostic view of every job and stored result.
type Status struct {
	Jobs      []models.JobSummary `json:"jobs"`
	ResultIDs []uuid.UUID         `json:"result_ids"`
}

// Dispatcher is the only writer of job state and results.
type Dispatcher struct {
	registry Registry
	worker   Worker
	ttl      time.Duration
	sem      *semaphore.Weighted
	archiver Archiver
	logger   *slog.Logger

	baseCtx context.Context
	stop    context.CancelFunc

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if opts.Worker == nil {
		return nil, errors.New("worker is required")
	}
	if opts.TTL <= 0 {
		return nil, errors.New("job ttl must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		registry: opts.Registry,
		worker:   opts.Worker,
		ttl:      opts.TTL,
		archiver: opts.Archiver,
		logger:   logger.With("component", "dispatcher"),
		cancels:  make(map[uuid.UUID]context.CancelFunc),
	}
	if opts.MaxConcurrent > 0 {
		d.sem = semaphore.NewWeighted(opts.MaxConcurrent)
	}
	d.baseCtx, d.stop = context.WithCancel(context.Background())
	return d, nil
}

// Submit registers a pending job and starts its worker in the background.
// It returns as soon as the job is registered.
func (d *Dispatcher) Submit(ctx context.Context, accounts []string) (models.Job, error) {
	if len(accounts) == 0 {
		return models.Job{}, ErrInvalidInput
	}

	job, err := d.registry.Create(uuid.New(), d.ttl, registry.WithProgress(0, len(accounts)))
	if err != nil {
		return models.Job{}, fmt.Errorf("creating job: %w", err)
	}
	metrics.JobsSubmittedTotal.Inc()

	runCtx, cancel := context.WithCancel(d.baseCtx)
	d.mu.Lock()
	d.cancels[job.ID] = cancel
	d.mu.Unlock()

	d.logger.InfoContext(ctx, "job submitted", "job_id", job.ID, "accounts", len(accounts))

	d.wg.Add(1)
	go d.run(runCtx, job, slices.Clone(accounts))

	return job, nil
}

// run executes the worker for one job. It recovers from panics and always
// leaves the job completed, failed, or already removed.
func (d *Dispatcher) run(ctx context.Context, job models.Job, accounts []string) {
	defer d.wg.Done()
	defer d.release(job.ID)

	logger := d.logger.With("job_id", job.ID)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecoveredTotal.WithLabelValues("worker").Inc()
			logger.Error("panic in worker", "error", r, "stack", string(debug.Stack()))
			d.fail(logger, job.ID, fmt.Errorf("panic: %v", r), start)
		}
	}()

	if d.sem != nil {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			d.fail(logger, job.ID, fmt.Errorf("waiting for worker slot: %w", err), start)
			return
		}
		defer d.sem.Release(1)

		// The reaper may have evicted the job while it waited for a slot.
		if _, err := d.registry.Get(job.ID); errors.Is(err, registry.ErrNotFound) {
			logger.Info("job removed while waiting for a worker slot, skipping")
			return
		}
	}

	metrics.WorkersActive.Inc()
	defer metrics.WorkersActive.Dec()

	logger.Info("start scraping", "accounts", len(accounts))
	payload, err := d.worker.Run(ctx, accounts, func(done, total int) {
		d.progress(logger, job.ID, done, total)
	})
	if err != nil {
		d.fail(logger, job.ID, err, start)
		return
	}
	d.complete(logger, job.ID, payload, start)
}

func (d *Dispatcher) progress(logger *slog.Logger, id uuid.UUID, done, total int) {
	_, err := d.registry.Transition(id, models.JobStateRunning, registry.WithProgress(done, total))
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrNotFound):
		logger.Debug("progress for removed job ignored")
	default:
		logger.Warn("progress update rejected", "error", err, "done", done, "total", total)
	}
}

func (d *Dispatcher) complete(logger *slog.Logger, id uuid.UUID, payload models.Payload, start time.Time) {
	job, err := d.registry.Complete(id, payload)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			metrics.ResultsDiscardedTotal.Inc()
			logger.Info("job removed before completion, result discarded")
			return
		}
		logger.Error("storing result failed", "error", err)
		return
	}

	elapsed := time.Since(start)
	metrics.JobsFinishedTotal.WithLabelValues(string(models.JobStateCompleted)).Inc()
	metrics.JobDurationSeconds.WithLabelValues(string(models.JobStateCompleted)).Observe(elapsed.Seconds())
	logger.Info("end scraping", "records", len(payload), "duration_ms", elapsed.Milliseconds())

	d.archive(logger, job, len(payload))
}

// fail marks the job failed. The reason is logged and never stored.
func (d *Dispatcher) fail(logger *slog.Logger, id uuid.UUID, reason error, start time.Time) {
	logger.Error("scraping failed", "error", reason)

	job, err := d.registry.Transition(id, models.JobStateFailed)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			metrics.ResultsDiscardedTotal.Inc()
			return
		}
		logger.Error("marking job failed", "error", err)
		return
	}

	metrics.JobsFinishedTotal.WithLabelValues(string(models.JobStateFailed)).Inc()
	metrics.JobDurationSeconds.WithLabelValues(string(models.JobStateFailed)).Observe(time.Since(start).Seconds())

	d.archive(logger, job, 0)
}

func (d *Dispatcher) archive(logger *slog.Logger, job models.Job, records int) {
	if d.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	err := d.archiver.ArchiveJob(ctx, &models.ArchivedJob{
		ID:          job.ID,
		State:       job.State,
		Done:        job.Progress.Done,
		Total:       job.Progress.Total,
		RecordCount: records,
		CreatedAt:   job.CreatedAt,
		ExpiresAt:   job.ExpiresAt,
		FinishedAt:  time.Now().UTC(),
	})
	if err != nil {
		logger.Warn("archiving job failed", "error", err)
	}
}

func (d *Dispatcher) release(id uuid.UUID) {
	d.mu.Lock()
	cancel, ok := d.cancels[id]
	delete(d.cancels, id)
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

// Poll returns the current state of a job. A completed job whose result is
// missing is treated as an invariant violation: it is deleted and
// ErrResultLost is returned.
func (d *Dispatcher) Poll(ctx context.Context, id uuid.UUID) (models.Job, error) {
	job, err := d.registry.Get(id)
	if err != nil {
		return models.Job{}, err
	}
	if job.State != models.JobStateCompleted {
		return job, nil
	}

	if _, err := d.registry.Results().Get(id); err == nil {
		return job, nil
	}
	// The job may have been evicted between the two lookups.
	if _, err := d.registry.Get(id); err != nil {
		return models.Job{}, err
	}

	metrics.InvariantViolationsTotal.Inc()
	d.logger.ErrorContext(ctx, "completed job has no result, deleting", "job_id", id)
	d.registry.Delete(id)
	return models.Job{}, ErrResultLost
}

// Result returns the stored result of a completed job.
func (d *Dispatcher) Result(id uuid.UUID) (models.Result, error) {
	return d.registry.Results().Get(id)
}

// Delete removes a job and its result and cancels its worker if still
// running. It reports whether the job existed.
func (d *Dispatcher) Delete(ctx context.Context, id uuid.UUID) bool {
	removed := d.registry.Delete(id)
	if removed {
		d.release(id)
		d.logger.InfoContext(ctx, "job deleted", "job_id", id)
	}
	return removed
}

// Status returns every registered job and the ids of stored results.
func (d *Dispatcher) Status() Status {
	jobs, resultIDs := d.registry.Status()
	return Status{Jobs: jobs, ResultIDs: resultIDs}
}

// Shutdown cancels all running workers and waits for them to return or for
// ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.stop()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}
