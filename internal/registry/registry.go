// Package registry holds the in-memory job registry and its linked result
// store. Both share one lock, which is the serialization point for every job
// and result mutation in the process.
package registry

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scrapejobs/pkg/models"
)

var (
	ErrDuplicateID       = errors.New("job id already registered")
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidTransition = errors.New("invalid job state transition")
	ErrInvalidProgress   = errors.New("invalid job progress")
)

// Registry owns the id -> Job map. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]*list.Element
	order   *list.List
	results *ResultStore
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates an empty Registry with its ResultStore.
func New(opts ...Option) *Registry {
	r := &Registry{
		jobs:  make(map[uuid.UUID]*list.Element),
		order: list.New(),
		now:   time.Now,
	}
	r.results = &ResultStore{
		mu:       &r.mu,
		payloads: make(map[uuid.UUID]models.Payload),
		jobState: r.stateLocked,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Results returns the result store linked to this registry.
func (r *Registry) Results() *ResultStore {
	return r.results
}

type fields struct {
	progress *models.Progress
}

// Field sets a mutable job field during Create or Transition.
type Field func(*fields)

// WithProgress sets the job's progress counters.
func WithProgress(done, total int) Field {
	return func(f *fields) {
		f.progress = &models.Progress{Done: done, Total: total}
	}
}

func collect(opts []Field) (fields, error) {
	var f fields
	for _, opt := range opts {
		opt(&f)
	}
	if p := f.progress; p != nil {
		if p.Done < 0 || p.Total < 0 || p.Done > p.Total {
			return f, fmt.Errorf("%w: done=%d total=%d", ErrInvalidProgress, p.Done, p.Total)
		}
	}
	return f, nil
}

// Create inserts a new pending job expiring ttl after now.
func (r *Registry) Create(id uuid.UUID, ttl time.Duration, opts ...Field) (models.Job, error) {
	f, err := collect(opts)
	if err != nil {
		return models.Job{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[id]; exists {
		return models.Job{}, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	now := r.now().UTC()
	job := &models.Job{
		ID:        id,
		State:     models.JobStatePending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if f.progress != nil {
		job.Progress = *f.progress
	}
	r.jobs[id] = r.order.PushBack(job)
	return *job, nil
}

// Get returns a copy of the job with the given id.
func (r *Registry) Get(id uuid.UUID) (models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	elem, ok := r.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return *elem.Value.(*models.Job), nil
}

// Transition moves a job to running or failed and applies the given fields.
// Completion goes through Complete so the result is stored in the same step.
func (r *Registry) Transition(id uuid.UUID, state models.JobState, opts ...Field) (models.Job, error) {
	f, err := collect(opts)
	if err != nil {
		return models.Job{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	job := elem.Value.(*models.Job)

	if !allowed(job.State, state) {
		return *job, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.State, state)
	}
	if f.progress != nil {
		job.Progress = *f.progress
	}
	job.State = state
	return *job, nil
}

func allowed(from, to models.JobState) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case models.JobStateRunning, models.JobStateFailed:
		return true
	default:
		return false
	}
}

// Complete stores the payload and marks the job completed under one lock.
// It returns ErrNotFound when the job has already been evicted or deleted.
func (r *Registry) Complete(id uuid.UUID, payload models.Payload) (models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	job := elem.Value.(*models.Job)
	if job.State.Terminal() {
		return *job, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.State, models.JobStateCompleted)
	}

	prev := *job
	job.State = models.JobStateCompleted
	job.Progress.Done = job.Progress.Total
	if err := r.results.putLocked(id, payload); err != nil {
		*job = prev
		return prev, err
	}
	return *job, nil
}

// Delete removes the job and its result. It reports whether the job existed.
func (r *Registry) Delete(id uuid.UUID) bool {
	removed, _ := r.Evict(id)
	return removed
}

// Evict removes the job and cascades to its result, reporting what was removed.
func (r *Registry) Evict(id uuid.UUID) (jobRemoved, resultRemoved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.jobs[id]
	if !ok {
		return false, false
	}
	r.order.Remove(elem)
	delete(r.jobs, id)
	return true, r.results.deleteLocked(id)
}

// Snapshot returns every job in insertion order.
func (r *Registry) Snapshot() []models.JobSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Status returns the job snapshot and the stored result ids read under one
// lock, so every completed job in jobs has its id in resultIDs.
func (r *Registry) Status() (jobs []models.JobSummary, resultIDs []uuid.UUID) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(), r.results.idsLocked()
}

func (r *Registry) snapshotLocked() []models.JobSummary {
	out := make([]models.JobSummary, 0, r.order.Len())
	for e := r.order.Front(); e != nil; e = e.Next() {
		job := e.Value.(*models.Job)
		out = append(out, models.JobSummary{
			ID:        job.ID,
			CreatedAt: job.CreatedAt,
			ExpiresAt: job.ExpiresAt,
			State:     job.State,
		})
	}
	return out
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// stateLocked must be called with r.mu held.
func (r *Registry) stateLocked(id uuid.UUID) (models.JobState, bool) {
	elem, ok := r.jobs[id]
	if !ok {
		return "", false
	}
	return elem.Value.(*models.Job).State, true
}
