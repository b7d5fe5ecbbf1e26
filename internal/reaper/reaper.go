// Package reaper evicts expired jobs and their results on a fixed interval
// or a cron schedule.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scrapejobs/internal/metrics"
	"github.com/kiranshivaraju/scrapejobs/pkg/models"
	cronlib "github.com/robfig/cron/v3"
)

// Standard five-field expressions plus descriptors such as "@hourly" or
// "@every 30m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule validates a sweep cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Registry is the subset of the job registry the reaper needs.
type Registry interface {
	Len() int
	Snapshot() []models.JobSummary
	Evict(id uuid.UUID) (jobRemoved, resultRemoved bool)
}

// Options groups dependencies for Reaper.
type Options struct {
	Registry Registry         // Required
	Interval time.Duration    // Required unless Schedule is set
	Schedule string           // Optional: cron expression, overrides Interval
	Logger   *slog.Logger     // Optional
	Now      func() time.Time // Optional: defaults to time.Now
}

// SweepStats describes the outcome of one sweep.
type SweepStats struct {
	Skipped        bool
	Scanned        int
	EvictedJobs    int
	EvictedResults int
	Duration       time.Duration
}

// Reaper runs the eviction sweep. Expiry is measured from job creation;
// polling a job never extends its lifetime.
type Reaper struct {
	registry Registry
	interval time.Duration
	schedule cronlib.Schedule
	logger   *slog.Logger
	now      func() time.Time

	running atomic.Bool
	sweeps  sync.WaitGroup
}

// New constructs a Reaper.
func New(opts Options) (*Reaper, error) {
	if opts.Registry == nil {
		return nil, errors.New("registry is required")
	}
	var sched cronlib.Schedule
	if opts.Schedule != "" {
		parsed, err := ParseSchedule(opts.Schedule)
		if err != nil {
			return nil, err
		}
		sched = parsed
	} else if opts.Interval <= 0 {
		return nil, errors.New("sweep interval must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Reaper{
		registry: opts.Registry,
		interval: opts.Interval,
		schedule: sched,
		logger:   logger.With("component", "reaper"),
		now:      now,
	}, nil
}

// Run sweeps at the configured interval, or on the cron schedule when one
// is set, until ctx is cancelled. It waits for an in-flight sweep before
// returning. Returns nil on graceful shutdown.
func (r *Reaper) Run(ctx context.Context) error {
	if r.schedule != nil {
		return r.runSchedule(ctx)
	}

	r.logger.InfoContext(ctx, "starting reaper", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.stop(ctx)
		case <-ticker.C:
			r.startSweep(ctx)
		}
	}
}

func (r *Reaper) runSchedule(ctx context.Context) error {
	next := r.schedule.Next(time.Now())
	r.logger.InfoContext(ctx, "starting reaper", "next_sweep", next)

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.stop(ctx)
		case <-timer.C:
			r.startSweep(ctx)
			next = r.schedule.Next(time.Now())
			timer.Reset(time.Until(next))
		}
	}
}

func (r *Reaper) startSweep(ctx context.Context) {
	r.sweeps.Add(1)
	go func() {
		defer r.sweeps.Done()
		r.Sweep(ctx)
	}()
}

func (r *Reaper) stop(ctx context.Context) error {
	r.logger.InfoContext(ctx, "reaper stopping", "reason", ctx.Err())
	r.sweeps.Wait()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

// Sweep evicts every job whose expiry has passed, together with its result.
// A call made while another sweep is in progress returns immediately with
// Skipped set. Jobs registered after the sweep starts wait for the next one.
func (r *Reaper) Sweep(ctx context.Context) SweepStats {
	if !r.running.CompareAndSwap(false, true) {
		metrics.SweepsTotal.WithLabelValues("skipped").Inc()
		r.logger.DebugContext(ctx, "sweep already running, tick skipped")
		return SweepStats{Skipped: true}
	}
	defer r.running.Store(false)

	if r.registry.Len() == 0 {
		metrics.SweepsTotal.WithLabelValues("empty").Inc()
		metrics.JobsRegistered.Set(0)
		r.logger.InfoContext(ctx, "no jobs stored, sweep postponed")
		return SweepStats{}
	}

	start := time.Now()
	now := r.now()
	snapshot := r.registry.Snapshot()
	stats := SweepStats{Scanned: len(snapshot)}

	for _, job := range snapshot {
		if ctx.Err() != nil {
			break
		}
		if !job.Expired(now) {
			continue
		}
		jobRemoved, resultRemoved := r.registry.Evict(job.ID)
		if jobRemoved {
			stats.EvictedJobs++
			r.logger.DebugContext(ctx, "evicted job", "job_id", job.ID, "state", job.State)
		}
		if resultRemoved {
			stats.EvictedResults++
		}
	}
	stats.Duration = time.Since(start)

	r.emit(ctx, stats)
	return stats
}

func (r *Reaper) emit(ctx context.Context, stats SweepStats) {
	metrics.SweepsTotal.WithLabelValues("ran").Inc()
	metrics.EvictedTotal.WithLabelValues("job").Add(float64(stats.EvictedJobs))
	metrics.EvictedTotal.WithLabelValues("result").Add(float64(stats.EvictedResults))
	metrics.SweepDurationSeconds.Observe(stats.Duration.Seconds())
	metrics.JobsRegistered.Set(float64(r.registry.Len()))

	r.logger.InfoContext(ctx, "sweep complete",
		"scanned", stats.Scanned,
		"evicted_jobs", stats.EvictedJobs,
		"evicted_results", stats.EvictedResults,
		"duration_ms", stats.Duration.Milliseconds(),
	)
}
