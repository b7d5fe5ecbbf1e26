// Package metrics declares the Prometheus collectors for jobs, the reaper
// and the HTTP API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	JobsSubmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scrapejobs_jobs_submitted_total",
			Help: "Total number of report jobs accepted",
		},
	)

	JobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapejobs_jobs_finished_total",
			Help: "Total number of report jobs that reached a terminal state",
		},
		[]string{"state"}, // completed, failed
	)

	ResultsDiscardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scrapejobs_results_discarded_total",
			Help: "Worker outcomes dropped because the job was already gone",
		},
	)

	InvariantViolationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scrapejobs_invariant_violations_total",
			Help: "Completed jobs found without a stored result",
		},
	)

	SweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapejobs_reaper_sweeps_total",
			Help: "Reaper sweeps by outcome",
		},
		[]string{"outcome"}, // ran, empty, skipped
	)

	EvictedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapejobs_reaper_evicted_total",
			Help: "Entries evicted by the reaper",
		},
		[]string{"kind"}, // job, result
	)

	PanicsRecoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapejobs_panics_recovered_total",
			Help: "Panics recovered by source",
		},
		[]string{"source"}, // http, worker
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapejobs_http_requests_total",
			Help: "HTTP requests by route pattern, method and status code",
		},
		[]string{"route", "method", "status"},
	)

	// Gauges
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrapejobs_workers_active",
			Help: "Workers currently running",
		},
	)

	JobsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrapejobs_jobs_registered",
			Help: "Jobs present in the registry after the last sweep",
		},
	)

	// Buckets: 1ms .. ~4s
	SweepDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scrapejobs_reaper_sweep_duration_seconds",
			Help:    "Reaper sweep duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		},
	)

	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrapejobs_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Buckets: 100ms .. ~27m
	JobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrapejobs_job_duration_seconds",
			Help:    "Worker run time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 15),
		},
		[]string{"state"},
	)
)
