package models

import (
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a submitted report job.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether no further worker activity may change the state.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Progress counts processed accounts out of the submitted total.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Job tracks one asynchronous report job. The API returns its id on
// POST /api/v1/reports; the client polls GET /api/v1/tasks/{id} until the
// state is completed or failed. ExpiresAt is fixed at creation.
type Job struct {
	ID        uuid.UUID `json:"id"`
	State     JobState  `json:"state"`
	Progress  Progress  `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// JobSummary is the read-only view of a job used for status listings.
type JobSummary struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	State     JobState  `json:"state"`
}

// Expired reports whether the job is eligible for eviction at now. The
// expiry instant itself counts as expired.
func (s JobSummary) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
