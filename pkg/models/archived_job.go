package models

import (
	"time"

	"github.com/google/uuid"
)

// ArchivedJob is the history row written when a job reaches a terminal state.
// Only the terminal state is kept, not the failure reason.
type ArchivedJob struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	State       JobState  `db:"state"        json:"state"`
	Done        int       `db:"done"         json:"done"`
	Total       int       `db:"total"        json:"total"`
	RecordCount int       `db:"record_count" json:"record_count"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
	ExpiresAt   time.Time `db:"expires_at"   json:"expires_at"`
	FinishedAt  time.Time `db:"finished_at"  json:"finished_at"`
}
