package models

import "github.com/google/uuid"

// Record holds the counters read from one account's profile page.
// Counters are zero when the page could not be fetched or parsed.
type Record struct {
	Account   string `json:"account"`
	Tweets    int64  `json:"tweets"`
	Followers int64  `json:"followers"`
	Following int64  `json:"following"`
}

// Payload is the ordered list of records produced by one job, one per
// submitted account.
type Payload []Record

// Result is the payload of a completed job, keyed by the job's id.
type Result struct {
	JobID   uuid.UUID `json:"job_id"`
	Payload Payload   `json:"records"`
}
