package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scrapejobs/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the job archive. Rows are append-only; nothing is read back into
// the in-memory registry.
type Store interface {
	Ping(ctx context.Context) error
	ArchiveJob(ctx context.Context, job *models.ArchivedJob) error
	GetArchivedJob(ctx context.Context, id uuid.UUID) (*models.ArchivedJob, error)
	ListArchivedJobs(ctx context.Context, filter ArchiveFilter) ([]*models.ArchivedJob, error)
}

type ArchiveFilter struct {
	State models.JobState
	Since time.Time
	Limit int
}
