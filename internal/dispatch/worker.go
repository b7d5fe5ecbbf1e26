package dispatch

import (
	"context"

	"github.com/kiranshivaraju/scrapejobs/pkg/models"
)

// ProgressFunc receives the number of accounts processed so far.
type ProgressFunc func(done, total int)

// Worker performs the long-running fetch for a batch of accounts. It reports
// progress through the callback and returns one record per account or an
// error. Implementations must be safe for concurrent use.
type Worker interface {
	Run(ctx context.Context, accounts []string, progress ProgressFunc) (models.Payload, error)
}

// WorkerFunc adapts an ordinary function to the Worker interface.
type WorkerFunc func(ctx context.Context, accounts []string, progress ProgressFunc) (models.Payload, error)

// Run calls f(ctx, accounts, progress).
func (f WorkerFunc) Run(ctx context.Context, accounts []string, progress ProgressFunc) (models.Payload, error) {
	return f(ctx, accounts, progress)
}

// Archiver records terminal job outcomes outside the registry.
type Archiver interface {
	ArchiveJob(ctx context.Context, job *models.ArchivedJob) error
}
