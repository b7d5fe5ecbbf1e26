package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/scrapejobs/pkg/models"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ArchiveJob inserts the terminal outcome of a job. A job is archived at most
// once; a second insert for the same id returns ErrDuplicateKey.
func (s *PostgresStore) ArchiveJob(ctx context.Context, job *models.ArchivedJob) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO archived_jobs (id, state, done, total, record_count, created_at, expires_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))
		 RETURNING finished_at`,
		job.ID, string(job.State), job.Done, job.Total, job.RecordCount,
		job.CreatedAt, job.ExpiresAt, nullTime(job),
	).Scan(&job.FinishedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("archive job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetArchivedJob(ctx context.Context, id uuid.UUID) (*models.ArchivedJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, state, done, total, record_count, created_at, expires_at, finished_at
		 FROM archived_jobs WHERE id = $1`, id)
	job, err := scanArchivedJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get archived job: %w", err)
	}
	return job, nil
}

// ListArchivedJobs returns archived jobs, newest first.
func (s *PostgresStore) ListArchivedJobs(ctx context.Context, filter ArchiveFilter) ([]*models.ArchivedJob, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("state = $%d", argIdx))
		args = append(args, string(filter.State))
		argIdx++
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("finished_at >= $%d", argIdx))
		args = append(args, filter.Since)
		argIdx++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT id, state, done, total, record_count, created_at, expires_at, finished_at FROM archived_jobs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY finished_at DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list archived jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ArchivedJob
	for rows.Next() {
		job, err := scanArchivedJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan archived job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanArchivedJob(row pgx.Row) (*models.ArchivedJob, error) {
	var j models.ArchivedJob
	var state string
	if err := row.Scan(&j.ID, &state, &j.Done, &j.Total, &j.RecordCount,
		&j.CreatedAt, &j.ExpiresAt, &j.FinishedAt); err != nil {
		return nil, err
	}
	j.State = models.JobState(state)
	return &j, nil
}

func nullTime(job *models.ArchivedJob) any {
	if job.FinishedAt.IsZero() {
		return nil
	}
	return job.FinishedAt
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
