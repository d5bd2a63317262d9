// Package postgres is a persistent jobs.Store backed by PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dvloznov/statement-extractor/internal/jobs"
)

const table = "statement_jobs"

var columns = []string{
	"id", "file_name", "storage_key", "status", "accounts_detected",
	"processed_data", "error_message", "created_at", "updated_at",
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.ConnConfig.RuntimeParams["application_name"] = "statement-extractor"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the jobs table if needed.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS statement_jobs (
	id TEXT PRIMARY KEY,
	file_name TEXT NOT NULL,
	storage_key TEXT NOT NULL,
	status TEXT NOT NULL,
	accounts_detected INTEGER,
	processed_data JSONB,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_statement_jobs_status_updated ON statement_jobs(status, updated_at);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Store implements jobs.Store on a pgx pool. Transitions are guarded in SQL
// (UPDATE ... WHERE status IN allowed-from), so concurrent processes cannot
// both claim a job.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore creates a Store on an open pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// CreateJob implements the jobs.Store interface.
func (s *Store) CreateJob(ctx context.Context, fileName, storageKey string) (*jobs.Job, error) {
	if err := jobs.ValidateCreate(fileName, storageKey); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	job := &jobs.Job{
		ID:         uuid.New().String(),
		FileName:   fileName,
		StorageKey: storageKey,
		Status:     jobs.StatusUploaded,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	query, args, err := insertQuery(job)
	if err != nil {
		return nil, err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}
	return job, nil
}

// GetJob implements the jobs.Store interface.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	query, args, err := psql.Select(columns...).From(table).Where(sq.Eq{"id": jobID}).ToSql()
	if err != nil {
		return nil, err
	}

	job, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, jobs.NotFound(jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return job, nil
}

// ListJobs implements the jobs.Store interface. Jobs are returned oldest first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.Filter) ([]*jobs.Job, error) {
	query, args, err := listQuery(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	result := []*jobs.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// UpdateStatus implements the jobs.Store interface.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, status jobs.Status, update *jobs.Update) (*jobs.Job, error) {
	if err := jobs.ValidateUpdate(jobID, status, update); err != nil {
		return nil, err
	}

	query, args, err := updateQuery(jobID, status, update, s.now().UTC())
	if err != nil {
		return nil, err
	}

	job, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update job %s: %w", jobID, err)
	}

	// Nothing matched: either the job is gone or its status forbids the edge.
	current, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	return nil, jobs.InvalidTransition(jobID, current.Status, status)
}

// DeleteJob implements the jobs.Store interface.
func (s *Store) DeleteJob(ctx context.Context, jobID string) (bool, error) {
	query, args, err := psql.Delete(table).Where(sq.Eq{"id": jobID}).ToSql()
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func insertQuery(job *jobs.Job) (string, []any, error) {
	return psql.Insert(table).
		Columns("id", "file_name", "storage_key", "status", "created_at", "updated_at").
		Values(job.ID, job.FileName, job.StorageKey, string(job.Status), job.CreatedAt, job.UpdatedAt).
		ToSql()
}

func listQuery(filter jobs.Filter) (string, []any, error) {
	q := psql.Select(columns...).From(table).OrderBy("created_at ASC", "id ASC")
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}
	return q.ToSql()
}

func updateQuery(jobID string, status jobs.Status, update *jobs.Update, now time.Time) (string, []any, error) {
	from := make([]string, 0, 2)
	for _, s := range jobs.AllowedFrom(status) {
		from = append(from, string(s))
	}
	if len(from) == 0 {
		// UPLOADED has no incoming edge; match nothing so the caller reports
		// an invalid transition.
		from = []string{""}
	}

	q := psql.Update(table).
		Set("status", string(status)).
		Set("updated_at", now).
		Where(sq.Eq{"id": jobID, "status": from}).
		Suffix("RETURNING " + strings.Join(columns, ", "))

	if update != nil {
		if update.AccountsDetected != nil {
			q = q.Set("accounts_detected", *update.AccountsDetected)
		}
		if update.ProcessedData != nil {
			data, err := json.Marshal(update.ProcessedData)
			if err != nil {
				return "", nil, fmt.Errorf("failed to encode processed data: %w", err)
			}
			q = q.Set("processed_data", data)
		}
		if update.ErrorMessage != nil {
			q = q.Set("error_message", *update.ErrorMessage)
		}
	}
	return q.ToSql()
}

func scanJob(row pgx.Row) (*jobs.Job, error) {
	var (
		job      jobs.Job
		status   string
		accounts *int32
		data     []byte
	)
	if err := row.Scan(
		&job.ID, &job.FileName, &job.StorageKey, &status, &accounts,
		&data, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = jobs.Status(status)
	if accounts != nil {
		n := int(*accounts)
		job.AccountsDetected = &n
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &job.ProcessedData); err != nil {
			return nil, fmt.Errorf("failed to decode processed data: %w", err)
		}
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return &job, nil
}

// Ensure Store implements the jobs.Store interface.
var _ jobs.Store = (*Store)(nil)
