package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/slok/xferd/internal/log"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/storage"
	"github.com/slok/xferd/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.Repository.
type Repository struct {
	db       *sql.DB
	migrator *migrations.Migrator
	logger   log.Logger
}

var _ storage.Repository = &Repository{}

// NewRepository creates a new SQLite repository.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s", cfg.DBPath)

	return &Repository{db: db, migrator: migrator, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// SchemaVersion returns the applied migration version.
func (r *Repository) SchemaVersion(ctx context.Context) (uint, error) {
	v, dirty, err := r.migrator.Version(ctx)
	if err != nil {
		return 0, fmt.Errorf("could not get schema version: %w", err)
	}
	if dirty {
		return v, fmt.Errorf("schema version %d is dirty", v)
	}
	return v, nil
}

const jobColumns = `
	id, profile_id, type, status,
	payload_json, progress_json,
	error, error_code, cancel_requested,
	created_at, started_at, finished_at
`

// CreateJob creates a new job in the repository.
func (r *Repository) CreateJob(ctx context.Context, j model.Job) error {
	payload := j.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("could not marshal payload: %w", err)
	}

	progressJSON, err := marshalProgress(j.Progress)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		j.ID,
		j.ProfileID,
		string(j.Type),
		string(j.Status),
		string(payloadJSON),
		progressJSON,
		nullString(j.Error),
		nullString(string(j.ErrorCode)),
		j.CancelRequested,
		j.CreatedAt.Unix(),
		unixOrNil(j.StartedAt),
		unixOrNil(j.FinishedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: jobs.") {
			return fmt.Errorf("job already exists: %w", model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert job: %w", err)
	}

	r.logger.Debugf("Created job in repository: %s", j.ID)
	return nil
}

// GetJob retrieves a job by ID.
func (r *Repository) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query job: %w", err)
	}

	return &j, nil
}

// ListJobs returns the jobs, newest first.
func (r *Repository) ListJobs(ctx context.Context, opts storage.ListJobsOpts) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []model.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return jobs, nil
}

// ListJobIDsByStatus returns the IDs of the jobs with the status in creation order.
func (r *Repository) ListJobIDsByStatus(ctx context.Context, status model.JobStatus) ([]string, error) {
	return r.queryIDs(ctx, `SELECT id FROM jobs WHERE status = ? ORDER BY id ASC`, string(status))
}

// UpdateJobStatus updates the status of a job. Timestamps and progress are only
// replaced when set.
func (r *Repository) UpdateJobStatus(ctx context.Context, id string, u model.JobStatusUpdate) error {
	progressJSON, err := marshalProgress(u.Progress)
	if err != nil {
		return err
	}

	query := `
		UPDATE jobs
		SET
			status = ?,
			started_at = COALESCE(?, started_at),
			finished_at = COALESCE(?, finished_at),
			progress_json = COALESCE(?, progress_json),
			error = ?,
			error_code = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(
		ctx,
		query,
		string(u.Status),
		unixOrNil(u.StartedAt),
		unixOrNil(u.FinishedAt),
		progressJSON,
		nullString(u.Error),
		nullString(string(u.ErrorCode)),
		id,
	)
	if err != nil {
		return fmt.Errorf("could not update job status: %w", err)
	}

	return checkAffected(result, fmt.Sprintf("job %s", id))
}

// UpdateJobProgress replaces the progress of a job.
func (r *Repository) UpdateJobProgress(ctx context.Context, id string, p model.JobProgress) error {
	progressJSON, err := marshalProgress(&p)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `UPDATE jobs SET progress_json = ? WHERE id = ?`, progressJSON, id)
	if err != nil {
		return fmt.Errorf("could not update job progress: %w", err)
	}

	return checkAffected(result, fmt.Sprintf("job %s", id))
}

// JobExists returns true if the job exists.
func (r *Repository) JobExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("could not query job: %w", err)
	}
	return n > 0, nil
}

const finishedJobsWhere = `
	WHERE finished_at IS NOT NULL
	  AND finished_at < ?
	  AND status IN (?, ?, ?)
`

// DeleteFinishedJobsBefore deletes terminal jobs finished before the cutoff, oldest first.
func (r *Repository) DeleteFinishedJobsBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	limit = storage.DeleteLimit(limit)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM jobs `+finishedJobsWhere+` ORDER BY finished_at ASC, id ASC LIMIT ?`,
		append(finishedArgs(cutoff), limit)...)
	if err != nil {
		return nil, fmt.Errorf("could not query finished jobs: %w", err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("could not delete job %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("could not commit transaction: %w", err)
	}

	if len(ids) > 0 {
		r.logger.Debugf("Deleted %d finished jobs from repository", len(ids))
	}
	return ids, nil
}

// ListFinishedJobIDsBefore returns terminal jobs finished before the cutoff, oldest first.
func (r *Repository) ListFinishedJobIDsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	return r.queryIDs(ctx, `SELECT id FROM jobs `+finishedJobsWhere+` ORDER BY finished_at ASC, id ASC`, finishedArgs(cutoff)...)
}

func finishedArgs(cutoff time.Time) []any {
	return []any{
		cutoff.Unix(),
		string(model.JobStatusSucceeded),
		string(model.JobStatusFailed),
		string(model.JobStatusCanceled),
	}
}

// RequestJobCancel marks a job as cancel requested.
func (r *Repository) RequestJobCancel(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE jobs SET cancel_requested = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("could not request job cancel: %w", err)
	}
	return checkAffected(result, fmt.Sprintf("job %s", id))
}

// ListCancelRequestedJobIDs returns the non terminal jobs with a cancel request.
func (r *Repository) ListCancelRequestedJobIDs(ctx context.Context) ([]string, error) {
	return r.queryIDs(ctx, `SELECT id FROM jobs WHERE cancel_requested = 1 AND status IN (?, ?) ORDER BY id ASC`,
		string(model.JobStatusQueued), string(model.JobStatusRunning))
}

func (r *Repository) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query ids: %w", err)
	}
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		if id == "" {
			continue
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return ids, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (model.Job, error) {
	var (
		j                     model.Job
		jobType, status       string
		payloadJSON           string
		progressJSON, errMsg  sql.NullString
		errCode               sql.NullString
		createdAt             int64
		startedAt, finishedAt sql.NullInt64
	)

	err := s.Scan(
		&j.ID,
		&j.ProfileID,
		&jobType,
		&status,
		&payloadJSON,
		&progressJSON,
		&errMsg,
		&errCode,
		&j.CancelRequested,
		&createdAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return model.Job{}, err
	}

	j.Type = model.JobType(jobType)
	j.Status = model.JobStatus(status)
	j.Error = errMsg.String
	j.ErrorCode = model.ErrorCode(errCode.String)
	j.CreatedAt = timeFromUnix(createdAt)
	j.StartedAt = timePtrFromNull(startedAt)
	j.FinishedAt = timePtrFromNull(finishedAt)

	if err := json.Unmarshal([]byte(payloadJSON), &j.Payload); err != nil {
		return model.Job{}, fmt.Errorf("could not unmarshal payload: %w", err)
	}
	if progressJSON.Valid && progressJSON.String != "" {
		var p model.JobProgress
		if err := json.Unmarshal([]byte(progressJSON.String), &p); err != nil {
			return model.Job{}, fmt.Errorf("could not unmarshal progress: %w", err)
		}
		j.Progress = &p
	}

	return j, nil
}

func marshalProgress(p *model.JobProgress) (any, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("could not marshal progress: %w", err)
	}
	return string(data), nil
}

func checkAffected(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timePtrFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := timeFromUnix(v.Int64)
	return &t
}

func timeFromUnix(unix int64) time.Time { return time.Unix(unix, 0).UTC() }
