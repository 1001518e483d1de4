package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/citestack/citestack-worker/internal/models"
)

var ErrJobNotFound = errors.New("job not found")

// JobRepository manages the durable work queue. Claiming is a per-row
// compare-and-swap: a single conditional UPDATE guarded by
// status = 'queued', so at most one concurrent claimer wins each job
// without any separate lock.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, user_id, item_id, type, status, payload, result, error,
	run_after, created_at, started_at, finished_at`

// Enqueue inserts a queued job with an immutable payload snapshot
func (r *JobRepository) Enqueue(ctx context.Context, userID string, itemID *string, jobType models.JobType, payload models.JSONB, runAfter *time.Time) (string, error) {
	id := uuid.New().String()
	query := `
		INSERT INTO jobs (id, user_id, item_id, type, status, payload, run_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		id, userID, itemID, jobType, models.JobStatusQueued, payload, runAfter, time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return id, nil
}

// ClaimDue selects up to limit due queued jobs (oldest first) and claims
// each with a conditional queued -> running update. Jobs claimed by a
// concurrent worker between the select and the update lose the
// compare-and-swap and are dropped from the returned set.
func (r *JobRepository) ClaimDue(ctx context.Context, limit int) ([]models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1 AND (run_after IS NULL OR run_after <= $2)
		ORDER BY created_at ASC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, models.JobStatusQueued, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}
	candidates, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}

	claimed := make([]models.Job, 0, len(candidates))
	for _, job := range candidates {
		now := time.Now()
		result, err := r.db.ExecContext(ctx, `
			UPDATE jobs SET status = $1, started_at = $2
			WHERE id = $3 AND status = $4
		`, models.JobStatusRunning, now, job.ID, models.JobStatusQueued)
		if err != nil {
			return nil, fmt.Errorf("failed to claim job %s: %w", job.ID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read claim result: %w", err)
		}
		if affected == 0 {
			// Another worker won this row
			continue
		}
		job.Status = models.JobStatusRunning
		job.StartedAt = &now
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// Complete marks a running job succeeded, writing result and finished_at
// in a single transition. The status guard keeps terminal states final.
func (r *JobRepository) Complete(ctx context.Context, jobID string, result models.JSONB) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, result = $2, error = NULL, finished_at = $3
		WHERE id = $4 AND status = $5
	`, models.JobStatusSucceeded, result, time.Now(), jobID, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("job %s is not running", jobID)
	}
	return nil
}

// Fail marks a running job failed with an error message
func (r *JobRepository) Fail(ctx context.Context, jobID, errMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, error = $2, result = NULL, finished_at = $3
		WHERE id = $4 AND status = $5
	`, models.JobStatusFailed, errMsg, time.Now(), jobID, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("job %s is not running", jobID)
	}
	return nil
}

// GetByID retrieves a job by ID
func (r *JobRepository) GetByID(ctx context.Context, jobID string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE id = $1
	`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListRecent returns a user's most recent jobs for the queue view
func (r *JobRepository) ListRecent(ctx context.Context, userID string, limit int) ([]models.Job, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return scanJobs(rows)
}

// HasActiveEnrich reports whether a queued or running enrich job already
// exists for the item, so duplicate enqueues can be skipped.
func (r *JobRepository) HasActiveEnrich(ctx context.Context, itemID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM jobs
			WHERE item_id = $1 AND type = $2 AND status IN ($3, $4)
		)
	`, itemID, models.JobTypeEnrichItem, models.JobStatusQueued, models.JobStatusRunning).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active enrich jobs: %w", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	err := row.Scan(
		&job.ID, &job.UserID, &job.ItemID, &job.Type, &job.Status,
		&job.Payload, &job.Result, &job.Error,
		&job.RunAfter, &job.CreatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]models.Job, error) {
	defer rows.Close()
	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
