package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dispatchlab/dispatch/internal/job"
	"github.com/dispatchlab/dispatch/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

// Storage is the submission-side view of the job store: it creates job
// records and reads them back, and never performs worker-owned transitions.
type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// CreateJob inserts a new job record. The caller assigns the id; both
// timestamps come from the database clock, the same clock the status updates
// use, so updated_at can never precede created_at however skewed the API
// host's clock is.
func (s *Storage) CreateJob(ctx context.Context, j *job.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, user_id, repo_url, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, NOW(), NOW()
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		j.JobID,
		j.UserID,
		j.RepoURL,
		j.Status,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJobByID retrieves one job record by primary key.
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*job.Job, error) {
	var j job.Job
	query := `
		SELECT
			job_id, user_id, repo_url, status, report,
			error_details, created_at, updated_at
		FROM jobs
		WHERE job_id = $1
	`

	err := s.db.GetContext(ctx, &j, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &j, nil
}

// ListJobsByUser returns a user's jobs newest first. The per-user job set is
// small, so a plain limit stands in for pagination.
func (s *Storage) ListJobsByUser(ctx context.Context, userID string, limit int) ([]job.Job, error) {
	query := `
		SELECT
			job_id, user_id, repo_url, status, report,
			error_details, created_at, updated_at
		FROM jobs
		WHERE user_id = $1
		ORDER BY created_at DESC, job_id DESC
		LIMIT $2
	`

	var jobs []job.Job
	err := s.db.SelectContext(ctx, &jobs, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// ListStalledPending returns jobs stuck in Pending whose last update is older
// than the threshold. These are the orphans left behind when a queue publish
// failed after the store write, or when a message was lost.
func (s *Storage) ListStalledPending(ctx context.Context, olderThan time.Duration, limit int) ([]job.Job, error) {
	query := `
		SELECT
			job_id, user_id, repo_url, status, report,
			error_details, created_at, updated_at
		FROM jobs
		WHERE status = $1
		  AND updated_at < NOW() - $2::interval
		ORDER BY updated_at ASC
		LIMIT $3
	`

	interval := fmt.Sprintf("%f seconds", olderThan.Seconds())

	var jobs []job.Job
	err := s.db.SelectContext(ctx, &jobs, query, job.StatusPending, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled pending jobs: %w", err)
	}

	return jobs, nil
}

// ResetStalledProcessing releases jobs stuck in Processing past the threshold
// back to Pending and returns them. A claiming worker that dies mid-analysis
// leaves the job in Processing with its queue message consumed on redelivery,
// so nothing else can ever finish it. The status guard in the subquery and
// the outer UPDATE keeps this from racing a live worker that is merely slow:
// a finish that lands first changes the status and the reset skips the row.
func (s *Storage) ResetStalledProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]job.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE status = $2
		  AND job_id IN (
			SELECT job_id
			FROM jobs
			WHERE status = $2
			  AND updated_at < NOW() - $3::interval
			ORDER BY updated_at ASC
			LIMIT $4
		  )
		RETURNING job_id, user_id, repo_url, status, report, error_details, created_at, updated_at
	`

	interval := fmt.Sprintf("%f seconds", olderThan.Seconds())

	var jobs []job.Job
	err := s.db.SelectContext(ctx, &jobs, query, job.StatusPending, job.StatusProcessing, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to reset stalled processing jobs: %w", err)
	}

	return jobs, nil
}

// TouchPending bumps updated_at on a job that is still Pending, so a
// re-enqueued job is not swept again on the next pass. The status guard keeps
// this write legal even if a worker claimed the job in the meantime.
func (s *Storage) TouchPending(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET updated_at = NOW()
		WHERE job_id = $1 AND status = $2
	`

	_, err := s.db.ExecContext(ctx, query, jobID, job.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to touch pending job: %w", err)
	}

	return nil
}
