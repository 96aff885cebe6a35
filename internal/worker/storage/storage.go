package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dispatchlab/dispatch/internal/job"
	"github.com/jmoiron/sqlx"
)

// Storage is the worker-side view of the job store. Every mutation is
// guarded by the expected prior status, which is how the legal transition
// table (Pending → Processing → Complete|Error) is enforced at the store
// boundary: an update against the wrong prior state changes zero rows.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ClaimJob moves a job from Pending to Processing using optimistic locking.
// Returns ErrJobAlreadyClaimed when the job is not Pending (another worker
// owns it, or it already finished) and ErrJobNotFound when no record exists.
func (s *Storage) ClaimJob(ctx context.Context, jobID string) (*job.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE job_id = $2
		  AND status = $3
		RETURNING job_id, user_id, repo_url, status, report, error_details, created_at, updated_at
	`

	var j job.Job
	err := s.db.GetContext(ctx, &j, query, job.StatusProcessing, jobID, job.StatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if exists, existsErr := s.jobExists(ctx, jobID); existsErr == nil && !exists {
				return nil, job.ErrJobNotFound
			}
			return nil, job.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed",
		slog.String("job_id", jobID),
	)

	return &j, nil
}

// CompleteJob moves a job from Processing to Complete and attaches the
// report produced by the analyzer.
func (s *Storage) CompleteJob(ctx context.Context, jobID string, report []byte) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    report = $2,
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
	`

	return s.finish(ctx, jobID, job.StatusComplete, query, job.StatusComplete, report, jobID, job.StatusProcessing)
}

// FailJob moves a job from Processing to Error and records why.
func (s *Storage) FailJob(ctx context.Context, jobID string, details string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    error_details = $2,
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
	`

	return s.finish(ctx, jobID, job.StatusError, query, job.StatusError, details, jobID, job.StatusProcessing)
}

func (s *Storage) finish(ctx context.Context, jobID, status, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: job %s is not in %s", job.ErrIllegalTransition, jobID, job.StatusProcessing)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)

	return nil
}

func (s *Storage) jobExists(ctx context.Context, jobID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, "SELECT EXISTS (SELECT 1 FROM jobs WHERE job_id = $1)", jobID)
	if err != nil {
		return false, err
	}
	return exists, nil
}
