package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dispatchlab/dispatch/internal/job"
)

// processJob drives one job to a terminal state.
//
// Returning nil means the queue message is consumed (ACK); returning an error
// hands the requeue decision to the pool. Analysis failures are not requeued:
// they mark the job Error, which is terminal, and consume the message the way
// the original pipeline did.
func (w *Worker) processJob(ctx context.Context, msg *job.Message) error {
	w.logger.Info("Processing job",
		slog.String("job_id", msg.JobID),
		slog.String("repo_url", msg.RepoURL),
		slog.String("worker_id", w.workerID),
	)

	// Claim the job: Pending → Processing. With at-least-once delivery a
	// message can arrive twice; the claim is the idempotency point. If the
	// original claimer died mid-analysis the job sits in Processing with this
	// redelivery consumed, until the reconciler releases it back to Pending.
	claimed, err := w.store.ClaimJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, job.ErrJobAlreadyClaimed) {
			w.logger.Warn("Job already claimed or finished, consuming duplicate delivery",
				slog.String("job_id", msg.JobID),
			)
			return nil
		}
		if errors.Is(err, job.ErrJobNotFound) {
			// A message with no backing record: drop it
			w.logger.Error("Queue message references unknown job",
				slog.String("job_id", msg.JobID),
			)
			return fmt.Errorf("unknown job %s: %w", msg.JobID, err)
		}
		// Store unavailable is transient - let the broker redeliver
		return job.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	report, err := w.analyzer.Analyze(jobCtx, claimed.RepoURL)
	if err != nil {
		w.logger.Error("Analysis failed",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)

		if failErr := w.store.FailJob(ctx, msg.JobID, err.Error()); failErr != nil {
			// Leave the job in Processing and retry the whole delivery
			return job.NewRetryableError(fmt.Errorf("failed to mark job as Error: %w", failErr))
		}
		return nil
	}

	if err := w.store.CompleteJob(ctx, msg.JobID, report); err != nil {
		return job.NewRetryableError(fmt.Errorf("failed to mark job as Complete: %w", err))
	}

	w.logger.Info("Job completed",
		slog.String("job_id", msg.JobID),
		slog.Int("report_size", len(report)),
	)

	return nil
}
