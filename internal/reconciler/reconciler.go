// Package reconciler repairs the two ways a job can wedge short of a terminal
// state. A job whose queue message was never published (or was lost) stays
// Pending forever unless someone re-derives the message from the record. A
// job whose claiming worker died mid-analysis stays Processing forever: the
// broker redelivers the unacked message, but the claim guard consumes the
// redelivery as a duplicate. The sweep repairs both on a timer, re-publishing
// stalled Pending jobs and releasing stalled Processing jobs back to Pending.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/dispatchlab/dispatch/internal/job"
)

// Store is the slice of the job store the sweep needs.
type Store interface {
	ListStalledPending(ctx context.Context, olderThan time.Duration, limit int) ([]job.Job, error)
	ResetStalledProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]job.Job, error)
	TouchPending(ctx context.Context, jobID string) error
}

// Publisher publishes a queue message payload.
type Publisher interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// Config holds reconciler configuration. ProcessingThreshold must exceed the
// worker job timeout so the sweep never releases a job still being analyzed.
type Config struct {
	Logger              *slog.Logger
	Store               Store
	Publisher           Publisher
	SweepInterval       time.Duration
	PendingThreshold    time.Duration
	ProcessingThreshold time.Duration
	BatchSize           int
}

// Reconciler periodically re-enqueues stalled Pending jobs and releases
// stalled Processing jobs.
type Reconciler struct {
	logger              *slog.Logger
	store               Store
	publisher           Publisher
	sweepInterval       time.Duration
	pendingThreshold    time.Duration
	processingThreshold time.Duration
	batchSize           int
	now                 func() time.Time
}

// New creates a reconciler
func New(cfg *Config) *Reconciler {
	return &Reconciler{
		logger:              cfg.Logger,
		store:               cfg.Store,
		publisher:           cfg.Publisher,
		sweepInterval:       cfg.SweepInterval,
		pendingThreshold:    cfg.PendingThreshold,
		processingThreshold: cfg.ProcessingThreshold,
		batchSize:           cfg.BatchSize,
		now:                 time.Now,
	}
}

// Run sweeps on the configured interval until the context is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("Reconciler started",
		slog.Duration("sweep_interval", r.sweepInterval),
		slog.Duration("pending_threshold", r.pendingThreshold),
	)

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopping - context canceled")
			return

		case <-ticker.C:
			republished, err := r.Sweep(ctx)
			if err != nil {
				r.logger.Error("Sweep failed",
					slog.Any("error", err),
				)
				continue
			}
			if republished > 0 {
				r.logger.Info("Sweep re-enqueued stalled jobs",
					slog.Int("count", republished),
				)
			}
		}
	}
}

// Sweep runs both repair phases and returns how many jobs were re-enqueued.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	pending, err := r.sweepPending(ctx)
	if err != nil {
		return 0, err
	}

	released, err := r.sweepProcessing(ctx)
	if err != nil {
		return pending, err
	}

	return pending + released, nil
}

// sweepPending re-publishes the queue message for every job stuck in Pending
// past the threshold, then bumps the job so the next sweep skips it.
// Re-enqueueing a job whose original message merely sat unconsumed produces a
// duplicate delivery, which the worker's claim step already absorbs.
func (r *Reconciler) sweepPending(ctx context.Context) (int, error) {
	stalled, err := r.store.ListStalledPending(ctx, r.pendingThreshold, r.batchSize)
	if err != nil {
		return 0, err
	}

	republished := 0
	for i := range stalled {
		j := &stalled[i]

		if err := r.republish(ctx, j); err != nil {
			// Leave the job untouched so the next sweep retries it
			r.logger.Error("Failed to re-enqueue stalled job",
				slog.String("job_id", j.JobID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := r.store.TouchPending(ctx, j.JobID); err != nil {
			r.logger.Warn("Re-enqueued job but failed to bump it",
				slog.String("job_id", j.JobID),
				slog.String("error", err.Error()),
			)
		}

		r.logger.Info("Re-enqueued stalled job",
			slog.String("job_id", j.JobID),
			slog.String("repo_url", j.RepoURL),
			slog.Time("created_at", j.CreatedAt),
		)
		republished++
	}

	return republished, nil
}

// sweepProcessing releases jobs stuck in Processing past the threshold back
// to Pending and re-enqueues them. This is the only recovery path for a job
// whose claiming worker crashed: its redelivered message is consumed by the
// claim guard as a duplicate, so no further delivery will finish it.
func (r *Reconciler) sweepProcessing(ctx context.Context) (int, error) {
	released, err := r.store.ResetStalledProcessing(ctx, r.processingThreshold, r.batchSize)
	if err != nil {
		return 0, err
	}

	republished := 0
	for i := range released {
		j := &released[i]

		if err := r.republish(ctx, j); err != nil {
			// The job is already back in Pending; the pending sweep retries it
			r.logger.Error("Released stalled job but failed to re-enqueue it",
				slog.String("job_id", j.JobID),
				slog.String("error", err.Error()),
			)
			continue
		}

		r.logger.Info("Released stalled job back to Pending",
			slog.String("job_id", j.JobID),
			slog.String("repo_url", j.RepoURL),
			slog.Time("created_at", j.CreatedAt),
		)
		republished++
	}

	return republished, nil
}

func (r *Reconciler) republish(ctx context.Context, j *job.Job) error {
	msg := &job.Message{
		JobID:       j.JobID,
		RepoURL:     j.RepoURL,
		UserID:      j.UserID,
		SubmittedAt: r.now().UTC(),
	}

	body, err := msg.Encode()
	if err != nil {
		return err
	}

	return r.publisher.Publish(ctx, body, "application/json")
}
