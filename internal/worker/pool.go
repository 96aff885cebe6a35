package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dispatchlab/dispatch/internal/job"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case d, ok := <-w.jobsChan:
			if !ok {
				return
			}

			w.logger.Info("Worker received job",
				slog.String("worker_name", workerName),
				slog.String("job_id", d.msg.JobID),
				slog.Uint64("delivery_tag", d.tag),
			)

			err := w.processJob(ctx, d.msg)

			if err != nil {
				requeue := w.shouldRequeueJob(err)
				w.logger.Error("Job processing failed",
					slog.String("worker_name", workerName),
					slog.String("job_id", d.msg.JobID),
					slog.Bool("requeue", requeue),
					slog.String("error", err.Error()),
				)

				if nackErr := w.rabbitClient.Nack(d.tag, requeue); nackErr != nil {
					w.logger.Error("Failed to NACK message",
						slog.String("worker_name", workerName),
						slog.String("job_id", d.msg.JobID),
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			// The job reached a terminal state (or was already owned by
			// someone else) - the message is done either way
			if ackErr := w.rabbitClient.Ack(d.tag); ackErr != nil {
				w.logger.Error("Failed to ACK message",
					slog.String("worker_name", workerName),
					slog.String("job_id", d.msg.JobID),
					slog.String("error", ackErr.Error()),
				)
			} else {
				w.logger.Info("Job finished",
					slog.String("worker_name", workerName),
					slog.String("job_id", d.msg.JobID),
				)
			}
		}
	}
}

// shouldRequeueJob determines whether a failed job should go back on the
// queue. Only transient errors are worth another delivery.
func (w *Worker) shouldRequeueJob(err error) bool {
	var retryableErr *job.RetryableError
	if errors.As(err, &retryableErr) {
		return true
	}
	return false
}
