package worker

import (
	"context"
	"log/slog"

	"github.com/dispatchlab/dispatch/internal/job"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer starts consuming the analysis queue with manual
// acknowledgment and the configured prefetch.
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := w.rabbitClient.Consume(w.workerID)
	if err != nil {
		return nil, err
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
	)

	return deliveries, nil
}

// runDispatcher decodes incoming deliveries and hands them to the worker
// pool. Malformed messages are rejected without requeue so they cannot cycle
// through the queue forever.
func (w *Worker) runDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case d, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			msg, err := job.DecodeMessage(d.Body)
			if err != nil {
				w.logger.Error("Rejecting malformed queue message",
					slog.String("body", string(d.Body)),
					slog.String("error", err.Error()),
				)
				if nackErr := d.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			select {
			case w.jobsChan <- &delivery{msg: msg, tag: d.DeliveryTag}:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID),
					slog.Uint64("delivery_tag", d.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				// Requeue so another consumer picks the job up
				if nackErr := d.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}
