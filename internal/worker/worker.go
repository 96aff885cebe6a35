package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dispatchlab/dispatch/internal/job"
	"github.com/dispatchlab/dispatch/shared/rabbitmq"
	"github.com/google/uuid"
)

// Store is the worker-side view of the job store: claiming a Pending job and
// finishing it. All three operations are guarded by the current status, so a
// redelivered message for an already-claimed or terminal job is a no-op.
type Store interface {
	ClaimJob(ctx context.Context, jobID string) (*job.Job, error)
	CompleteJob(ctx context.Context, jobID string, report []byte) error
	FailJob(ctx context.Context, jobID string, details string) error
}

// Analyzer produces the analysis report for a repository. The report is an
// opaque payload owned by the analyzer; the worker only stores it.
type Analyzer interface {
	Analyze(ctx context.Context, repoURL string) ([]byte, error)
}

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	RabbitClient *rabbitmq.Client
	Store        Store
	Analyzer     Analyzer
	Concurrency  int
	JobTimeout   time.Duration
}

// delivery pairs a decoded queue message with its broker delivery tag
type delivery struct {
	msg *job.Message
	tag uint64
}

// Worker consumes the analysis queue and drives jobs through
// Processing to a terminal state.
type Worker struct {
	logger       *slog.Logger
	rabbitClient *rabbitmq.Client
	store        Store
	analyzer     Analyzer
	concurrency  int
	jobTimeout   time.Duration
	workerID     string
	jobsChan     chan *delivery
	wg           sync.WaitGroup
	stopChan     chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:       cfg.Logger,
		rabbitClient: cfg.RabbitClient,
		store:        cfg.Store,
		analyzer:     cfg.Analyzer,
		concurrency:  cfg.Concurrency,
		jobTimeout:   cfg.JobTimeout,
		workerID:     fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		jobsChan:     make(chan *delivery),
		stopChan:     make(chan struct{}),
	}
}

// Start begins consuming and processing jobs. Blocks until the context is
// canceled or the delivery channel closes.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.runDispatcher(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker pool
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
