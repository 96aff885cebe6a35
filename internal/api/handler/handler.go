package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/dispatchlab/dispatch/internal/job"
	"github.com/dispatchlab/dispatch/internal/notify"
)

// JobStore is the slice of the job store the submission service depends on.
type JobStore interface {
	CreateJob(ctx context.Context, j *job.Job) error
	GetJobByID(ctx context.Context, jobID string) (*job.Job, error)
	ListJobsByUser(ctx context.Context, userID string, limit int) ([]job.Job, error)
}

// QueuePublisher publishes an opaque payload to the durable analysis queue.
type QueuePublisher interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// HealthChecker probes a backing dependency for the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Store     JobStore
	Publisher QueuePublisher
	Hub       *notify.Hub
	Health    HealthChecker
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	store     JobStore
	publisher QueuePublisher
	hub       *notify.Hub
	health    HealthChecker
	now       func() time.Time
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		publisher: deps.Publisher,
		hub:       deps.Hub,
		health:    deps.Health,
		now:       time.Now,
	}
}
