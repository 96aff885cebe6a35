package handler

import (
	"log/slog"
	"net/http"

	"github.com/dispatchlab/dispatch/internal/api/dto"
	"github.com/dispatchlab/dispatch/internal/job"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Submit handles POST /submit
//
// Accepts a repository for analysis: writes the job record first (so a worker
// can always find the record it needs to update), then publishes the trigger
// message. The two effects are not transactional; a publish failure leaves
// the Pending record in place for the reconciler and surfaces a 500.
func (h *JobHandler) Submit(c *gin.Context) {
	var req dto.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Message: "Invalid request body.",
		})
		return
	}

	// Presence is the only hard requirement. A repo URL that does not parse
	// is still accepted; clients fall back to displaying the raw string.
	if req.RepoURL == "" || req.UserID == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Message: "Missing repoUrl or userId in request body.",
		})
		return
	}

	// The store stamps created_at and updated_at from its own clock; stamping
	// them here from the API clock could order updated_at before created_at
	// under skew.
	now := h.now().UTC()
	j := &job.Job{
		JobID:   uuid.New().String(),
		UserID:  req.UserID,
		RepoURL: req.RepoURL,
		Status:  job.StatusPending,
	}

	h.logger.Info("Received job submission",
		slog.String("job_id", j.JobID),
		slog.String("user_id", j.UserID),
		slog.String("repo_url", j.RepoURL),
	)

	if err := h.store.CreateJob(c.Request.Context(), j); err != nil {
		h.logger.Error("Failed to create job record",
			slog.String("job_id", j.JobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Message: "Failed to create job.",
		})
		return
	}

	msg := &job.Message{
		JobID:       j.JobID,
		RepoURL:     j.RepoURL,
		UserID:      j.UserID,
		SubmittedAt: now,
	}

	body, err := msg.Encode()
	if err != nil {
		h.logger.Error("Failed to encode queue message",
			slog.String("job_id", j.JobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Message: "Failed to queue job.",
		})
		return
	}

	if err := h.publisher.Publish(c.Request.Context(), body, "application/json"); err != nil {
		// The job record is intentionally not rolled back: the reconciler
		// re-enqueues Pending jobs older than its threshold.
		h.logger.Error("Failed to publish queue message, job remains Pending",
			slog.String("job_id", j.JobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Message: "Failed to queue job.",
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitResponse{
		Message:    "Job accepted for analysis.",
		RepoURL:    j.RepoURL,
		JobID:      j.JobID,
		AcceptedAt: now.Format(timeFormat),
	})
}
