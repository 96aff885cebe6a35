package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dispatchlab/dispatch/internal/api/dto"
	"github.com/dispatchlab/dispatch/internal/job"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const timeFormat = time.RFC3339

// maxListJobs caps GET /api/v1/jobs results
const maxListJobs = 100

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Message: "job_id must be a valid UUID.",
		})
		return
	}

	j, err := h.store.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{
				Message: "Job not found.",
			})
			return
		}
		h.logger.Error("Failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Message: "Failed to get job.",
		})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(j))
}

// ListJobs handles GET /api/v1/jobs?user_id=...
//
// The read surface the client UI polls when it is not holding a WebSocket
// subscription. Always newest first.
func (h *JobHandler) ListJobs(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Message: "user_id query parameter is required.",
		})
		return
	}

	jobs, err := h.store.ListJobsByUser(c.Request.Context(), userID, maxListJobs)
	if err != nil {
		h.logger.Error("Failed to list jobs",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Message: "Failed to list jobs.",
		})
		return
	}

	out := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		out[i] = toJobDTO(&jobs[i])
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{Jobs: out})
}

func toJobDTO(j *job.Job) dto.JobDTO {
	d := dto.JobDTO{
		JobID:     j.JobID,
		UserID:    j.UserID,
		RepoURL:   j.RepoURL,
		Status:    j.Status,
		Report:    j.Report,
		CreatedAt: j.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt: j.UpdatedAt.UTC().Format(timeFormat),
	}
	if j.ErrorDetails.Valid {
		d.ErrorDetails = j.ErrorDetails.String
	}
	return d
}
