package dto

import "encoding/json"

// SubmitRequest is the POST /submit body. Both fields are required; the URL
// is deliberately not parsed here, since submissions with unusual URLs are
// still accepted and surfaced as-is.
type SubmitRequest struct {
	RepoURL string `json:"repoUrl"`
	UserID  string `json:"userId"`
}

// SubmitResponse acknowledges an accepted submission. Acceptance means the
// job record exists and its trigger message is on the queue, not that any
// analysis has happened.
type SubmitResponse struct {
	Message    string `json:"message"`
	RepoURL    string `json:"repoUrl"`
	JobID      string `json:"jobId"`
	AcceptedAt string `json:"acceptedAt"`
}

// ErrorResponse is the structured error body for every non-2xx response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// JobDTO is the read-side representation of a job record.
type JobDTO struct {
	JobID        string          `json:"jobId"`
	UserID       string          `json:"userId"`
	RepoURL      string          `json:"repoUrl"`
	Status       string          `json:"status"`
	Report       json.RawMessage `json:"report,omitempty"`
	ErrorDetails string          `json:"errorDetails,omitempty"`
	CreatedAt    string          `json:"createdAt"`
	UpdatedAt    string          `json:"updatedAt"`
}

// ListJobsResponse wraps a user's jobs, newest first.
type ListJobsResponse struct {
	Jobs []JobDTO `json:"jobs"`
}
