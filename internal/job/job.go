package job

import (
	"database/sql"
	"time"
)

// Job status values. Pending is the initial state, Complete and Error are
// terminal.
const (
	StatusPending    = "Pending"
	StatusProcessing = "Processing"
	StatusComplete   = "Complete"
	StatusError      = "Error"
)

// Job represents one repository-analysis request and its lifecycle record.
// The record in the jobs table is the source of truth; queue messages are
// derived from it and only trigger work.
type Job struct {
	JobID        string         `db:"job_id"`
	UserID       string         `db:"user_id"`
	RepoURL      string         `db:"repo_url"`
	Status       string         `db:"status"`
	Report       []byte         `db:"report"`
	ErrorDetails sql.NullString `db:"error_details"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// transitions is the legal transition table. Workers drive
// Pending → Processing → {Complete, Error}; nothing leaves a terminal state.
// Processing → Pending is the recovery path: the reconciler releases jobs
// whose claiming worker died before finishing.
var transitions = map[string][]string{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusComplete, StatusError, StatusPending},
}

// IsValidStatus reports whether s is a known job status.
func IsValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusComplete, StatusError:
		return true
	}
	return false
}

// IsTerminal reports whether a job in this status admits no further
// transitions.
func IsTerminal(status string) bool {
	return status == StatusComplete || status == StatusError
}

// CanTransition reports whether moving a job from one status to another is
// legal. Self-transitions are not legal; terminal states have no successors.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
