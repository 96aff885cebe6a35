package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is the queue payload derived from a job at submission time. It
// carries the job id so consumers can update the record by primary key
// instead of correlating by repo URL and user.
type Message struct {
	JobID       string    `json:"jobId"`
	RepoURL     string    `json:"repoUrl"`
	UserID      string    `json:"userId"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Encode serializes the message as UTF-8 JSON for the queue wire contract.
func (m *Message) Encode() ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode queue message: %w", err)
	}
	return body, nil
}

// DecodeMessage parses and validates a queue message body. Malformed bodies
// and bodies without a valid job id are rejected with ErrInvalidMessage so
// consumers can drop them without requeueing.
func DecodeMessage(body []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	if _, err := uuid.Parse(m.JobID); err != nil {
		return nil, fmt.Errorf("%w: jobId %q is not a valid UUID", ErrInvalidMessage, m.JobID)
	}

	if m.RepoURL == "" || m.UserID == "" {
		return nil, fmt.Errorf("%w: missing repoUrl or userId", ErrInvalidMessage)
	}

	return &m, nil
}
