// ABOUTME: Job record and status model for the named work queues
// ABOUTME: Defines the lifecycle states and the errors the queue manager returns

package jobs

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDelayed   Status = "delayed"
)

// Terminal reports whether a job in this status will never run again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Queue manager errors
var (
	ErrQueueUnknown   = errors.New("unknown queue")
	ErrQueueSaturated = errors.New("queue saturated")
	ErrJobNotFound    = errors.New("job not found")
	ErrNoJob          = errors.New("no job available")
)

// Job is one unit of background work on a named queue.
type Job struct {
	ID      string          `json:"id"`
	Queue   string          `json:"queue"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Status  Status          `json:"status"`

	// Attempts counts deliveries to a worker; a claim starts an attempt.
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"maxAttempts"`
	Error       string `json:"error,omitempty"`
	// Result is the outcome recorded when the job completed.
	Result json.RawMessage `json:"result,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// AvailableAt is when a delayed job becomes claimable.
	AvailableAt time.Time `json:"availableAt"`
	// ProcessedAt is when a worker last claimed the job.
	ProcessedAt time.Time `json:"processedAt,omitempty"`
	FinishedAt  time.Time `json:"finishedAt,omitempty"`
}

func cloneJob(j *Job) *Job {
	if j == nil {
		return nil
	}
	clone := *j
	if j.Payload != nil {
		clone.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.Result != nil {
		clone.Result = append(json.RawMessage(nil), j.Result...)
	}
	return &clone
}
