package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// LanguageAuto asks the summarizer to answer in the language of the input.
const LanguageAuto = "Auto"

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition enforces the forward-only lifecycle
// queued -> processing -> completed|failed. A queued job may also fail
// directly when it never reaches a worker.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Job is one URL-processing request tracked from enqueue to its terminal state.
type Job struct {
	ID           string
	URL          string
	UserID       string
	Language     string
	Status       JobStatus
	Result       json.RawMessage
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewJob(id, url, userID, language string, now time.Time) *Job {
	if strings.TrimSpace(language) == "" {
		language = LanguageAuto
	}
	return &Job{
		ID:        id,
		URL:       url,
		UserID:    userID,
		Language:  language,
		Status:    JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (j *Job) MarkProcessing(now time.Time) error {
	return j.transition(JobStatusProcessing, now)
}

// Complete stores the result payload; a completed job always carries one.
func (j *Job) Complete(result json.RawMessage, now time.Time) error {
	if len(result) == 0 {
		return fmt.Errorf("%w: completed job requires a result", ErrInvalidTransition)
	}
	if err := j.transition(JobStatusCompleted, now); err != nil {
		return err
	}
	j.Result = append(json.RawMessage(nil), result...)
	j.ErrorMessage = ""
	return nil
}

func (j *Job) Fail(message string, now time.Time) error {
	if strings.TrimSpace(message) == "" {
		message = UnknownErrorMessage
	}
	if err := j.transition(JobStatusFailed, now); err != nil {
		return err
	}
	j.Result = nil
	j.ErrorMessage = message
	return nil
}

func (j *Job) transition(next JobStatus, now time.Time) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
	}
	j.Status = next
	j.UpdatedAt = now
	return nil
}

// QueueMessage is the transport format sent to queue backends.
type QueueMessage struct {
	JobID       string    `json:"job_id"`
	URL         string    `json:"url"`
	UserID      string    `json:"user_id"`
	Language    string    `json:"language"`
	RequestedAt time.Time `json:"requested_at"`
}

// JobResult is the payload stored on a completed job.
type JobResult struct {
	Data             json.RawMessage  `json:"data"`
	OriginalURL      string           `json:"original_url"`
	ProcessedAt      time.Time        `json:"processed_at"`
	ExtractionMethod ExtractionMethod `json:"extraction_method,omitempty"`
}
