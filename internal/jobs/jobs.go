package jobs

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a translation job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	ErrNotFound  = errors.New("job not found")
	ErrNotReady  = errors.New("job result not ready")
	ErrQueueFull = errors.New("job queue full")
)

// ValidationError rejects an upload before a job is created. It maps to a
// client error rather than a failed job.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Job is one uploaded-file translation. Progress moves through fixed
// stages: 10 queued, 20 started, 50 transcribed, 70 translated, 90
// synthesized, 100 complete.
type Job struct {
	ID             string    `json:"id"`
	Status         Status    `json:"status"`
	Progress       int       `json:"progress"`
	SourceLanguage string    `json:"source_language"`
	TargetLanguage string    `json:"target_language"`
	Transcription  string    `json:"transcription,omitempty"`
	Translation    string    `json:"translation,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	audio  []byte
	result []byte
}

func (j *Job) clone() *Job {
	out := *j
	out.audio = nil
	out.result = nil
	return &out
}
