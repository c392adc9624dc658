// Package job defines the durable job record and its status machine.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusRetrying   Status = "retrying"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
)

// ErrorMessageMaxLen bounds error_message, matching the producer contract.
const ErrorMessageMaxLen = 2000

// DefaultMaxAttempts is used when a producer does not specify one.
const DefaultMaxAttempts = 3

var (
	ErrNotFound           = errors.New("job not found")
	ErrDeadLetterNotFound = errors.New("dead-letter job not found")
	ErrInvalidPayload     = errors.New("invalid job payload")
	ErrStaleStatus        = errors.New("job not in a claimable status")
)

// Job is the unit of work, persisted durably in the Job Store.
type Job struct {
	ID             string
	Type           string
	Payload        json.RawMessage
	Status         Status
	Attempts       int
	MaxAttempts    int
	ErrorMessage   *string
	IdempotencyKey *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DeadLetterJob is a terminal record retained for operator review.
type DeadLetterJob struct {
	ID           string
	OriginalID   string
	Type         string
	Payload      json.RawMessage
	ErrorMessage string
	Attempts     int
	FailedAt     time.Time
	ResolvedAt   *time.Time
	ResolvedBy   *string
}

// Truncate clips a failure message to at most max characters (runes).
func Truncate(msg string, max int) string {
	runes := []rune(msg)
	if len(runes) <= max {
		return msg
	}
	return string(runes[:max])
}

// Store is the Job Store's persistence contract: durable per-job records,
// source of truth for status/attempts/error/timestamps.
type Store interface {
	// Insert creates a job row in status=pending, attempts=0.
	// If the job's IdempotencyKey is non-empty and a row with that key
	// already exists, Insert returns the existing row and created=false
	// (no new row was created) instead of an error.
	Insert(ctx context.Context, j *Job) (existing *Job, created bool, err error)

	Get(ctx context.Context, id string) (*Job, error)

	List(ctx context.Context, params ListParams) (*ListResult, error)

	// Claim performs Phase A: load by id, verify status ∈ {pending, retrying},
	// set status=processing, attempts++, updated_at=now. Returns ErrNotFound
	// if absent, ErrStaleStatus if not claimable (both non-fatal to the caller).
	Claim(ctx context.Context, id string) (*Job, error)

	// Complete performs the success branch of Phase C.
	Complete(ctx context.Context, id string) error

	// Retry performs the retry branch of Phase C: status=retrying,
	// error_message=truncated, updated_at=now.
	Retry(ctx context.Context, id string, errMsg string) error

	// DeadLetter performs the exhausted branch of Phase C: status=dead_letter,
	// error_message=truncated, updated_at=now, and inserts a DeadLetterJob row.
	DeadLetter(ctx context.Context, id string, errMsg string) error

	ListDeadLetter(ctx context.Context, limit int) ([]*DeadLetterJob, error)

	// RetryDeadLetter creates a fresh pending job (attempts reset to 0) from
	// a dead-lettered record and marks the dead-letter row resolved.
	RetryDeadLetter(ctx context.Context, deadLetterID string) (newJobID string, err error)

	DiscardDeadLetter(ctx context.Context, deadLetterID, note string) error

	// Counts returns the number of jobs in each status, for the metrics surface.
	Counts(ctx context.Context) (map[Status]int64, error)

	Close() error
}

// ListParams filters/paginates List.
type ListParams struct {
	Status *Status
	Limit  int
	Offset int
}

// ListResult is the paginated response to List.
type ListResult struct {
	Items []*Job
	Total int
}
