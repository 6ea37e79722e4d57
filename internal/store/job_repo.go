package store

import (
	"time"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusDone     JobStatus = "done"
	JobStatusFailed   JobStatus = "failed"
	JobStatusCanceled JobStatus = "canceled"
)

// IsTerminal reports whether the job will never run again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed || s == JobStatusCanceled
}

// JobKindRegistration is the kind of a job that registers for one event URL.
const JobKindRegistration = "registration"

// DefaultMaxAttempts is used when a JobSpec does not set MaxAttempts.
const DefaultMaxAttempts = 3

// Job is a durable unit of work.
type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	RunAt       time.Time  `json:"run_at"`
	PayloadJSON string     `json:"payload_json"`
	Status      JobStatus  `json:"status"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error,omitempty"`
	Result      string     `json:"result,omitempty"` // handler result, the outcome id for registrations
	LockedAt    *time.Time `json:"locked_at,omitempty"`
	DedupeKey   string     `json:"dedupe_key,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobSpec describes a job to enqueue.
type JobSpec struct {
	Kind        string
	RunAt       time.Time
	PayloadJSON string
	DedupeKey   string // a live job with the same key absorbs the new one
	MaxAttempts int
}

// JobRepo defines the interface for durable job persistence.
type JobRepo interface {
	// EnqueueJob inserts a new job. If DedupeKey is non-empty and a non-terminal job with that
	// key already exists, the existing job ID is returned and nothing is inserted.
	EnqueueJob(spec JobSpec) (string, error)

	// ClaimDueJobs marks up to limit queued jobs whose run_at <= now as running and returns them.
	ClaimDueJobs(now time.Time, limit int) ([]Job, error)

	// CompleteJob marks a job as done and stores the handler result.
	CompleteJob(id, result string) error

	// FailJob stores the error and requeues the job at nextRunAt while attempts remain. It
	// reports whether the job is now permanently failed.
	FailJob(id string, errMsg string, nextRunAt time.Time) (bool, error)

	// CancelJob marks a job as canceled.
	CancelJob(id string) error

	// RequeueStaleRunningJobs resets jobs that have been running since before staleBefore back
	// to queued status (crash recovery).
	RequeueStaleRunningJobs(staleBefore time.Time) (int, error)

	// GetJob retrieves a single job by ID; nil, nil when unknown.
	GetJob(id string) (*Job, error)

	// ListJobs returns the most recently created jobs, newest first.
	ListJobs(limit int) ([]Job, error)
}

func (s JobSpec) withDefaults() JobSpec {
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = DefaultMaxAttempts
	}
	if s.RunAt.IsZero() {
		s.RunAt = time.Now()
	}
	return s
}
