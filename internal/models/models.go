// Package models defines the core data structures for FormPipe.
//
// It includes the form-resolution types shared by the engine and the oracle, and the registration
// records persisted by the store and served by the API.
package models

import (
	"errors"
	"net/url"
	"time"
)

// Validation constants for input validation
const (
	// MaxURLLength defines the maximum allowed length for an event URL
	MaxURLLength = 2048
)

// Error variables for better error handling and testability
var (
	ErrEmptyURL     = errors.New("url is required")
	ErrURLTooLong   = errors.New("url exceeds maximum length")
	ErrInvalidURL   = errors.New("url must be an absolute http(s) url")
	ErrRunAtAndCron = errors.New("run_at and cron are mutually exclusive")
	ErrInvalidRunAt = errors.New("run_at must be RFC 3339")
)

// OutcomeStatus is the final state of one registration attempt.
type OutcomeStatus string

const (
	// OutcomeRegistered means the form was submitted and the container closed.
	OutcomeRegistered OutcomeStatus = "registered"
	// OutcomeAlreadyRegistered means the page already showed a registration status.
	OutcomeAlreadyRegistered OutcomeStatus = "already_registered"
	// OutcomeFormFailed means the engine could not produce or submit a complete form.
	OutcomeFormFailed OutcomeStatus = "form_failed"
	// OutcomeError means the page could not be reached or the form never opened.
	OutcomeError OutcomeStatus = "error"
)

// IsValidOutcomeStatus checks if the given outcome status is known.
func IsValidOutcomeStatus(s OutcomeStatus) bool {
	switch s {
	case OutcomeRegistered, OutcomeAlreadyRegistered, OutcomeFormFailed, OutcomeError:
		return true
	default:
		return false
	}
}

// Outcome is the persisted record of one registration attempt.
type Outcome struct {
	ID        string           `json:"id"`
	URL       string           `json:"url"`
	Status    OutcomeStatus    `json:"status"`
	Reason    string           `json:"reason,omitempty"`
	Values    ResolutionResult `json:"values,omitempty"`
	Failures  []FieldFailure   `json:"failures,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Succeeded reports whether the attempt left the owner registered.
func (o Outcome) Succeeded() bool {
	return o.Status == OutcomeRegistered || o.Status == OutcomeAlreadyRegistered
}

// Snapshot is a markup dump kept for diagnosing forms the engine could not read.
type Snapshot struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Reason    string    `json:"reason"`
	HTML      string    `json:"html"`
	CreatedAt time.Time `json:"created_at"`
}

// RegistrationRequest is the payload for enqueueing or scheduling a registration.
type RegistrationRequest struct {
	URL   string `json:"url"`
	RunAt string `json:"run_at,omitempty"` // RFC 3339; empty means as soon as possible
	Cron  string `json:"cron,omitempty"`   // recurring schedule, validated by the scheduler
}

// Validate performs validation on a RegistrationRequest.
func (r *RegistrationRequest) Validate() error {
	if r.URL == "" {
		return ErrEmptyURL
	}
	if len(r.URL) > MaxURLLength {
		return ErrURLTooLong
	}
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	if r.RunAt != "" && r.Cron != "" {
		return ErrRunAtAndCron
	}
	if r.RunAt != "" {
		if _, err := time.Parse(time.RFC3339, r.RunAt); err != nil {
			return ErrInvalidRunAt
		}
	}
	return nil
}

// RunAtTime returns the parsed run_at, or the zero time when absent or invalid.
func (r *RegistrationRequest) RunAtTime() time.Time {
	if r.RunAt == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, r.RunAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// RegistrationPayload is the payload of a registration job.
type RegistrationPayload struct {
	URL string `json:"url"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusScheduled indicates an API request resulted in a scheduled registration.
	APIStatusScheduled APIStatus = "scheduled"
	// APIStatusQueued indicates a registration job was enqueued.
	APIStatusQueued APIStatus = "queued"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string `json:"status"`            // status of the API response
	Message string `json:"message,omitempty"` // optional message for error responses or additional info
	Result  any    `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result any) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result any) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithResult(result).Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusError).WithMessage(message).Build()
}

// Queued creates a response for an enqueued registration job.
func Queued(result any) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusQueued).WithResult(result).Build()
}

// ScheduledWithMessage creates a scheduled API response with a message.
func ScheduledWithMessage(message string, result any) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusScheduled).WithMessage(message).WithResult(result).Build()
}
