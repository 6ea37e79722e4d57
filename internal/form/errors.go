package form

import "errors"

// Failure taxonomy. Callers wrap these with %w and check them with errors.Is.
var (
	// ErrElementNotFound means a field or control could not be located on the page.
	ErrElementNotFound = errors.New("element not found")
	// ErrOracleUnavailable means the oracle returned nothing usable for the whole batch.
	ErrOracleUnavailable = errors.New("oracle unavailable")
	// ErrOracleAnswerInvalid means the oracle answer for a field was missing, null or illegal.
	ErrOracleAnswerInvalid = errors.New("oracle answer invalid")
	// ErrMandatoryUnresolved means a mandatory field has no legal committed value.
	ErrMandatoryUnresolved = errors.New("mandatory field unresolved")
	// ErrSecondaryDialogTimeout means the terms confirmation dialog never appeared or never closed.
	ErrSecondaryDialogTimeout = errors.New("secondary dialog timeout")
	// ErrSubmissionNotConfirmed means the form container was still visible after submitting.
	ErrSubmissionNotConfirmed = errors.New("submission not confirmed")
)
