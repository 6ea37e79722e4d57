package form

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/FormPipe/internal/page"
)

// submitSelector finds the explicit submit control of a form.
const submitSelector = `button[type="submit"], input[type="submit"]`

// Verifier submits a filled form and confirms it closed.
type Verifier struct {
	timeouts Timeouts
}

// NewVerifier creates a verifier.
func NewVerifier(timeouts Timeouts) *Verifier {
	return &Verifier{timeouts: timeouts.withDefaults()}
}

// Submit clicks the container's commit action and succeeds only if the container disappears
// within the submission bound. It is not retried.
func (v *Verifier) Submit(ctx context.Context, container page.Element) error {
	err := completeSurface(ctx, container, surfaceAction{
		preferButtons: submitSelector,
		words:         submitWords,
		timeout:       v.timeouts.Submission,
	})
	switch {
	case err == nil:
		slog.Info("Verifier.Submit: form container closed")
		return nil
	case errors.Is(err, page.ErrTimeout):
		slog.Warn("Verifier.Submit: form container still visible", "timeout", v.timeouts.Submission)
		return fmt.Errorf("container visible after %s: %w", v.timeouts.Submission, ErrSubmissionNotConfirmed)
	default:
		slog.Warn("Verifier.Submit: submit failed", "error", err)
		return fmt.Errorf("%w: %v", ErrSubmissionNotConfirmed, err)
	}
}
