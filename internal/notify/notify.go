// Package notify tells the operator how a registration attempt ended.
//
// Notifier implementations deliver a short text summary of a models.Outcome over Twilio (SMS or
// WhatsApp) or a linked whatsmeow device. Outbox wraps any of them so delivery survives restarts.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// ErrNoRecipient is returned when a notifier has nobody to send to.
var ErrNoRecipient = errors.New("notification recipient not set")

// Notifier delivers an outcome summary to the operator.
type Notifier interface {
	Notify(ctx context.Context, outcome models.Outcome) error
}

// Format renders the outcome as a short plain-text message.
func Format(o models.Outcome) string {
	var b strings.Builder
	switch o.Status {
	case models.OutcomeRegistered:
		b.WriteString("Registered")
	case models.OutcomeAlreadyRegistered:
		b.WriteString("Already registered")
	case models.OutcomeFormFailed:
		b.WriteString("Registration form failed")
	default:
		b.WriteString("Registration error")
	}
	fmt.Fprintf(&b, ": %s", o.URL)
	if o.Reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", o.Reason)
	}
	if len(o.Failures) > 0 {
		names := make([]string, 0, len(o.Failures))
		for _, f := range o.Failures {
			names = append(names, f.Identifier)
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "\nUnresolved: %s", strings.Join(names, ", "))
	}
	return b.String()
}

// Log writes outcomes to the structured log only. It is used when no transport is configured.
type Log struct{}

func (Log) Notify(ctx context.Context, o models.Outcome) error {
	slog.Info("notify.Log: registration finished", "url", o.URL, "status", o.Status, "reason", o.Reason)
	return nil
}

// Multi fans an outcome out to several notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, o models.Outcome) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MockNotifier records outcomes for tests.
type MockNotifier struct {
	mu       sync.Mutex
	Outcomes []models.Outcome
	Err      error
}

// NewMockNotifier creates an empty MockNotifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) Notify(ctx context.Context, o models.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outcomes = append(m.Outcomes, o)
	return m.Err
}

// Sent returns a copy of the recorded outcomes.
func (m *MockNotifier) Sent() []models.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Outcome(nil), m.Outcomes...)
}
