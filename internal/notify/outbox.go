package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/store"
)

// Outbox queues outcomes in the store's outbox instead of sending them inline. A store.OutboxSender
// running SendFunc delivers them later, retrying failed sends.
type Outbox struct {
	repo      store.OutboxRepo
	recipient string
}

// NewOutbox creates an outbox-backed notifier. recipient is recorded on each message for display.
func NewOutbox(repo store.OutboxRepo, recipient string) *Outbox {
	return &Outbox{repo: repo, recipient: recipient}
}

// Notify enqueues the outcome once per outcome id.
func (o *Outbox) Notify(ctx context.Context, outcome models.Outcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	dedupe := ""
	if outcome.ID != "" {
		dedupe = "outcome:" + outcome.ID
	}
	id, err := o.repo.EnqueueOutboxMessage(o.recipient, store.OutboxKindOutcome, string(payload), dedupe)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	slog.Debug("Outbox.Notify: notification queued", "id", id, "outcome", outcome.ID, "status", outcome.Status)
	return nil
}

// SendFunc adapts a Notifier into the outbox sender callback.
func SendFunc(n Notifier) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		if msg.Kind != store.OutboxKindOutcome {
			return fmt.Errorf("unsupported outbox kind %q", msg.Kind)
		}
		var outcome models.Outcome
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &outcome); err != nil {
			return fmt.Errorf("decode outcome payload: %w", err)
		}
		return n.Notify(ctx, outcome)
	}
}
