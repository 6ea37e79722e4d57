package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var _ OutboxRepo = (*sqlStore)(nil)

func (s *sqlStore) EnqueueOutboxMessage(recipient, kind, payloadJSON, dedupeKey string) (string, error) {
	id := "outbox_" + uuid.NewString()
	now := time.Now()

	if dedupeKey != "" {
		var existingID string
		err := s.queryRow(
			`SELECT id FROM outbox_messages WHERE dedupe_key = ? AND status NOT IN ('sent', 'failed', 'canceled')`,
			dedupeKey,
		).Scan(&existingID)
		if err == nil {
			slog.Debug("sqlStore.EnqueueOutboxMessage: dedupe hit", "dedupeKey", dedupeKey, "existingID", existingID)
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("outbox dedupe check failed: %w", err)
		}
	}

	_, err := s.exec(
		`INSERT INTO outbox_messages (id, recipient, kind, payload_json, status, attempts, dedupe_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?)`,
		id, recipient, kind, payloadJSON, nilIfEmpty(dedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox message failed: %w", err)
	}
	slog.Debug("sqlStore.EnqueueOutboxMessage", "id", id, "recipient", recipient, "kind", kind)
	return id, nil
}

func (s *sqlStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("claim outbox begin failed: %w", err)
	}
	defer tx.Rollback()

	q := `SELECT ` + outboxColumns + ` FROM outbox_messages
		 WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY created_at ASC LIMIT ?`
	if s.dialect == dialectPostgres {
		q += ` FOR UPDATE SKIP LOCKED`
	}
	rows, err := tx.Query(s.rebind(q), now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox messages failed: %w", err)
	}
	var msgs []OutboxMessage
	for rows.Next() {
		m, err := scanOutboxMessage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim outbox iteration failed: %w", err)
	}

	for i := range msgs {
		_, err := tx.Exec(s.rebind(`UPDATE outbox_messages SET status = 'sending', locked_at = ?, updated_at = ? WHERE id = ?`), now, now, msgs[i].ID)
		if err != nil {
			return nil, fmt.Errorf("mark outbox sending failed: %w", err)
		}
		msgs[i].Status = OutboxStatusSending
		msgs[i].LockedAt = &now
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim outbox commit failed: %w", err)
	}
	return msgs, nil
}

func (s *sqlStore) MarkOutboxMessageSent(id string) error {
	_, err := s.exec(
		`UPDATE outbox_messages SET status = 'sent', locked_at = NULL, updated_at = ? WHERE id = ?`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox sent failed: %w", err)
	}
	return nil
}

func (s *sqlStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	_, err := s.exec(
		`UPDATE outbox_messages
		 SET status = CASE WHEN attempts + 1 >= ? THEN 'failed' ELSE 'queued' END,
		     attempts = attempts + 1, last_error = ?, next_attempt_at = ?, locked_at = NULL, updated_at = ?
		 WHERE id = ?`,
		MaxOutboxAttempts, errMsg, nextAttemptAt, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("fail outbox message failed: %w", err)
	}
	return nil
}

func (s *sqlStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	result, err := s.exec(
		`UPDATE outbox_messages SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = 'sending' AND locked_at < ?`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox messages failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("sqlStore.RequeueStaleSendingMessages", "requeued", n)
	}
	return int(n), nil
}
