package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanOutcome(sc scanner) (models.Outcome, error) {
	var o models.Outcome
	var status string
	var reason, values, failures sql.NullString
	if err := sc.Scan(&o.ID, &o.URL, &status, &reason, &values, &failures, &o.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return o, err
		}
		return o, fmt.Errorf("scan outcome failed: %w", err)
	}
	o.Status = models.OutcomeStatus(status)
	o.Reason = reason.String
	if values.Valid && values.String != "" && values.String != "null" {
		if err := json.Unmarshal([]byte(values.String), &o.Values); err != nil {
			return o, fmt.Errorf("decode outcome values: %w", err)
		}
	}
	if failures.Valid && failures.String != "" && failures.String != "null" {
		if err := json.Unmarshal([]byte(failures.String), &o.Failures); err != nil {
			return o, fmt.Errorf("decode outcome failures: %w", err)
		}
	}
	return o, nil
}

const jobColumns = `id, kind, run_at, payload_json, status, attempt, max_attempts, last_error, result, locked_at, dedupe_key, created_at, updated_at`

// scanJob scans a Job from a row.
func scanJob(sc scanner) (Job, error) {
	var j Job
	var payloadJSON, lastError, result, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := sc.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &result, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.Result = result.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

const outboxColumns = `id, recipient, kind, payload_json, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`

// scanOutboxMessage scans an OutboxMessage from a row.
func scanOutboxMessage(sc scanner) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := sc.Scan(
		&m.ID, &m.Recipient, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}
