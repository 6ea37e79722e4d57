package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var _ JobRepo = (*sqlStore)(nil)

func (s *sqlStore) EnqueueJob(spec JobSpec) (string, error) {
	spec = spec.withDefaults()
	id := "job_" + uuid.NewString()
	now := time.Now()

	if spec.DedupeKey != "" {
		var existingID string
		err := s.queryRow(
			`SELECT id FROM jobs WHERE dedupe_key = ? AND status NOT IN ('done', 'failed', 'canceled')`,
			spec.DedupeKey,
		).Scan(&existingID)
		if err == nil {
			slog.Debug("sqlStore.EnqueueJob: dedupe hit", "dedupeKey", spec.DedupeKey, "existingID", existingID)
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("dedupe check failed: %w", err)
		}
	}

	_, err := s.exec(
		`INSERT INTO jobs (id, kind, run_at, payload_json, status, attempt, max_attempts, dedupe_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?, ?)`,
		id, spec.Kind, spec.RunAt, spec.PayloadJSON, spec.MaxAttempts, nilIfEmpty(spec.DedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue job failed: %w", err)
	}
	slog.Debug("sqlStore.EnqueueJob", "id", id, "kind", spec.Kind, "runAt", spec.RunAt)
	return id, nil
}

func (s *sqlStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	if s.dialect == dialectPostgres {
		return s.collectJobs(s.query(
			`UPDATE jobs SET status = 'running', locked_at = ?, updated_at = ?
			 WHERE id IN (
			   SELECT id FROM jobs WHERE status = 'queued' AND run_at <= ?
			   ORDER BY run_at ASC LIMIT ?
			   FOR UPDATE SKIP LOCKED
			 )
			 RETURNING `+jobColumns,
			now, now, now, limit,
		))
	}

	// SQLite has a single writer; select then mark inside one transaction.
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("claim due jobs begin failed: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT `+jobColumns+` FROM jobs WHERE status = 'queued' AND run_at <= ? ORDER BY run_at ASC LIMIT ?`,
		now, limit,
	)
	jobs, err := s.collectJobs(rows, err)
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		if _, err := tx.Exec(`UPDATE jobs SET status = 'running', locked_at = ?, updated_at = ? WHERE id = ?`, now, now, jobs[i].ID); err != nil {
			return nil, fmt.Errorf("mark job running failed: %w", err)
		}
		jobs[i].Status = JobStatusRunning
		jobs[i].LockedAt = &now
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim due jobs commit failed: %w", err)
	}
	return jobs, nil
}

func (s *sqlStore) collectJobs(rows *sql.Rows, err error) ([]Job, error) {
	if err != nil {
		return nil, fmt.Errorf("job query failed: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job failed: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job iteration failed: %w", err)
	}
	return jobs, nil
}

func (s *sqlStore) CompleteJob(id, result string) error {
	_, err := s.exec(
		`UPDATE jobs SET status = 'done', result = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
		nilIfEmpty(result), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("complete job failed: %w", err)
	}
	return nil
}

func (s *sqlStore) FailJob(id string, errMsg string, nextRunAt time.Time) (bool, error) {
	now := time.Now()

	var attempt, maxAttempts int
	err := s.queryRow(`SELECT attempt, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempt, &maxAttempts)
	if err != nil {
		return false, fmt.Errorf("fail job lookup failed: %w", err)
	}

	attempt++
	terminal := attempt >= maxAttempts
	if terminal {
		_, err = s.exec(
			`UPDATE jobs SET status = 'failed', attempt = ?, last_error = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
			attempt, errMsg, now, id,
		)
	} else {
		_, err = s.exec(
			`UPDATE jobs SET status = 'queued', attempt = ?, last_error = ?, run_at = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
			attempt, errMsg, nextRunAt, now, id,
		)
	}
	if err != nil {
		return false, fmt.Errorf("fail job update failed: %w", err)
	}
	return terminal, nil
}

func (s *sqlStore) CancelJob(id string) error {
	_, err := s.exec(
		`UPDATE jobs SET status = 'canceled', locked_at = NULL, updated_at = ? WHERE id = ? AND status IN ('queued', 'running')`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("cancel job failed: %w", err)
	}
	return nil
}

func (s *sqlStore) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	result, err := s.exec(
		`UPDATE jobs SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = 'running' AND locked_at < ?`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("sqlStore.RequeueStaleRunningJobs", "requeued", n)
	}
	return int(n), nil
}

func (s *sqlStore) GetJob(id string) (*Job, error) {
	j, err := scanJob(s.queryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job failed: %w", err)
	}
	return &j, nil
}

func (s *sqlStore) ListJobs(limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.collectJobs(s.query(`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit))
}
