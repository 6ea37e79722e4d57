package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/FormPipe/internal/models"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// sqlStore holds the queries shared by the SQLite and PostgreSQL backends. Queries are written
// with ? placeholders and rebound for PostgreSQL.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(query string, args ...any) (sql.Result, error) {
	return s.db.Exec(s.rebind(query), args...)
}

func (s *sqlStore) query(query string, args ...any) (*sql.Rows, error) {
	return s.db.Query(s.rebind(query), args...)
}

func (s *sqlStore) queryRow(query string, args ...any) *sql.Row {
	return s.db.QueryRow(s.rebind(query), args...)
}

func (s *sqlStore) AddOutcome(o models.Outcome) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	values, err := json.Marshal(o.Values)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome values: %w", err)
	}
	failures, err := json.Marshal(o.Failures)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome failures: %w", err)
	}
	_, err = s.exec(`INSERT INTO outcomes (id, url, status, reason, values_json, failures_json, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.URL, string(o.Status), o.Reason, string(values), string(failures), o.CreatedAt)
	if err != nil {
		slog.Error("sqlStore.AddOutcome: insert failed", "dialect", s.dialect, "url", o.URL, "error", err)
		return fmt.Errorf("failed to insert outcome for %s: %w", o.URL, err)
	}
	slog.Debug("sqlStore.AddOutcome: stored", "dialect", s.dialect, "id", o.ID, "status", o.Status)
	return nil
}

const outcomeColumns = `id, url, status, reason, values_json, failures_json, created_at`

func (s *sqlStore) GetOutcomes() ([]models.Outcome, error) {
	rows, err := s.query(`SELECT ` + outcomeColumns + ` FROM outcomes ORDER BY created_at ASC`)
	if err != nil {
		slog.Error("sqlStore.GetOutcomes: query failed", "dialect", s.dialect, "error", err)
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []models.Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outcome rows: %w", err)
	}
	return outcomes, nil
}

func (s *sqlStore) GetOutcome(id string) (*models.Outcome, error) {
	o, err := scanOutcome(s.queryRow(`SELECT `+outcomeColumns+` FROM outcomes WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome %s: %w", id, err)
	}
	return &o, nil
}

func (s *sqlStore) AddSnapshot(snap models.Snapshot) (int64, error) {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	var id int64
	var err error
	if s.dialect == dialectPostgres {
		err = s.queryRow(`INSERT INTO snapshots (url, reason, html, created_at) VALUES (?, ?, ?, ?) RETURNING id`,
			snap.URL, snap.Reason, snap.HTML, snap.CreatedAt).Scan(&id)
	} else {
		var res sql.Result
		res, err = s.exec(`INSERT INTO snapshots (url, reason, html, created_at) VALUES (?, ?, ?, ?)`,
			snap.URL, snap.Reason, snap.HTML, snap.CreatedAt)
		if err == nil {
			id, err = res.LastInsertId()
		}
	}
	if err != nil {
		slog.Error("sqlStore.AddSnapshot: insert failed", "dialect", s.dialect, "url", snap.URL, "error", err)
		return 0, fmt.Errorf("failed to insert snapshot for %s: %w", snap.URL, err)
	}
	slog.Debug("sqlStore.AddSnapshot: stored", "dialect", s.dialect, "id", id, "reason", snap.Reason, "bytes", len(snap.HTML))
	return id, nil
}

func (s *sqlStore) GetSnapshots(url string) ([]models.Snapshot, error) {
	q := `SELECT id, url, reason, html, created_at FROM snapshots`
	var args []any
	if url != "" {
		q += ` WHERE url = ?`
		args = append(args, url)
	}
	rows, err := s.query(q+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.Snapshot
	for rows.Next() {
		var sn models.Snapshot
		if err := rows.Scan(&sn.ID, &sn.URL, &sn.Reason, &sn.HTML, &sn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		snaps = append(snaps, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshot rows: %w", err)
	}
	return snaps, nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	if s.db == nil {
		return nil
	}
	slog.Debug("sqlStore.Close: closing database", "dialect", s.dialect)
	return s.db.Close()
}
