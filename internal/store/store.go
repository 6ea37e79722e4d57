// Package store provides storage backends for FormPipe.
//
// A backend keeps the append-only outcome log, the markup snapshots taken when a form could not be
// read, the durable registration job queue and the notification outbox. Backends are in-memory,
// SQLite and PostgreSQL.
package store

import (
	"errors"
	"strings"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// ErrDSNNotSet is returned when a SQL backend is created without a DSN.
var ErrDSNNotSet = errors.New("database DSN not set")

// Store is the outcome log and snapshot sink.
type Store interface {
	AddOutcome(o models.Outcome) error
	GetOutcomes() ([]models.Outcome, error)
	// GetOutcome returns nil, nil when id is unknown.
	GetOutcome(id string) (*models.Outcome, error)
	// AddSnapshot stores a markup snapshot and returns its id.
	AddSnapshot(s models.Snapshot) (int64, error)
	// GetSnapshots returns snapshots for url, or all of them when url is empty.
	GetSnapshots(url string) ([]models.Snapshot, error)
	Close() error
}

// Backend is everything the service persists.
type Backend interface {
	Store
	JobRepo
	OutboxRepo
}

// Opts holds configuration for SQL backends.
type Opts struct {
	DSN string
}

// Option configures a SQL backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns the database/sql driver name for dsn: "postgres" for URLs and key=value
// connection strings, "sqlite3" for file paths.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user="):
		return "postgres"
	default:
		return "sqlite3"
	}
}

// Open returns the backend for dsn. An empty dsn selects the in-memory backend.
func Open(dsn string) (Backend, error) {
	switch {
	case dsn == "":
		return NewInMemoryStore(), nil
	case DetectDSNType(dsn) == "postgres":
		return NewPostgresStore(WithPostgresDSN(dsn))
	default:
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}
