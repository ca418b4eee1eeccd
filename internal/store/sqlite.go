// Package store provides SQLite-based persistence for relbranch. It backs
// both the primary dataset and per-branch isolated stores with the same
// schema, and holds branch metadata (branches, change diffs, applied records,
// branch events) in the primary store's database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilupskalvis/relbranch/internal/schema"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store represents one SQLite database: the primary dataset or a branch's
// isolated store.
type Store struct {
	db     *sql.DB
	schema *schema.Schema

	// FileExists is consulted when validating file-kind attributes. Tests
	// and the merge engine's benign-failure path rely on overriding it.
	FileExists func(path string) bool
}

// New creates a new store connection.
func New(dbPath string, sch *schema.Schema) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Store{
		db:     db,
		schema: sch,
		FileExists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Initialize creates the database schema.
func (s *Store) Initialize() error {
	ddl := `
	-- Entity rows for every branch-aware entity type
	CREATE TABLE IF NOT EXISTS entities (
		entity_type TEXT NOT NULL,
		id TEXT NOT NULL,
		data JSON NOT NULL,
		PRIMARY KEY (entity_type, id)
	);

	-- Hierarchy cache for tree entity types, rebuilt after merge/sync/revert
	CREATE TABLE IF NOT EXISTS entity_tree (
		entity_type TEXT NOT NULL,
		id TEXT NOT NULL,
		parent_id TEXT,
		depth INTEGER NOT NULL,
		path TEXT NOT NULL,
		PRIMARY KEY (entity_type, id)
	);

	-- Branches (metadata lives only in the primary store)
	CREATE TABLE IF NOT EXISTS branches (
		name TEXT PRIMARY KEY,
		owner TEXT,
		status TEXT NOT NULL,
		store_id TEXT NOT NULL UNIQUE,
		strategy TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_sync DATETIME,
		merged_time DATETIME,
		merged_by TEXT,
		error TEXT
	);

	-- Three-way diff state, one row per (branch, entity)
	CREATE TABLE IF NOT EXISTS change_diffs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		branch TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		action TEXT NOT NULL,
		original JSON,
		modified JSON,
		current JSON,
		conflicts JSON,
		last_updated DATETIME NOT NULL,
		UNIQUE (branch, entity_type, entity_id)
	);

	-- Merged mutation provenance
	CREATE TABLE IF NOT EXISTS applied_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		branch TEXT NOT NULL,
		record_id TEXT NOT NULL,
		applied_at DATETIME NOT NULL
	);

	-- Lifecycle audit trail
	CREATE TABLE IF NOT EXISTS branch_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		branch TEXT NOT NULL,
		time DATETIME NOT NULL,
		actor TEXT,
		type TEXT NOT NULL
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_diffs_entity ON change_diffs(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_diffs_branch ON change_diffs(branch);
	CREATE INDEX IF NOT EXISTS idx_applied_branch ON applied_records(branch);
	CREATE INDEX IF NOT EXISTS idx_events_branch ON branch_events(branch);
	`

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Schema returns the entity type registry the store validates against.
func (s *Store) Schema() *schema.Schema {
	return s.schema
}

// DB returns the underlying database connection for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dataset returns an entity handle bound directly to the store (each call
// auto-commits).
func (s *Store) Dataset() *Dataset {
	return &Dataset{q: s.db, schema: s.schema, fileExists: s.FileExists}
}

// Begin opens a transaction and returns an entity handle bound to it. The
// caller owns the transaction and must Commit or Rollback.
func (s *Store) Begin(ctx context.Context) (*Dataset, *sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Dataset{q: tx, schema: s.schema, fileExists: s.FileExists}, tx, nil
}

// parseTimestamp parses a timestamp string from SQLite in various formats.
func parseTimestamp(s string) time.Time {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
