// Package storage persists the access audit trail in SQLite.
//
// Decisions made at the gate are transient by design (the allow list lives
// for the process only), but the record of who asked for what, and how the
// request was resolved, survives restarts so the owner can review it later.
package storage

import (
	"fmt"
	"log"
	"sync"
	"time"

	// Pure-Go SQLite driver, imported for its side effect of registering
	// the "sqlite" driver. No CGO, which keeps cross-compilation simple.
	"database/sql"

	_ "modernc.org/sqlite"
)

// currentSchemaVersion is the current database schema version.
// Increment this when making schema changes and add migration logic.
const currentSchemaVersion = 1

// SQLiteStore persists access audit records in a SQLite database.
// It creates the database and tables on first use and supports
// concurrent access through internal locking.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens or creates a SQLite database at the given path and
// initializes the schema if needed. Use ":memory:" for an in-memory
// database (useful for testing).
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	log.Printf("storage: opening database at %s", path)

	// Foreign keys on for referential integrity; busy_timeout handles
	// the occasional concurrent access from a second process.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Printf("storage: database ready (schema version %d)", currentSchemaVersion)
	return store, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	log.Printf("storage: closing database")
	return s.db.Close()
}

// initSchema creates the required tables if they don't exist.
// Uses IF NOT EXISTS to make the operation idempotent.
func (s *SQLiteStore) initSchema() error {
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	return nil
}

// migrateToV1 creates the initial schema (access_audit table).
func (s *SQLiteStore) migrateToV1() error {
	log.Printf("storage: applying migration to schema version 1")

	// One row per resolved first-contact request. Timestamps are stored
	// as RFC3339 strings for readability and portability.
	const auditTable = `
		CREATE TABLE IF NOT EXISTS access_audit (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			address TEXT NOT NULL,
			path TEXT NOT NULL,
			decision TEXT NOT NULL,
			source TEXT NOT NULL,
			decided_at TEXT NOT NULL
		);

		-- Index for efficient chronological queries (newest first).
		CREATE INDEX IF NOT EXISTS idx_audit_decided_at ON access_audit(decided_at);

		-- Index for per-address history lookups.
		CREATE INDEX IF NOT EXISTS idx_audit_address ON access_audit(address);
	`

	if _, err := s.db.Exec(auditTable); err != nil {
		return fmt.Errorf("create access_audit table: %w", err)
	}

	_, err := s.db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		1,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	return nil
}

// SchemaVersion returns the current database schema version.
// This is useful for diagnostics and testing.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}
