package storage

// audit.go contains SQLiteStore methods for the access audit trail.
// An entry records how a first-contact request was resolved.

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AccessAuditEntry is one resolved first-contact request.
type AccessAuditEntry struct {
	// ID is the unique identifier for this audit entry.
	ID string

	// RequestID is the approval request ID (UUID).
	RequestID string

	// Address is the client address the decision applies to.
	Address string

	// Path is the request path that triggered the prompt.
	Path string

	// Decision is "allowed" or "denied".
	Decision string

	// Source indicates how the decision was made:
	// - "operator": the owner answered the prompt
	// - "timeout": auto-denied because nobody answered in time
	// - "unavailable": served once because no prompt channel existed
	// - "throttled": auto-denied because prompts were arriving too fast
	Source string

	// DecidedAt is when the decision was made.
	DecidedAt time.Time
}

// SaveAccessAudit persists an access audit entry.
func (s *SQLiteStore) SaveAccessAudit(entry *AccessAuditEntry) error {
	if entry == nil {
		return errors.New("audit entry cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		INSERT INTO access_audit
			(id, request_id, address, path, decision, source, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		entry.ID,
		entry.RequestID,
		entry.Address,
		entry.Path,
		entry.Decision,
		entry.Source,
		entry.DecidedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save audit entry: %w", err)
	}

	return nil
}

// ListAccessAudit returns audit entries in reverse chronological order
// (newest first). Use limit <= 0 to return all entries.
func (s *SQLiteStore) ListAccessAudit(limit int) ([]*AccessAuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, request_id, address, path, decision, source, decided_at
		FROM access_audit
		ORDER BY decided_at DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*AccessAuditEntry
	for rows.Next() {
		entry, err := scanAuditRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}

	return entries, nil
}

// CountAccessAudit returns the total number of audit entries.
func (s *SQLiteStore) CountAccessAudit() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM access_audit").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return count, nil
}

// scanAuditRow scans a row from sql.Rows into an AccessAuditEntry.
func scanAuditRow(rows *sql.Rows) (*AccessAuditEntry, error) {
	var (
		entry     AccessAuditEntry
		decidedAt string
	)

	err := rows.Scan(
		&entry.ID,
		&entry.RequestID,
		&entry.Address,
		&entry.Path,
		&entry.Decision,
		&entry.Source,
		&decidedAt,
	)
	if err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, decidedAt)
	if err != nil {
		return nil, fmt.Errorf("parse decided_at: %w", err)
	}
	entry.DecidedAt = t

	return &entry, nil
}
