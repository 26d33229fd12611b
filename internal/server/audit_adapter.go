package server

// audit_adapter.go bridges the storage and gate packages. The gate defines
// its own record type to avoid an import cycle, so the adapter converts.

import (
	"github.com/docshare/host/internal/gate"
	"github.com/docshare/host/internal/storage"
)

// AuditStoreAdapter adapts SQLiteStore to the gate.AuditRecorder interface.
type AuditStoreAdapter struct {
	store *storage.SQLiteStore
}

// NewAuditStoreAdapter creates an adapter wrapping the given SQLite store.
func NewAuditStoreAdapter(store *storage.SQLiteStore) *AuditStoreAdapter {
	return &AuditStoreAdapter{store: store}
}

// RecordAccess converts a gate record to a storage entry and persists it.
func (a *AuditStoreAdapter) RecordAccess(rec gate.AccessRecord) error {
	return a.store.SaveAccessAudit(&storage.AccessAuditEntry{
		ID:        rec.ID,
		RequestID: rec.RequestID,
		Address:   rec.Address,
		Path:      rec.Path,
		Decision:  rec.Decision,
		Source:    rec.Source,
		DecidedAt: rec.DecidedAt,
	})
}
