package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSchemaVersion(t *testing.T) {
	store := newTestStore(t)

	version, err := store.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestSaveAndListAccessAudit(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	entries := []*AccessAuditEntry{
		{
			ID:        uuid.NewString(),
			RequestID: "req-1",
			Address:   "192.168.1.20",
			Path:      "/notes/today.md",
			Decision:  "allowed",
			Source:    "operator",
			DecidedAt: base,
		},
		{
			ID:        uuid.NewString(),
			RequestID: "req-2",
			Address:   "192.168.1.21",
			Path:      "/secret.txt",
			Decision:  "denied",
			Source:    "timeout",
			DecidedAt: base.Add(time.Minute),
		},
	}
	for _, e := range entries {
		if err := store.SaveAccessAudit(e); err != nil {
			t.Fatalf("SaveAccessAudit: %v", err)
		}
	}

	got, err := store.ListAccessAudit(0)
	if err != nil {
		t.Fatalf("ListAccessAudit: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}

	// Newest first.
	if got[0].RequestID != "req-2" || got[1].RequestID != "req-1" {
		t.Errorf("order = %s, %s", got[0].RequestID, got[1].RequestID)
	}

	first := got[1]
	if first.Address != "192.168.1.20" {
		t.Errorf("address = %q", first.Address)
	}
	if first.Path != "/notes/today.md" {
		t.Errorf("path = %q", first.Path)
	}
	if first.Decision != "allowed" || first.Source != "operator" {
		t.Errorf("decision/source = %q/%q", first.Decision, first.Source)
	}
	if !first.DecidedAt.Equal(base) {
		t.Errorf("decided_at = %v, want %v", first.DecidedAt, base)
	}
}

func TestListAccessAuditLimit(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		entry := &AccessAuditEntry{
			ID:        uuid.NewString(),
			RequestID: uuid.NewString(),
			Address:   "10.0.0.9",
			Path:      "/a.md",
			Decision:  "denied",
			Source:    "timeout",
			DecidedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := store.SaveAccessAudit(entry); err != nil {
			t.Fatalf("SaveAccessAudit: %v", err)
		}
	}

	got, err := store.ListAccessAudit(3)
	if err != nil {
		t.Fatalf("ListAccessAudit: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}

	count, err := store.CountAccessAudit()
	if err != nil {
		t.Fatalf("CountAccessAudit: %v", err)
	}
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}
}

func TestSaveAccessAuditNil(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveAccessAudit(nil); err == nil {
		t.Error("saving a nil entry must fail")
	}
}
