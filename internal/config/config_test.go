package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Addr != DefaultAddr {
		t.Errorf("Addr = %q, want %q", cfg.Addr, DefaultAddr)
	}
	if cfg.ApprovalTimeoutSecs != DefaultApprovalTimeoutSecs {
		t.Errorf("ApprovalTimeoutSecs = %d, want %d", cfg.ApprovalTimeoutSecs, DefaultApprovalTimeoutSecs)
	}
	if !cfg.MdnsEnabled {
		t.Error("MdnsEnabled should default to true")
	}
	if !cfg.LiveReload {
		t.Error("LiveReload should default to true")
	}
	if cfg.Name == "" {
		t.Error("Name should default to the hostname")
	}
	if cfg.RequestRate != DefaultRequestRate || cfg.RequestBurst != DefaultRequestBurst {
		t.Errorf("throttle defaults = (%v, %d)", cfg.RequestRate, cfg.RequestBurst)
	}
}

func TestLoadParsesValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
root = "/srv/docs"
addr = "127.0.0.1:9090"
name = "study"
approval_timeout_secs = 30
mdns_enabled = false
live_reload = false
audit_db = "/tmp/audit.db"
request_rate = 5.0
request_burst = 10
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Root != "/srv/docs" {
		t.Errorf("Root = %q", cfg.Root)
	}
	if cfg.Addr != "127.0.0.1:9090" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.Name != "study" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.ApprovalTimeoutSecs != 30 {
		t.Errorf("ApprovalTimeoutSecs = %d", cfg.ApprovalTimeoutSecs)
	}
	if cfg.MdnsEnabled {
		t.Error("explicit mdns_enabled = false should stick")
	}
	if cfg.LiveReload {
		t.Error("explicit live_reload = false should stick")
	}
	if cfg.AuditDB != "/tmp/audit.db" {
		t.Errorf("AuditDB = %q", cfg.AuditDB)
	}
	if cfg.RequestRate != 5.0 || cfg.RequestBurst != 10 {
		t.Errorf("throttle = (%v, %d)", cfg.RequestRate, cfg.RequestBurst)
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("root = [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load should fail on malformed TOML")
	}
}

func TestWriteDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	if err := WriteDefault(path, "/srv/docs"); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load after WriteDefault: %v", err)
	}
	if cfg.Root != "/srv/docs" {
		t.Errorf("Root = %q", cfg.Root)
	}
	if cfg.Addr != DefaultAddr {
		t.Errorf("Addr = %q", cfg.Addr)
	}

	// Existing files are never overwritten.
	if err := os.WriteFile(path, []byte(`root = "/other"`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteDefault(path, "/srv/docs"); err != nil {
		t.Fatalf("WriteDefault on existing file: %v", err)
	}
	cfg, err = Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Root != "/other" {
		t.Error("WriteDefault must not overwrite an existing config")
	}
}
