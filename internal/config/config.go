// Package config provides TOML configuration file loading and parsing for the
// docshare host. The configuration file lives at ~/.docshare/config.toml by
// default, but can be overridden with the --config flag. CLI flags always take
// precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	apperrors "github.com/docshare/host/internal/errors"
)

// Config represents the host configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// Root is the directory served over HTTP.
	// If empty, defaults to ~/Documents/docshare.
	Root string `toml:"root"`

	// Addr is the host:port the HTTP server binds.
	// Default: 0.0.0.0:8080 (port 80 would need elevated privileges
	// on most systems).
	Addr string `toml:"addr"`

	// Name is the instance name advertised over mDNS.
	// Defaults to the system hostname if empty.
	Name string `toml:"name"`

	// ApprovalTimeoutSecs bounds how long a request from an unknown address
	// waits for an operator decision. On expiry the request is denied and the
	// address remains unknown, so a later request prompts again.
	// Negative values wait indefinitely. Default: 120.
	ApprovalTimeoutSecs int `toml:"approval_timeout_secs"`

	// MdnsEnabled enables mDNS/Bonjour service advertisement so browsers on
	// the local network can discover the host without typing IP addresses.
	// Default: true
	MdnsEnabled bool `toml:"mdns_enabled"`

	// AuditDB is the path to the SQLite database recording access decisions.
	// Empty disables auditing. Default: ~/.docshare/docshare.db
	AuditDB string `toml:"audit_db"`

	// LiveReload enables the filesystem watcher that notifies connected
	// control clients when served content changes. Default: true
	LiveReload bool `toml:"live_reload"`

	// RequestRate is the sustained per-address request rate (requests/sec)
	// before the server answers 429. Default: 20
	RequestRate float64 `toml:"request_rate"`

	// RequestBurst is the per-address burst allowance. Default: 40
	RequestBurst int `toml:"request_burst"`

	// LogFile is an optional path for log output. Empty logs to stderr.
	LogFile string `toml:"log_file"`
}

// DefaultConfigPath returns the default config file location: ~/.docshare/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".docshare", "config.toml"), nil
}

// Load reads and parses the config file at the given path.
// A missing file is not an error: defaults are returned so the host can run
// without any configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.MdnsEnabled = true
			cfg.LiveReload = true
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return nil, apperrors.Wrap(apperrors.CodeConfigReadFailed,
			fmt.Sprintf("read config %s", path), err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigInvalid,
			fmt.Sprintf("parse config %s", path), err)
	}

	// Boolean fields default to true, so an absent key must be
	// distinguished from an explicit "false".
	if !md.IsDefined("mdns_enabled") {
		cfg.MdnsEnabled = true
	}
	if !md.IsDefined("live_reload") {
		cfg.LiveReload = true
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
// Boolean fields are handled in Load, where absent keys can be told apart
// from explicit false values.
func (c *Config) ApplyDefaults() {
	if c.Root == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Root = filepath.Join(home, "Documents", "docshare")
		}
	}
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Name == "" {
		if hostname, err := os.Hostname(); err == nil {
			c.Name = hostname
		} else {
			c.Name = "docshare"
		}
	}
	if c.ApprovalTimeoutSecs == 0 {
		c.ApprovalTimeoutSecs = DefaultApprovalTimeoutSecs
	}
	if c.AuditDB == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.AuditDB = filepath.Join(home, ".docshare", "docshare.db")
		}
	}
	if c.RequestRate <= 0 {
		c.RequestRate = DefaultRequestRate
	}
	if c.RequestBurst <= 0 {
		c.RequestBurst = DefaultRequestBurst
	}
}

// ApprovalTimeout returns the approval wait as a duration.
// Negative values mean wait indefinitely.
func (c *Config) ApprovalTimeout() time.Duration {
	if c.ApprovalTimeoutSecs < 0 {
		return 0
	}
	return time.Duration(c.ApprovalTimeoutSecs) * time.Second
}

// WriteDefault creates a config file with documented defaults at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path, root string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	content := fmt.Sprintf(`# docshare host configuration

# Directory served over HTTP.
root = %q

# Listen address.
addr = %q

# Seconds to wait for an operator decision before denying an unknown address.
# Negative values wait indefinitely.
approval_timeout_secs = %d

# Advertise the host on the local network via mDNS/Bonjour.
mdns_enabled = true

# Notify connected control clients when served files change.
live_reload = true
`, root, DefaultAddr, DefaultApprovalTimeoutSecs)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
