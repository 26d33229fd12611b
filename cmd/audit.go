package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/docshare/host/internal/config"
	"github.com/docshare/host/internal/storage"
)

// runAudit implements the "docshare audit" command: print recent access
// decisions from the audit database, newest first.
func runAudit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.docshare/config.toml)")
	db := fs.String("db", "", "Path to the audit database (overrides config)")
	limit := fs.Int("limit", 20, "Maximum entries to show (0 shows all)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: docshare audit [options]

Show recent access decisions: which devices asked for what, and how each
request was resolved.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	dbPath := *db
	if dbPath == "" {
		path := *configPath
		if path == "" {
			var err error
			path, err = config.DefaultConfigPath()
			if err != nil {
				fmt.Fprintf(stderr, "Error: failed to determine config path: %v\n", err)
				return 1
			}
		}
		cfg, err := config.Load(path)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		dbPath = cfg.AuditDB
	}
	if dbPath == "" {
		fmt.Fprintln(stderr, "Error: auditing is disabled (no audit database configured)")
		return 1
	}

	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	entries, err := store.ListAccessAudit(*limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No access decisions recorded.")
		return 0
	}

	total, err := store.CountAccessAudit()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "%-20s  %-16s  %-8s  %-11s  %s\n",
		"WHEN", "ADDRESS", "DECISION", "SOURCE", "PATH")
	for _, e := range entries {
		fmt.Fprintf(stdout, "%-20s  %-16s  %-8s  %-11s  %s\n",
			e.DecidedAt.Local().Format(time.DateTime),
			e.Address, e.Decision, e.Source, e.Path)
	}
	if total > len(entries) {
		fmt.Fprintf(stdout, "\n(%d of %d entries; use --limit 0 to show all)\n", len(entries), total)
	}
	return 0
}
