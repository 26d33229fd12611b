package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docshare/host/internal/config"
)

// runInit implements the "docshare init" command: write a default config
// file the user can then edit. An existing file is left untouched.
func runInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path for the config file (default: ~/.docshare/config.toml)")
	root := fs.String("root", "", "Directory to serve (default: ~/Documents/docshare)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: docshare init [options]

Write a default config file. Existing files are never overwritten.

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

	path := *configPath
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to determine config path: %v\n", err)
			return 1
		}
	}

	rootDir := *root
	if rootDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to determine home directory: %v\n", err)
			return 1
		}
		rootDir = filepath.Join(home, "Documents", "docshare")
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(stdout, "Config already exists: %s\n", path)
		return 0
	}

	if err := config.WriteDefault(path, rootDir); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Created config: %s\n", path)
	fmt.Fprintf(stdout, "Serving root:   %s\n", rootDir)
	return 0
}
