package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/docshare/host/internal/mdns"
)

// runDiscover implements the "docshare discover" command: browse the local
// network for advertised hosts and print what was found.
func runDiscover(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(stderr)

	timeout := fs.Int("timeout", 5, "Seconds to browse for hosts")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: docshare discover [options]

Browse the local network for docshare hosts.

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

	fmt.Fprintf(stdout, "Browsing for docshare hosts (%ds)...\n", *timeout)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeout)*time.Second)
	defer cancel()

	hosts, err := mdns.Discover(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(hosts) == 0 {
		fmt.Fprintln(stdout, "No hosts found.")
		return 0
	}

	for _, h := range hosts {
		fmt.Fprintf(stdout, "  %-30s %s\n", h.Name, h.URL())
	}
	return 0
}
