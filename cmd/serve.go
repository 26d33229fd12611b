package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/skip2/go-qrcode"

	"github.com/docshare/host/internal/config"
	"github.com/docshare/host/internal/mdns"
	"github.com/docshare/host/internal/server"
)

// runServe implements the "docshare serve" command: load configuration,
// apply flag overrides, and run the full serving stack until interrupted.
func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.docshare/config.toml)")
	root := fs.String("root", "", "Directory to serve (overrides config)")
	addr := fs.String("addr", "", "Listen address host:port (overrides config)")
	name := fs.String("name", "", "Advertised instance name (overrides config)")
	timeout := fs.Int("timeout", -1, "Seconds to wait for an approval decision (overrides config)")
	auditDB := fs.String("audit-db", "", "Path to the audit database (overrides config)")
	noMdns := fs.Bool("no-mdns", false, "Disable mDNS/Bonjour advertisement")
	noWatch := fs.Bool("no-watch", false, "Disable the live-reload file watcher")
	qr := fs.Bool("qr", false, "Print the server URL as a QR code")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: docshare serve [options]

Start the document server. Requests from devices you have not approved yet
are held while you decide; approved devices are remembered until the server
stops.

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

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Flags beat file values.
	if *root != "" {
		cfg.Root = *root
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *name != "" {
		cfg.Name = *name
	}
	if *timeout >= 0 {
		cfg.ApprovalTimeoutSecs = *timeout
	}
	if *auditDB != "" {
		cfg.AuditDB = *auditDB
	}
	if *noMdns {
		cfg.MdnsEnabled = false
	}
	if *noWatch {
		cfg.LiveReload = false
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(stderr, "Error: cannot open log file %s: %v\n", cfg.LogFile, err)
			return 1
		}
		defer f.Close()
		log.SetOutput(f)
	}

	mgr := server.NewManager(cfg)
	if err := mgr.Start(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer mgr.Stop()

	fmt.Fprintln(stdout, "")
	fmt.Fprintln(stdout, "===========================================")
	fmt.Fprintf(stdout, "  %s\n", cfg.Name)
	fmt.Fprintln(stdout, "===========================================")
	fmt.Fprintf(stdout, "  Serving:  %s\n", cfg.Root)
	fmt.Fprintf(stdout, "  Address:  %s\n", mgr.ServerURL())
	if cfg.MdnsEnabled {
		fmt.Fprintf(stdout, "  mDNS:     %s\n", mdns.URL(cfg.Name, listenPort(cfg.Addr)))
	}
	fmt.Fprintln(stdout, "===========================================")
	fmt.Fprintln(stdout, "")
	fmt.Fprintln(stdout, "New devices will ask for your approval here or on a connected client.")
	fmt.Fprintln(stdout, "Press Ctrl-C to stop.")
	fmt.Fprintln(stdout, "")

	if *qr {
		printURLQR(stdout, mgr.ServerURL())
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	fmt.Fprintln(stdout, "Shutting down...")
	return 0
}

// listenPort extracts the numeric port from a listen address.
func listenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}

// printURLQR renders the server URL as a terminal QR code so a phone can
// open it without typing.
func printURLQR(w io.Writer, url string) {
	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		log.Printf("serve: qr code generation failed: %v", err)
		return
	}
	// ToSmallString(false) produces compact output without a border.
	fmt.Fprint(w, qr.ToSmallString(false))
	fmt.Fprintln(w, "")
}
