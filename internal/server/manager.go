package server

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/docshare/host/internal/config"
	"github.com/docshare/host/internal/content"
	apperrors "github.com/docshare/host/internal/errors"
	"github.com/docshare/host/internal/gate"
	"github.com/docshare/host/internal/mdns"
	"github.com/docshare/host/internal/notify"
	"github.com/docshare/host/internal/storage"
	"github.com/docshare/host/internal/watch"
)

// Manager owns the full serving stack: audit store, access gate, control
// hub, HTTP listener, mDNS advertisement, and the change watcher. It exists
// so the CLI (and tests) can start and stop everything as one unit.
type Manager struct {
	cfg *config.Config

	store      *storage.SQLiteStore
	gate       *gate.Gate
	hub        *notify.Hub
	server     *Server
	advertiser *mdns.Advertiser
	watcher    *watch.Watcher

	mu      sync.Mutex
	running bool
	url     string
}

// NewManager creates a manager for the given configuration.
// Nothing starts until Start is called.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{cfg: cfg}
}

// Start brings the whole stack up. It validates the document root, opens
// the audit store, builds the gate and its notifier chain, and binds the
// listener before the optional pieces (mDNS, watcher) come up.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return apperrors.New(apperrors.CodeServerAlreadyRunning, "server is already running")
	}

	info, err := os.Stat(m.cfg.Root)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeServerRootInvalid,
			fmt.Sprintf("document root %s is not usable", m.cfg.Root), err)
	}
	if !info.IsDir() {
		return apperrors.New(apperrors.CodeServerRootInvalid,
			fmt.Sprintf("document root %s is not a directory", m.cfg.Root))
	}

	var auditRecorder gate.AuditRecorder
	if m.cfg.AuditDB != "" {
		if err := os.MkdirAll(filepath.Dir(m.cfg.AuditDB), 0o755); err != nil {
			return apperrors.Wrap(apperrors.CodeStorageOpenFailed, "create audit directory", err)
		}
		store, err := storage.NewSQLiteStore(m.cfg.AuditDB)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeStorageOpenFailed, "open audit store", err)
		}
		m.store = store
		auditRecorder = NewAuditStoreAdapter(store)
	}

	renderer := content.NewRenderer(m.cfg.Name)

	// The hub and terminal notifier both resolve prompts through the gate.
	// The gate does not exist yet at this point, so the closures read it
	// from the manager at decision time.
	decide := func(requestID string, allow bool) error {
		return m.gate.Decide(requestID, allow)
	}
	hub := notify.NewHub(decide)
	terminal := notify.NewTerminalNotifier(decide)
	chain := notify.NewChain(hub, terminal)

	g := gate.New(gate.Options{
		Timeout:    m.cfg.ApprovalTimeout(),
		Notifier:   chain,
		Audit:      auditRecorder,
		DeniedPage: renderer.Denied(),
	})
	m.gate = g
	m.hub = hub

	// The owner's own machine never needs approval.
	g.Allow("127.0.0.1")
	g.Allow("::1")

	hub.SetPendingProvider(g.PendingPrompts)
	hub.SetGreeting(func() notify.Message {
		return notify.NewServerStatusMessage(m.ServerURL(), m.cfg.Root, g.PendingCount())
	})

	srv := New(Options{
		Addr:         m.cfg.Addr,
		Root:         m.cfg.Root,
		Renderer:     renderer,
		Gate:         g,
		Hub:          hub,
		RequestRate:  m.cfg.RequestRate,
		RequestBurst: m.cfg.RequestBurst,
	})
	if err := <-srv.StartAsync(); err != nil {
		m.closeStoreLocked()
		return apperrors.Wrap(apperrors.CodeServerBindFailed, "start listener", err)
	}
	m.server = srv
	// The bound address, not the configured one: port 0 resolves to a real
	// port only after Listen.
	m.url = serverURL(srv.Addr())

	if m.cfg.MdnsEnabled {
		m.advertiser = mdns.NewAdvertiser(mdns.Config{
			Port: addrPort(srv.Addr()),
			Name: m.cfg.Name,
		})
		if err := m.advertiser.Start(); err != nil {
			// Advertisement is a convenience; the server is reachable
			// by IP without it.
			log.Printf("manager: mdns advertisement failed: %v", err)
			m.advertiser = nil
		}
	}

	if m.cfg.LiveReload {
		m.watcher = watch.NewWatcher(m.cfg.Root, func(path string) {
			hub.Broadcast(notify.NewContentChangedMessage(path))
		})
		if err := m.watcher.Start(); err != nil {
			log.Printf("manager: change watcher failed: %v", err)
			m.watcher = nil
		}
	}

	m.running = true
	log.Printf("manager: serving %s at %s", m.cfg.Root, m.url)
	return nil
}

// Stop tears the stack down in reverse order. Safe to call twice.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	if m.watcher != nil {
		m.watcher.Stop()
		m.watcher = nil
	}
	if m.advertiser != nil {
		m.advertiser.Stop()
		m.advertiser = nil
	}
	if m.server != nil {
		if err := m.server.Stop(); err != nil {
			log.Printf("manager: stopping listener: %v", err)
		}
		m.server = nil
	}
	if m.hub != nil {
		m.hub.Stop()
		m.hub = nil
	}
	m.closeStoreLocked()

	m.running = false
	m.url = ""
	log.Printf("manager: stopped")
}

func (m *Manager) closeStoreLocked() {
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			log.Printf("manager: closing audit store: %v", err)
		}
		m.store = nil
	}
}

// IsRunning reports whether the stack is up.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// ServerURL returns the browsable URL of the running server, or "" before
// Start succeeds.
func (m *Manager) ServerURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

// Gate exposes the access gate, mainly for tests and diagnostics.
func (m *Manager) Gate() *gate.Gate {
	return m.gate
}

// Hub exposes the control hub.
func (m *Manager) Hub() *notify.Hub {
	return m.hub
}

// serverURL turns a listen address into something a person can open.
// Wildcard hosts are replaced by the machine's preferred outbound address.
func serverURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/"
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		if ip := preferredOutboundIP(); ip != "" {
			host = ip
		} else {
			host = "127.0.0.1"
		}
	}
	return fmt.Sprintf("http://%s/", net.JoinHostPort(host, port))
}

// addrPort extracts the numeric port from a listen address.
func addrPort(addr string) int {
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

// preferredOutboundIP returns the machine's preferred outbound IPv4 address.
// Dialing UDP sends no packets; it only asks the OS routing table which
// local interface it would pick. Returns "" if detection fails.
func preferredOutboundIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
