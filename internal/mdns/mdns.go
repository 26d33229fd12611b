// Package mdns provides mDNS/Bonjour service advertisement for the host.
//
// The host advertises itself on the local network using DNS-SD, so browsers
// and the companion app can reach it by name instead of a typed IP address.
// The advertisement only reveals presence; every unknown client still goes
// through the access gate on first contact.
package mdns

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type for docshare hosts.
const ServiceType = "_docshare._tcp"

// ProtocolVersion identifies the advertisement format for compatibility.
const ProtocolVersion = "1"

// Config holds configuration for mDNS advertisement.
type Config struct {
	// Port is the HTTP server port to advertise.
	Port int

	// Name is the human-readable instance name.
	// Defaults to the system hostname if empty.
	Name string
}

// Advertiser manages mDNS/DNS-SD service registration.
type Advertiser struct {
	config Config
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates a new mDNS advertiser with the given configuration.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{config: cfg}
}

// Start begins advertising the service via mDNS.
// Safe to call multiple times; subsequent calls are no-ops if already running.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := a.config.Name
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "docshare"
		} else {
			name = hostname
		}
	}

	txtRecords := []string{
		fmt.Sprintf("version=%s", ProtocolVersion),
		fmt.Sprintf("name=%s", name),
	}

	server, err := zeroconf.Register(
		name,
		ServiceType,
		"local.",
		a.config.Port,
		txtRecords,
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	return nil
}

// Stop stops the mDNS advertisement and unregisters the service.
// Safe to call multiple times or on an advertiser that never started.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning returns true if the advertiser is currently registered.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// URL returns the browsable address of an advertised instance.
// mDNS instance names map to "<name>.local" hosts; spaces become dashes.
func URL(name string, port int) string {
	host := strings.ReplaceAll(strings.TrimSpace(name), " ", "-")
	if host == "" {
		host = "docshare"
	}
	if port == 80 {
		return fmt.Sprintf("http://%s.local/", host)
	}
	return fmt.Sprintf("http://%s.local:%d/", host, port)
}

// DiscoveredHost represents a host found via mDNS discovery.
type DiscoveredHost struct {
	// Name is the human-readable name of the host.
	Name string

	// Host is the IP address or hostname.
	Host string

	// Port is the server port.
	Port int

	// Version is the advertisement protocol version.
	Version string
}

// URL returns the browsable address of a discovered host.
func (h DiscoveredHost) URL() string {
	if h.Host == "" {
		return ""
	}
	hostport := net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
	return fmt.Sprintf("http://%s/", hostport)
}

// Discover searches for docshare hosts on the local network until the
// context expires and returns everything found.
func Discover(ctx context.Context) ([]DiscoveredHost, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		hosts []DiscoveredHost
		mu    sync.Mutex
		wg    sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			host := DiscoveredHost{
				Name: entry.Instance,
				Port: entry.Port,
			}

			if len(entry.AddrIPv4) > 0 {
				host.Host = entry.AddrIPv4[0].String()
			} else if len(entry.AddrIPv6) > 0 {
				host.Host = entry.AddrIPv6[0].String()
			}

			for _, txt := range entry.Text {
				switch {
				case strings.HasPrefix(txt, "version="):
					host.Version = strings.TrimPrefix(txt, "version=")
				case strings.HasPrefix(txt, "name="):
					host.Name = strings.TrimPrefix(txt, "name=")
				}
			}

			mu.Lock()
			hosts = append(hosts, host)
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-ctx.Done()
	wg.Wait()

	return hosts, nil
}
