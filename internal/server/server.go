// Package server ties the document pipeline together behind an HTTP
// listener: resolve the requested path, render the response candidate, pass
// it through the access gate, and only then write it to the client.
package server

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/docshare/host/internal/content"
	"github.com/docshare/host/internal/gate"
	"github.com/docshare/host/internal/notify"
)

// Options configures a Server.
type Options struct {
	// Addr is the listen address (host:port).
	Addr string

	// Root is the served document root (absolute path).
	Root string

	// Renderer produces response candidates.
	Renderer *content.Renderer

	// Gate authorizes every document request. Required.
	Gate *gate.Gate

	// Hub serves the control socket at /ws. Nil disables the endpoint.
	Hub *notify.Hub

	// RequestRate and RequestBurst throttle document requests per client
	// address. Zero values disable throttling.
	RequestRate  float64
	RequestBurst int
}

// Server is the HTTP document server.
type Server struct {
	addr     string
	root     string
	renderer *content.Renderer
	gate     *gate.Gate
	hub      *notify.Hub

	reqRate  rate.Limit
	reqBurst int

	// limiters holds one request limiter per client address.
	limiters   map[string]*rate.Limiter
	limitersMu sync.Mutex

	httpServer *http.Server
	listener   net.Listener
}

// New creates a server. It does not start listening; use StartAsync.
func New(opts Options) *Server {
	if opts.Gate == nil {
		panic("server: Gate is required")
	}
	if opts.Renderer == nil {
		panic("server: Renderer is required")
	}

	return &Server{
		addr:     opts.Addr,
		root:     opts.Root,
		renderer: opts.Renderer,
		gate:     opts.Gate,
		hub:      opts.Hub,
		reqRate:  rate.Limit(opts.RequestRate),
		reqBurst: opts.RequestBurst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// createMux builds the route table. The control socket and health probe sit
// on reserved paths; everything else is a document request.
func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()
	if s.hub != nil {
		mux.HandleFunc("/ws", s.hub.HandleWS)
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/", s.handleDocument)
	return mux
}

// StartAsync starts the server and returns a channel that reports startup.
// The listener is created synchronously so a port conflict surfaces
// immediately instead of from inside a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)

	mux := s.createMux()

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		errCh <- fmt.Errorf("failed to listen on %s: %w", s.addr, err)
		close(errCh)
		return errCh
	}

	s.httpServer = &http.Server{Handler: mux}
	s.listener = ln

	go func() {
		log.Printf("server: listening on %s, serving %s", s.addr, s.root)
		errCh <- nil
		close(errCh)

		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("server: %v", err)
		}
	}()

	return errCh
}

// Stop shuts the listener down. Safe to call before StartAsync or twice.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// Addr returns the bound listen address, which differs from the configured
// one when port 0 asked the OS to pick. Empty before StartAsync succeeds.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler returns the route table without starting a listener.
// Used by tests that drive the server through httptest.
func (s *Server) Handler() http.Handler {
	return s.createMux()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// handleDocument runs the full pipeline for one request.
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	addr := clientAddress(r)

	if !s.allowRequest(addr) {
		log.Printf("server: throttled %s from %s", r.URL.Path, addr)
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	// The candidate is computed before authorization so the approval
	// prompt can say exactly what would be returned.
	target := content.Resolve(s.root, r.URL.Path)
	candidate := s.renderer.Render(target)

	result, err := s.gate.Authorize(r.Context(), gate.Request{
		Address:   addr,
		URL:       requestURL(r),
		Candidate: candidate,
	})
	if err != nil {
		// Context cancellation: the client went away while waiting.
		log.Printf("server: request for %s from %s abandoned: %v", r.URL.Path, addr, err)
		return
	}

	s.writeContent(w, r, result.Content)
}

// writeContent sends a decided response candidate to the client.
func (s *Server) writeContent(w http.ResponseWriter, r *http.Request, c content.Content) {
	if c.FilePath != "" && c.Status == http.StatusOK {
		if c.ContentType != "" {
			w.Header().Set("Content-Type", c.ContentType)
		}
		// ServeFile streams from disk, so large binaries never sit in
		// memory, and ranged requests work for free.
		http.ServeFile(w, r, c.FilePath)
		return
	}

	if c.ContentType != "" {
		w.Header().Set("Content-Type", c.ContentType)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(c.Body)))
	w.WriteHeader(c.Status)
	w.Write(c.Body)
}

// allowRequest applies the per-address request limiter.
func (s *Server) allowRequest(addr string) bool {
	if s.reqRate <= 0 {
		return true
	}

	s.limitersMu.Lock()
	lim, ok := s.limiters[addr]
	if !ok {
		lim = rate.NewLimiter(s.reqRate, s.reqBurst)
		s.limiters[addr] = lim
	}
	s.limitersMu.Unlock()

	return lim.Allow()
}

// clientAddress extracts the client identity from a request: the remote host
// without the port, so reconnects from ephemeral ports map to one identity.
func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestURL reconstructs the full URL for prompt titles.
func requestURL(r *http.Request) string {
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s%s", host, r.URL.Path)
}
