// Package gate implements the per-request access control state machine.
//
// Every response candidate passes through the gate before it is written to a
// client. Requests from addresses on the allow-list are released immediately.
// A request from an unknown address is suspended while the operator is asked,
// through a notification channel, whether the address may read the served
// directory. The decision is cached for the address for the remainder of the
// process lifetime: Allow releases the candidate and trusts the address
// permanently, Deny releases a denial page and leaves the address unknown.
//
// Pending decisions are keyed by client address, not by request: concurrent
// requests from one new address raise a single prompt, and the one decision
// fans out to every request blocked on it.
package gate

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/docshare/host/internal/content"
	apperrors "github.com/docshare/host/internal/errors"
)

// Decision is the terminal outcome of an authorization.
type Decision string

const (
	// DecisionAllowed releases the candidate response.
	DecisionAllowed Decision = "allowed"

	// DecisionDenied releases the denial page instead of the candidate.
	DecisionDenied Decision = "denied"
)

// Decision sources recorded in the audit trail.
const (
	// SourceAllowlist marks a release for an already-trusted address.
	SourceAllowlist = "allowlist"

	// SourceOperator marks an explicit operator decision.
	SourceOperator = "operator"

	// SourceTimeout marks a default-deny after the approval wait expired.
	SourceTimeout = "timeout"

	// SourceUnavailable marks the fail-open release used when no prompt
	// channel can reach the operator. The address is not trusted afterwards.
	SourceUnavailable = "unavailable"

	// SourceThrottled marks a default-deny because prompt dispatch was
	// rate-limited (e.g. a port scan hitting the server).
	SourceThrottled = "throttled"
)

// Prompt is the approval question delivered to the operator.
type Prompt struct {
	// RequestID identifies the pending decision; the answer must echo it.
	RequestID string `json:"request_id"`

	// Address is the client network address awaiting the decision.
	Address string `json:"address"`

	// Title is the requested URL.
	Title string `json:"title"`

	// Body is a human-readable description of what will be returned.
	Body string `json:"body"`
}

// Notifier delivers prompts to the operator.
// Available reports whether a prompt dispatched now can reach anyone; when it
// returns false the gate falls back to releasing the candidate for that
// single request without trusting the address.
type Notifier interface {
	Notify(p Prompt) error
	Available() bool
}

// AuditRecorder persists terminal first-contact decisions.
// This is a local copy of the storage contract to avoid an import cycle.
type AuditRecorder interface {
	RecordAccess(rec AccessRecord) error
}

// AccessRecord describes one resolved access decision.
type AccessRecord struct {
	ID        string
	RequestID string
	Address   string
	Path      string
	Decision  string
	Source    string
	DecidedAt time.Time
}

// Request is one inbound request presented to the gate.
type Request struct {
	// Address is the opaque client identity (host without port).
	Address string

	// URL is the full requested URL, used as the prompt title.
	URL string

	// Candidate is the eagerly-computed response released on Allow.
	Candidate content.Content
}

// Result is what the gate releases for a request.
type Result struct {
	// Content is the response to write to the client.
	Content content.Content

	// Decision is the terminal outcome.
	Decision Decision

	// Source records how the decision was reached.
	Source string
}

// Options configures a Gate.
type Options struct {
	// Timeout bounds the wait for an operator decision. On expiry the
	// request is denied and the address stays unknown, so the next request
	// from it prompts again. Zero waits indefinitely.
	Timeout time.Duration

	// Notifier delivers approval prompts. Required.
	Notifier Notifier

	// Audit persists decisions. Nil disables auditing.
	Audit AuditRecorder

	// DeniedPage is the response released on Deny. Required.
	DeniedPage content.Content

	// PromptRate and PromptBurst throttle prompt dispatch across all
	// addresses. Zero values use defaults (1 prompt/sec, burst 5).
	PromptRate  rate.Limit
	PromptBurst int
}

// decisionResult travels from the deciding side to a blocked request.
type decisionResult struct {
	allow  bool
	source string
}

// waiter is one request blocked on a pending address decision.
// Its channel is buffered (size 1), created per request and never reused, so
// the resolving side signals exactly once without blocking.
type waiter struct {
	candidate content.Content
	url       string
	ch        chan decisionResult
}

// pendingAddress tracks the single in-flight prompt for a new address and
// every request blocked behind it.
type pendingAddress struct {
	requestID string
	waiters   map[string]*waiter // keyed by per-request ticket id
}

// Gate is the access control state machine.
// All exported methods are safe for concurrent use.
type Gate struct {
	mu sync.Mutex

	// allowed is the process-lifetime allow-list, append-only.
	allowed map[string]bool

	// pending maps client address -> in-flight decision.
	pending map[string]*pendingAddress

	// byRequest maps prompt request id -> client address for Decide.
	byRequest map[string]string

	timeout       time.Duration
	notifier      Notifier
	audit         AuditRecorder
	denied        content.Content
	promptLimiter *rate.Limiter
}

// New creates a gate. Panics if the notifier or denial page is missing,
// since the gate cannot operate without either.
func New(opts Options) *Gate {
	if opts.Notifier == nil {
		panic("gate: Notifier is required")
	}
	if opts.DeniedPage.Status == 0 {
		panic("gate: DeniedPage is required")
	}

	promptRate := opts.PromptRate
	if promptRate == 0 {
		promptRate = rate.Limit(1)
	}
	promptBurst := opts.PromptBurst
	if promptBurst == 0 {
		promptBurst = 5
	}

	return &Gate{
		allowed:       make(map[string]bool),
		pending:       make(map[string]*pendingAddress),
		byRequest:     make(map[string]string),
		timeout:       opts.Timeout,
		notifier:      opts.Notifier,
		audit:         opts.Audit,
		denied:        opts.DeniedPage,
		promptLimiter: rate.NewLimiter(promptRate, promptBurst),
	}
}

// Authorize blocks until the request may be answered and returns what to
// write back. The only error it returns is context cancellation; every other
// outcome (allow, deny, timeout, fallback) is expressed as a Result so the
// listener always has something to serve.
func (g *Gate) Authorize(ctx context.Context, req Request) (Result, error) {
	g.mu.Lock()
	if g.allowed[req.Address] {
		g.mu.Unlock()
		return Result{Content: req.Candidate, Decision: DecisionAllowed, Source: SourceAllowlist}, nil
	}
	g.mu.Unlock()

	// The prompt channel cannot reach anyone: release this one response
	// without trusting the address. The next request tries again.
	if !g.notifier.Available() {
		log.Printf("gate: no operator channel, releasing %s for %s without approval", req.URL, req.Address)
		g.record(uuid.New().String(), req, DecisionAllowed, SourceUnavailable)
		return Result{Content: req.Candidate, Decision: DecisionAllowed, Source: SourceUnavailable}, nil
	}

	ticketID := uuid.New().String()
	w := &waiter{
		candidate: req.Candidate,
		url:       req.URL,
		ch:        make(chan decisionResult, 1),
	}

	g.mu.Lock()
	// Re-check under the lock: an Allow may have landed while unlocked.
	if g.allowed[req.Address] {
		g.mu.Unlock()
		return Result{Content: req.Candidate, Decision: DecisionAllowed, Source: SourceAllowlist}, nil
	}

	p, havePrompt := g.pending[req.Address]
	if !havePrompt {
		p = &pendingAddress{
			requestID: ticketID,
			waiters:   make(map[string]*waiter),
		}
		g.pending[req.Address] = p
		g.byRequest[ticketID] = req.Address
	}
	p.waiters[ticketID] = w
	g.mu.Unlock()

	if !havePrompt {
		if !g.promptLimiter.Allow() {
			log.Printf("gate: prompt throttled for %s, denying", req.Address)
			g.resolve(p.requestID, false, SourceThrottled)
		} else {
			prompt := Prompt{
				RequestID: p.requestID,
				Address:   req.Address,
				Title:     req.URL,
				Body:      req.Candidate.Description,
			}
			if err := g.notifier.Notify(prompt); err != nil {
				// The channel failed after reporting available; apply the
				// same fail-open rule as an unavailable channel.
				log.Printf("gate: prompt delivery failed for %s: %v", req.Address, err)
				g.releaseUndelivered(p.requestID)
			} else {
				log.Printf("gate: prompt %s dispatched for %s (%s)", p.requestID, req.Address, req.URL)
			}
		}
	}

	var timeoutCh <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-w.ch:
		if res.allow {
			g.record(ticketID, req, DecisionAllowed, res.source)
			return Result{Content: req.Candidate, Decision: DecisionAllowed, Source: res.source}, nil
		}
		g.record(ticketID, req, DecisionDenied, res.source)
		return Result{Content: g.denied, Decision: DecisionDenied, Source: res.source}, nil

	case <-timeoutCh:
		g.dropWaiter(req.Address, ticketID)
		log.Printf("gate: approval for %s timed out, denying %s", req.Address, req.URL)
		g.record(ticketID, req, DecisionDenied, SourceTimeout)
		return Result{Content: g.denied, Decision: DecisionDenied, Source: SourceTimeout}, nil

	case <-ctx.Done():
		g.dropWaiter(req.Address, ticketID)
		return Result{}, ctx.Err()
	}
}

// Decide resolves the pending prompt with the given request id. Allow adds
// the address to the allow-list and releases every blocked request from it
// with its own candidate; Deny releases them all with the denial page.
// Returns approval.not_found if the prompt already expired or was resolved.
func (g *Gate) Decide(requestID string, allow bool) error {
	return g.resolve(requestID, allow, SourceOperator)
}

func (g *Gate) resolve(requestID string, allow bool, source string) error {
	g.mu.Lock()
	addr, ok := g.byRequest[requestID]
	if !ok {
		g.mu.Unlock()
		return apperrors.ApprovalNotFound(requestID)
	}
	p := g.pending[addr]
	delete(g.byRequest, requestID)
	delete(g.pending, addr)

	if allow && source == SourceOperator {
		g.allowed[addr] = true
	}

	released := 0
	for _, w := range p.waiters {
		// Buffered channel, one send per waiter: never blocks.
		w.ch <- decisionResult{allow: allow, source: source}
		released++
	}
	g.mu.Unlock()

	log.Printf("gate: prompt %s resolved for %s (allow=%v source=%s, %d waiting)",
		requestID, addr, allow, source, released)
	return nil
}

// releaseUndelivered applies the fail-open rule when a dispatched prompt
// could not be delivered: every waiter gets its candidate, the address is not
// added to the allow-list.
func (g *Gate) releaseUndelivered(requestID string) {
	g.mu.Lock()
	addr, ok := g.byRequest[requestID]
	if !ok {
		g.mu.Unlock()
		return
	}
	p := g.pending[addr]
	delete(g.byRequest, requestID)
	delete(g.pending, addr)
	for _, w := range p.waiters {
		w.ch <- decisionResult{allow: true, source: SourceUnavailable}
	}
	g.mu.Unlock()
}

// dropWaiter removes a single waiter after timeout or cancellation.
// The prompt entry survives while other requests still wait on it; the last
// departing waiter takes the entry with it so a late decision gets
// approval.not_found instead of leaking state.
func (g *Gate) dropWaiter(addr, ticketID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[addr]
	if !ok {
		return
	}
	delete(p.waiters, ticketID)
	if len(p.waiters) == 0 {
		delete(g.byRequest, p.requestID)
		delete(g.pending, addr)
	}
}

// IsAllowed reports whether the address is on the allow-list.
func (g *Gate) IsAllowed(addr string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allowed[addr]
}

// Allow adds an address to the allow-list directly, bypassing the prompt
// flow. Used to pre-trust addresses (e.g. loopback).
func (g *Gate) Allow(addr string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowed[addr] = true
}

// AllowedAddresses returns a copy of the allow-list.
func (g *Gate) AllowedAddresses() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	addrs := make([]string, 0, len(g.allowed))
	for addr := range g.allowed {
		addrs = append(addrs, addr)
	}
	return addrs
}

// PendingCount returns the number of addresses awaiting a decision.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// PendingPrompts returns the prompts currently awaiting a decision, one per
// address. Control clients receive these on connect so a prompt raised while
// no operator was watching is not lost.
func (g *Gate) PendingPrompts() []Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()

	prompts := make([]Prompt, 0, len(g.pending))
	for addr, p := range g.pending {
		// Describe the first waiter's request; any waiter would do.
		var url, body string
		for _, w := range p.waiters {
			url = w.url
			body = w.candidate.Description
			break
		}
		prompts = append(prompts, Prompt{
			RequestID: p.requestID,
			Address:   addr,
			Title:     url,
			Body:      body,
		})
	}
	return prompts
}

// record writes a terminal decision to the audit store, if configured.
// Audit failures are logged, never propagated: auditing is observability,
// not control flow.
func (g *Gate) record(ticketID string, req Request, decision Decision, source string) {
	if g.audit == nil {
		return
	}
	rec := AccessRecord{
		ID:        uuid.New().String(),
		RequestID: ticketID,
		Address:   req.Address,
		Path:      req.URL,
		Decision:  string(decision),
		Source:    source,
		DecidedAt: time.Now(),
	}
	if err := g.audit.RecordAccess(rec); err != nil {
		log.Printf("gate: warning: failed to save audit record: %v", err)
	}
}
