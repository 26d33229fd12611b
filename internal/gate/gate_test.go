package gate

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/docshare/host/internal/content"
	apperrors "github.com/docshare/host/internal/errors"
)

// fakeNotifier records dispatched prompts and reports configurable availability.
type fakeNotifier struct {
	mu        sync.Mutex
	prompts   []Prompt
	available bool
	failWith  error
}

func (f *fakeNotifier) Notify(p Prompt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.prompts = append(f.prompts, p)
	return nil
}

func (f *fakeNotifier) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeNotifier) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeNotifier) lastPrompt() Prompt {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return Prompt{}
	}
	return f.prompts[len(f.prompts)-1]
}

// recordingAudit collects audit records in memory.
type recordingAudit struct {
	mu      sync.Mutex
	records []AccessRecord
}

func (a *recordingAudit) RecordAccess(rec AccessRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

func (a *recordingAudit) bySource(source string) []AccessRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []AccessRecord
	for _, rec := range a.records {
		if rec.Source == source {
			out = append(out, rec)
		}
	}
	return out
}

func deniedPage() content.Content {
	return content.Content{
		Status:      http.StatusForbidden,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte("denied"),
	}
}

func candidate(desc string) content.Content {
	return content.Content{
		Status:      http.StatusOK,
		ContentType: "text/plain",
		Body:        []byte("the goods"),
		Description: desc,
	}
}

func newTestGate(t *testing.T, notifier Notifier, audit AuditRecorder, timeout time.Duration) *Gate {
	t.Helper()
	return New(Options{
		Timeout:    timeout,
		Notifier:   notifier,
		Audit:      audit,
		DeniedPage: deniedPage(),
	})
}

// waitForPrompt polls until the notifier has seen at least n prompts.
func waitForPrompt(t *testing.T, f *fakeNotifier, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.promptCount() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d prompts (have %d)", n, f.promptCount())
}

func TestAllowReleasesCandidateAndTrustsAddress(t *testing.T) {
	notifier := &fakeNotifier{available: true}
	g := newTestGate(t, notifier, nil, 5*time.Second)

	var result Result
	var authErr error
	done := make(chan struct{})
	go func() {
		result, authErr = g.Authorize(context.Background(), Request{
			Address:   "192.168.1.20",
			URL:       "http://host/notes.md",
			Candidate: candidate("notes will be returned"),
		})
		close(done)
	}()

	waitForPrompt(t, notifier, 1)
	prompt := notifier.lastPrompt()
	if prompt.Title != "http://host/notes.md" {
		t.Errorf("prompt title = %q", prompt.Title)
	}
	if prompt.Body != "notes will be returned" {
		t.Errorf("prompt body = %q", prompt.Body)
	}

	if err := g.Decide(prompt.RequestID, true); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	<-done

	if authErr != nil {
		t.Fatalf("Authorize: %v", authErr)
	}
	if result.Decision != DecisionAllowed || result.Source != SourceOperator {
		t.Errorf("result = %+v", result)
	}
	if string(result.Content.Body) != "the goods" {
		t.Error("allow must release the original candidate")
	}
	if !g.IsAllowed("192.168.1.20") {
		t.Error("allowed address must join the allow-list")
	}
}

func TestDenyReleasesDenialPageAndDoesNotTrust(t *testing.T) {
	notifier := &fakeNotifier{available: true}
	g := newTestGate(t, notifier, nil, 5*time.Second)

	var result Result
	done := make(chan struct{})
	go func() {
		result, _ = g.Authorize(context.Background(), Request{
			Address:   "10.0.0.7",
			URL:       "http://host/private.md",
			Candidate: candidate("private"),
		})
		close(done)
	}()

	waitForPrompt(t, notifier, 1)
	if err := g.Decide(notifier.lastPrompt().RequestID, false); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	<-done

	if result.Decision != DecisionDenied {
		t.Errorf("Decision = %q", result.Decision)
	}
	if result.Content.Status != http.StatusForbidden {
		t.Errorf("Status = %d, want 403", result.Content.Status)
	}
	if g.IsAllowed("10.0.0.7") {
		t.Error("denied address must not join the allow-list")
	}

	// A later request from the same address prompts again.
	done2 := make(chan struct{})
	go func() {
		g.Authorize(context.Background(), Request{
			Address:   "10.0.0.7",
			URL:       "http://host/private.md",
			Candidate: candidate("private"),
		})
		close(done2)
	}()
	waitForPrompt(t, notifier, 2)
	g.Decide(notifier.lastPrompt().RequestID, false)
	<-done2
}

func TestAllowlistedAddressSkipsPrompt(t *testing.T) {
	notifier := &fakeNotifier{available: true}
	g := newTestGate(t, notifier, nil, 5*time.Second)
	g.Allow("172.16.0.9")

	result, err := g.Authorize(context.Background(), Request{
		Address:   "172.16.0.9",
		URL:       "http://host/any.md",
		Candidate: candidate("any"),
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if result.Decision != DecisionAllowed || result.Source != SourceAllowlist {
		t.Errorf("result = %+v", result)
	}
	if notifier.promptCount() != 0 {
		t.Error("allow-listed addresses must not raise prompts")
	}
}

func TestConcurrentRequestsFromNewAddressShareOnePrompt(t *testing.T) {
	notifier := &fakeNotifier{available: true}
	g := newTestGate(t, notifier, nil, 5*time.Second)

	const workers = 4
	results := make([]Result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = g.Authorize(context.Background(), Request{
				Address:   "192.168.1.99",
				URL:       "http://host/a.md",
				Candidate: candidate("a"),
			})
		}(i)
	}

	waitForPrompt(t, notifier, 1)
	// Give the remaining workers time to join the pending entry.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		g.mu.Lock()
		n := 0
		if p := g.pending["192.168.1.99"]; p != nil {
			n = len(p.waiters)
		}
		g.mu.Unlock()
		if n == workers {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := g.Decide(notifier.lastPrompt().RequestID, true); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	wg.Wait()

	if notifier.promptCount() != 1 {
		t.Errorf("prompt count = %d, want exactly 1 for a single new address", notifier.promptCount())
	}
	for i, result := range results {
		if result.Decision != DecisionAllowed {
			t.Errorf("worker %d: Decision = %q", i, result.Decision)
		}
		if string(result.Content.Body) != "the goods" {
			t.Errorf("worker %d: did not receive its own candidate", i)
		}
	}
}

func TestDistinctAddressesGetDistinctPrompts(t *testing.T) {
	notifier := &fakeNotifier{available: true}
	g := newTestGate(t, notifier, nil, 5*time.Second)

	var wg sync.WaitGroup
	for _, addr := range []string{"10.1.1.1", "10.2.2.2"} {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			g.Authorize(context.Background(), Request{
				Address:   addr,
				URL:       "http://host/x",
				Candidate: candidate("x"),
			})
		}(addr)
	}

	waitForPrompt(t, notifier, 2)

	notifier.mu.Lock()
	prompts := append([]Prompt(nil), notifier.prompts...)
	notifier.mu.Unlock()
	for _, p := range prompts {
		if err := g.Decide(p.RequestID, true); err != nil {
			t.Errorf("Decide(%s): %v", p.RequestID, err)
		}
	}
	wg.Wait()
}

func TestTimeoutDeniesAndAllowsRetry(t *testing.T) {
	notifier := &fakeNotifier{available: true}
	audit := &recordingAudit{}
	g := newTestGate(t, notifier, audit, 50*time.Millisecond)

	result, err := g.Authorize(context.Background(), Request{
		Address:   "10.9.9.9",
		URL:       "http://host/slow.md",
		Candidate: candidate("slow"),
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if result.Decision != DecisionDenied || result.Source != SourceTimeout {
		t.Errorf("result = %+v", result)
	}
	if g.IsAllowed("10.9.9.9") {
		t.Error("timeout must not trust the address")
	}
	if g.PendingCount() != 0 {
		t.Error("timed-out entry must be cleaned up")
	}
	if len(audit.bySource(SourceTimeout)) != 1 {
		t.Error("timeout decision should be audited")
	}

	// The late decision finds nothing.
	err = g.Decide(notifier.lastPrompt().RequestID, true)
	if !apperrors.HasCode(err, apperrors.CodeApprovalNotFound) {
		t.Errorf("late Decide error = %v, want approval.not_found", err)
	}
}

func TestUnavailableNotifierFailsOpenForSingleRequest(t *testing.T) {
	notifier := &fakeNotifier{available: false}
	audit := &recordingAudit{}
	g := newTestGate(t, notifier, audit, 5*time.Second)

	result, err := g.Authorize(context.Background(), Request{
		Address:   "10.4.4.4",
		URL:       "http://host/doc.md",
		Candidate: candidate("doc"),
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if result.Decision != DecisionAllowed || result.Source != SourceUnavailable {
		t.Errorf("result = %+v", result)
	}
	if notifier.promptCount() != 0 {
		t.Error("no prompt should be dispatched when the channel is unavailable")
	}
	if g.IsAllowed("10.4.4.4") {
		t.Error("fail-open release must not trust the address")
	}
	if len(audit.bySource(SourceUnavailable)) != 1 {
		t.Error("fail-open release should be audited")
	}
}

func TestContextCancellationUnblocks(t *testing.T) {
	notifier := &fakeNotifier{available: true}
	g := newTestGate(t, notifier, nil, 0) // no timeout: only the context can unblock

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Authorize(ctx, Request{
			Address:   "10.5.5.5",
			URL:       "http://host/doc.md",
			Candidate: candidate("doc"),
		})
		done <- err
	}()

	waitForPrompt(t, notifier, 1)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Authorize did not unblock on cancellation")
	}

	if g.PendingCount() != 0 {
		t.Error("cancelled waiter must be cleaned up")
	}
}

func TestPromptThrottleDenies(t *testing.T) {
	notifier := &fakeNotifier{available: true}
	g := New(Options{
		Timeout:     5 * time.Second,
		Notifier:    notifier,
		DeniedPage:  deniedPage(),
		PromptRate:  rate.Every(time.Hour),
		PromptBurst: 1,
	})

	// First prompt consumes the burst allowance.
	done := make(chan struct{})
	go func() {
		g.Authorize(context.Background(), Request{
			Address:   "10.6.6.1",
			URL:       "http://host/a",
			Candidate: candidate("a"),
		})
		close(done)
	}()
	waitForPrompt(t, notifier, 1)

	// Second address arrives before the limiter refills.
	result, err := g.Authorize(context.Background(), Request{
		Address:   "10.6.6.2",
		URL:       "http://host/b",
		Candidate: candidate("b"),
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if result.Decision != DecisionDenied || result.Source != SourceThrottled {
		t.Errorf("result = %+v", result)
	}

	g.Decide(notifier.lastPrompt().RequestID, true)
	<-done
}

func TestAuditRecordsOperatorDecision(t *testing.T) {
	notifier := &fakeNotifier{available: true}
	audit := &recordingAudit{}
	g := newTestGate(t, notifier, audit, 5*time.Second)

	done := make(chan struct{})
	go func() {
		g.Authorize(context.Background(), Request{
			Address:   "10.7.7.7",
			URL:       "http://host/doc.md",
			Candidate: candidate("doc"),
		})
		close(done)
	}()
	waitForPrompt(t, notifier, 1)
	g.Decide(notifier.lastPrompt().RequestID, true)
	<-done

	records := audit.bySource(SourceOperator)
	if len(records) != 1 {
		t.Fatalf("operator audit records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.Address != "10.7.7.7" || rec.Decision != string(DecisionAllowed) {
		t.Errorf("record = %+v", rec)
	}
	if rec.ID == "" || rec.RequestID == "" {
		t.Error("audit record must carry generated ids")
	}
}

func TestPendingPrompts(t *testing.T) {
	notifier := &fakeNotifier{available: true}
	g := newTestGate(t, notifier, nil, 5*time.Second)

	done := make(chan struct{})
	go func() {
		g.Authorize(context.Background(), Request{
			Address:   "10.8.8.8",
			URL:       "http://host/doc.md",
			Candidate: candidate("doc will be returned"),
		})
		close(done)
	}()
	waitForPrompt(t, notifier, 1)

	prompts := g.PendingPrompts()
	if len(prompts) != 1 {
		t.Fatalf("PendingPrompts = %d, want 1", len(prompts))
	}
	if prompts[0].Address != "10.8.8.8" || prompts[0].Body != "doc will be returned" {
		t.Errorf("prompt = %+v", prompts[0])
	}

	g.Decide(prompts[0].RequestID, false)
	<-done

	if len(g.PendingPrompts()) != 0 {
		t.Error("resolved prompts must not linger")
	}
}
