package notify

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/docshare/host/internal/gate"
)

// TerminalNotifier presents approval prompts as a synchronous yes/no question
// on the controlling terminal. It is the fallback channel when no control
// client is connected: the operator sitting at the host terminal still gets
// an equivalent choice dialog.
type TerminalNotifier struct {
	decide DecisionHandler

	// in is shared across prompts; a per-prompt reader could buffer and
	// discard a queued answer line.
	in  *bufio.Reader
	out io.Writer

	// available is evaluated once at construction; a terminal does not
	// appear or disappear mid-process.
	available bool

	// mu serializes prompts so concurrent questions do not interleave
	// on the terminal.
	mu sync.Mutex
}

// NewTerminalNotifier creates a terminal fallback notifier reading answers
// from stdin. Returns a notifier whose Available() is false when stdin is
// not a TTY (e.g. the host runs under a service manager).
func NewTerminalNotifier(decide DecisionHandler) *TerminalNotifier {
	return &TerminalNotifier{
		decide:    decide,
		in:        bufio.NewReader(os.Stdin),
		out:       os.Stdout,
		available: isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()),
	}
}

// newTerminalNotifierForTest wires explicit streams and forces availability.
func newTerminalNotifierForTest(decide DecisionHandler, in io.Reader, out io.Writer) *TerminalNotifier {
	return &TerminalNotifier{
		decide:    decide,
		in:        bufio.NewReader(in),
		out:       out,
		available: true,
	}
}

// Available reports whether the host has an interactive terminal.
func (t *TerminalNotifier) Available() bool {
	return t.available
}

// Notify prints the prompt and collects the answer in a background
// goroutine, so the calling request goroutine blocks on the gate's own
// synchronization rather than on terminal I/O.
func (t *TerminalNotifier) Notify(p gate.Prompt) error {
	if !t.available {
		return fmt.Errorf("no interactive terminal")
	}

	go func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		fmt.Fprintln(t.out, "")
		fmt.Fprintln(t.out, "-------------------------------------------")
		fmt.Fprintf(t.out, "Access request from %s\n", p.Address)
		fmt.Fprintf(t.out, "  %s\n", p.Title)
		fmt.Fprintf(t.out, "  %s\n", p.Body)
		fmt.Fprint(t.out, "Allow this device? [y/N]: ")

		line, err := t.in.ReadString('\n')
		if err != nil {
			log.Printf("notify: terminal prompt read failed: %v", err)
			return
		}

		answer := strings.ToLower(strings.TrimSpace(line))
		allow := answer == "y" || answer == "yes"

		if err := t.decide(p.RequestID, allow); err != nil {
			// The prompt may have timed out while the operator was typing.
			log.Printf("notify: terminal decision not applied: %v", err)
		}
	}()

	return nil
}
