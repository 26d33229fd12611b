package notify

import (
	apperrors "github.com/docshare/host/internal/errors"
	"github.com/docshare/host/internal/gate"
)

// Chain composes notifiers in priority order: a prompt goes to the first
// available notifier, and the chain is available while any member is.
// The usual arrangement is hub first, terminal fallback second.
type Chain struct {
	notifiers []gate.Notifier
}

// NewChain builds a chain from the given notifiers, highest priority first.
func NewChain(notifiers ...gate.Notifier) *Chain {
	return &Chain{notifiers: notifiers}
}

// Notify delivers the prompt to the first available notifier.
func (c *Chain) Notify(p gate.Prompt) error {
	var lastErr error
	for _, n := range c.notifiers {
		if !n.Available() {
			continue
		}
		if err := n.Notify(p); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return apperrors.NotifierUnavailable()
}

// Available reports whether any member notifier can deliver prompts.
func (c *Chain) Available() bool {
	for _, n := range c.notifiers {
		if n.Available() {
			return true
		}
	}
	return false
}
