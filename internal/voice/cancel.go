package voice

import (
	"context"
	"sync"
)

// CancelHandle is a one-shot cancellation signal shared between the code that
// detects an interruption and the synthesis loop it must stop. Triggering is
// idempotent; the first trigger also cancels the upstream context so that
// provider requests in flight are torn down, not just ignored.
type CancelHandle struct {
	once     sync.Once
	done     chan struct{}
	upstream context.CancelFunc
}

// NewCancelHandle returns a handle that invokes upstream (if non-nil) on the
// first trigger.
func NewCancelHandle(upstream context.CancelFunc) *CancelHandle {
	return &CancelHandle{done: make(chan struct{}), upstream: upstream}
}

// Trigger fires the cancellation. Safe to call multiple times; only the first
// call has any effect.
func (h *CancelHandle) Trigger() {
	h.once.Do(func() {
		close(h.done)
		if h.upstream != nil {
			h.upstream()
		}
	})
}

// Triggered reports whether the handle has fired.
func (h *CancelHandle) Triggered() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the handle fires, for select loops.
func (h *CancelHandle) Done() <-chan struct{} { return h.done }
