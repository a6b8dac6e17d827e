// Package mock provides a test double for the verify.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/vocality-ai/vocality/pkg/provider/verify"
)

// VerifyCall records a single invocation of Verify.
type VerifyCall struct {
	// UserID is the claimed identity passed to Verify.
	UserID string
	// Audio is the PCM sample passed to Verify.
	Audio []byte
}

// Provider is a mock implementation of verify.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned from Verify when Err is nil.
	Result verify.Result

	// Err, if non-nil, is returned as the error from Verify.
	Err error

	// Calls records every invocation of Verify in order.
	Calls []VerifyCall
}

// Verify records the call and returns Result, Err.
func (p *Provider) Verify(_ context.Context, userID string, audio []byte) (verify.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, VerifyCall{UserID: userID, Audio: audio})
	if p.Err != nil {
		return verify.Result{}, p.Err
	}
	return p.Result, nil
}

// LastCall returns the most recent Verify call, if any. Thread-safe.
func (p *Provider) LastCall() (VerifyCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return VerifyCall{}, false
	}
	return p.Calls[len(p.Calls)-1], true
}

// CallCount returns the number of Verify calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements verify.Provider at compile time.
var _ verify.Provider = (*Provider)(nil)
