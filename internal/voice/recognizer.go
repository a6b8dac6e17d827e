package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vocality-ai/vocality/pkg/provider/stt"
)

// Backend identifies one of the two speech-recognition slots.
type Backend int

const (
	BackendPrimary Backend = iota
	BackendSecondary
)

// ErrNoAlternate is returned by [Recognizer.SwitchBackend] when no second
// provider is configured.
var ErrNoAlternate = errors.New("voice: no alternate recognition backend configured")

// ErrRecognizerClosed is returned by [Recognizer.Send] after Close.
var ErrRecognizerClosed = errors.New("voice: recognizer closed")

// Event is a normalized recognition event: either a transcript or an error,
// tagged with the backend that produced it.
type Event struct {
	Transcript stt.Transcript
	Err        error
	Backend    Backend
}

// Recognizer adapts a primary and an optional secondary [stt.Provider] behind
// one event stream. Exactly one backend is active at a time; events produced
// by a backend that is no longer active are dropped at the pump, so a slow
// old session cannot interleave stale transcripts after a switch.
//
// Failover is sticky: once switched, the recognizer stays on the new backend
// until switched again. The failure counter lives here too, because it is
// coupled to the active backend (a successful transcript resets it, a switch
// resets it).
type Recognizer struct {
	providers [2]stt.Provider
	threshold int
	cfg       stt.StreamConfig

	mu       sync.Mutex
	active   Backend
	handle   stt.SessionHandle
	failures int
	closed   bool

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewRecognizer returns a recognizer over the given backends. secondary may
// be nil, which disables failover. threshold is the number of consecutive
// failures that makes [Recognizer.RecordFailure] request a switch.
func NewRecognizer(primary, secondary stt.Provider, threshold int, cfg stt.StreamConfig) *Recognizer {
	return &Recognizer{
		providers: [2]stt.Provider{primary, secondary},
		threshold: threshold,
		cfg:       cfg,
		events:    make(chan Event, 32),
		done:      make(chan struct{}),
	}
}

// Open starts a streaming session on the primary backend. If the primary
// cannot be opened and a secondary is configured, Open falls back to it and
// reports switched=true so the caller can announce the change.
func (r *Recognizer) Open(ctx context.Context) (switched bool, err error) {
	if err := r.open(ctx, BackendPrimary); err == nil {
		return false, nil
	} else if r.providers[BackendSecondary] == nil {
		return false, err
	} else {
		slog.WarnContext(ctx, "primary recognition backend unavailable, opening secondary",
			"provider", r.providers[BackendPrimary].Name(),
			"error", err,
		)
	}
	if err := r.open(ctx, BackendSecondary); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Recognizer) open(ctx context.Context, b Backend) error {
	p := r.providers[b]
	h, err := p.StartStream(ctx, r.cfg)
	if err != nil {
		return fmt.Errorf("voice: open %s stream: %w", p.Name(), err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		h.Close()
		return ErrRecognizerClosed
	}
	old := r.handle
	r.active = b
	r.handle = h
	r.failures = 0
	r.mu.Unlock()

	if old != nil {
		// Closing drains the old backend's channels and ends its pump.
		go old.Close()
	}

	r.wg.Add(1)
	go r.pump(b, h)
	return nil
}

// pump forwards one handle's transcripts and errors onto the shared event
// stream until all its channels close. Events from a backend that lost the
// active slot are discarded here.
func (r *Recognizer) pump(b Backend, h stt.SessionHandle) {
	defer r.wg.Done()
	partials, finals, errs := h.Partials(), h.Finals(), h.Errors()
	for partials != nil || finals != nil || errs != nil {
		var ev Event
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			ev = Event{Transcript: t, Backend: b}
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			ev = Event{Transcript: t, Backend: b}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			ev = Event{Err: err, Backend: b}
		case <-r.done:
			return
		}
		if !r.IsActive(b) {
			continue
		}
		select {
		case r.events <- ev:
		case <-r.done:
			return
		}
	}
}

// IsActive reports whether b currently holds the active slot. Consumers
// re-check it on received events: the event channel is buffered, so events
// pumped just before a switch can still be delivered after it.
func (r *Recognizer) IsActive(b Backend) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active == b && !r.closed
}

// Events returns the merged recognition event stream. It is closed after
// [Recognizer.Close].
func (r *Recognizer) Events() <-chan Event { return r.events }

// Send forwards a PCM chunk to the active backend.
func (r *Recognizer) Send(chunk []byte) error {
	r.mu.Lock()
	h := r.handle
	closed := r.closed
	r.mu.Unlock()
	if closed || h == nil {
		return ErrRecognizerClosed
	}
	return h.SendAudio(chunk)
}

// ActiveName returns the name of the active backend's provider.
func (r *Recognizer) ActiveName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.providers[r.active].Name()
}

// Failures returns the current consecutive-failure count.
func (r *Recognizer) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// RecordFailure increments the consecutive-failure counter and reports
// whether the threshold has been reached with an alternate available.
func (r *Recognizer) RecordFailure() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
	return r.failures >= r.threshold && r.providers[r.other(r.active)] != nil
}

// RecordSuccess resets the consecutive-failure counter after a successful
// transcription.
func (r *Recognizer) RecordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = 0
}

// SwitchBackend opens a session on the inactive backend and makes it active,
// resetting the failure counter. The old session is closed in the background;
// its in-flight events are dropped by the pump. Returns the new backend's
// provider name.
func (r *Recognizer) SwitchBackend(ctx context.Context, reason string) (string, error) {
	r.mu.Lock()
	target := r.other(r.active)
	p := r.providers[target]
	r.mu.Unlock()
	if p == nil {
		return "", ErrNoAlternate
	}
	if err := r.open(ctx, target); err != nil {
		return "", err
	}
	slog.InfoContext(ctx, "switched recognition backend",
		"provider", p.Name(),
		"reason", reason,
	)
	return p.Name(), nil
}

func (r *Recognizer) other(b Backend) Backend {
	if b == BackendPrimary {
		return BackendSecondary
	}
	return BackendPrimary
}

// Close shuts down the active session, stops the pumps, and closes the event
// stream. Idempotent.
func (r *Recognizer) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	h := r.handle
	r.handle = nil
	r.mu.Unlock()

	close(r.done)
	if h != nil {
		h.Close()
	}
	r.wg.Wait()
	close(r.events)
}
