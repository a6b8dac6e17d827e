// Package voice implements the conversational core: per-connection session
// state, streaming speech recognition with automatic backend failover,
// interruption (barge-in) handling, early utterance cut-off, and the
// verify-generate-synthesize turn pipeline.
package voice

import (
	"sync"
	"time"
)

// State is the lifecycle state of a [Session].
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateVerifying
	StateGenerating
	StateSynthesizing
	StateEnded
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateVerifying:
		return "verifying"
	case StateGenerating:
		return "generating"
	case StateSynthesizing:
		return "synthesizing"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Session holds the per-connection conversational state. All mutable fields
// are guarded by an internal mutex; the exported methods are safe for
// concurrent use by the audio ingest path, the recognition event loop, and
// turn pipeline goroutines.
//
// The epoch is a monotonically increasing turn counter. Every interruption or
// new turn increments it; pipeline stages compare their captured epoch against
// the current one and silently drop their output when they have been
// superseded.
type Session struct {
	// ID identifies the session (one per client connection).
	ID string

	// UserID is the authenticated user identity, fixed at creation.
	UserID string

	mu              sync.Mutex
	state           State
	epoch           uint64
	ring            *Ring
	cancel          *CancelHandle
	synthesisActive bool
	recognizer      *Recognizer
	sink            Sink
	latency         *LatencyTracker
	streamStart     time.Time
	lastTurnText    string
}

// NewSession returns a session in [StateIdle] with an audio ring of the given
// byte capacity.
func NewSession(id, userID string, ringCapBytes int, latency *LatencyTracker) *Session {
	return &Session{
		ID:      id,
		UserID:  userID,
		state:   StateIdle,
		ring:    NewRing(ringCapBytes),
		latency: latency,
	}
}

// ─── Lifecycle ───────────────────────────────────────────────────────

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the session. Transitions out of [StateEnded] are
// ignored.
func (s *Session) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return
	}
	s.state = st
}

// SetStateIfEpoch transitions the session only when turnEpoch is still
// current, so stale pipeline stages cannot flip state after being superseded.
func (s *Session) SetStateIfEpoch(turnEpoch uint64, st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded || s.epoch != turnEpoch {
		return false
	}
	s.state = st
	return true
}

// End transitions the session to [StateEnded], fires any outstanding
// cancellation handle, and closes the recognizer. Idempotent.
func (s *Session) End() {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	s.state = StateEnded
	s.synthesisActive = false
	if s.cancel != nil {
		s.cancel.Trigger()
	}
	rec := s.recognizer
	s.mu.Unlock()
	if rec != nil {
		rec.Close()
	}
}

// ─── Epoch and synthesis ─────────────────────────────────────────────

// Epoch returns the current turn epoch.
func (s *Session) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// EpochIs reports whether e is still the current epoch and the session is
// still live. Stale stages use this to decide whether to drop their output.
func (s *Session) EpochIs(e uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateEnded && s.epoch == e
}

// BeginTurn invalidates any in-flight synthesis, advances the epoch, and
// returns the new epoch for the starting turn.
func (s *Session) BeginTurn() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel.Trigger()
	}
	s.synthesisActive = false
	s.epoch++
	return s.epoch
}

// StartSynthesis installs a fresh cancellation handle and marks synthesis
// active, but only when turnEpoch is still current. Returns false when the
// turn has been superseded or the session ended.
func (s *Session) StartSynthesis(turnEpoch uint64, h *CancelHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded || s.epoch != turnEpoch {
		return false
	}
	s.cancel = h
	s.synthesisActive = true
	s.state = StateSynthesizing
	return true
}

// FinishSynthesis clears the active-synthesis flag for a naturally completed
// turn. Returns false when the turn was superseded in the meantime.
func (s *Session) FinishSynthesis(turnEpoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != turnEpoch {
		return false
	}
	s.synthesisActive = false
	s.cancel = nil
	if s.state == StateSynthesizing {
		s.state = StateStreaming
	}
	return true
}

// CancelSynthesis fires the active cancellation handle, clears the synthesis
// flag, and advances the epoch so the interrupted pipeline drops its
// remaining output. Returns false when no synthesis was active.
func (s *Session) CancelSynthesis() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.synthesisActive || s.cancel == nil || s.cancel.Triggered() {
		return false
	}
	s.cancel.Trigger()
	s.synthesisActive = false
	s.epoch++
	if s.state == StateSynthesizing {
		s.state = StateStreaming
	}
	return true
}

// SynthesisActive reports whether assistant speech is currently streaming.
func (s *Session) SynthesisActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synthesisActive
}

// ─── Audio ring ──────────────────────────────────────────────────────

// WriteAudio appends a PCM chunk to the verification ring.
func (s *Session) WriteAudio(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring.Write(p)
}

// RingSnapshot returns a copy of the buffered verification audio.
func (s *Session) RingSnapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Bytes()
}

// ClearRing discards the buffered verification audio.
func (s *Session) ClearRing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring.Clear()
}

// RingLen reports the number of buffered verification bytes.
func (s *Session) RingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Len()
}

// ─── Wiring accessors ────────────────────────────────────────────────

func (s *Session) attach(rec *Recognizer, sink Sink, start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recognizer = rec
	s.sink = sink
	s.streamStart = start
}

// Recognizer returns the session's speech-recognition adapter.
func (s *Session) Recognizer() *Recognizer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recognizer
}

// Sink returns the session's outbound event sink.
func (s *Session) Sink() Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

// Latency returns the session's per-turn latency tracker.
func (s *Session) Latency() *LatencyTracker { return s.latency }

// StreamStart returns the time the audio stream was opened.
func (s *Session) StreamStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamStart
}

// LastTurnText returns the transcript accepted for the most recent turn.
func (s *Session) LastTurnText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTurnText
}

// SetLastTurnText records the transcript accepted for the current turn.
func (s *Session) SetLastTurnText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTurnText = text
}
