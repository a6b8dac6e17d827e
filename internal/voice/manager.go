package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vocality-ai/vocality/internal/observe"
	"github.com/vocality-ai/vocality/pkg/provider/llm"
	"github.com/vocality-ai/vocality/pkg/provider/stt"
	"github.com/vocality-ai/vocality/pkg/provider/tts"
	"github.com/vocality-ai/vocality/pkg/provider/verify"
)

// ErrNoSession is returned for audio or control operations on a connection
// that has no active stream.
var ErrNoSession = errors.New("voice: no active stream for connection")

// Config carries the manager's tunables, resolved from application config.
type Config struct {
	// FailoverThreshold is the consecutive-failure count that switches the
	// recognition backend.
	FailoverThreshold int

	// LatencyBudget is the total-turn latency budget. Overruns are logged
	// and counted, never surfaced to the client.
	LatencyBudget time.Duration

	// RingCapBytes caps the per-session verification audio buffer.
	RingCapBytes int

	// EarlyCutMinChars is the minimum trimmed length for early interim
	// acceptance.
	EarlyCutMinChars int

	// AuthEnabled gates voice verification. Sessions always require a user
	// identity; this flag only controls whether the identity is verified
	// against the speaker's voice.
	AuthEnabled bool

	// BargeInRMSThreshold is the normalized RMS level above which inbound
	// audio interrupts active synthesis.
	BargeInRMSThreshold float64

	// Persona is the assistant's system prompt.
	Persona string

	// Stream is the audio format handed to recognition backends.
	Stream stt.StreamConfig

	// Voice is the synthesis voice profile.
	Voice tts.VoiceProfile
}

// Providers bundles the backends a [Manager] drives. SecondarySTT and
// Verifier may be nil; that disables failover and verification respectively.
type Providers struct {
	PrimarySTT   stt.Provider
	SecondarySTT stt.Provider
	LLM          llm.Provider
	TTS          tts.Provider
	Verifier     verify.Provider
}

// Manager owns the session registry and drives the conversational core for
// every connection: it ingests audio, consumes recognition events, applies
// barge-in and the early cut-off, and launches turn pipelines. One Manager
// serves all connections; all methods are safe for concurrent use.
type Manager struct {
	providers Providers
	registry  *Registry
	bargein   *BargeInController
	pipeline  *Pipeline
	metrics   *observe.Metrics

	cfgMu sync.RWMutex
	cfg   Config

	wg sync.WaitGroup
}

// NewManager wires a manager over the given providers. metrics may be nil in
// tests.
func NewManager(cfg Config, providers Providers, metrics *observe.Metrics) *Manager {
	return &Manager{
		cfg:       cfg,
		providers: providers,
		registry:  NewRegistry(),
		bargein:   NewBargeInController(cfg.BargeInRMSThreshold, metrics),
		pipeline: NewPipeline(providers.LLM, providers.TTS, providers.Verifier, PipelineConfig{
			Persona:     cfg.Persona,
			AuthEnabled: cfg.AuthEnabled && providers.Verifier != nil,
			Voice:       cfg.Voice,
		}, metrics),
		metrics: metrics,
	}
}

// Registry exposes the session registry, mainly for health reporting.
func (m *Manager) Registry() *Registry { return m.registry }

// Tunables is the subset of [Config] that may change at runtime.
type Tunables struct {
	FailoverThreshold   int
	LatencyBudget       time.Duration
	EarlyCutMinChars    int
	BargeInRMSThreshold float64
	Persona             string
}

// ApplyTunables updates runtime tuning. The barge-in threshold, early
// cut-off length, and persona take effect immediately; failover threshold
// and latency budget apply to streams opened after the call.
func (m *Manager) ApplyTunables(t Tunables) {
	m.cfgMu.Lock()
	m.cfg.FailoverThreshold = t.FailoverThreshold
	m.cfg.LatencyBudget = t.LatencyBudget
	m.cfg.EarlyCutMinChars = t.EarlyCutMinChars
	m.cfg.BargeInRMSThreshold = t.BargeInRMSThreshold
	m.cfg.Persona = t.Persona
	m.cfgMu.Unlock()

	m.bargein.SetThreshold(t.BargeInRMSThreshold)
	m.pipeline.SetPersona(t.Persona)
}

func (m *Manager) configSnapshot() Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// ─── Stream lifecycle ────────────────────────────────────────────────

// StartStream creates a session for the connection, opens recognition, and
// starts the event loop. Outbound events for the session's lifetime flow
// through sink. When authentication is enabled an empty userID fails with
// [ErrMissingIdentity].
func (m *Manager) StartStream(ctx context.Context, connID, userID string, sink Sink) error {
	cfg := m.configSnapshot()
	latency := NewLatencyTracker(cfg.LatencyBudget, m.metrics)
	sess, err := m.registry.Create(connID, userID, cfg.RingCapBytes, latency)
	if err != nil {
		return err
	}

	rec := NewRecognizer(m.providers.PrimarySTT, m.providers.SecondarySTT, cfg.FailoverThreshold, cfg.Stream)
	switched, err := rec.Open(ctx)
	if err != nil {
		m.registry.Remove(connID)
		return fmt.Errorf("voice: start stream: %w", err)
	}

	sess.attach(rec, sink, time.Now())
	sess.SetState(StateStreaming)
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.InfoContext(ctx, "audio stream started",
		"session_id", connID,
		"user_id", userID,
		"provider", rec.ActiveName(),
	)

	sink.StreamStarted(connID)
	if switched {
		sink.ProviderChanged(rec.ActiveName(), "failover")
		if m.metrics != nil {
			m.metrics.RecordFailover(ctx, rec.ActiveName(), "failover")
		}
	}

	m.wg.Add(1)
	go m.recognitionLoop(ctx, sess, rec, sink)
	return nil
}

// HandleAudio ingests one PCM chunk for the connection: it feeds the
// verification ring, applies the barge-in energy trigger, and forwards the
// chunk to the active recognition backend.
func (m *Manager) HandleAudio(ctx context.Context, connID string, pcm []byte) error {
	sess, ok := m.registry.Get(connID)
	if !ok {
		return ErrNoSession
	}
	if sess.State() == StateEnded {
		return nil
	}

	sess.WriteAudio(pcm)
	if m.bargein.InspectAudio(ctx, sess, pcm) {
		sess.Sink().SynthesisCancelled()
	}

	rec := sess.Recognizer()
	if rec == nil {
		return nil
	}
	if err := rec.Send(pcm); err != nil && !errors.Is(err, ErrRecognizerClosed) {
		slog.WarnContext(ctx, "audio forwarding failed",
			"session_id", connID,
			"provider", rec.ActiveName(),
			"error", err,
		)
		m.handleRecognitionFailure(ctx, sess, rec)
	}
	return nil
}

// EndStream tears the connection's session down. A second call for the same
// connection is a no-op, so the client sees exactly one stream-ended.
func (m *Manager) EndStream(ctx context.Context, connID string) {
	sess, ok := m.registry.Remove(connID)
	if !ok {
		return
	}
	sess.End()
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, -1)
	}
	slog.InfoContext(ctx, "audio stream ended", "session_id", connID)
	sess.Sink().StreamEnded()
}

// SwitchProvider forces a recognition backend switch for the connection,
// notifying the client with reason "manual".
func (m *Manager) SwitchProvider(ctx context.Context, connID string) (string, error) {
	sess, ok := m.registry.Get(connID)
	if !ok {
		return "", ErrNoSession
	}
	rec := sess.Recognizer()
	if rec == nil {
		return "", ErrNoSession
	}
	name, err := rec.SwitchBackend(ctx, "manual")
	if err != nil {
		return "", err
	}
	sess.Sink().ProviderChanged(name, "manual")
	if m.metrics != nil {
		m.metrics.RecordFailover(ctx, name, "manual")
	}
	return name, nil
}

// Shutdown ends every live session and waits for event loops and in-flight
// turns to finish, or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	for _, sess := range m.registry.All() {
		m.EndStream(ctx, sess.ID)
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("voice: shutdown: %w", ctx.Err())
	}
}

// Wait blocks until all event loops and turn pipelines have exited. Intended
// for tests that need deterministic completion.
func (m *Manager) Wait() { m.wg.Wait() }

// ─── Recognition event loop ──────────────────────────────────────────

func (m *Manager) recognitionLoop(ctx context.Context, sess *Session, rec *Recognizer, sink Sink) {
	defer m.wg.Done()
	for ev := range rec.Events() {
		if sess.State() == StateEnded {
			return
		}
		if !rec.IsActive(ev.Backend) {
			// Buffered event from a backend that lost the slot while the
			// event was in flight. Stale either way, drop it.
			continue
		}
		if ev.Err != nil {
			slog.WarnContext(ctx, "recognition failure",
				"session_id", sess.ID,
				"provider", rec.ActiveName(),
				"error", ev.Err,
			)
			if m.metrics != nil {
				m.metrics.RecordProviderError(ctx, rec.ActiveName(), "recognition")
			}
			m.handleRecognitionFailure(ctx, sess, rec)
			continue
		}
		m.handleTranscript(ctx, sess, rec, ev.Transcript, sink)
	}
}

// handleRecognitionFailure counts a failure and performs the sticky switch to
// the alternate backend once the threshold is reached.
func (m *Manager) handleRecognitionFailure(ctx context.Context, sess *Session, rec *Recognizer) {
	if !rec.RecordFailure() {
		return
	}
	name, err := rec.SwitchBackend(ctx, "failover")
	if err != nil {
		slog.ErrorContext(ctx, "recognition failover failed",
			"session_id", sess.ID,
			"error", err,
		)
		return
	}
	sess.Sink().ProviderChanged(name, "failover")
	if m.metrics != nil {
		m.metrics.RecordFailover(ctx, name, "failover")
	}
}

// handleTranscript applies the barge-in transcript trigger and the early
// cut-off, and launches a turn when the utterance is complete.
func (m *Manager) handleTranscript(ctx context.Context, sess *Session, rec *Recognizer, t stt.Transcript, sink Sink) {
	// Any transcript, interim or final, proves the active backend is
	// healthy, so the failure counter resets before turn eligibility is
	// decided.
	rec.RecordSuccess()

	text := strings.TrimSpace(t.Text)
	if text == "" {
		return
	}

	if m.bargein.InspectTranscript(ctx, sess, text) {
		sink.SynthesisCancelled()
	}

	if !UtteranceComplete(text, t.IsFinal, m.configSnapshot().EarlyCutMinChars) {
		return
	}
	if duplicateUtterance(sess.LastTurnText(), text) {
		// The provider's final repeating an interim accepted by the early
		// cut-off. Consume one echo, then allow the phrase again.
		sess.SetLastTurnText("")
		return
	}

	sess.Latency().Reset()
	sess.Latency().RecordRecognition(time.Since(sess.StreamStart()))
	sess.SetLastTurnText(text)
	sink.Transcription(text)

	turnEpoch := sess.BeginTurn()
	ringAudio := sess.RingSnapshot()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.pipeline.Run(ctx, sess, text, ringAudio, turnEpoch, sink)
	}()
	sess.ClearRing()
}
