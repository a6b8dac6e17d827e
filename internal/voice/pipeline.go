package voice

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/vocality-ai/vocality/internal/observe"
	"github.com/vocality-ai/vocality/pkg/provider/llm"
	"github.com/vocality-ai/vocality/pkg/provider/tts"
	"github.com/vocality-ai/vocality/pkg/provider/verify"
)

// earlyCutTerminators are the sentence-final characters that let an interim
// transcript be accepted without waiting for the provider's final result.
const earlyCutTerminators = ".?!"

// UtteranceComplete reports whether a transcript should be accepted for turn
// processing. Finals are always accepted. Interims are accepted early when
// the trimmed text is longer than minChars and ends on sentence-final
// punctuation, which shaves the provider's end-of-utterance delay off
// perceived latency.
func UtteranceComplete(text string, isFinal bool, minChars int) bool {
	if isFinal {
		return true
	}
	t := strings.TrimSpace(text)
	if utf8.RuneCountInString(t) <= minChars {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(t)
	return strings.ContainsRune(earlyCutTerminators, last)
}

// PipelineConfig carries the turn pipeline's tunables.
type PipelineConfig struct {
	// Persona is the system prompt injected into every generation request.
	Persona string

	// AuthEnabled gates the voice verification stage.
	AuthEnabled bool

	// Voice selects the synthesis voice profile.
	Voice tts.VoiceProfile
}

// Pipeline runs one conversational turn: verify the speaker, generate a
// reply, synthesize it. Every stage is gated on the turn's epoch; a stage
// whose epoch has been superseded drops its output silently, so an
// interrupted or replaced turn can never leak events to the client.
type Pipeline struct {
	llm      llm.Provider
	tts      tts.Provider
	verifier verify.Provider
	metrics  *observe.Metrics

	mu  sync.Mutex
	cfg PipelineConfig
}

// NewPipeline wires a pipeline over the given providers. verifier may be nil
// when authentication is disabled; metrics may be nil in tests.
func NewPipeline(l llm.Provider, t tts.Provider, v verify.Provider, cfg PipelineConfig, metrics *observe.Metrics) *Pipeline {
	return &Pipeline{llm: l, tts: t, verifier: v, cfg: cfg, metrics: metrics}
}

// SetPersona replaces the system prompt for subsequent turns. Supports
// config hot reload; in-flight turns keep the persona they started with.
func (p *Pipeline) SetPersona(persona string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Persona = persona
}

func (p *Pipeline) persona() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Persona
}

// Run executes one turn. transcript is the accepted utterance, ringAudio the
// buffered verification audio captured when the turn was triggered, and
// turnEpoch the epoch assigned to this turn.
func (p *Pipeline) Run(ctx context.Context, sess *Session, transcript string, ringAudio []byte, turnEpoch uint64, sink Sink) {
	ctx, span := observe.StartTurnSpan(ctx, sess.ID, turnEpoch)
	defer span.End()

	if p.cfg.AuthEnabled && p.verifier != nil {
		if !p.verifySpeaker(ctx, sess, ringAudio, turnEpoch, sink) {
			return
		}
	}

	text, ok := p.generate(ctx, sess, transcript, turnEpoch, sink)
	if !ok {
		return
	}
	p.synthesize(ctx, sess, text, turnEpoch, sink)
}

// ─── Verification ────────────────────────────────────────────────────

// verifySpeaker confirms the buffered audio matches the session's user.
// A rejected or unreachable check ends the turn; the verification service
// being down fails closed.
func (p *Pipeline) verifySpeaker(ctx context.Context, sess *Session, ringAudio []byte, turnEpoch uint64, sink Sink) bool {
	if !sess.SetStateIfEpoch(turnEpoch, StateVerifying) {
		return false
	}
	res, err := p.verifier.Verify(ctx, sess.UserID, ringAudio)
	if !sess.EpochIs(turnEpoch) {
		return false
	}
	if err != nil {
		slog.ErrorContext(ctx, "voice verification request failed",
			"session_id", sess.ID,
			"error", err,
		)
		if p.metrics != nil {
			p.metrics.RecordProviderError(ctx, "verify", "request")
		}
		res = verify.Result{Message: "voice verification unavailable"}
	}
	if !res.Verified {
		sink.VerificationFailed(res.Confidence, res.Message)
		sess.SetStateIfEpoch(turnEpoch, StateStreaming)
		p.recordTurn(ctx, "aborted")
		return false
	}
	return true
}

// ─── Generation ──────────────────────────────────────────────────────

func (p *Pipeline) generate(ctx context.Context, sess *Session, transcript string, turnEpoch uint64, sink Sink) (string, bool) {
	if !sess.SetStateIfEpoch(turnEpoch, StateGenerating) {
		return "", false
	}
	req := llm.CompletionRequest{
		SystemPrompt: p.persona(),
		Messages:     []llm.Message{{Role: "user", Content: transcript}},
	}
	start := time.Now()
	ch, err := p.llm.StreamCompletion(ctx, req)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordProviderError(ctx, "llm", "stream_start")
		}
		p.abortGeneration(ctx, sess, turnEpoch, sink, err)
		return "", false
	}

	var b strings.Builder
	firstToken := true
	failed := false
	for chunk := range ch {
		if chunk.FinishReason == "error" {
			failed = true
			continue
		}
		if firstToken && chunk.Text != "" {
			// A superseded turn keeps draining the stream but must not
			// write its timing into the successor's record.
			if sess.EpochIs(turnEpoch) {
				sess.Latency().RecordGeneration(time.Since(start))
			}
			firstToken = false
		}
		b.WriteString(chunk.Text)
	}

	if !sess.EpochIs(turnEpoch) {
		// Superseded mid-generation: the result is stale, drop it.
		return "", false
	}
	text := strings.TrimSpace(b.String())
	if failed || text == "" {
		if p.metrics != nil {
			p.metrics.RecordProviderError(ctx, "llm", "stream")
		}
		p.abortGeneration(ctx, sess, turnEpoch, sink, nil)
		return "", false
	}
	return text, true
}

// abortGeneration reports a generation failure to the client without tearing
// the session down; the user can simply speak again.
func (p *Pipeline) abortGeneration(ctx context.Context, sess *Session, turnEpoch uint64, sink Sink, err error) {
	if !sess.EpochIs(turnEpoch) {
		return
	}
	slog.ErrorContext(ctx, "response generation failed",
		"session_id", sess.ID,
		"error", err,
	)
	sink.Error("response generation failed")
	sess.SetStateIfEpoch(turnEpoch, StateStreaming)
	p.recordTurn(ctx, "aborted")
}

// ─── Synthesis ───────────────────────────────────────────────────────

func (p *Pipeline) synthesize(ctx context.Context, sess *Session, text string, turnEpoch uint64, sink Sink) {
	synthCtx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	handle := NewCancelHandle(cancelFn)
	if !sess.StartSynthesis(turnEpoch, handle) {
		return
	}

	// The full reply text reaches the client before any audio, so a synthesis
	// failure degrades to text-only rather than losing the turn. It is emitted
	// only once the turn has claimed the synthesis slot; a superseded turn
	// must not leak its reply text.
	sink.Response(text)

	textCh := make(chan string, 8)
	go func() {
		defer close(textCh)
		for _, frag := range splitSentences(text) {
			select {
			case textCh <- frag:
			case <-synthCtx.Done():
				return
			}
		}
	}()

	start := time.Now()
	audioCh, errCh, err := p.tts.SynthesizeStream(synthCtx, textCh, p.cfg.Voice)
	if err != nil {
		sess.FinishSynthesis(turnEpoch)
		if p.metrics != nil {
			p.metrics.RecordProviderError(ctx, "tts", "stream_start")
		}
		if sess.EpochIs(turnEpoch) {
			slog.ErrorContext(ctx, "speech synthesis failed",
				"session_id", sess.ID,
				"error", err,
			)
			sink.VoiceError("speech synthesis unavailable")
			sink.AudioComplete()
			sess.Latency().Report(ctx, sess.ID)
			p.recordTurn(ctx, "completed")
		}
		return
	}

	firstChunk := true
	for chunk := range audioCh {
		if handle.Triggered() || !sess.EpochIs(turnEpoch) {
			go drainAudio(audioCh)
			p.recordTurn(ctx, "barged_in")
			return
		}
		if firstChunk {
			sess.Latency().RecordSynthesis(time.Since(start))
			firstChunk = false
		}
		sink.AudioChunk(chunk)
	}

	if handle.Triggered() || !sess.EpochIs(turnEpoch) {
		p.recordTurn(ctx, "barged_in")
		return
	}
	sess.FinishSynthesis(turnEpoch)
	// The audio channel closing does not by itself mean the stream finished;
	// a broken stream closes it too. The terminal-error channel tells the
	// cases apart, so a failed stream still surfaces a voice error ahead of
	// the completion event and the client knows the audio is truncated.
	if streamErr := <-errCh; streamErr != nil {
		if p.metrics != nil {
			p.metrics.RecordProviderError(ctx, "tts", "stream")
		}
		slog.ErrorContext(ctx, "speech synthesis interrupted",
			"session_id", sess.ID,
			"error", streamErr,
		)
		sink.VoiceError("speech synthesis interrupted")
	}
	sink.AudioComplete()
	sess.Latency().Report(ctx, sess.ID)
	p.recordTurn(ctx, "completed")
}

func (p *Pipeline) recordTurn(ctx context.Context, outcome string) {
	if p.metrics != nil {
		p.metrics.RecordTurn(ctx, outcome)
	}
}

// drainAudio empties an abandoned audio channel so the provider's reader
// goroutine can exit. The upstream context is already cancelled at this
// point, so the channel closes shortly.
func drainAudio(ch <-chan []byte) {
	for range ch {
	}
}

// splitSentences breaks the reply into sentence-sized fragments so the TTS
// backend can start emitting audio for the first sentence before it has
// received the rest.
func splitSentences(text string) []string {
	var out []string
	rest := text
	for {
		i := sentenceBoundary(rest)
		if i < 0 {
			break
		}
		if frag := strings.TrimSpace(rest[:i+1]); frag != "" {
			out = append(out, frag)
		}
		rest = rest[i+1:]
	}
	if frag := strings.TrimSpace(rest); frag != "" {
		out = append(out, frag)
	}
	return out
}

// sentenceBoundary returns the index of the first sentence-final punctuation
// mark that is followed by whitespace or end of string, or -1.
func sentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '?', '!':
			if i+1 >= len(s) || s[i+1] == ' ' || s[i+1] == '\n' {
				return i
			}
		}
	}
	return -1
}
