package voice

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"

	"github.com/vocality-ai/vocality/internal/observe"
	"github.com/vocality-ai/vocality/pkg/audio"
)

// BargeInController detects user interruptions of active synthesis and cuts
// the assistant off. Two independent triggers exist: an energy trigger on
// inbound audio (the user started making noise) and a transcript trigger on
// recognition output (the user said something intelligible).
//
// Both triggers are no-ops when no synthesis is active, so user speech during
// normal listening is never treated as an interruption.
type BargeInController struct {
	mu           sync.Mutex
	rmsThreshold float64

	metrics *observe.Metrics
}

// NewBargeInController returns a controller that fires the energy trigger
// when a chunk's RMS energy exceeds rmsThreshold.
func NewBargeInController(rmsThreshold float64, metrics *observe.Metrics) *BargeInController {
	return &BargeInController{rmsThreshold: rmsThreshold, metrics: metrics}
}

// SetThreshold replaces the energy threshold. Supports config hot reload.
func (b *BargeInController) SetThreshold(rms float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rmsThreshold = rms
}

func (b *BargeInController) threshold() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rmsThreshold
}

// InspectAudio applies the energy trigger to an inbound PCM chunk. Returns
// true when it cancelled active synthesis; the caller then notifies the
// client.
func (b *BargeInController) InspectAudio(ctx context.Context, sess *Session, chunk []byte) bool {
	if !sess.SynthesisActive() {
		return false
	}
	if audio.RMS(chunk) <= b.threshold() {
		return false
	}
	return b.interrupt(ctx, sess, "energy")
}

// InspectTranscript applies the transcript trigger to recognition output.
// Any non-empty transcript, partial or final, counts as an interruption while
// synthesis is active. Returns true when it cancelled active synthesis.
func (b *BargeInController) InspectTranscript(ctx context.Context, sess *Session, text string) bool {
	if strings.TrimSpace(text) == "" || !sess.SynthesisActive() {
		return false
	}
	return b.interrupt(ctx, sess, "transcript")
}

func (b *BargeInController) interrupt(ctx context.Context, sess *Session, trigger string) bool {
	if !sess.CancelSynthesis() {
		return false
	}
	if b.metrics != nil {
		b.metrics.RecordBargeIn(ctx, trigger)
	}
	slog.InfoContext(ctx, "barge-in cancelled synthesis",
		"session_id", sess.ID,
		"trigger", trigger,
	)
	return true
}

// duplicateUtterance reports whether next is an echo of a transcript already
// accepted for a turn. Recognizers commonly emit a final that repeats the
// interim accepted by the early cut-off; treating the repeat as a fresh turn
// would answer the user twice. Candidates match on phonetic equality
// (double metaphone) or a small edit distance, which also absorbs minor
// re-punctuation between the interim and the final.
func duplicateUtterance(prev, next string) bool {
	if prev == "" || next == "" {
		return false
	}
	a := normalizeUtterance(prev)
	b := normalizeUtterance(next)
	if a == b {
		return true
	}
	if matchr.Levenshtein(a, b) <= 2 {
		return true
	}
	m1, _ := matchr.DoubleMetaphone(a)
	m2, _ := matchr.DoubleMetaphone(b)
	return m1 != "" && m1 == m2
}

// normalizeUtterance lowercases and strips trailing punctuation so that
// "hello world" and "Hello world." compare equal.
func normalizeUtterance(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimRight(s, ".?!, ")
}
