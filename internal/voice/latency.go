package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vocality-ai/vocality/internal/observe"
)

// StageLatency holds the per-stage latencies of a single turn.
type StageLatency struct {
	// Recognition is the time from stream start to the accepted transcript.
	Recognition time.Duration
	// Generation is the time to first LLM token.
	Generation time.Duration
	// Synthesis is the time to first synthesized audio chunk.
	Synthesis time.Duration
}

// Total returns the summed stage latency.
func (l StageLatency) Total() time.Duration {
	return l.Recognition + l.Generation + l.Synthesis
}

// LatencyTracker accumulates the stage latencies of the current turn and
// reports them against a budget. Budget overruns are logged with a structured
// per-stage breakdown and counted in metrics; they are never surfaced to the
// client.
//
// A tracker is shared between the recognition loop and the turn pipeline
// goroutine, so all access to the recorded stages is serialized.
type LatencyTracker struct {
	budget  time.Duration
	metrics *observe.Metrics

	mu      sync.Mutex
	current StageLatency
}

// NewLatencyTracker returns a tracker with the given total-turn budget.
// A nil metrics instance disables metric recording.
func NewLatencyTracker(budget time.Duration, metrics *observe.Metrics) *LatencyTracker {
	return &LatencyTracker{budget: budget, metrics: metrics}
}

// Reset clears the recorded latencies at the start of a turn.
func (t *LatencyTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = StageLatency{}
}

// RecordRecognition stores the recognition latency for the current turn.
func (t *LatencyTracker) RecordRecognition(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.Recognition = d
}

// RecordGeneration stores the time-to-first-token for the current turn.
func (t *LatencyTracker) RecordGeneration(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.Generation = d
}

// RecordSynthesis stores the time-to-first-audio for the current turn.
func (t *LatencyTracker) RecordSynthesis(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.Synthesis = d
}

// Snapshot returns the latencies recorded so far for the current turn.
func (t *LatencyTracker) Snapshot() StageLatency {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Report records the turn's latencies in metrics and, if the total exceeds
// the budget, logs a warning with the per-stage breakdown. It returns whether
// the budget was exceeded.
func (t *LatencyTracker) Report(ctx context.Context, sessionID string) bool {
	l := t.Snapshot()
	if t.metrics != nil {
		t.metrics.RecognitionDuration.Record(ctx, l.Recognition.Seconds())
		t.metrics.GenerationDuration.Record(ctx, l.Generation.Seconds())
		t.metrics.SynthesisDuration.Record(ctx, l.Synthesis.Seconds())
		t.metrics.TurnDuration.Record(ctx, l.Total().Seconds())
	}
	if t.budget <= 0 || l.Total() <= t.budget {
		return false
	}
	if t.metrics != nil {
		t.metrics.BudgetOverruns.Add(ctx, 1)
	}
	slog.WarnContext(ctx, "turn exceeded latency budget",
		"session_id", sessionID,
		"budget_ms", t.budget.Milliseconds(),
		"total_ms", l.Total().Milliseconds(),
		"recognition_ms", l.Recognition.Milliseconds(),
		"generation_ms", l.Generation.Milliseconds(),
		"synthesis_ms", l.Synthesis.Milliseconds(),
	)
	return true
}
