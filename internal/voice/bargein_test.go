package voice

import (
	"context"
	"testing"
)

func startSynthesizing(t *testing.T, sess *Session) *CancelHandle {
	t.Helper()
	e := sess.BeginTurn()
	h := NewCancelHandle(nil)
	if !sess.StartSynthesis(e, h) {
		t.Fatal("StartSynthesis failed")
	}
	return h
}

func TestBargeIn_EnergyTrigger(t *testing.T) {
	ctx := context.Background()
	b := NewBargeInController(0.02, nil)
	sess := newTestSession()
	h := startSynthesizing(t, sess)

	if !b.InspectAudio(ctx, sess, loudPCM(512, 0.05)) {
		t.Fatal("loud audio did not trigger barge-in")
	}
	if !h.Triggered() {
		t.Error("synthesis handle not cancelled")
	}
	if sess.SynthesisActive() {
		t.Error("SynthesisActive() = true after barge-in")
	}
}

func TestBargeIn_QuietAudioIgnored(t *testing.T) {
	ctx := context.Background()
	b := NewBargeInController(0.02, nil)
	sess := newTestSession()
	startSynthesizing(t, sess)

	if b.InspectAudio(ctx, sess, loudPCM(512, 0.005)) {
		t.Error("quiet audio triggered barge-in")
	}
	if !sess.SynthesisActive() {
		t.Error("quiet audio cancelled synthesis")
	}
}

func TestBargeIn_NoSynthesisActive(t *testing.T) {
	ctx := context.Background()
	b := NewBargeInController(0.02, nil)
	sess := newTestSession()

	if b.InspectAudio(ctx, sess, loudPCM(512, 0.5)) {
		t.Error("energy trigger fired with no synthesis active")
	}
	if b.InspectTranscript(ctx, sess, "hello") {
		t.Error("transcript trigger fired with no synthesis active")
	}
}

func TestBargeIn_TranscriptTrigger(t *testing.T) {
	ctx := context.Background()
	b := NewBargeInController(0.02, nil)
	sess := newTestSession()
	h := startSynthesizing(t, sess)

	if !b.InspectTranscript(ctx, sess, "stop") {
		t.Fatal("transcript did not trigger barge-in")
	}
	if !h.Triggered() {
		t.Error("synthesis handle not cancelled")
	}
}

func TestBargeIn_WhitespaceTranscriptIgnored(t *testing.T) {
	ctx := context.Background()
	b := NewBargeInController(0.02, nil)
	sess := newTestSession()
	startSynthesizing(t, sess)

	if b.InspectTranscript(ctx, sess, "   \t ") {
		t.Error("whitespace-only transcript triggered barge-in")
	}
}

func TestDuplicateUtterance(t *testing.T) {
	tests := []struct {
		name string
		prev string
		next string
		want bool
	}{
		{"exact", "Hello world.", "Hello world.", true},
		{"repunctuated final", "Hello world.", "hello world", true},
		{"case change", "HELLO WORLD.", "Hello world.", true},
		{"small edit distance", "Hello world.", "Hello worlds.", true},
		{"different phrase", "Hello world.", "What time is it?", false},
		{"empty previous", "", "Hello world.", false},
		{"empty next", "Hello world.", "", false},
		{"longer continuation", "Hello world.", "Hello world, how are you today?", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := duplicateUtterance(tt.prev, tt.next); got != tt.want {
				t.Errorf("duplicateUtterance(%q, %q) = %v, want %v", tt.prev, tt.next, got, tt.want)
			}
		})
	}
}
