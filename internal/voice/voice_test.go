package voice

import (
	"sync"
	"testing"
	"time"

	"github.com/vocality-ai/vocality/pkg/provider/stt"
)

// recorderSink captures outbound events in order for assertions.
type recorderSink struct {
	mu     sync.Mutex
	events []string

	transcripts     []string
	responses       []string
	chunks          [][]byte
	providerChanges []providerChange
	verifyFails     []verifyFail
	errors          []string
	voiceErrors     []string
}

type providerChange struct {
	provider string
	reason   string
}

type verifyFail struct {
	confidence float64
	message    string
}

func (r *recorderSink) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
}

func (r *recorderSink) StreamStarted(string) { r.record("stream-started") }

func (r *recorderSink) Transcription(transcript string) {
	r.mu.Lock()
	r.transcripts = append(r.transcripts, transcript)
	r.mu.Unlock()
	r.record("transcription")
}

func (r *recorderSink) Response(text string) {
	r.mu.Lock()
	r.responses = append(r.responses, text)
	r.mu.Unlock()
	r.record("llm-response")
}

func (r *recorderSink) AudioChunk(chunk []byte) {
	r.mu.Lock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	r.chunks = append(r.chunks, cp)
	r.mu.Unlock()
	r.record("audio-chunk")
}

func (r *recorderSink) AudioComplete()      { r.record("audio-complete") }
func (r *recorderSink) SynthesisCancelled() { r.record("tts-cancel") }

func (r *recorderSink) ProviderChanged(provider, reason string) {
	r.mu.Lock()
	r.providerChanges = append(r.providerChanges, providerChange{provider, reason})
	r.mu.Unlock()
	r.record("provider-changed")
}

func (r *recorderSink) VerificationFailed(confidence float64, message string) {
	r.mu.Lock()
	r.verifyFails = append(r.verifyFails, verifyFail{confidence, message})
	r.mu.Unlock()
	r.record("voice-verification-failed")
}

func (r *recorderSink) Error(message string) {
	r.mu.Lock()
	r.errors = append(r.errors, message)
	r.mu.Unlock()
	r.record("error")
}

func (r *recorderSink) VoiceError(message string) {
	r.mu.Lock()
	r.voiceErrors = append(r.voiceErrors, message)
	r.mu.Unlock()
	r.record("voice-error")
}

func (r *recorderSink) StreamEnded() { r.record("stream-ended") }

var _ Sink = (*recorderSink)(nil)

// count returns how many times the named event was recorded.
func (r *recorderSink) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == name {
			n++
		}
	}
	return n
}

// eventOrder returns the recorded event names with consecutive duplicates
// collapsed, for ordering assertions.
func (r *recorderSink) eventOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if len(out) == 0 || out[len(out)-1] != e {
			out = append(out, e)
		}
	}
	return out
}

// waitFor polls cond until it returns true or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// sttTranscript builds a transcript event for tests.
func sttTranscript(text string, isFinal bool) stt.Transcript {
	return stt.Transcript{Text: text, IsFinal: isFinal, Confidence: 0.9}
}

// loudPCM returns n little-endian int16 samples at the given normalized
// amplitude.
func loudPCM(n int, amplitude float64) []byte {
	s := int16(amplitude * 32767)
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
