// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and
// presents a uniform streaming interface. The primary entry point is
// SynthesizeStream, which accepts a channel of text fragments and returns a
// channel of raw PCM audio bytes as they become available — enabling
// low-latency pipelining between LLM output and client delivery.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// VoiceProfile describes a TTS voice configuration.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Metadata holds provider-specific voice attributes (gender, age, accent, etc.).
	Metadata map[string]string
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis requests
// may run in parallel (one per live client connection).
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and returns
	// a channel that emits raw PCM audio byte slices as they are synthesised.
	// This design allows the caller to pipe LLM streaming output directly into
	// synthesis without waiting for the full text to be available.
	//
	// The returned audio channel is closed by the implementation when all text
	// has been synthesised, when synthesis fails mid-stream, or when ctx is
	// cancelled. The caller must drain the audio channel to avoid blocking the
	// provider's internal goroutines.
	//
	// The returned error channel carries at most one value: the terminal error
	// of the stream, delivered before the channel is closed. It is closed
	// without a value when synthesis completed cleanly or was cancelled via
	// ctx, so after the audio channel closes the caller can distinguish a
	// finished stream from a broken one.
	//
	// voice specifies the voice profile to use for synthesis. Providers should
	// return an error if the requested voice is not available.
	//
	// Returns a non-nil error only if the stream cannot be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, <-chan error, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls if the underlying service adds or removes voices.
	//
	// Returns an error if the provider cannot be reached or if ctx is cancelled
	// before the list is retrieved.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
