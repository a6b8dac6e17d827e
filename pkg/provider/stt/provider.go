// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram or
// AssemblyAI) and exposes a uniform streaming interface. The central abstraction
// is SessionHandle: once opened, a session accepts raw PCM audio frames and emits
// two streams of Transcript values — low-latency partials for responsiveness and
// authoritative finals for turn processing — plus a stream of recognition errors
// that the failover layer counts.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new STT
// session. All fields must be compatible with what the underlying provider
// supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The pipeline normalises all
	// inbound audio to 16000 Hz mono before it reaches a provider.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most STT
	// providers).
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string
}

// SessionHandle represents an open STT streaming session. It is an interface so
// that test code can provide mock implementations without requiring a live
// provider connection.
//
// Callers must call Close when the session is no longer needed. Failing to do so
// may leak goroutines and network connections inside the provider implementation.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. The chunk should match the SampleRate, Channels, and
	// bit-depth agreed in StreamConfig. Calling SendAudio after Close returns an
	// error. A SendAudio error counts as a recognition failure for failover
	// purposes.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel that emits low-latency interim
	// Transcript values as the provider makes preliminary guesses. The channel
	// is closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel that emits authoritative Transcript
	// values once the provider has committed to a recognition result. The
	// channel is closed when the session ends.
	Finals() <-chan Transcript

	// Errors returns a read-only channel that emits recognition failures the
	// provider reported without ending the session (e.g., a rejected audio
	// frame, a transient upstream error message). Fatal failures close the
	// transcript channels instead. The channel is closed when the session ends.
	Errors() <-chan error

	// Close terminates the session, flushes any pending audio, and releases all
	// associated resources. After Close returns, the Partials, Finals, and
	// Errors channels will be closed. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be open
// simultaneously (one per live client connection).
type Provider interface {
	// Name returns the stable identifier for this backend (e.g., "deepgram").
	// The name appears in provider-changed notifications and metrics labels.
	Name() string

	// StartStream opens a new streaming transcription session with the given
	// audio format and recognition configuration. The returned SessionHandle is
	// ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close when
	// done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
