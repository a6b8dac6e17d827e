package voice

// Sink receives the outbound events a session produces. The WebSocket
// transport implements it by encoding each event as a JSON message; tests
// implement it with an in-memory recorder.
//
// Sessions call Sink methods from multiple goroutines (the recognition event
// loop, turn pipelines, and the audio ingest path), so implementations must be
// safe for concurrent use.
type Sink interface {
	// StreamStarted confirms session creation.
	StreamStarted(sessionID string)

	// Transcription delivers a transcript accepted for turn processing.
	Transcription(transcript string)

	// Response delivers the full generated reply text before audio starts.
	Response(text string)

	// AudioChunk delivers one chunk of synthesized speech.
	AudioChunk(chunk []byte)

	// AudioComplete signals that the turn's audio stream has ended, whether
	// synthesis succeeded or degraded to text-only.
	AudioComplete()

	// SynthesisCancelled signals that in-flight synthesis was cut off by
	// barge-in.
	SynthesisCancelled()

	// ProviderChanged reports a speech-recognition backend switch.
	ProviderChanged(provider, reason string)

	// VerificationFailed reports a rejected voice-identity check.
	VerificationFailed(confidence float64, message string)

	// Error reports a turn-aborting failure (generation).
	Error(message string)

	// VoiceError reports a degraded-but-continuing failure (synthesis).
	VoiceError(message string)

	// StreamEnded confirms session teardown. Emitted exactly once.
	StreamEnded()
}
