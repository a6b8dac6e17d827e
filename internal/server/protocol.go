// Package server exposes the voice pipeline over a WebSocket transport.
//
// Each client holds one WebSocket connection and exchanges JSON messages
// dispatched on a "type" field. Inbound messages control the audio stream
// lifecycle; outbound messages carry transcripts, generated replies,
// synthesized audio, and error notifications. Audio payloads travel as
// base64-encoded little-endian 16-bit PCM.
package server

// Inbound message types.
const (
	typeStartAudioStream = "start-audio-stream"
	typeAudioChunk       = "audio-chunk"
	typeEndAudioStream   = "end-audio-stream"
)

// Outbound message types.
const (
	typeStreamStarted      = "stream-started"
	typeTranscription      = "transcription"
	typeLLMResponse        = "llm-response"
	typeAudioComplete      = "audio-complete"
	typeTTSCancel          = "tts-cancel"
	typeProviderChanged    = "stt-provider-changed"
	typeVerificationFailed = "voice-verification-failed"
	typeError              = "error"
	typeVoiceError         = "voice-error"
	typeStreamEnded        = "stream-ended"
)

// inboundMessage is the envelope for client-to-server messages.
type inboundMessage struct {
	Type string `json:"type"`

	// Audio is base64-encoded PCM, set for audio-chunk messages.
	Audio string `json:"audio,omitempty"`

	// SampleRate and Channels describe the client's capture format, set on
	// start-audio-stream. Zero values mean 16 kHz mono; other formats are
	// downmixed and resampled server-side.
	SampleRate int `json:"sampleRate,omitempty"`
	Channels   int `json:"channels,omitempty"`
}

// outboundMessage is the envelope for server-to-client messages. Fields are
// populated per type; unused fields are omitted from the encoding.
type outboundMessage struct {
	Type string `json:"type"`

	SessionID  string `json:"sessionId,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Response   string `json:"response,omitempty"`
	Audio      string `json:"audio,omitempty"`
	Provider   string `json:"provider,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message,omitempty"`

	// Confidence is a pointer so a legitimate 0.0 still serializes.
	Confidence *float64 `json:"confidence,omitempty"`
}
