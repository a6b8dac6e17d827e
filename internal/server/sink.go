package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/vocality-ai/vocality/internal/voice"
)

// writeTimeout bounds a single outbound message write. A client that stops
// reading must not wedge the pipeline goroutines behind its socket.
const writeTimeout = 10 * time.Second

// wsSink adapts a WebSocket connection to [voice.Sink]. Pipeline goroutines
// call it concurrently; a mutex serializes writes so JSON frames never
// interleave.
type wsSink struct {
	ctx  context.Context
	conn *websocket.Conn

	mu sync.Mutex
}

func newWSSink(ctx context.Context, conn *websocket.Conn) *wsSink {
	return &wsSink{ctx: ctx, conn: conn}
}

var _ voice.Sink = (*wsSink)(nil)

func (s *wsSink) send(msg outboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("encode outbound message", "type", msg.Type, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		// The connection is gone or stalled; the read loop handles teardown.
		slog.Debug("outbound write failed", "type", msg.Type, "error", err)
	}
}

func (s *wsSink) StreamStarted(sessionID string) {
	s.send(outboundMessage{Type: typeStreamStarted, SessionID: sessionID})
}

func (s *wsSink) Transcription(transcript string) {
	s.send(outboundMessage{Type: typeTranscription, Transcript: transcript})
}

func (s *wsSink) Response(text string) {
	s.send(outboundMessage{Type: typeLLMResponse, Response: text})
}

func (s *wsSink) AudioChunk(chunk []byte) {
	s.send(outboundMessage{
		Type:  typeAudioChunk,
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
}

func (s *wsSink) AudioComplete() {
	s.send(outboundMessage{Type: typeAudioComplete})
}

func (s *wsSink) SynthesisCancelled() {
	s.send(outboundMessage{Type: typeTTSCancel})
}

func (s *wsSink) ProviderChanged(provider, reason string) {
	s.send(outboundMessage{Type: typeProviderChanged, Provider: provider, Reason: reason})
}

func (s *wsSink) VerificationFailed(confidence float64, message string) {
	s.send(outboundMessage{
		Type:       typeVerificationFailed,
		Confidence: &confidence,
		Message:    message,
	})
}

func (s *wsSink) Error(message string) {
	s.send(outboundMessage{Type: typeError, Message: message})
}

func (s *wsSink) VoiceError(message string) {
	s.send(outboundMessage{Type: typeVoiceError, Message: message})
}

func (s *wsSink) StreamEnded() {
	s.send(outboundMessage{Type: typeStreamEnded})
}
