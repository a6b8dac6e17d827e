package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vocality-ai/vocality/internal/health"
	"github.com/vocality-ai/vocality/internal/voice"
	"github.com/vocality-ai/vocality/pkg/audio"
)

// pipelineFormat is the PCM format the voice pipeline consumes. Inbound
// audio in any other announced format is converted on arrival.
var pipelineFormat = audio.Format{SampleRate: 16000, Channels: 1}

// Authorizer resolves the authenticated user identity for an incoming
// WebSocket upgrade request, typically from a bearer token or query
// parameter. Returning an error rejects the connection with 401.
//
// A nil Authorizer on the [Server] admits every connection as anonymous;
// whether anonymous sessions may start streams is then decided by the voice
// layer's identity requirement.
type Authorizer interface {
	Authorize(r *http.Request) (userID string, err error)
}

// AuthorizerFunc adapts a function to the [Authorizer] interface.
type AuthorizerFunc func(r *http.Request) (string, error)

// Authorize implements [Authorizer].
func (f AuthorizerFunc) Authorize(r *http.Request) (string, error) { return f(r) }

// Server terminates client WebSocket connections and bridges them to the
// voice [voice.Manager]. One goroutine per connection runs the read loop;
// outbound traffic flows through a per-connection [wsSink].
type Server struct {
	manager *voice.Manager
	auth    Authorizer

	connSeq atomic.Uint64
}

// New returns a server over the given manager. auth may be nil to admit
// anonymous connections.
func New(manager *voice.Manager, auth Authorizer) *Server {
	return &Server{manager: manager, auth: auth}
}

// Handler builds the HTTP routing surface: the WebSocket endpoint, the
// Prometheus scrape endpoint, and the health probes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	probes := health.New(health.Checker{
		Name: "voice",
		Check: func(context.Context) error {
			if s.manager == nil {
				return errors.New("voice manager not initialised")
			}
			return nil
		},
	})
	probes.ReportSessions(func() int {
		if s.manager == nil {
			return 0
		}
		return s.manager.Registry().Len()
	})
	probes.Register(mux)
	return mux
}

// handleWS upgrades the connection and runs its read loop until the client
// disconnects or the server shuts down.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	var userID string
	if s.auth != nil {
		var err error
		userID, err = s.auth.Authorize(r)
		if err != nil {
			slog.Warn("websocket authorization failed", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	connID := fmt.Sprintf("conn-%d", s.connSeq.Add(1))
	ctx := r.Context()
	slog.InfoContext(ctx, "client connected",
		"conn_id", connID,
		"user_id", userID,
		"remote", r.RemoteAddr,
	)

	s.readLoop(ctx, conn, connID, userID)

	// Disconnect is equivalent to an explicit end-audio-stream.
	s.manager.EndStream(ctx, connID)
	conn.Close(websocket.StatusNormalClosure, "")
	slog.InfoContext(ctx, "client disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, connID, userID string) {
	sink := newWSSink(ctx, conn)
	srcFormat := pipelineFormat
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sink.Error("malformed message")
			continue
		}
		s.dispatch(ctx, connID, userID, msg, sink, &srcFormat)
	}
}

// dispatch routes one inbound message. Client-caused problems are reported
// on the sink and never terminate the connection.
func (s *Server) dispatch(ctx context.Context, connID, userID string, msg inboundMessage, sink *wsSink, srcFormat *audio.Format) {
	switch msg.Type {
	case typeStartAudioStream:
		f := pipelineFormat
		if msg.SampleRate > 0 {
			f.SampleRate = msg.SampleRate
		}
		if msg.Channels > 0 {
			f.Channels = msg.Channels
		}
		if f.Channels > 2 {
			sink.Error("unsupported audio format")
			return
		}
		*srcFormat = f

		if err := s.manager.StartStream(ctx, connID, userID, sink); err != nil {
			switch {
			case errors.Is(err, voice.ErrMissingIdentity):
				sink.Error("authenticated user identity required")
			case errors.Is(err, voice.ErrSessionExists):
				sink.Error("stream already started")
			default:
				slog.ErrorContext(ctx, "start stream failed", "conn_id", connID, "error", err)
				sink.Error("could not start audio stream")
			}
		}

	case typeAudioChunk:
		pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			sink.Error("invalid audio payload")
			return
		}
		pcm, err = audio.Convert(pcm, *srcFormat, pipelineFormat)
		if err != nil {
			sink.Error("invalid audio payload")
			return
		}
		if err := s.manager.HandleAudio(ctx, connID, pcm); errors.Is(err, voice.ErrNoSession) {
			sink.Error("no active audio stream")
		}

	case typeEndAudioStream:
		s.manager.EndStream(ctx, connID)

	default:
		sink.Error("unknown message type")
	}
}
