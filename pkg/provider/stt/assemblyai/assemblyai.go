// Package assemblyai provides an AssemblyAI-backed STT provider using the
// AssemblyAI real-time transcription WebSocket API. It implements the
// stt.Provider interface and serves as the failover alternate to Deepgram.
package assemblyai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/vocality-ai/vocality/pkg/provider/stt"
)

const (
	realtimeEndpoint  = "wss://api.assemblyai.com/v2/realtime/ws"
	defaultSampleRate = 16000
)

// ProviderName is the backend identifier reported by [Provider.Name].
const ProviderName = "assemblyai"

// Option is a functional option for configuring the AssemblyAI Provider.
type Option func(*Provider)

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithWordBoost sets vocabulary hints passed to the realtime session.
func WithWordBoost(words []string) Option {
	return func(p *Provider) {
		p.wordBoost = words
	}
}

// Provider implements stt.Provider backed by the AssemblyAI realtime API.
type Provider struct {
	apiKey     string
	sampleRate int
	wordBoost  []string
}

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// New creates a new AssemblyAI Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("assemblyai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return ProviderName }

// StartStream opens a realtime transcription session with AssemblyAI.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("assemblyai: dial: %w", err)
	}

	sess := &session{
		conn:     conn,
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		errs:     make(chan error, 16),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the realtime endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(realtimeEndpoint)
	if err != nil {
		return "", err
	}

	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("encoding", "pcm_s16le")
	if len(p.wordBoost) > 0 {
		boost, err := json.Marshal(p.wordBoost)
		if err != nil {
			return "", err
		}
		q.Set("word_boost", string(boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// realtimeMessage is the JSON structure AssemblyAI sends over the realtime
// WebSocket. MessageType distinguishes transcripts from session control and
// error frames.
type realtimeMessage struct {
	MessageType string  `json:"message_type"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	AudioStart  int     `json:"audio_start"` // milliseconds
	Error       string  `json:"error"`
}

// terminateMessage asks the server to flush and end the session. Audio itself
// is sent as binary frames, no JSON envelope needed.
type terminateMessage struct {
	TerminateSession bool `json:"terminate_session"`
}

// session is a live AssemblyAI realtime session. It implements stt.SessionHandle.
type session struct {
	conn     *websocket.Conn
	partials chan stt.Transcript
	finals   chan stt.Transcript
	errs     chan error
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a PCM audio chunk for delivery to AssemblyAI.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("assemblyai: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("assemblyai: session is closed")
	}
}

// Partials returns the channel of interim transcripts.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

// Finals returns the channel of final transcripts.
func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Errors returns the channel of non-fatal recognition failures.
func (s *session) Errors() <-chan error { return s.errs }

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		term, _ := json.Marshal(terminateMessage{TerminateSession: true})
		_ = s.conn.Write(context.Background(), websocket.MessageText, term)
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to AssemblyAI.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain the audio channel before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from AssemblyAI and dispatches them to the
// partials, finals, and errors channels.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)
	defer close(s.errs)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		t, failure, ok := parseRealtimeMessage(msg)
		if !ok {
			continue
		}

		if failure != nil {
			select {
			case s.errs <- failure:
			case <-s.done:
			}
			continue
		}

		if t.IsFinal {
			select {
			case s.finals <- t:
			case <-s.done:
			}
		} else {
			select {
			case s.partials <- t:
			case <-s.done:
			}
		}
	}
}

// parseRealtimeMessage parses a raw AssemblyAI WebSocket message. It returns
// either a Transcript or a recognition failure, and ok=false for messages that
// should be ignored (session begin/terminate acks, empty transcripts).
func parseRealtimeMessage(data []byte) (stt.Transcript, error, bool) {
	var msg realtimeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return stt.Transcript{}, nil, false
	}

	if msg.Error != "" {
		return stt.Transcript{}, fmt.Errorf("assemblyai: upstream error: %s", msg.Error), true
	}

	var isFinal bool
	switch msg.MessageType {
	case "PartialTranscript":
		isFinal = false
	case "FinalTranscript":
		isFinal = true
	default:
		return stt.Transcript{}, nil, false
	}

	return stt.Transcript{
		Text:       msg.Text,
		IsFinal:    isFinal,
		Confidence: msg.Confidence,
		Timestamp:  time.Duration(msg.AudioStart) * time.Millisecond,
	}, nil, true
}
