package resilience

import (
	"context"

	"github.com/vocality-ai/vocality/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// SynthesizeStream consumes text fragments and returns the audio and
// terminal-error channels of the first healthy provider. Only the initial
// stream setup is covered by failover; mid-stream errors are delivered on the
// error channel and left to the caller.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, <-chan error, error) {
	type stream struct {
		audio <-chan []byte
		errs  <-chan error
	}
	s, err := ExecuteWithResult(f.group, func(p tts.Provider) (stream, error) {
		audio, errs, err := p.SynthesizeStream(ctx, text, voice)
		return stream{audio: audio, errs: errs}, err
	})
	if err != nil {
		return nil, nil, err
	}
	return s.audio, s.errs, nil
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
