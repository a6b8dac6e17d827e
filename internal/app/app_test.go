package app

import (
	"context"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/vocality-ai/vocality/internal/config"
	"github.com/vocality-ai/vocality/internal/observe"
	llmmock "github.com/vocality-ai/vocality/pkg/provider/llm/mock"
	sttmock "github.com/vocality-ai/vocality/pkg/provider/stt/mock"
	ttsmock "github.com/vocality-ai/vocality/pkg/provider/tts/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.ListenAddr = "127.0.0.1:0"
	authOff := false
	cfg.Voice.AuthEnabled = &authOff
	cfg.Normalize()
	return cfg
}

func testProviders() Providers {
	return Providers{
		PrimarySTT: &sttmock.Provider{ProviderName: "prime", Session: sttmock.NewSession()},
		LLM:        &llmmock.Provider{},
		TTS:        &ttsmock.Provider{},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg,
		WithProviders(testProviders()),
		WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func TestNew_WiresSubsystems(t *testing.T) {
	a := newTestApp(t, testConfig())

	if a.Manager() == nil {
		t.Error("Manager() = nil")
	}
	if a.Handler() == nil {
		t.Error("Handler() = nil")
	}
}

func TestNew_MissingSTTBackend(t *testing.T) {
	p := testProviders()
	p.PrimarySTT = nil
	_, err := New(context.Background(), testConfig(),
		WithProviders(p), WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("New() succeeded without a recognition backend")
	}
}

func TestNew_MissingLLMBackend(t *testing.T) {
	p := testProviders()
	p.LLM = nil
	_, err := New(context.Background(), testConfig(),
		WithProviders(p), WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("New() succeeded without a language-model backend")
	}
}

func TestNew_MissingTTSBackend(t *testing.T) {
	p := testProviders()
	p.TTS = nil
	_, err := New(context.Background(), testConfig(),
		WithProviders(p), WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("New() succeeded without a synthesis backend")
	}
}

func TestManagerConfig_Mapping(t *testing.T) {
	cfg := testConfig()
	cfg.Voice.RingSeconds = 3
	cfg.Voice.LatencyBudgetMS = 750
	cfg.Voice.Persona = "a helpful concierge"
	cfg.Providers.ElevenLabs.VoiceID = "voice-42"
	cfg.Providers.Deepgram.Language = "de"

	vc := managerConfig(cfg)

	if got, want := vc.RingCapBytes, 3*sampleRate*2; got != want {
		t.Errorf("RingCapBytes = %d, want %d", got, want)
	}
	if got, want := vc.LatencyBudget, 750*time.Millisecond; got != want {
		t.Errorf("LatencyBudget = %v, want %v", got, want)
	}
	if vc.Persona != "a helpful concierge" {
		t.Errorf("Persona = %q", vc.Persona)
	}
	if vc.Voice.ID != "voice-42" {
		t.Errorf("Voice.ID = %q", vc.Voice.ID)
	}
	if vc.Stream.Language != "de" {
		t.Errorf("Stream.Language = %q", vc.Stream.Language)
	}
	if vc.AuthEnabled {
		t.Error("AuthEnabled = true with auth disabled in config")
	}
}

func TestManagerConfig_LanguageDefault(t *testing.T) {
	vc := managerConfig(testConfig())
	if vc.Stream.Language != "en-US" {
		t.Errorf("Stream.Language = %q, want en-US", vc.Stream.Language)
	}
	if vc.Stream.SampleRate != sampleRate {
		t.Errorf("Stream.SampleRate = %d, want %d", vc.Stream.SampleRate, sampleRate)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{config.LogLevel("bogus"), slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := slogLevel(tt.in); got != tt.want {
			t.Errorf("slogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestApplyConfig_LogLevel(t *testing.T) {
	lv := new(slog.LevelVar)
	a, err := New(context.Background(), testConfig(),
		WithProviders(testProviders()),
		WithMetrics(testMetrics(t)),
		WithLogLevel(lv),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	old := testConfig()
	updated := testConfig()
	updated.Server.LogLevel = config.LogDebug
	a.applyConfig(old, updated)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
}

func TestApplyConfig_VoiceTunables(t *testing.T) {
	a := newTestApp(t, testConfig())

	old := testConfig()
	updated := testConfig()
	updated.Voice.Persona = "terse operator"
	updated.Voice.BargeInRMSThreshold = 0.08

	// Must not panic or deadlock while sessions could be live.
	a.applyConfig(old, updated)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	a := newTestApp(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
