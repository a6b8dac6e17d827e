// Package app wires all Vocality subsystems into a running server process.
//
// The App struct owns the full lifecycle: New builds the providers from
// config and connects them to the voice manager and HTTP server, Run serves
// until the context is cancelled, and Shutdown tears everything down in
// order.
//
// For testing, inject mock implementations via functional options
// (WithProviders, WithMetrics, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/vocality-ai/vocality/internal/config"
	"github.com/vocality-ai/vocality/internal/observe"
	"github.com/vocality-ai/vocality/internal/resilience"
	"github.com/vocality-ai/vocality/internal/server"
	"github.com/vocality-ai/vocality/internal/voice"
	"github.com/vocality-ai/vocality/pkg/provider/llm"
	"github.com/vocality-ai/vocality/pkg/provider/llm/anyllm"
	"github.com/vocality-ai/vocality/pkg/provider/llm/openai"
	"github.com/vocality-ai/vocality/pkg/provider/stt"
	"github.com/vocality-ai/vocality/pkg/provider/stt/assemblyai"
	"github.com/vocality-ai/vocality/pkg/provider/stt/deepgram"
	"github.com/vocality-ai/vocality/pkg/provider/tts"
	"github.com/vocality-ai/vocality/pkg/provider/tts/elevenlabs"
	"github.com/vocality-ai/vocality/pkg/provider/verify"
	"github.com/vocality-ai/vocality/pkg/provider/verify/httpverify"
)

// sampleRate is the PCM sample rate of the inbound audio stream. All
// providers are configured to expect it.
const sampleRate = 16000

// identityHeader carries the authenticated user identity set by the fronting
// gateway. The default authorizer reads it; deployments with their own
// authentication inject an [server.Authorizer] instead.
const identityHeader = "X-User-Id"

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured; New fills empty slots from the config.
type Providers struct {
	PrimarySTT   stt.Provider
	SecondarySTT stt.Provider
	LLM          llm.Provider
	TTS          tts.Provider
	Verifier     verify.Provider
}

// App owns all subsystem lifetimes and serves the Vocality voice pipeline.
type App struct {
	cfg       *config.Config
	providers Providers

	metrics    *observe.Metrics
	auth       server.Authorizer
	logLevel   *slog.LevelVar
	manager    *voice.Manager
	httpServer *http.Server
	watcher    *config.Watcher

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProviders injects providers instead of creating them from the config.
// Slots left nil are still built from config.
func WithProviders(p Providers) Option {
	return func(a *App) { a.providers = p }
}

// WithMetrics injects a metrics instance instead of initialising the global
// OpenTelemetry provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithAuthorizer injects the connection authorizer used by the WebSocket
// endpoint.
func WithAuthorizer(auth server.Authorizer) Option {
	return func(a *App) { a.auth = auth }
}

// WithLogLevel hands the app the level var backing the process logger so
// config hot reload can adjust verbosity.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already be
// validated. Use Option functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Observability ─────────────────────────────────────────────────
	if a.metrics == nil {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName: "vocality",
		})
		if err != nil {
			return nil, fmt.Errorf("app: init observability: %w", err)
		}
		a.closers = append(a.closers, shutdown)
		a.metrics = observe.DefaultMetrics()
	}

	// ── 2. Providers ─────────────────────────────────────────────────────
	if err := a.initSTT(); err != nil {
		return nil, fmt.Errorf("app: init stt: %w", err)
	}
	if err := a.initLLM(); err != nil {
		return nil, fmt.Errorf("app: init llm: %w", err)
	}
	if err := a.initTTS(); err != nil {
		return nil, fmt.Errorf("app: init tts: %w", err)
	}
	if err := a.initVerifier(); err != nil {
		return nil, fmt.Errorf("app: init verifier: %w", err)
	}

	// ── 3. Voice manager ─────────────────────────────────────────────────
	a.manager = voice.NewManager(managerConfig(cfg), voice.Providers{
		PrimarySTT:   a.providers.PrimarySTT,
		SecondarySTT: a.providers.SecondarySTT,
		LLM:          a.providers.LLM,
		TTS:          a.providers.TTS,
		Verifier:     a.providers.Verifier,
	}, a.metrics)

	// ── 4. HTTP server ───────────────────────────────────────────────────
	if a.auth == nil {
		a.auth = server.AuthorizerFunc(func(r *http.Request) (string, error) {
			id := r.Header.Get(identityHeader)
			if id == "" {
				return "", fmt.Errorf("app: missing %s header", identityHeader)
			}
			return id, nil
		})
	}
	handler := observe.Middleware(a.metrics)(server.New(a.manager, a.auth).Handler())
	a.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Manager exposes the voice manager, mainly for tests.
func (a *App) Manager() *voice.Manager { return a.manager }

// Handler exposes the fully wired HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler { return a.httpServer.Handler }

// ─── Provider construction ───────────────────────────────────────────────────

// initSTT builds the recognition backends. When both Deepgram and AssemblyAI
// are configured, Deepgram is primary and AssemblyAI the failover target.
func (a *App) initSTT() error {
	if a.providers.PrimarySTT != nil {
		return nil
	}
	p := a.cfg.Providers

	var backends []stt.Provider
	if p.Deepgram.APIKey != "" {
		opts := []deepgram.Option{deepgram.WithSampleRate(sampleRate)}
		if p.Deepgram.Model != "" {
			opts = append(opts, deepgram.WithModel(p.Deepgram.Model))
		}
		if p.Deepgram.Language != "" {
			opts = append(opts, deepgram.WithLanguage(p.Deepgram.Language))
		}
		dg, err := deepgram.New(p.Deepgram.APIKey, opts...)
		if err != nil {
			return fmt.Errorf("deepgram: %w", err)
		}
		backends = append(backends, dg)
	}
	if p.AssemblyAI.APIKey != "" {
		aai, err := assemblyai.New(p.AssemblyAI.APIKey, assemblyai.WithSampleRate(sampleRate))
		if err != nil {
			return fmt.Errorf("assemblyai: %w", err)
		}
		backends = append(backends, aai)
	}

	if len(backends) == 0 {
		return errors.New("at least one recognition backend must be configured")
	}
	a.providers.PrimarySTT = backends[0]
	if len(backends) > 1 {
		a.providers.SecondarySTT = backends[1]
	} else {
		slog.Warn("single recognition backend configured, failover disabled")
	}
	return nil
}

// initLLM builds the response generator. OpenAI is primary when configured;
// an anyllm backend becomes the circuit-breaker fallback, or the sole
// provider when OpenAI is absent.
func (a *App) initLLM() error {
	if a.providers.LLM != nil {
		return nil
	}
	p := a.cfg.Providers

	var alt llm.Provider
	if p.AnyLLM.Backend != "" {
		var opts []anyllmlib.Option
		if p.AnyLLM.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(p.AnyLLM.APIKey))
		}
		if p.AnyLLM.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(p.AnyLLM.BaseURL))
		}
		prov, err := anyllm.New(p.AnyLLM.Backend, p.AnyLLM.Model, opts...)
		if err != nil {
			return err
		}
		alt = prov
	}

	if p.OpenAI.APIKey == "" {
		if alt == nil {
			return errors.New("a language-model backend must be configured")
		}
		a.providers.LLM = alt
		return nil
	}

	var opts []openai.Option
	if p.OpenAI.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(p.OpenAI.BaseURL))
	}
	primary, err := openai.New(p.OpenAI.APIKey, p.OpenAI.Model, opts...)
	if err != nil {
		return err
	}

	fb := resilience.NewLLMFallback(primary, "openai", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: "llm"},
	})
	if alt != nil {
		fb.AddFallback(p.AnyLLM.Backend, alt)
	}
	a.providers.LLM = fb
	return nil
}

// initTTS builds the synthesis provider behind a circuit breaker.
func (a *App) initTTS() error {
	if a.providers.TTS != nil {
		return nil
	}
	p := a.cfg.Providers

	if p.ElevenLabs.APIKey == "" {
		return errors.New("a synthesis backend must be configured")
	}
	el, err := elevenlabs.New(p.ElevenLabs.APIKey)
	if err != nil {
		return err
	}
	a.providers.TTS = resilience.NewTTSFallback(el, "elevenlabs", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: "tts"},
	})
	return nil
}

// initVerifier builds the voice-identity verifier when authentication is on.
func (a *App) initVerifier() error {
	if a.providers.Verifier != nil || !a.cfg.Voice.AuthOn() {
		return nil
	}
	p := a.cfg.Providers

	opts := []httpverify.Option{httpverify.WithSampleRate(sampleRate)}
	if p.Verify.APIKey != "" {
		opts = append(opts, httpverify.WithAPIKey(p.Verify.APIKey))
	}
	v, err := httpverify.New(p.Verify.Endpoint, opts...)
	if err != nil {
		return err
	}
	a.providers.Verifier = v
	return nil
}

// managerConfig maps the file config onto the voice manager's config.
func managerConfig(cfg *config.Config) voice.Config {
	lang := cfg.Providers.Deepgram.Language
	if lang == "" {
		lang = cfg.Providers.AssemblyAI.Language
	}
	if lang == "" {
		lang = "en-US"
	}
	return voice.Config{
		FailoverThreshold:   cfg.Voice.FailoverThreshold,
		LatencyBudget:       time.Duration(cfg.Voice.LatencyBudgetMS) * time.Millisecond,
		RingCapBytes:        cfg.Voice.RingSeconds * sampleRate * 2,
		EarlyCutMinChars:    cfg.Voice.EarlyCutMinChars,
		AuthEnabled:         cfg.Voice.AuthOn(),
		BargeInRMSThreshold: cfg.Voice.BargeInRMSThreshold,
		Persona:             cfg.Voice.Persona,
		Stream: stt.StreamConfig{
			SampleRate: sampleRate,
			Channels:   1,
			Language:   lang,
		},
		Voice: tts.VoiceProfile{
			ID:       cfg.Providers.ElevenLabs.VoiceID,
			Provider: "elevenlabs",
		},
	}
}

// ─── Config hot reload ───────────────────────────────────────────────────────

// WatchConfig starts polling path for config changes and applies the
// hot-reloadable subset (log level and voice tunables) as they land. Provider
// credential and listen address changes still require a restart.
func (a *App) WatchConfig(path string) error {
	w, err := config.NewWatcher(path, a.applyConfig)
	if err != nil {
		return fmt.Errorf("app: watch config: %w", err)
	}
	a.watcher = w
	return nil
}

func (a *App) applyConfig(old, new *config.Config) {
	d := config.Compare(old, new)

	if d.LogLevelChanged {
		if a.logLevel != nil {
			a.logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		} else {
			slog.Warn("log level changed but no level var is wired, restart to apply")
		}
	}

	if d.VoiceChanged {
		a.manager.ApplyTunables(voice.Tunables{
			FailoverThreshold:   new.Voice.FailoverThreshold,
			LatencyBudget:       time.Duration(new.Voice.LatencyBudgetMS) * time.Millisecond,
			EarlyCutMinChars:    new.Voice.EarlyCutMinChars,
			BargeInRMSThreshold: new.Voice.BargeInRMSThreshold,
			Persona:             new.Voice.Persona,
		})
		slog.Info("voice tuning updated",
			"failover_threshold", new.Voice.FailoverThreshold,
			"latency_budget_ms", new.Voice.LatencyBudgetMS,
			"early_cut_min_chars", new.Voice.EarlyCutMinChars,
			"bargein_rms_threshold", new.Voice.BargeInRMSThreshold)
	}
}

// slogLevel maps a config log level onto slog's scale.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP (or HTTPS when TLS is configured) until ctx is cancelled,
// then drains the listener. Active voice sessions are ended by Shutdown.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if t := a.cfg.Server.TLS; t != nil {
			slog.Info("listening", "addr", a.cfg.Server.ListenAddr, "tls", true)
			err = a.httpServer.ListenAndServeTLS(t.CertFile, t.KeyFile)
		} else {
			slog.Info("listening", "addr", a.cfg.Server.ListenAddr, "tls", false)
			err = a.httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.httpServer.Shutdown(drainCtx); err != nil {
			slog.Warn("listener drain error", "err", err)
		}
		return ctx.Err()
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order: the config watcher, the HTTP
// listener, active voice sessions, and finally observability. It respects
// the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if a.watcher != nil {
			a.watcher.Stop()
		}

		if err := a.httpServer.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		if err := a.manager.Shutdown(ctx); err != nil {
			slog.Warn("session shutdown error", "err", err)
			shutdownErr = err
		}

		for _, closer := range a.closers {
			select {
			case <-ctx.Done():
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
