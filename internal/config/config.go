// Package config provides the configuration schema, loader, and file watcher
// for the Vocality voice pipeline server.
package config

// LogLevel controls log verbosity for the Vocality server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Default voice tunables applied by [Normalize] when the corresponding field is
// absent from the YAML file.
const (
	DefaultFailoverThreshold   = 2
	DefaultLatencyBudgetMS     = 500
	DefaultRingSeconds         = 5
	DefaultEarlyCutMinChars    = 8
	DefaultBargeInRMSThreshold = 0.02
)

// Config is the root configuration structure for Vocality.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Voice     VoiceConfig     `yaml:"voice"`
}

// ServerConfig holds network and logging settings for the Vocality server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig holds one block per external collaborator. API keys support
// ${ENV_VAR} expansion at load time so secrets stay out of the file.
type ProvidersConfig struct {
	Deepgram   STTProviderConfig `yaml:"deepgram"`
	AssemblyAI STTProviderConfig `yaml:"assemblyai"`
	OpenAI     LLMProviderConfig `yaml:"openai"`
	AnyLLM     LLMProviderConfig `yaml:"anyllm"`
	ElevenLabs TTSProviderConfig `yaml:"elevenlabs"`
	Verify     VerifyConfig      `yaml:"verify"`
}

// STTProviderConfig configures a speech-to-text backend.
type STTProviderConfig struct {
	// APIKey authenticates against the provider's streaming API.
	APIKey string `yaml:"api_key"`

	// Model selects a provider-specific model (e.g., "nova-2"). Optional.
	Model string `yaml:"model"`

	// Language is the expected speech language code (e.g., "en"). Optional.
	Language string `yaml:"language"`
}

// LLMProviderConfig configures a language-model backend.
type LLMProviderConfig struct {
	// APIKey authenticates against the provider's API.
	APIKey string `yaml:"api_key"`

	// Model selects a specific model (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default API endpoint. Optional.
	BaseURL string `yaml:"base_url"`

	// Backend selects the any-llm-go backend name (e.g., "anthropic",
	// "ollama"). Only meaningful for the anyllm block.
	Backend string `yaml:"backend"`
}

// TTSProviderConfig configures a text-to-speech backend.
type TTSProviderConfig struct {
	// APIKey authenticates against the provider's streaming API.
	APIKey string `yaml:"api_key"`

	// VoiceID is the provider-specific voice identifier used for synthesis.
	VoiceID string `yaml:"voice_id"`
}

// VerifyConfig configures the voice-identity verification service.
type VerifyConfig struct {
	// Endpoint is the base URL of the verification service. When empty and
	// voice.auth_enabled is true, loading fails.
	Endpoint string `yaml:"endpoint"`

	// APIKey is an optional bearer token for the service.
	APIKey string `yaml:"api_key"`
}

// VoiceConfig holds the pipeline tunables. Zero values are replaced with the
// documented defaults by [Normalize].
type VoiceConfig struct {
	// FailoverThreshold is the number of consecutive recognition failures
	// before the pipeline switches to the alternate STT backend. Default: 2.
	FailoverThreshold int `yaml:"failover_threshold"`

	// LatencyBudgetMS is the end-to-end turn latency budget in milliseconds.
	// Turns exceeding it are logged with a stage breakdown. Default: 500.
	LatencyBudgetMS int `yaml:"latency_budget_ms"`

	// RingSeconds is the capacity of the per-session audio ring buffer in
	// seconds of 16 kHz mono 16-bit PCM. Default: 5.
	RingSeconds int `yaml:"ring_seconds"`

	// EarlyCutMinChars is the minimum trimmed transcript length (exclusive)
	// for an interim transcript to be treated as a complete utterance when it
	// ends in sentence punctuation. Default: 8.
	EarlyCutMinChars int `yaml:"early_cut_min_chars"`

	// AuthEnabled toggles per-turn voice-identity verification. Absent means
	// enabled. Disable only for local development.
	AuthEnabled *bool `yaml:"auth_enabled"`

	// BargeInRMSThreshold is the normalized RMS energy above which incoming
	// audio during synthesis triggers barge-in. Default: 0.02.
	BargeInRMSThreshold float64 `yaml:"bargein_rms_threshold"`

	// Persona is the free-text assistant persona injected as the system
	// prompt of every turn.
	Persona string `yaml:"persona"`
}

// AuthOn reports whether voice-identity verification is enabled, applying the
// enabled-by-default rule for an absent auth_enabled key.
func (v VoiceConfig) AuthOn() bool {
	return v.AuthEnabled == nil || *v.AuthEnabled
}

// Normalize fills zero-valued tunables with their documented defaults.
// It is called by [LoadFromReader] after decoding; explicit zero values in the
// file are indistinguishable from absent keys and also receive defaults.
func (c *Config) Normalize() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Voice.FailoverThreshold <= 0 {
		c.Voice.FailoverThreshold = DefaultFailoverThreshold
	}
	if c.Voice.LatencyBudgetMS <= 0 {
		c.Voice.LatencyBudgetMS = DefaultLatencyBudgetMS
	}
	if c.Voice.RingSeconds <= 0 {
		c.Voice.RingSeconds = DefaultRingSeconds
	}
	if c.Voice.EarlyCutMinChars <= 0 {
		c.Voice.EarlyCutMinChars = DefaultEarlyCutMinChars
	}
	if c.Voice.BargeInRMSThreshold <= 0 {
		c.Voice.BargeInRMSThreshold = DefaultBargeInRMSThreshold
	}
}
