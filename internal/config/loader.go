package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${ENV_VAR} references,
// applies defaults, and validates the result. Useful in tests where configs
// are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	raw = expandEnv(raw)

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.Normalize()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv substitutes $VAR and ${VAR} references with the value of the
// corresponding environment variable. Unset variables expand to the empty
// string, which Validate then reports as a missing key where one is required.
func expandEnv(raw []byte) []byte {
	return []byte(os.Expand(string(raw), os.Getenv))
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// At least one STT backend must be usable; with both configured the
	// pipeline can fail over.
	if cfg.Providers.Deepgram.APIKey == "" && cfg.Providers.AssemblyAI.APIKey == "" {
		errs = append(errs, errors.New("providers: at least one of deepgram.api_key or assemblyai.api_key is required"))
	}
	if cfg.Providers.Deepgram.APIKey == "" || cfg.Providers.AssemblyAI.APIKey == "" {
		slog.Warn("only one speech-recognition backend configured; failover will not be available")
	}

	if cfg.Providers.OpenAI.APIKey == "" && cfg.Providers.AnyLLM.Backend == "" {
		errs = append(errs, errors.New("providers: openai.api_key or anyllm.backend is required"))
	}
	if cfg.Providers.ElevenLabs.APIKey == "" {
		errs = append(errs, errors.New("providers.elevenlabs.api_key is required"))
	}
	if cfg.Providers.ElevenLabs.VoiceID == "" {
		errs = append(errs, errors.New("providers.elevenlabs.voice_id is required"))
	}

	if cfg.Voice.AuthOn() && cfg.Providers.Verify.Endpoint == "" {
		errs = append(errs, errors.New("providers.verify.endpoint is required when voice.auth_enabled is true"))
	}

	if cfg.Voice.BargeInRMSThreshold < 0 || cfg.Voice.BargeInRMSThreshold > 1 {
		errs = append(errs, fmt.Errorf("voice.bargein_rms_threshold %.3f is out of range [0, 1]", cfg.Voice.BargeInRMSThreshold))
	}
	if cfg.Voice.Persona == "" {
		slog.Warn("voice.persona is empty; responses will use the model's default behaviour")
	}

	return errors.Join(errs...)
}
