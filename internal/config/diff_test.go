package config_test

import (
	"testing"

	"github.com/vocality-ai/vocality/internal/config"
)

func normalized(mutate func(*config.Config)) *config.Config {
	cfg := &config.Config{}
	cfg.Normalize()
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

func TestCompare_NoChanges(t *testing.T) {
	t.Parallel()
	old := normalized(nil)
	new := normalized(nil)

	d := config.Compare(old, new)
	if d.LogLevelChanged {
		t.Error("LogLevelChanged = true, want false")
	}
	if d.VoiceChanged {
		t.Error("VoiceChanged = true, want false")
	}
}

func TestCompare_LogLevelChange(t *testing.T) {
	t.Parallel()
	old := normalized(nil)
	new := normalized(func(c *config.Config) {
		c.Server.LogLevel = config.LogDebug
	})

	d := config.Compare(old, new)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged = false, want true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
	if d.VoiceChanged {
		t.Error("VoiceChanged = true, want false")
	}
}

func TestCompare_VoiceTunables(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(config.VoiceDiff) bool
	}{
		{
			"failover threshold",
			func(c *config.Config) { c.Voice.FailoverThreshold = 3 },
			func(v config.VoiceDiff) bool { return v.FailoverThresholdChanged },
		},
		{
			"latency budget",
			func(c *config.Config) { c.Voice.LatencyBudgetMS = 750 },
			func(v config.VoiceDiff) bool { return v.LatencyBudgetChanged },
		},
		{
			"early cut min chars",
			func(c *config.Config) { c.Voice.EarlyCutMinChars = 12 },
			func(v config.VoiceDiff) bool { return v.EarlyCutMinCharsChanged },
		},
		{
			"barge-in threshold",
			func(c *config.Config) { c.Voice.BargeInRMSThreshold = 0.05 },
			func(v config.VoiceDiff) bool { return v.BargeInRMSThresholdChanged },
		},
		{
			"persona",
			func(c *config.Config) { c.Voice.Persona = "new persona" },
			func(v config.VoiceDiff) bool { return v.PersonaChanged },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := config.Compare(normalized(nil), normalized(tt.mutate))
			if !d.VoiceChanged {
				t.Fatal("VoiceChanged = false, want true")
			}
			if !tt.check(d.VoiceDiff) {
				t.Errorf("expected field flag not set: %+v", d.VoiceDiff)
			}
		})
	}
}

func TestCompare_RingSecondsIgnored(t *testing.T) {
	t.Parallel()
	// The ring capacity is fixed per session at creation; changing it is not
	// hot-reloadable and must not flag a voice change.
	d := config.Compare(normalized(nil), normalized(func(c *config.Config) {
		c.Voice.RingSeconds = 10
	}))
	if d.VoiceChanged {
		t.Error("VoiceChanged = true for ring_seconds, want false (restart-only)")
	}
}
