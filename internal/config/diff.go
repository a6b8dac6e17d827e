package config

// Diff describes what changed between two configs. Only fields that can be
// safely hot-reloaded without restarting sessions are tracked; provider
// credentials and the listen address require a restart and are ignored here.
type Diff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoiceChanged bool
	VoiceDiff    VoiceDiff
}

// VoiceDiff flags which pipeline tunables changed between two configs.
type VoiceDiff struct {
	FailoverThresholdChanged   bool
	LatencyBudgetChanged       bool
	EarlyCutMinCharsChanged    bool
	BargeInRMSThresholdChanged bool
	PersonaChanged             bool
}

// Changed reports whether any tracked voice tunable differs.
func (v VoiceDiff) Changed() bool {
	return v.FailoverThresholdChanged ||
		v.LatencyBudgetChanged ||
		v.EarlyCutMinCharsChanged ||
		v.BargeInRMSThresholdChanged ||
		v.PersonaChanged
}

// Compare returns what changed between old and new. Both configs are expected
// to be normalized (as produced by [Load] / [LoadFromReader]).
func Compare(old, new *Config) Diff {
	d := Diff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.VoiceDiff = VoiceDiff{
		FailoverThresholdChanged:   old.Voice.FailoverThreshold != new.Voice.FailoverThreshold,
		LatencyBudgetChanged:       old.Voice.LatencyBudgetMS != new.Voice.LatencyBudgetMS,
		EarlyCutMinCharsChanged:    old.Voice.EarlyCutMinChars != new.Voice.EarlyCutMinChars,
		BargeInRMSThresholdChanged: old.Voice.BargeInRMSThreshold != new.Voice.BargeInRMSThreshold,
		PersonaChanged:             old.Voice.Persona != new.Voice.Persona,
	}
	d.VoiceChanged = d.VoiceDiff.Changed()

	return d
}
