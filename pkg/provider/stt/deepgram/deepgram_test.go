package deepgram

import (
	"net/url"
	"testing"
	"time"

	"github.com/vocality-ai/vocality/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   "en",
	}

	rawURL, err := p.buildURL(cfg)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_CustomModel(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("de-DE"), WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
}

func TestBuildURL_LanguageOverridenByCfg(t *testing.T) {
	// cfg.Language should take precedence over the provider-level default.
	p, err := New("key", WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{Language: "fr-FR", SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr-FR", u.Query().Get("language"))
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

// ---- response parsing tests ----

func TestParseResponse_Final(t *testing.T) {
	s := &session{}
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"start": 1.5,
		"channel": {"alternatives": [{"transcript": "hello world", "confidence": 0.97}]}
	}`)

	tr, failure, ok := s.parseResponse(raw)
	if !ok {
		t.Fatal("parseResponse returned ok=false")
	}
	if failure != nil {
		t.Fatalf("unexpected failure: %v", failure)
	}
	if tr.Text != "hello world" {
		t.Errorf("Text = %q, want %q", tr.Text, "hello world")
	}
	if !tr.IsFinal {
		t.Error("IsFinal = false, want true")
	}
	if tr.Confidence != 0.97 {
		t.Errorf("Confidence = %f, want 0.97", tr.Confidence)
	}
	if tr.Timestamp != 1500*time.Millisecond {
		t.Errorf("Timestamp = %v, want 1.5s", tr.Timestamp)
	}
}

func TestParseResponse_Partial(t *testing.T) {
	s := &session{}
	raw := []byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {"alternatives": [{"transcript": "hel", "confidence": 0.5}]}
	}`)

	tr, failure, ok := s.parseResponse(raw)
	if !ok || failure != nil {
		t.Fatalf("ok=%v failure=%v, want ok=true failure=nil", ok, failure)
	}
	if tr.IsFinal {
		t.Error("IsFinal = true, want false")
	}
}

func TestParseResponse_Error(t *testing.T) {
	s := &session{}
	raw := []byte(`{"type": "Error", "description": "bad frame"}`)

	_, failure, ok := s.parseResponse(raw)
	if !ok {
		t.Fatal("parseResponse returned ok=false for Error message")
	}
	if failure == nil {
		t.Fatal("expected a failure for Error message")
	}
}

func TestParseResponse_Ignored(t *testing.T) {
	s := &session{}
	tests := []struct {
		name string
		raw  string
	}{
		{"metadata", `{"type": "Metadata"}`},
		{"no alternatives", `{"type": "Results", "channel": {"alternatives": []}}`},
		{"invalid json", `{nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, ok := s.parseResponse([]byte(tt.raw)); ok {
				t.Errorf("parseResponse(%q) ok = true, want false", tt.raw)
			}
		})
	}
}

func assertEqual(t *testing.T, name, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %q, want %q", name, got, want)
	}
}
