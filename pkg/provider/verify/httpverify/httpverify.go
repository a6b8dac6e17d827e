// Package httpverify provides a verify.Provider backed by an external HTTP
// voice verification service.
//
// The service contract is a single endpoint:
//
//	POST {endpoint}/v1/verify
//	{"user_id": "...", "audio": "<base64 16-bit LE mono PCM>", "sample_rate": 16000}
//
// responding with:
//
//	{"verified": true, "confidence": 0.93, "message": ""}
//
// Example usage:
//
//	p, err := httpverify.New("https://verify.internal:8443",
//	    httpverify.WithTimeout(5*time.Second))
//	res, err := p.Verify(ctx, "user-42", pcm)
package httpverify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vocality-ai/vocality/pkg/provider/verify"
)

// DefaultSampleRate is the sample rate reported to the service when none is
// configured. The voice pipeline buffers audio at 16 kHz mono.
const DefaultSampleRate = 16000

// Ensure Provider implements the verify.Provider interface at compile time.
var _ verify.Provider = (*Provider)(nil)

// Provider implements verify.Provider against an HTTP verification service.
//
// Provider is safe for concurrent use.
type Provider struct {
	endpoint   string
	apiKey     string
	sampleRate int
	httpClient *http.Client
}

// config holds optional configuration collected from functional options.
type config struct {
	timeout    time.Duration
	apiKey     string
	sampleRate int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout on the underlying HTTP client.
// A zero or negative value means no timeout (the default).
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithAPIKey sets a bearer token sent in the Authorization header of every
// request. Empty means no Authorization header.
func WithAPIKey(key string) Option {
	return func(c *config) {
		c.apiKey = key
	}
}

// WithSampleRate overrides the sample rate reported alongside the audio
// payload. Defaults to DefaultSampleRate.
func WithSampleRate(rate int) Option {
	return func(c *config) {
		c.sampleRate = rate
	}
}

// New constructs a new HTTP verification Provider.
//
// endpoint is the base URL of the verification service and must not be empty.
// A trailing slash is stripped automatically.
func New(endpoint string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("httpverify: endpoint must not be empty")
	}
	endpoint = strings.TrimRight(endpoint, "/")

	cfg := &config{sampleRate: DefaultSampleRate}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := &http.Client{}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	return &Provider{
		endpoint:   endpoint,
		apiKey:     cfg.apiKey,
		sampleRate: cfg.sampleRate,
		httpClient: httpClient,
	}, nil
}

// verifyRequest is the JSON request body sent to the /v1/verify endpoint.
type verifyRequest struct {
	UserID     string `json:"user_id"`
	Audio      string `json:"audio"`
	SampleRate int    `json:"sample_rate"`
}

// verifyResponse is the JSON response body returned by the /v1/verify endpoint.
type verifyResponse struct {
	Verified   bool    `json:"verified"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
}

// Verify implements verify.Provider by POSTing the sample to the service.
//
// Returns an error if the HTTP request fails, the server returns a non-200
// status, the response cannot be decoded, or ctx is cancelled. The service's
// verdict, accepted or rejected, is returned with a nil error.
func (p *Provider) Verify(ctx context.Context, userID string, audio []byte) (verify.Result, error) {
	if userID == "" {
		return verify.Result{}, fmt.Errorf("httpverify: verify: user ID must not be empty")
	}
	if len(audio) == 0 {
		return verify.Result{}, fmt.Errorf("httpverify: verify: audio must not be empty")
	}

	body, err := json.Marshal(verifyRequest{
		UserID:     userID,
		Audio:      base64.StdEncoding.EncodeToString(audio),
		SampleRate: p.sampleRate,
	})
	if err != nil {
		return verify.Result{}, fmt.Errorf("httpverify: verify: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/verify", bytes.NewReader(body))
	if err != nil {
		return verify.Result{}, fmt.Errorf("httpverify: verify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return verify.Result{}, fmt.Errorf("httpverify: verify: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return verify.Result{}, fmt.Errorf("httpverify: verify: unexpected status %d", resp.StatusCode)
	}

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return verify.Result{}, fmt.Errorf("httpverify: verify: decode response: %w", err)
	}

	return verify.Result{
		Verified:   result.Verified,
		Confidence: result.Confidence,
		Message:    result.Message,
	}, nil
}
