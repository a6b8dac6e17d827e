// Package verify defines the voice-identity verification provider interface.
//
// A verification provider takes a claimed user identity plus a buffered audio
// sample of that user speaking and decides whether the voice matches the
// identity. The pipeline consults it once per conversational turn, before any
// language-model generation happens, so that an impostor never receives a
// generated response.
//
// Implementations live in subpackages:
//   - httpverify: client for an external HTTP verification service
//   - mock: scripted in-memory implementation for tests
package verify

import "context"

// Result is the outcome of a verification check.
type Result struct {
	// Verified reports whether the audio sample matched the claimed identity.
	Verified bool
	// Confidence is the service's match confidence in [0, 1]. It is meaningful
	// for both accepted and rejected outcomes.
	Confidence float64
	// Message is a human-readable explanation, primarily populated on
	// rejection (e.g., "voice does not match enrolled profile").
	Message string
}

// Provider verifies that an audio sample was spoken by the claimed user.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Verify checks audio (16-bit little-endian mono PCM) against the stored
	// voice profile for userID.
	//
	// A non-nil error means the check itself could not be completed (network
	// failure, malformed response); callers decide whether that counts as a
	// rejection. A nil error with Result.Verified == false is a definitive
	// rejection.
	Verify(ctx context.Context, userID string, audio []byte) (Result, error)
}
