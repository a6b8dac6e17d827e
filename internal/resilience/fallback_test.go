package resilience

import (
	"errors"
	"testing"
	"time"
)

// speechBackend stands in for a provider client in group tests; the group is
// generic over the provider type, so a bare name is enough.
type speechBackend struct {
	name string
	err  error
}

func synthGroup(cfg FallbackConfig) *FallbackGroup[*speechBackend] {
	fg := NewFallbackGroup(&speechBackend{name: "elevenlabs"}, "elevenlabs", cfg)
	fg.AddFallback("playht", &speechBackend{name: "playht"})
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	fg := synthGroup(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	var called string
	err := fg.Execute(func(b *speechBackend) error {
		called = b.name
		return b.err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "elevenlabs" {
		t.Fatalf("called = %q, want elevenlabs", called)
	}
}

func TestFallbackGroup_PrimaryFailFallbackSuccess(t *testing.T) {
	fg := NewFallbackGroup(&speechBackend{name: "elevenlabs", err: errTest}, "elevenlabs", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("playht", &speechBackend{name: "playht"})

	var called string
	err := fg.Execute(func(b *speechBackend) error {
		if b.err != nil {
			return b.err
		}
		called = b.name
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "playht" {
		t.Fatalf("called = %q, want playht", called)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	fg := synthGroup(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	err := fg.Execute(func(*speechBackend) error { return errTest })
	if err == nil {
		t.Fatal("expected error when all backends fail")
	}
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_CircuitBreakerSkipsOpenBackend(t *testing.T) {
	fg := synthGroup(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		},
	})

	// Fail the primary enough to open its breaker.
	for i := 0; i < 2; i++ {
		_ = fg.Execute(func(b *speechBackend) error {
			if b.name == "elevenlabs" {
				return errTest
			}
			return nil
		})
	}

	// The primary's breaker is open now; calls go straight to the fallback.
	var called string
	err := fg.Execute(func(b *speechBackend) error {
		called = b.name
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "playht" {
		t.Fatalf("called = %q, want playht (primary circuit should be open)", called)
	}
}

func TestExecuteWithResult_Success(t *testing.T) {
	fg := synthGroup(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	voice, err := ExecuteWithResult(fg, func(b *speechBackend) (string, error) {
		return "voice-from-" + b.name, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if voice != "voice-from-elevenlabs" {
		t.Fatalf("result = %q, want voice-from-elevenlabs", voice)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	fg := synthGroup(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	voice, err := ExecuteWithResult(fg, func(b *speechBackend) (string, error) {
		if b.name == "elevenlabs" {
			return "", errTest
		}
		return "voice-from-" + b.name, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if voice != "voice-from-playht" {
		t.Fatalf("result = %q, want voice-from-playht", voice)
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	fg := NewFallbackGroup(&speechBackend{name: "elevenlabs"}, "elevenlabs", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	_, err := ExecuteWithResult(fg, func(*speechBackend) (string, error) {
		return "", errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
