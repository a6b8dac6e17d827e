package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vocality-ai/vocality/pkg/provider/stt"
	sttmock "github.com/vocality-ai/vocality/pkg/provider/stt/mock"
)

var testStreamConfig = stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en-US"}

func newTestRecognizer(t *testing.T) (*Recognizer, *sttmock.Session, *sttmock.Session) {
	t.Helper()
	primarySess := sttmock.NewSession()
	secondarySess := sttmock.NewSession()
	primary := &sttmock.Provider{ProviderName: "prime", Session: primarySess}
	secondary := &sttmock.Provider{ProviderName: "backup", Session: secondarySess}
	r := NewRecognizer(primary, secondary, 2, testStreamConfig)
	t.Cleanup(r.Close)
	return r, primarySess, secondarySess
}

func TestRecognizer_ForwardsTranscripts(t *testing.T) {
	r, primarySess, _ := newTestRecognizer(t)
	if _, err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	primarySess.PartialsCh <- stt.Transcript{Text: "hel"}
	primarySess.FinalsCh <- stt.Transcript{Text: "hello", IsFinal: true}

	got := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case ev := <-r.Events():
			if ev.Err != nil {
				t.Fatalf("unexpected error event: %v", ev.Err)
			}
			got[ev.Transcript.Text] = ev.Transcript.IsFinal
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	if f, ok := got["hello"]; !ok || !f {
		t.Errorf("final transcript not forwarded: %v", got)
	}
	if _, ok := got["hel"]; !ok {
		t.Errorf("partial transcript not forwarded: %v", got)
	}
}

func TestRecognizer_ForwardsErrors(t *testing.T) {
	r, primarySess, _ := newTestRecognizer(t)
	if _, err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	primarySess.ErrorsCh <- errors.New("upstream hiccup")
	select {
	case ev := <-r.Events():
		if ev.Err == nil {
			t.Fatalf("want error event, got transcript %q", ev.Transcript.Text)
		}
		if ev.Backend != BackendPrimary {
			t.Errorf("Backend = %v, want primary", ev.Backend)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error event")
	}
}

func TestRecognizer_SendReachesActiveBackend(t *testing.T) {
	r, primarySess, _ := newTestRecognizer(t)
	if _, err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := r.Send([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if primarySess.SendAudioCallCount() != 1 {
		t.Errorf("primary received %d chunks, want 1", primarySess.SendAudioCallCount())
	}
}

func TestRecognizer_FailureCounting(t *testing.T) {
	r, _, _ := newTestRecognizer(t)
	if _, err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if r.RecordFailure() {
		t.Error("first failure reached threshold of 2")
	}
	if !r.RecordFailure() {
		t.Error("second failure did not reach threshold of 2")
	}

	r.RecordSuccess()
	if r.Failures() != 0 {
		t.Errorf("Failures() after success = %d, want 0", r.Failures())
	}
}

func TestRecognizer_NoAlternateNeverRequestsSwitch(t *testing.T) {
	primary := &sttmock.Provider{ProviderName: "prime"}
	r := NewRecognizer(primary, nil, 2, testStreamConfig)
	t.Cleanup(r.Close)
	if _, err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	r.RecordFailure()
	if r.RecordFailure() {
		t.Error("RecordFailure requested a switch with no alternate configured")
	}
	if _, err := r.SwitchBackend(context.Background(), "manual"); !errors.Is(err, ErrNoAlternate) {
		t.Errorf("SwitchBackend() error = %v, want ErrNoAlternate", err)
	}
}

func TestRecognizer_SwitchBackend(t *testing.T) {
	r, primarySess, secondarySess := newTestRecognizer(t)
	if _, err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	name, err := r.SwitchBackend(context.Background(), "failover")
	if err != nil {
		t.Fatalf("SwitchBackend() error = %v", err)
	}
	if name != "backup" {
		t.Errorf("SwitchBackend() = %q, want backup", name)
	}
	if r.ActiveName() != "backup" {
		t.Errorf("ActiveName() = %q, want backup", r.ActiveName())
	}

	waitFor(t, time.Second, func() bool { return primarySess.CloseCallCount > 0 }, "old session close")

	// Events from the replaced backend must be dropped; events from the new
	// active backend still flow.
	primarySess.PartialsCh <- stt.Transcript{Text: "stale"}
	secondarySess.FinalsCh <- stt.Transcript{Text: "fresh", IsFinal: true}

	select {
	case ev := <-r.Events():
		if ev.Transcript.Text != "fresh" {
			t.Errorf("got %q from replaced backend, want only fresh", ev.Transcript.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event from new backend")
	}

	if err := r.Send([]byte{9}); err != nil {
		t.Fatalf("Send() after switch error = %v", err)
	}
	if secondarySess.SendAudioCallCount() != 1 {
		t.Errorf("new backend received %d chunks, want 1", secondarySess.SendAudioCallCount())
	}
}

// The event stream is buffered, so an event pumped just before a switch can
// be delivered after it. Consumers tell such events apart from fresh ones by
// re-checking the backend's slot.
func TestRecognizer_BufferedEventInactiveAfterSwitch(t *testing.T) {
	r, primarySess, _ := newTestRecognizer(t)
	if _, err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	primarySess.FinalsCh <- stt.Transcript{Text: "queued before the switch", IsFinal: true}
	waitFor(t, time.Second, func() bool { return len(r.Events()) == 1 }, "event buffered")

	if _, err := r.SwitchBackend(context.Background(), "failover"); err != nil {
		t.Fatalf("SwitchBackend() error = %v", err)
	}

	ev := <-r.Events()
	if ev.Backend != BackendPrimary {
		t.Fatalf("Backend = %v, want primary", ev.Backend)
	}
	if r.IsActive(ev.Backend) {
		t.Error("IsActive() = true for the replaced backend")
	}
	if !r.IsActive(BackendSecondary) {
		t.Error("IsActive() = false for the new active backend")
	}
}

func TestRecognizer_OpenFallsBackToSecondary(t *testing.T) {
	secondarySess := sttmock.NewSession()
	primary := &sttmock.Provider{ProviderName: "prime", StartStreamErr: errors.New("connect refused")}
	secondary := &sttmock.Provider{ProviderName: "backup", Session: secondarySess}
	r := NewRecognizer(primary, secondary, 2, testStreamConfig)
	t.Cleanup(r.Close)

	switched, err := r.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !switched {
		t.Error("Open() did not report the fallback switch")
	}
	if r.ActiveName() != "backup" {
		t.Errorf("ActiveName() = %q, want backup", r.ActiveName())
	}
}

func TestRecognizer_OpenFailsWhenAllBackendsDown(t *testing.T) {
	primary := &sttmock.Provider{ProviderName: "prime", StartStreamErr: errors.New("down")}
	secondary := &sttmock.Provider{ProviderName: "backup", StartStreamErr: errors.New("also down")}
	r := NewRecognizer(primary, secondary, 2, testStreamConfig)

	if _, err := r.Open(context.Background()); err == nil {
		t.Fatal("Open() succeeded with both backends down")
	}
}

func TestRecognizer_Close(t *testing.T) {
	primarySess := sttmock.NewSession()
	primary := &sttmock.Provider{ProviderName: "prime", Session: primarySess}
	r := NewRecognizer(primary, nil, 2, testStreamConfig)
	if _, err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	close(primarySess.PartialsCh)
	close(primarySess.FinalsCh)
	close(primarySess.ErrorsCh)

	r.Close()
	r.Close()

	if primarySess.CloseCallCount == 0 {
		t.Error("handle not closed")
	}
	if err := r.Send([]byte{1}); !errors.Is(err, ErrRecognizerClosed) {
		t.Errorf("Send() after Close error = %v, want ErrRecognizerClosed", err)
	}
	if _, ok := <-r.Events(); ok {
		t.Error("events channel not closed")
	}
}
