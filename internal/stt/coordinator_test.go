package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-medic/internal/audio"
	"github.com/loqalabs/loqa-medic/internal/protocol"
	"github.com/loqalabs/loqa-medic/internal/protocol/protocoltest"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	texts []string
	srcs  []protocol.Source
}

func (r *recordingSubmitter) Submit(_ context.Context, source protocol.Source, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	r.srcs = append(r.srcs, source)
	return true
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCoordinator(capturer Capturer, sub Submitter) (*Coordinator, *protocoltest.Recorder) {
	rec := &protocoltest.Recorder{}
	opts := CoordinatorOptions{Calibration: time.Millisecond, ListenTimeout: 50 * time.Millisecond, PhraseLimit: 50 * time.Millisecond}
	return NewCoordinator(context.Background(), capturer, rec, sub, opts, testLogger()), rec
}

func listeningFalse(events []protocol.Event) int {
	n := 0
	for _, evt := range events {
		if evt.Type == protocol.EventListeningStatus && !evt.Payload.(protocol.ListeningStatus).Active {
			n++
		}
	}
	return n
}

func errorText(t *testing.T, rec *protocoltest.Recorder) string {
	t.Helper()
	errs := rec.OfType(protocol.EventErrorMessage)
	if len(errs) != 1 {
		t.Fatalf("expected one error_message, got %d", len(errs))
	}
	return errs[0].Payload.(protocol.ErrorMessage).Message
}

func TestCaptureRecognized(t *testing.T) {
	sub := &recordingSubmitter{}
	c, rec := newCoordinator(NewMockCapturer("I have a headache"), sub)

	if got := c.Capture(context.Background()); got != OutcomeRecognized {
		t.Fatalf("expected recognized, got %s", got)
	}

	events := rec.Events()
	want := []protocol.EventType{protocol.EventListeningStatus, protocol.EventListeningStatus, protocol.EventSpeechRecognized}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %+v", len(want), events)
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Fatalf("event %d: expected %s, got %s", i, typ, events[i].Type)
		}
	}
	if !events[0].Payload.(protocol.ListeningStatus).Active || events[1].Payload.(protocol.ListeningStatus).Active {
		t.Fatal("expected listening true then false")
	}
	if events[2].Payload.(protocol.SpeechRecognized).Text != "I have a headache" {
		t.Fatalf("unexpected transcript %+v", events[2].Payload)
	}
	if len(sub.texts) != 1 || sub.texts[0] != "I have a headache" || sub.srcs[0] != protocol.SourceVoice {
		t.Fatalf("expected transcript submitted as voice, got %v %v", sub.texts, sub.srcs)
	}
}

func TestCaptureNoSpeech(t *testing.T) {
	sub := &recordingSubmitter{}
	c, rec := newCoordinator(NewMockCapturer(""), sub)

	if got := c.Capture(context.Background()); got != OutcomeNoSpeech {
		t.Fatalf("expected no speech, got %s", got)
	}
	if listeningFalse(rec.Events()) != 1 {
		t.Fatal("expected exactly one listening_status{false}")
	}
	if msg := errorText(t, rec); msg != MsgNoSpeech {
		t.Fatalf("unexpected message %q", msg)
	}
	if rec.Count(protocol.EventSpeechRecognized) != 0 || len(sub.texts) != 0 {
		t.Fatal("no-speech capture must not start a turn")
	}
}

func TestCaptureServiceError(t *testing.T) {
	m := NewMockCapturer("unused")
	m.TranscribeErr = fmt.Errorf("%w: quota exceeded", ErrUnavailable)
	c, rec := newCoordinator(m, nil)

	if got := c.Capture(context.Background()); got != OutcomeServiceError {
		t.Fatalf("expected service error, got %s", got)
	}
	want := "Error in speech recognition service: " + m.TranscribeErr.Error()
	if msg := errorText(t, rec); msg != want {
		t.Fatalf("expected %q, got %q", want, msg)
	}
	if listeningFalse(rec.Events()) != 1 {
		t.Fatal("expected exactly one listening_status{false}")
	}
}

func TestCaptureListenTimeout(t *testing.T) {
	m := NewMockCapturer("unused")
	m.ListenDelay = time.Second
	c, rec := newCoordinator(m, nil)

	if got := c.Capture(context.Background()); got != OutcomeOtherError {
		t.Fatalf("expected other error, got %s", got)
	}
	want := "An error occurred during speech recognition: " + ErrWaitTimeout.Error()
	if msg := errorText(t, rec); msg != want {
		t.Fatalf("expected %q, got %q", want, msg)
	}
}

type panickyCapturer struct{ MockCapturer }

func (p *panickyCapturer) Listen(context.Context, time.Duration, time.Duration) (audio.PCM, error) {
	panic("device vanished")
}

func TestCaptureRecoversPanic(t *testing.T) {
	c, rec := newCoordinator(&panickyCapturer{}, nil)

	if got := c.Capture(context.Background()); got != OutcomeOtherError {
		t.Fatalf("expected other error, got %s", got)
	}
	if listeningFalse(rec.Events()) != 1 {
		t.Fatal("expected exactly one listening_status{false}")
	}
}

func TestCaptureCalibrationFailure(t *testing.T) {
	m := NewMockCapturer("unused")
	m.CalibrateErr = errors.New("no input device")
	c, rec := newCoordinator(m, nil)

	if got := c.Capture(context.Background()); got != OutcomeOtherError {
		t.Fatalf("expected other error, got %s", got)
	}
	if msg := errorText(t, rec); msg != "An error occurred during speech recognition: calibrate: no input device" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestStartRunsConcurrentCaptures(t *testing.T) {
	sub := &recordingSubmitter{}
	m := NewMockCapturer("sore throat")
	m.ListenDelay = 5 * time.Millisecond
	c, rec := newCoordinator(m, sub)

	c.Start()
	c.Start()
	rec.WaitFor(t, time.Second, func(events []protocol.Event) bool {
		return listeningFalse(events) == 2
	})
	c.Close()

	if rec.Count(protocol.EventSpeechRecognized) != 2 {
		t.Fatalf("expected both captures recognized, got %d", rec.Count(protocol.EventSpeechRecognized))
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Outcome
	}{
		{nil, OutcomeRecognized},
		{ErrNoSpeech, OutcomeNoSpeech},
		{fmt.Errorf("wrap: %w", ErrUnavailable), OutcomeServiceError},
		{ErrWaitTimeout, OutcomeOtherError},
		{errors.New("x"), OutcomeOtherError},
	}
	for _, tc := range cases {
		if got := classify(tc.err); got != tc.want {
			t.Fatalf("classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestCaptureWithDisabledRecognizer(t *testing.T) {
	sub := &recordingSubmitter{}
	c, rec := newCoordinator(Disabled(), sub)

	if got := c.Capture(context.Background()); got != OutcomeServiceError {
		t.Fatalf("expected service error, got %s", got)
	}
	if msg := errorText(t, rec); msg != msgServicePrefix+"calibrate: "+errDisabled.Error() {
		t.Fatalf("unexpected message %q", msg)
	}
	if listeningFalse(rec.Events()) != 1 {
		t.Fatal("expected listening false exactly once")
	}
}
