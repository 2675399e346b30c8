package stt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-medic/internal/audio"
	"github.com/loqalabs/loqa-medic/internal/config"
)

var (
	// ErrNoSpeech means audio was captured but nothing intelligible was in it.
	ErrNoSpeech = errors.New("stt: no recognizable speech")
	// ErrUnavailable wraps failures of the recognition service itself.
	ErrUnavailable = errors.New("stt: recognition service unavailable")
	// ErrWaitTimeout means no phrase started before the listen timeout.
	ErrWaitTimeout = errors.New("stt: listening timed out while waiting for phrase to start")
)

// Capturer records one phrase from the microphone and transcribes it.
type Capturer interface {
	// Calibrate samples ambient noise for d to set the speech threshold.
	Calibrate(ctx context.Context, d time.Duration) error
	// Listen waits up to timeout for speech to start and records at most
	// maxPhrase of it.
	Listen(ctx context.Context, timeout, maxPhrase time.Duration) (audio.PCM, error)
	Transcribe(ctx context.Context, clip audio.PCM) (string, error)
}

// DeviceLister is implemented by capturers that can enumerate microphones.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]string, error)
}

// New builds the Capturer selected by cfg.Mode.
func New(cfg config.STTConfig) (Capturer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockCapturer(cfg.MockTranscript), nil
	case "exec":
		return NewExecCapturer(cfg)
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}

type disabledCapturer struct{}

// Disabled returns a Capturer whose every call fails as an unavailable
// recognition service.
func Disabled() Capturer { return disabledCapturer{} }

var errDisabled = fmt.Errorf("%w: speech recognition disabled", ErrUnavailable)

func (disabledCapturer) Calibrate(context.Context, time.Duration) error { return errDisabled }

func (disabledCapturer) Listen(context.Context, time.Duration, time.Duration) (audio.PCM, error) {
	return audio.PCM{}, errDisabled
}

func (disabledCapturer) Transcribe(context.Context, audio.PCM) (string, error) {
	return "", errDisabled
}
