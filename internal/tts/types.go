package tts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-medic/internal/config"
)

// ErrDisabled is returned by the synthesizer used when tts.enabled is false.
// The worker drops such items without telling clients.
var ErrDisabled = errors.New("tts: disabled")

// Request describes one sentence to voice.
type Request struct {
	Text     string
	Language string
	Voice    string
}

// Synthesizer turns text into one playable clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

// Item is a unit of synthesis work tagged with the epoch of the turn that
// produced it.
type Item struct {
	Epoch uint64
	Text  string
}

// New builds the Synthesizer selected by cfg.Mode.
func New(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockSynth(), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "http":
		timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
		return NewHTTPSynth(cfg.Endpoint, &http.Client{Timeout: timeout}), nil
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}

type disabledSynth struct{}

// Disabled returns a Synthesizer that voices nothing.
func Disabled() Synthesizer { return disabledSynth{} }

func (disabledSynth) Synthesize(context.Context, Request) ([]byte, error) {
	return nil, ErrDisabled
}
