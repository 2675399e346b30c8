package stt

import (
	"context"
	"strings"
	"time"

	"github.com/loqalabs/loqa-medic/internal/audio"
)

// MockCapturer returns a fixed transcript. Errors and delays can be set for
// tests before first use.
type MockCapturer struct {
	Transcript    string
	CalibrateErr  error
	ListenErr     error
	TranscribeErr error
	ListenDelay   time.Duration
	Devices       []string
}

func NewMockCapturer(transcript string) *MockCapturer {
	return &MockCapturer{Transcript: transcript, Devices: []string{"Mock Microphone"}}
}

func (m *MockCapturer) Calibrate(ctx context.Context, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.CalibrateErr
}

func (m *MockCapturer) Listen(ctx context.Context, timeout, _ time.Duration) (audio.PCM, error) {
	if m.ListenDelay > 0 {
		wait := m.ListenDelay
		if timeout > 0 && timeout < wait {
			wait = timeout
		}
		select {
		case <-ctx.Done():
			return audio.PCM{}, ctx.Err()
		case <-time.After(wait):
		}
		if timeout > 0 && m.ListenDelay > timeout {
			return audio.PCM{}, ErrWaitTimeout
		}
	}
	if m.ListenErr != nil {
		return audio.PCM{}, m.ListenErr
	}
	return audio.PCM{Data: make([]byte, 3200), SampleRate: 16000, Channels: 1}, nil
}

func (m *MockCapturer) Transcribe(ctx context.Context, _ audio.PCM) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.TranscribeErr != nil {
		return "", m.TranscribeErr
	}
	if strings.TrimSpace(m.Transcript) == "" {
		return "", ErrNoSpeech
	}
	return m.Transcript, nil
}

func (m *MockCapturer) ListDevices(context.Context) ([]string, error) {
	return append([]string(nil), m.Devices...), nil
}
