package tts

import (
	"context"
	"time"
)

type mockSynth struct{}

// NewMockSynth returns the text itself, prefixed, as the clip bytes.
func NewMockSynth() Synthesizer {
	return &mockSynth{}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	return []byte("mock-audio:" + req.Language + ":" + req.Text), nil
}
