package llm

import (
	"context"
	"strings"
	"time"
)

type mockCompleter struct{}

// NewMockCompleter answers every prompt with a short canned guidance text.
func NewMockCompleter() Completer { return &mockCompleter{} }

func (m *mockCompleter) Complete(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	topic := strings.TrimSpace(req.Prompt)
	return "I will explain what may help with " + topic + ". Rest and drink plenty of fluids. " +
		"If symptoms are severe, please consult a doctor.", nil
}
