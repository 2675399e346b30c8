package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-medic/internal/config"
)

var (
	// ErrEmptyCompletion is returned when a backend answers with no text.
	ErrEmptyCompletion = errors.New("llm: empty completion")
	ErrDisabled        = errors.New("llm: completion backend disabled")
)

// Request describes a single-shot completion.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	TraceID     string
}

// Completer produces the full response for one prompt.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// New builds the Completer selected by cfg.Mode.
func New(ctx context.Context, cfg config.LLMConfig) (Completer, error) {
	var (
		c   Completer
		err error
	)
	switch cfg.Mode {
	case "", "mock":
		c = NewMockCompleter()
	case "exec":
		c, err = NewExecCompleter(cfg.Command)
	case "ollama":
		c = NewOllamaCompleter(cfg.Endpoint, cfg.Model)
	case "openai":
		c = NewOpenAICompleter(cfg.Endpoint, cfg.APIKey, cfg.Model)
	case "gemini":
		c, err = NewGeminiCompleter(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	if cfg.TimeoutMS > 0 {
		c = withTimeout(c, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	}
	return c, nil
}

type timeoutCompleter struct {
	next    Completer
	timeout time.Duration
}

func withTimeout(next Completer, d time.Duration) Completer {
	return &timeoutCompleter{next: next, timeout: d}
}

func (t *timeoutCompleter) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Complete(ctx, req)
}

type disabledCompleter struct{}

// Disabled returns a Completer that always fails with ErrDisabled.
func Disabled() Completer { return disabledCompleter{} }

func (disabledCompleter) Complete(context.Context, Request) (string, error) {
	return "", ErrDisabled
}
