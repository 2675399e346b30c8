package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-medic/internal/config"
)

func TestMockCompleter(t *testing.T) {
	out, err := NewMockCompleter().Complete(context.Background(), Request{Prompt: " a cough "})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !strings.Contains(out, "a cough") {
		t.Fatalf("expected prompt echoed, got %q", out)
	}
}

func TestMockCompleterHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockCompleter().Complete(ctx, Request{Prompt: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOllamaCompleterAccumulatesStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.System == "" || req.Options.NumPredict != 150 {
			http.Error(w, "missing options", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, `{"response":"Rest well. ","done":false}`)
		fmt.Fprintln(w, `{"response":"Drink water.","done":false}`)
		fmt.Fprintln(w, `{"response":"","done":true}`)
	}))
	defer srv.Close()

	c := NewOllamaCompleter(srv.URL, "")
	out, err := c.Complete(context.Background(), Request{System: "be brief", Prompt: "flu", MaxTokens: 150})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "Rest well. Drink water." {
		t.Fatalf("unexpected completion %q", out)
	}
}

func TestOllamaCompleterStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewOllamaCompleter(srv.URL, "m").Complete(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestOpenAICompleterSendsSystemAndUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body.Model != "mistral-medium" || len(body.Messages) != 2 || body.Messages[0].Role != "system" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","model":"mistral-medium","choices":[{"index":0,"message":{"role":"assistant","content":"Take rest. See a doctor if it persists."},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c := NewOpenAICompleter(srv.URL, "test-key", "")
	out, err := c.Complete(context.Background(), Request{System: "sys", Prompt: "fever", MaxTokens: 150, Temperature: 0.7})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "Take rest. See a doctor if it persists." {
		t.Fatalf("unexpected completion %q", out)
	}
}

func TestOpenAICompleterEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[]}`)
	}))
	defer srv.Close()

	_, err := NewOpenAICompleter(srv.URL, "k", "m").Complete(context.Background(), Request{Prompt: "x"})
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

type slowCompleter struct{}

func (slowCompleter) Complete(ctx context.Context, _ Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestTimeoutCompleter(t *testing.T) {
	c := withTimeout(slowCompleter{}, 10*time.Millisecond)
	if _, err := c.Complete(context.Background(), Request{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNewSelectsMode(t *testing.T) {
	if _, err := New(context.Background(), config.LLMConfig{Mode: "mock"}); err != nil {
		t.Fatalf("mock: %v", err)
	}
	if _, err := New(context.Background(), config.LLMConfig{Mode: "exec", Command: ""}); err == nil {
		t.Fatal("expected error for empty exec command")
	}
	if _, err := New(context.Background(), config.LLMConfig{Mode: "nope"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestDisabledCompleter(t *testing.T) {
	if _, err := Disabled().Complete(context.Background(), Request{Prompt: "cough"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestGeminiConfigSendsZeroTemperature(t *testing.T) {
	cfg := generateConfig(Request{System: "sys", MaxTokens: 150, Temperature: 0})
	if cfg.Temperature == nil || *cfg.Temperature != 0 {
		t.Fatalf("expected explicit zero temperature, got %v", cfg.Temperature)
	}
	if cfg.MaxOutputTokens != 150 || cfg.SystemInstruction == nil {
		t.Fatalf("unexpected config %+v", cfg)
	}

	cfg = generateConfig(Request{Temperature: 0.7})
	if cfg.Temperature == nil || *cfg.Temperature != float32(0.7) {
		t.Fatalf("expected 0.7, got %v", cfg.Temperature)
	}
	if cfg.SystemInstruction != nil {
		t.Fatal("empty system prompt must not become an instruction")
	}
}
