package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

type geminiCompleter struct {
	client *genai.Client
	model  string
}

// NewGeminiCompleter uses the Gemini API through the genai client.
func NewGeminiCompleter(ctx context.Context, apiKey, model string) (Completer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if model == "" || model == defaultOpenAIModel {
		model = defaultGeminiModel
	}
	return &geminiCompleter{client: client, model: model}, nil
}

func (g *geminiCompleter) Complete(ctx context.Context, req Request) (string, error) {
	cfg := generateConfig(req)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{
		{Role: "user", Parts: []*genai.Part{genai.NewPartFromText(req.Prompt)}},
	}, cfg)
	if err != nil {
		return "", fmt.Errorf("genai generate: %w", err)
	}

	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyCompletion
	}
	return sb.String(), nil
}

func generateConfig(req Request) *genai.GenerateContentConfig {
	temp := float32(req.Temperature)
	cfg := &genai.GenerateContentConfig{Temperature: &temp}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(req.System)},
		}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return cfg
}
