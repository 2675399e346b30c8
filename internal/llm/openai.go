package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIEndpoint is the OpenAI-compatible Mistral API.
const DefaultOpenAIEndpoint = "https://api.mistral.ai/v1"

const defaultOpenAIModel = "mistral-medium"

type openAICompleter struct {
	client *openai.Client
	model  string
}

// NewOpenAICompleter talks to any OpenAI-compatible chat completion API.
func NewOpenAICompleter(endpoint, apiKey, model string) Completer {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint == "" {
		endpoint = DefaultOpenAIEndpoint
	}
	cfg.BaseURL = strings.TrimRight(endpoint, "/")
	if model == "" {
		model = defaultOpenAIModel
	}
	return &openAICompleter{client: openai.NewClientWithConfig(cfg), model: model}
}

func (c *openAICompleter) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}
