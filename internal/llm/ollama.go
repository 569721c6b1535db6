package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	// Model is the local model name, e.g. "qwen2.5-coder:7b".
	Model string
	// BaseURL overrides OLLAMA_HOST.
	BaseURL string
	// MaxTokens maps to num_predict. 0 leaves the model default.
	MaxTokens int
}

// Ollama is a Client backed by a local Ollama server.
type Ollama struct {
	client    *api.Client
	model     string
	maxTokens int
	tracker   *TokenTracker
}

// NewOllama creates an Ollama client.
func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	if cfg.Model == "" {
		return nil, errors.New("ollama: model is required")
	}

	var client *api.Client
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("ollama: parse base url: %w", err)
		}
		client = api.NewClient(base, http.DefaultClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama: %w", err)
		}
	}

	return &Ollama{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		tracker:   NewTokenTracker(),
	}, nil
}

// Tracker returns the client's token tracker.
func (c *Ollama) Tracker() *TokenTracker {
	return c.tracker
}

// Complete implements Client.
func (c *Ollama) Complete(ctx context.Context, req Request) (*Response, error) {
	messages := make([]api.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, api.Message{Role: RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if req.JSON {
		chatReq.Format = json.RawMessage(`"json"`)
	}
	if req.Temperature != nil {
		chatReq.Options["temperature"] = *req.Temperature
	}
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		chatReq.Options["num_predict"] = maxTokens
	}

	var final api.ChatResponse
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		final = resp
		return nil
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return nil, classifyStatus(statusErr.StatusCode, err)
		}
		return nil, classifyTransport(err)
	}

	c.tracker.Add(int64(final.PromptEvalCount), int64(final.EvalCount))

	return &Response{
		Content: final.Message.Content,
		Model:   final.Model,
		Usage: TokenUsage{
			PromptTokens:     final.PromptEvalCount,
			CompletionTokens: final.EvalCount,
		},
		FinishReason: final.DoneReason,
	}, nil
}
