package llm

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	// Model is the chat model. Empty uses gpt-4o-mini.
	Model string
	// APIKey falls back to OPENAI_API_KEY.
	APIKey string
	// BaseURL points at any OpenAI-compatible endpoint.
	BaseURL string
	// MaxTokens is the default completion limit.
	MaxTokens int
}

// OpenAI is a Client backed by the Chat Completions API.
type OpenAI struct {
	client    openai.Client
	model     string
	maxTokens int64
	tracker   *TokenTracker
}

// NewOpenAI creates an OpenAI client.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai: %w (set OPENAI_API_KEY)", ErrNoAPIKey)
	}

	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &OpenAI{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		tracker:   NewTokenTracker(),
	}, nil
}

// Tracker returns the client's token tracker.
func (c *OpenAI) Tracker() *TokenTracker {
	return c.tracker
}

// Complete implements Client.
func (c *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               c.model,
		MaxCompletionTokens: openai.Int(maxTokens),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, classifyStatus(apiErr.StatusCode, err)
		}
		return nil, classifyTransport(err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewTransientError(errors.New("openai: no choices returned"))
	}

	c.tracker.Add(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	choice := resp.Choices[0]
	return &Response{
		Content: choice.Message.Content,
		Model:   resp.Model,
		Usage: TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
		FinishReason: choice.FinishReason,
	}, nil
}
