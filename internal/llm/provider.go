package llm

import (
	"fmt"
	"log/slog"
)

// Provider names accepted by NewClient.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	Provider      string
	Model         string
	APIKey        string
	BaseURL       string
	MaxTokens     int
	UseAWSBedrock bool
	AWSRegion     string
	AWSProfile    string
	Retry         RetryConfig
}

// Tracked is implemented by clients that record token usage.
type Tracked interface {
	Tracker() *TokenTracker
}

// NewClient builds the configured provider wrapped in Retrying.
func NewClient(cfg ProviderConfig, logger *slog.Logger) (*Retrying, Tracked, error) {
	var (
		inner   Client
		tracked Tracked
	)

	switch cfg.Provider {
	case "", ProviderAnthropic:
		c, err := NewAnthropic(AnthropicConfig{
			Model:         cfg.Model,
			APIKey:        cfg.APIKey,
			BaseURL:       cfg.BaseURL,
			MaxTokens:     cfg.MaxTokens,
			UseAWSBedrock: cfg.UseAWSBedrock,
			AWSRegion:     cfg.AWSRegion,
			AWSProfile:    cfg.AWSProfile,
		})
		if err != nil {
			return nil, nil, err
		}
		inner, tracked = c, c
	case ProviderOpenAI:
		c, err := NewOpenAI(OpenAIConfig{
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			return nil, nil, err
		}
		inner, tracked = c, c
	case ProviderOllama:
		c, err := NewOllama(OllamaConfig{
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			return nil, nil, err
		}
		inner, tracked = c, c
	default:
		return nil, nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}

	return NewRetrying(inner, cfg.Retry, logger), tracked, nil
}
