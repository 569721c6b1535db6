package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when the selected provider needs a key and none is configured.
var ErrNoAPIKey = errors.New("no LLM API key configured")

// providerEnv maps providers to the environment variable holding their key.
var providerEnv = map[string]string{
	"":          "ANTHROPIC_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
}

// NeedsAPIKey reports whether the configured provider requires a key.
// Local Ollama and Bedrock (AWS credentials) do not.
func NeedsAPIKey(cfg *Config) bool {
	if cfg == nil {
		return true
	}
	if cfg.LLM.Provider == "ollama" {
		return false
	}
	return !cfg.LLM.Bedrock
}

// GetAPIKey returns the API key for the configured provider.
// It checks in order: the provider's environment variable, config file.
func GetAPIKey(cfg *Config) (string, error) {
	provider := ""
	if cfg != nil {
		provider = cfg.LLM.Provider
	}
	if env, ok := providerEnv[provider]; ok {
		if key := os.Getenv(env); key != "" {
			return key, nil
		}
	}

	if cfg != nil && cfg.LLM.APIKey != "" {
		key := os.ExpandEnv(cfg.LLM.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, nil
		}
	}

	if !NeedsAPIKey(cfg) {
		return "", nil
	}
	return "", ErrNoAPIKey
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKeySource returns where the API key was sourced from.
func GetAPIKeySource(cfg *Config) KeySource {
	provider := ""
	if cfg != nil {
		provider = cfg.LLM.Provider
	}
	if env, ok := providerEnv[provider]; ok && os.Getenv(env) != "" {
		return KeySourceEnv
	}

	if cfg != nil && cfg.LLM.APIKey != "" {
		key := os.ExpandEnv(cfg.LLM.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return KeySourceConfig
		}
	}

	return KeySourceNone
}
