package config

import (
	"errors"
	"testing"
)

func TestGetAPIKey(t *testing.T) {
	t.Run("from environment variable", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")

		key, err := GetAPIKey(&Config{})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if key != "sk-ant-test-key" {
			t.Errorf("expected 'sk-ant-test-key', got %q", key)
		}
	})

	t.Run("provider specific variable", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-wrong")
		t.Setenv("OPENAI_API_KEY", "sk-openai-key")

		key, err := GetAPIKey(&Config{LLM: LLMConfig{Provider: "openai"}})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if key != "sk-openai-key" {
			t.Errorf("expected 'sk-openai-key', got %q", key)
		}
	})

	t.Run("from config", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		key, err := GetAPIKey(&Config{LLM: LLMConfig{APIKey: "sk-ant-config-key"}})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if key != "sk-ant-config-key" {
			t.Errorf("expected 'sk-ant-config-key', got %q", key)
		}
	})

	t.Run("unexpanded reference", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		_, err := GetAPIKey(&Config{LLM: LLMConfig{APIKey: "${MISSING_TASKLOOM_KEY}"}})
		if !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
	})

	t.Run("ollama needs no key", func(t *testing.T) {
		key, err := GetAPIKey(&Config{LLM: LLMConfig{Provider: "ollama"}})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if key != "" {
			t.Errorf("expected empty key, got %q", key)
		}
	})

	t.Run("bedrock needs no key", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		if _, err := GetAPIKey(&Config{LLM: LLMConfig{Bedrock: true}}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"", "(not set)"},
		{"short", "***"},
		{"sk-ant-REDACTED", "sk-ant-...mnop"},
	}

	for _, tt := range tests {
		if got := MaskAPIKey(tt.key); got != tt.expected {
			t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.expected)
		}
	}
}

func TestGetAPIKeySource(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	if got := GetAPIKeySource(&Config{}); got != KeySourceNone {
		t.Errorf("expected %q, got %q", KeySourceNone, got)
	}
	if got := GetAPIKeySource(&Config{LLM: LLMConfig{APIKey: "sk-ant-config"}}); got != KeySourceConfig {
		t.Errorf("expected %q, got %q", KeySourceConfig, got)
	}

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
	if got := GetAPIKeySource(&Config{}); got != KeySourceEnv {
		t.Errorf("expected %q, got %q", KeySourceEnv, got)
	}
}
