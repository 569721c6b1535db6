// Package llm is the language model dependency of the planner, worker and
// router. Providers implement Client; Retrying adds backoff for transient
// failures and RequestJSON decodes structured answers.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request.
type Request struct {
	// System is the system prompt. Providers without a separate system
	// field send it as the first message.
	System string

	// Messages is the chat history.
	Messages []Message

	// Temperature controls randomness. nil uses the provider default.
	Temperature *float64

	// MaxTokens limits the response length. 0 uses the client default.
	MaxTokens int

	// JSON asks the provider for a JSON-only answer where supported.
	JSON bool
}

// TokenUsage is the token consumption of one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Response is a completion result.
type Response struct {
	Content      string
	Model        string
	Usage        TokenUsage
	FinishReason string
}

// Client completes chat requests.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Complete implements Client.
func (f ClientFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// RequestJSON completes req and decodes the JSON object (or array, when v
// points to a slice) found in the answer into v. A reply without decodable
// JSON is a FatalError: retrying the same prompt rarely fixes it.
func RequestJSON(ctx context.Context, c Client, req Request, v any) error {
	req.JSON = true
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	return DecodeJSON(resp.Content, v)
}

// DecodeJSON extracts and decodes JSON from a model answer.
func DecodeJSON(content string, v any) error {
	raw := ExtractJSON(content)
	if strings.HasPrefix(strings.TrimSpace(content), "[") || raw == "" {
		if arr := ExtractJSONArray(content); arr != "" {
			raw = arr
		}
	}
	if raw == "" {
		return NewFatalError(fmt.Errorf("no JSON in model response: %s", truncate(content, 200)))
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return NewFatalError(fmt.Errorf("decode model response: %w", err))
	}
	return nil
}

// UserMessage returns a user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage returns an assistant turn.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
