package llm

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bare", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "Here you go:\n```json\n{\"a\": 1}\n```\nthanks", `{"a": 1}`},
		{"trailing comma", `{"a": [1, 2,],}`, `{"a": [1, 2]}`},
		{"line comment", "{\n\"url\": \"http://x\", // note\n\"b\": 2\n}", "{\n\"url\": \"http://x\",\n\"b\": 2\n}"},
		{"none", "no json here", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.content))
		})
	}
}

func TestExtractJSONArray(t *testing.T) {
	assert.Equal(t, `[1, 2]`, ExtractJSONArray("```\n[1, 2,]\n```"))
	assert.Equal(t, "", ExtractJSONArray("nothing"))
}

func TestExtractCodeBlock(t *testing.T) {
	assert.Equal(t, "print(1)", ExtractCodeBlock("text\n```python\nprint(1)\n```\n"))
	assert.Equal(t, "x = 1", ExtractCodeBlock("  x = 1 \n"))
}

func TestDecodeJSON(t *testing.T) {
	var obj struct {
		Name string `json:"name"`
	}
	require.NoError(t, DecodeJSON("```json\n{\"name\": \"loom\"}\n```", &obj))
	assert.Equal(t, "loom", obj.Name)

	var arr []int
	require.NoError(t, DecodeJSON("[1, 2, 3]", &arr))
	assert.Equal(t, []int{1, 2, 3}, arr)

	err := DecodeJSON("I cannot help", &obj)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestRequestJSON(t *testing.T) {
	var sawJSON bool
	c := ClientFunc(func(_ context.Context, req Request) (*Response, error) {
		sawJSON = req.JSON
		return &Response{Content: `{"ok": true}`}, nil
	})

	var out struct{ OK bool }
	require.NoError(t, RequestJSON(context.Background(), c, Request{}, &out))
	assert.True(t, out.OK)
	assert.True(t, sawJSON)
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")

	assert.True(t, IsTransient(classifyStatus(http.StatusTooManyRequests, base)))
	assert.True(t, IsTransient(classifyStatus(http.StatusBadGateway, base)))
	assert.True(t, IsFatal(classifyStatus(http.StatusUnauthorized, base)))
	assert.True(t, IsFatal(classifyStatus(http.StatusBadRequest, base)))

	assert.True(t, IsTransient(classifyTransport(context.DeadlineExceeded)))
	assert.ErrorIs(t, classifyTransport(context.Canceled), context.Canceled)
	assert.False(t, IsTransient(classifyTransport(context.Canceled)))
	assert.True(t, IsFatal(classifyTransport(base)))

	wrapped := NewTransientError(base)
	assert.ErrorIs(t, wrapped, base)
}

func fastRetry(inner Client, attempts int) *Retrying {
	r := NewRetrying(inner, RetryConfig{
		MaxAttempts:       attempts,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        5 * time.Millisecond,
	}, nil)
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func TestRetrying_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	inner := ClientFunc(func(context.Context, Request) (*Response, error) {
		if calls.Add(1) < 3 {
			return nil, NewTransientError(errors.New("rate limited"))
		}
		return &Response{Content: "ok"}, nil
	})

	resp, err := fastRetry(inner, 3).Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.EqualValues(t, 3, calls.Load())
}

func TestRetrying_StopsOnFatal(t *testing.T) {
	var calls atomic.Int32
	inner := ClientFunc(func(context.Context, Request) (*Response, error) {
		calls.Add(1)
		return nil, NewFatalError(errors.New("bad key"))
	})

	_, err := fastRetry(inner, 5).Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestRetrying_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	inner := ClientFunc(func(context.Context, Request) (*Response, error) {
		calls.Add(1)
		return nil, NewTransientError(errors.New("503"))
	})

	_, err := fastRetry(inner, 4).Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.EqualValues(t, 4, calls.Load())
}

func TestRetrying_Backoff(t *testing.T) {
	r := NewRetrying(nil, RetryConfig{
		MaxAttempts:       5,
		BackoffBase:       100 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        300 * time.Millisecond,
	}, nil)

	first := r.backoff(1)
	assert.InDelta(t, float64(100*time.Millisecond), float64(first), float64(25*time.Millisecond))

	capped := r.backoff(5)
	assert.LessOrEqual(t, capped, 375*time.Millisecond)
}

func TestTokenTracker(t *testing.T) {
	tr := NewTokenTracker()
	tr.Add(10, 5)
	tr.Add(3, 2)

	in, out := tr.Total()
	assert.EqualValues(t, 13, in)
	assert.EqualValues(t, 7, out)
	assert.Equal(t, 2, tr.Calls())

	tr.Reset()
	in, out = tr.Total()
	assert.Zero(t, in+out)
}

func TestAnthropicMessages(t *testing.T) {
	system, msgs := anthropicMessages(Request{
		System: "base",
		Messages: []Message{
			{Role: RoleSystem, Content: "extra"},
			UserMessage("hi"),
			AssistantMessage("hello"),
		},
		JSON: true,
	})
	assert.Contains(t, system, "base")
	assert.Contains(t, system, "extra")
	assert.Contains(t, system, "JSON")
	assert.Len(t, msgs, 2)
}

func TestBedrockModel(t *testing.T) {
	assert.Equal(t, "us.anthropic.claude-sonnet-4-20250514-v1:0", string(bedrockModel("claude-sonnet-4-20250514")))
	assert.Equal(t, "custom", string(bedrockModel("custom")))
}

func TestNewClient_UnknownProvider(t *testing.T) {
	_, _, err := NewClient(ProviderConfig{Provider: "parrot"}, nil)
	assert.Error(t, err)
}

func TestNewClient_MissingKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	_, _, err := NewClient(ProviderConfig{Provider: ProviderAnthropic}, nil)
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, _, err = NewClient(ProviderConfig{Provider: ProviderOpenAI}, nil)
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestNewClient_Ollama(t *testing.T) {
	c, tracked, err := NewClient(ProviderConfig{Provider: ProviderOllama, Model: "llama3", BaseURL: "http://127.0.0.1:11434"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.NotNil(t, tracked.Tracker())
}
