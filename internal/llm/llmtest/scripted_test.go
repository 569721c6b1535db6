package llmtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/taskloom/internal/llm"
)

func TestScripted(t *testing.T) {
	s := New().
		On("planner", "one", "two").
		OnError("broken", errors.New("down"))
	ctx := context.Background()

	r, err := s.Complete(ctx, llm.Request{System: "you are the planner"})
	require.NoError(t, err)
	assert.Equal(t, "one", r.Content)

	r, err = s.Complete(ctx, llm.Request{System: "you are the planner"})
	require.NoError(t, err)
	assert.Equal(t, "two", r.Content)

	r, err = s.Complete(ctx, llm.Request{System: "you are the planner"})
	require.NoError(t, err)
	assert.Equal(t, "two", r.Content, "last reply repeats")

	_, err = s.Complete(ctx, llm.Request{System: "broken thing"})
	assert.EqualError(t, err, "down")

	_, err = s.Complete(ctx, llm.Request{System: "unknown"})
	assert.True(t, llm.IsFatal(err))

	assert.Equal(t, 3, s.CallCount("planner"))
	assert.Len(t, s.Calls(), 5)
}
