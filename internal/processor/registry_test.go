package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

func noop(context.Context, models.Task) error { return nil }

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(Synthesis, noop))
	assert.Error(t, r.Register(Synthesis, noop), "duplicate id")
	assert.Error(t, r.Register("", noop), "empty id")
	assert.Error(t, r.Register(TaskCreation, nil), "nil handler")

	h, ok := r.Lookup("synthesis")
	assert.True(t, ok)
	assert.NotNil(t, h)

	_, ok = r.Lookup("unknown")
	assert.False(t, ok)
}

func TestRegistry_Freeze(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Synthesis, noop))
	r.Freeze()

	assert.True(t, r.Frozen())
	err := r.Register(TaskCreation, noop)
	assert.ErrorIs(t, err, ErrRegistryFrozen)

	_, ok := r.Lookup(string(Synthesis))
	assert.True(t, ok, "lookups still work after freeze")
}

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(InitialPlanning, noop))
	require.NoError(t, r.Register(TaskCreation, noop))

	assert.NoError(t, r.Validate(InitialPlanning, TaskCreation))

	err := r.Validate(AllHandlers...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "synthesis")
	assert.Contains(t, err.Error(), "worker_initialisation")
	assert.Contains(t, err.Error(), "route_message")
	assert.NotContains(t, err.Error(), "initial_planning")
}

func TestRegistry_IDsSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []HandlerID{Synthesis, InitialPlanning, RouteMessage} {
		require.NoError(t, r.Register(id, noop))
	}
	assert.Equal(t, []HandlerID{InitialPlanning, RouteMessage, Synthesis}, r.IDs())
}
