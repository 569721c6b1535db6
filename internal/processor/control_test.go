package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControl_PauseResume(t *testing.T) {
	c := NewControl()
	assert.False(t, c.IsPaused())

	c.Pause()
	assert.True(t, c.IsPaused())

	done := make(chan error, 1)
	go func() { done <- c.WaitIfPaused(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitIfPaused returned while paused")
	case <-time.After(50 * time.Millisecond):
	}

	c.Resume()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after Resume")
	}
}

func TestControl_StopUnblocks(t *testing.T) {
	c := NewControl()
	c.Pause()

	done := make(chan error, 1)
	go func() { done <- c.WaitIfPaused(context.Background()) }()

	c.Stop()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after Stop")
	}
}

func TestControl_ContextCancelUnblocks(t *testing.T) {
	c := NewControl()
	c.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.WaitIfPaused(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after cancel")
	}
}

func TestSignalWatcher(t *testing.T) {
	dir := SignalsDir(t.TempDir())
	c := NewControl()

	sw, err := WatchSignals(dir, c, nil)
	require.NoError(t, err)
	defer sw.Close()

	require.NoError(t, SendSignal(dir, PauseSignal))
	assert.Eventually(t, c.IsPaused, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ClearSignal(dir, PauseSignal))
	assert.Eventually(t, func() bool { return !c.IsPaused() }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, SendSignal(dir, StopSignal))
	assert.Eventually(t, c.IsStopped, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, sw.Close())
	assert.NoError(t, sw.Close(), "close is idempotent")
}

func TestSignalWatcher_AppliesExistingSignals(t *testing.T) {
	dir := SignalsDir(t.TempDir())
	require.NoError(t, SendSignal(dir, PauseSignal))

	c := NewControl()
	sw, err := WatchSignals(dir, c, nil)
	require.NoError(t, err)
	defer sw.Close()

	assert.True(t, c.IsPaused())
	assert.False(t, c.IsStopped())
}

func TestClearSignal_Missing(t *testing.T) {
	assert.NoError(t, ClearSignal(t.TempDir(), StopSignal))
}
