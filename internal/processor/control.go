package processor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrStopped is returned by WaitIfPaused once the processor has been told
// to stop.
var ErrStopped = errors.New("processor stopped")

// Signal file names under the signals directory.
const (
	PauseSignal = "pause"
	StopSignal  = "stop"
)

// Control carries pause, resume and stop requests to the scan loop. A
// paused processor finishes its current cohort and claims nothing new.
type Control struct {
	paused  bool
	stopped bool
	mu      sync.RWMutex
	cond    *sync.Cond
}

// NewControl creates a running, unpaused Control.
func NewControl() *Control {
	c := &Control{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Pause stops new claims until Resume.
func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.paused = true
		slog.Info("processor paused", "component", "processor")
	}
}

// Resume re-enables claims after Pause.
func (c *Control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		slog.Info("processor resumed", "component", "processor")
		c.cond.Broadcast()
	}
}

// Stop asks the scan loop to exit after the current cohort.
func (c *Control) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		c.cond.Broadcast()
	}
}

// IsPaused reports whether claims are paused.
func (c *Control) IsPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// IsStopped reports whether Stop has been called.
func (c *Control) IsStopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped
}

// WaitIfPaused blocks while paused. It returns ErrStopped after Stop and
// ctx.Err() when ctx is cancelled.
func (c *Control) WaitIfPaused(ctx context.Context) error {
	c.mu.Lock()
	if c.paused && !c.stopped {
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				c.mu.Lock()
				c.cond.Broadcast()
				c.mu.Unlock()
			case <-done:
			}
		}()

		for c.paused && !c.stopped {
			c.cond.Wait()
			if ctx.Err() != nil {
				close(done)
				c.mu.Unlock()
				return ctx.Err()
			}
		}
		close(done)
	}
	stopped := c.stopped
	c.mu.Unlock()

	if stopped {
		return ErrStopped
	}
	return nil
}

// SignalsDir returns the signals directory under a data directory.
func SignalsDir(dataDir string) string {
	return filepath.Join(dataDir, "signals")
}

// SendSignal writes a signal file. Any processor watching dir reacts to it.
func SendSignal(dir, name string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// ClearSignal removes a signal file. A missing file is not an error.
func ClearSignal(dir, name string) error {
	err := os.Remove(filepath.Join(dir, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SignalWatcher applies signal files in a directory to a Control: creating
// "pause" pauses, removing it resumes, creating "stop" stops.
type SignalWatcher struct {
	dir     string
	control *Control
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// WatchSignals starts watching dir. Signal files already present are
// applied immediately.
func WatchSignals(dir string, control *Control, logger *slog.Logger) (*SignalWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	sw := &SignalWatcher{
		dir:     dir,
		control: control,
		logger:  logger.With("component", "signals"),
		watcher: watcher,
		done:    make(chan struct{}),
	}
	sw.applyExisting()
	go sw.loop()
	return sw, nil
}

func (sw *SignalWatcher) applyExisting() {
	if _, err := os.Stat(filepath.Join(sw.dir, StopSignal)); err == nil {
		sw.control.Stop()
	}
	if _, err := os.Stat(filepath.Join(sw.dir, PauseSignal)); err == nil {
		sw.control.Pause()
	}
}

func (sw *SignalWatcher) loop() {
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			sw.handle(event)
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Warn("signal watcher error", "error", err)
		}
	}
}

func (sw *SignalWatcher) handle(event fsnotify.Event) {
	created := event.Op&(fsnotify.Create|fsnotify.Write) != 0
	removed := event.Op&(fsnotify.Remove|fsnotify.Rename) != 0

	switch filepath.Base(event.Name) {
	case PauseSignal:
		if created {
			sw.control.Pause()
		} else if removed {
			sw.control.Resume()
		}
	case StopSignal:
		if created {
			sw.logger.Info("stop signal received")
			sw.control.Stop()
		}
	}
}

// Close stops watching.
func (sw *SignalWatcher) Close() error {
	var err error
	sw.once.Do(func() {
		close(sw.done)
		err = sw.watcher.Close()
	})
	return err
}
