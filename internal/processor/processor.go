// Package processor runs the background scan loop that claims pending
// tasks and dispatches them to registered handlers.
//
// Each scan cycle claims a cohort of up to BatchSize tasks, runs every
// handler in the cohort concurrently and waits for all of them before the
// next scan. A failing or panicking handler fails only its own task.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/taskloom/internal/events"
	"github.com/ShayCichocki/taskloom/internal/queue"
	"github.com/ShayCichocki/taskloom/internal/state"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

// State is the phase of the scan loop.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateScanning:
		return "SCANNING"
	case StateDispatching:
		return "DISPATCHING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config tunes the scan loop.
type Config struct {
	// BatchSize is the maximum number of tasks claimed per cycle.
	BatchSize int
	// Concurrency bounds how many handlers of one cohort run at once.
	// Zero runs the whole cohort in parallel.
	Concurrency int
	// PollInterval is the sleep between cycles.
	PollInterval time.Duration
	// RecoveryMode, when set, is applied to orphaned RUNNING tasks before
	// the first scan.
	RecoveryMode state.RecoveryMode
}

// DefaultConfig returns the default loop settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:    10,
		PollInterval: time.Second,
	}
}

// TaskOutcome is the result of dispatching one task.
type TaskOutcome struct {
	TaskID   string
	Function string
	Err      error
}

// CycleResult summarises one scan cycle.
type CycleResult struct {
	Claimed   int
	Completed int
	Failed    int
	Outcomes  []TaskOutcome
}

// Processor claims and dispatches tasks.
type Processor struct {
	store     state.TaskStore
	queue     *queue.Queue
	registry  *Registry
	cfg       Config
	control   *Control
	metrics   *Metrics
	publisher events.Publisher
	logger    *slog.Logger

	state atomic.Int32
}

// Option configures a Processor.
type Option func(*Processor)

// WithControl sets the pause/stop control.
func WithControl(c *Control) Option {
	return func(p *Processor) { p.control = c }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(pub events.Publisher) Option {
	return func(p *Processor) { p.publisher = pub }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// New creates a processor. The registry is frozen; every handler the
// process dispatches must already be registered.
func New(store state.TaskStore, registry *Registry, cfg Config, opts ...Option) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	registry.Freeze()

	p := &Processor{
		store:     store,
		registry:  registry,
		cfg:       cfg,
		control:   NewControl(),
		metrics:   NewMetrics(nil),
		publisher: events.Nop{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "processor")
	p.queue = queue.New(store, p.logger)
	return p
}

// State returns the current loop phase.
func (p *Processor) State() State {
	return State(p.state.Load())
}

func (p *Processor) setState(s State) {
	p.state.Store(int32(s))
}

// Control returns the processor's pause/stop control.
func (p *Processor) Control() *Control {
	return p.control
}

// Run scans until ctx is cancelled or Stop is requested. A cycle error is
// logged and the loop keeps going. Handlers run detached from ctx, so a
// shutdown waits for the in-flight cohort instead of cancelling it.
func (p *Processor) Run(ctx context.Context) error {
	if p.cfg.RecoveryMode != "" {
		if _, err := p.store.RecoverRunningTasks(p.cfg.RecoveryMode); err != nil {
			return fmt.Errorf("recover running tasks: %w", err)
		}
	}

	p.logger.Info("processor started",
		"batch_size", p.cfg.BatchSize,
		"concurrency", p.cfg.Concurrency,
		"poll_interval", p.cfg.PollInterval.String(),
		"handlers", len(p.registry.IDs()))

	for {
		if err := p.control.WaitIfPaused(ctx); err != nil {
			if errors.Is(err, ErrStopped) || ctx.Err() != nil {
				p.logger.Info("processor stopped")
				return nil
			}
			return err
		}

		result, err := p.RunOnce(ctx)
		if err != nil {
			p.logger.Error("scan cycle failed", "error", err)
		} else if result.Claimed > 0 {
			p.logger.Info("cohort finished",
				"claimed", result.Claimed,
				"completed", result.Completed,
				"failed", result.Failed)
		}

		if p.control.IsStopped() {
			p.logger.Info("processor stopped")
			return nil
		}

		select {
		case <-ctx.Done():
			p.logger.Info("processor stopped")
			return nil
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// RunOnce performs a single scan cycle: claim a cohort, dispatch it and wait
// for every task in it. The returned error covers only the claim itself.
func (p *Processor) RunOnce(ctx context.Context) (CycleResult, error) {
	defer p.setState(StateIdle)

	p.setState(StateScanning)
	tasks, err := p.queue.ClaimPending(p.cfg.BatchSize)
	if err != nil {
		return CycleResult{}, err
	}
	if len(tasks) == 0 {
		return CycleResult{}, nil
	}

	p.setState(StateDispatching)
	p.metrics.observeClaim(len(tasks))
	defer p.metrics.cohortDone()

	handlerCtx := context.WithoutCancel(ctx)
	outcomes := make([]TaskOutcome, len(tasks))

	var g errgroup.Group
	if p.cfg.Concurrency > 0 {
		g.SetLimit(p.cfg.Concurrency)
	}
	for i, task := range tasks {
		g.Go(func() error {
			outcomes[i] = p.dispatch(handlerCtx, task)
			return nil
		})
	}
	_ = g.Wait()

	result := CycleResult{Claimed: len(tasks), Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Err != nil {
			result.Failed++
		} else {
			result.Completed++
		}
	}
	return result, nil
}

func (p *Processor) dispatch(ctx context.Context, task models.Task) TaskOutcome {
	outcome := TaskOutcome{TaskID: task.ID, Function: task.FunctionName}
	logger := p.logger.With(
		"task_id", task.ID,
		"function", task.FunctionName,
		"entity_type", string(task.EntityType),
		"entity_id", task.EntityID)

	p.publish(ctx, events.TaskClaimed, task, "")

	handler, ok := p.registry.Lookup(task.FunctionName)
	if !ok {
		outcome.Err = fmt.Errorf("no such handler: %s", task.FunctionName)
		logger.Warn("no handler registered")
		p.finish(ctx, logger, task, outcome.Err, outcomeNoHandler, 0)
		return outcome
	}

	start := time.Now()
	panicked, err := invoke(ctx, handler, task)
	elapsed := time.Since(start)
	outcome.Err = err

	switch {
	case panicked:
		logger.Error("handler panicked", "error", err, "elapsed", elapsed.String())
		p.finish(ctx, logger, task, err, outcomePanic, elapsed)
	case err != nil:
		logger.Warn("handler failed", "error", err, "elapsed", elapsed.String())
		p.finish(ctx, logger, task, err, outcomeFailed, elapsed)
	default:
		logger.Debug("handler completed", "elapsed", elapsed.String())
		p.finish(ctx, logger, task, nil, outcomeCompleted, elapsed)
	}
	return outcome
}

// invoke runs h, converting a panic into an error.
func invoke(ctx context.Context, h Handler, task models.Task) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return false, h(ctx, task)
}

func (p *Processor) finish(ctx context.Context, logger *slog.Logger, task models.Task, taskErr error, outcome string, elapsed time.Duration) {
	var err error
	if taskErr != nil {
		err = p.queue.Fail(task.ID, taskErr.Error())
		p.publish(ctx, events.TaskFailed, task, taskErr.Error())
	} else {
		err = p.queue.Complete(task.ID)
		p.publish(ctx, events.TaskCompleted, task, "")
	}
	if err != nil {
		logger.Error("record task outcome", "error", err)
	}
	p.metrics.observeFinish(task.FunctionName, outcome, elapsed)
}

func (p *Processor) publish(ctx context.Context, t events.Type, task models.Task, errText string) {
	err := p.publisher.Publish(ctx, events.Event{
		Type:       t,
		TaskID:     task.ID,
		EntityType: string(task.EntityType),
		EntityID:   task.EntityID,
		Function:   task.FunctionName,
		Error:      errText,
		Timestamp:  time.Now(),
	})
	if err != nil {
		p.logger.Debug("publish event", "type", string(t), "error", err)
	}
}
