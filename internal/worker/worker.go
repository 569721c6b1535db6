// Package worker implements the worker execution loop.
//
// A worker gets one todo from its planner and runs a bounded loop: ask the
// model for an artifact, reject it if it is malicious, execute it, store the
// declared outputs and let a validator judge the acceptance criteria. The
// loop ends on success, on an exhausted retry budget, or early when the
// repeated failure judge sees no progress. The planner is always notified.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ShayCichocki/taskloom/internal/artifact"
	"github.com/ShayCichocki/taskloom/internal/events"
	"github.com/ShayCichocki/taskloom/internal/llm"
	"github.com/ShayCichocki/taskloom/internal/policy"
	"github.com/ShayCichocki/taskloom/internal/processor"
	"github.com/ShayCichocki/taskloom/internal/queue"
	"github.com/ShayCichocki/taskloom/internal/sandbox"
	"github.com/ShayCichocki/taskloom/internal/sqlengine"
	"github.com/ShayCichocki/taskloom/internal/state"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

// ResultExhausted is the task result of a worker that ran out of attempts.
const ResultExhausted = "failed after multiple tries"

// Store is the persistence the worker needs.
type Store interface {
	state.PlannerStore
	state.WorkerStore
	state.MessageStore
}

// Config configures the loop.
type Config struct {
	// RepeatThreshold is the number of consecutive execution failures
	// after which the repeated failure judge is consulted.
	RepeatThreshold int
	// SiblingResults caps the sibling results included in the context.
	SiblingResults int
	// MaxOutput caps the printed output fed back to the model.
	MaxOutput int
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		RepeatThreshold: 3,
		SiblingResults:  10,
		MaxOutput:       4000,
	}
}

// Handlers runs worker tasks.
type Handlers struct {
	store     Store
	queue     *queue.Queue
	llm       llm.Client
	artifacts artifact.Store
	sandbox   sandbox.Executor
	sql       *sqlengine.Engine
	policy    *policy.Detector
	validator Validator
	judge     RepeatedFailureJudge
	cfg       Config
	publisher events.Publisher
	logger    *slog.Logger
}

// Option configures Handlers.
type Option func(*Handlers)

// WithPolicy sets the malicious code detector.
func WithPolicy(d *policy.Detector) Option {
	return func(h *Handlers) { h.policy = d }
}

// WithValidator replaces the model-backed validator.
func WithValidator(v Validator) Option {
	return func(h *Handlers) { h.validator = v }
}

// WithJudge replaces the model-backed repeated failure judge.
func WithJudge(j RepeatedFailureJudge) Option {
	return func(h *Handlers) { h.judge = j }
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(pub events.Publisher) Option {
	return func(h *Handlers) { h.publisher = pub }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handlers) { h.logger = l }
}

// New creates the worker handlers.
func New(store Store, q *queue.Queue, client llm.Client, artifacts artifact.Store, exec sandbox.Executor, engine *sqlengine.Engine, cfg Config, opts ...Option) *Handlers {
	def := DefaultConfig()
	if cfg.RepeatThreshold <= 0 {
		cfg.RepeatThreshold = def.RepeatThreshold
	}
	if cfg.SiblingResults <= 0 {
		cfg.SiblingResults = def.SiblingResults
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = def.MaxOutput
	}
	if engine == nil {
		engine = sqlengine.New(0)
	}

	h := &Handlers{
		store:     store,
		queue:     q,
		llm:       client,
		artifacts: artifacts,
		sandbox:   exec,
		sql:       engine,
		policy:    policy.New(),
		validator: NewLLMValidator(client),
		judge:     NewLLMJudge(client),
		cfg:       cfg,
		publisher: events.Nop{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "worker")
	return h
}

// Register adds the worker handler to the registry.
func (h *Handlers) Register(r *processor.Registry) error {
	return r.Register(processor.WorkerInitialisation, h.Initialise)
}

// Initialise runs the execution loop of the worker named in the payload and
// then enqueues synthesis for its planner.
func (h *Handlers) Initialise(ctx context.Context, task models.Task) error {
	workerID := task.PayloadString("worker_id")
	if workerID == "" {
		workerID = task.EntityID
	}
	if workerID == "" {
		return fmt.Errorf("%s: missing worker_id", task.FunctionName)
	}

	w, err := h.store.GetWorker(workerID)
	if err != nil {
		return err
	}
	if w == nil {
		return fmt.Errorf("worker %s not found", workerID)
	}
	if w.TaskStatus == models.WorkerCompleted {
		h.logger.Info("worker already completed, re-enqueueing synthesis", "worker", w.ID)
		return h.enqueueSynthesis(w)
	}

	runErr := h.run(ctx, w)
	if runErr != nil {
		w.TaskStatus = models.WorkerFailedValidation
		w.TaskResult = "worker error: " + runErr.Error()
		if err := h.store.UpdateWorker(w); err != nil {
			h.logger.Error("record worker error", "worker", w.ID, "error", err)
		}
	}

	h.publish(ctx, w, runErr)

	if err := h.enqueueSynthesis(w); err != nil {
		return err
	}
	return runErr
}

// enqueueSynthesis hands the worker's outcome back to its planner.
func (h *Handlers) enqueueSynthesis(w *models.Worker) error {
	if _, err := h.queue.Enqueue(queue.NewTaskID(), models.EntityPlanner, w.PlannerID, string(processor.Synthesis),
		map[string]any{"planner_id": w.PlannerID, "worker_id": w.ID}); err != nil {
		return fmt.Errorf("enqueue %s: %w", processor.Synthesis, err)
	}
	return nil
}

func (h *Handlers) publish(ctx context.Context, w *models.Worker, runErr error) {
	e := events.Event{
		Type:       events.WorkerDone,
		EntityType: string(models.EntityWorker),
		EntityID:   w.ID,
		Timestamp:  time.Now(),
	}
	if w.TaskStatus != models.WorkerCompleted {
		e.Error = w.TaskResult
	}
	if runErr != nil {
		e.Error = runErr.Error()
	}
	if err := h.publisher.Publish(ctx, e); err != nil {
		h.logger.Debug("publish event", "type", string(e.Type), "error", err)
	}
}
