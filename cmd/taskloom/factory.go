package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ShayCichocki/taskloom/internal/artifact"
	"github.com/ShayCichocki/taskloom/internal/config"
	"github.com/ShayCichocki/taskloom/internal/events"
	"github.com/ShayCichocki/taskloom/internal/llm"
	"github.com/ShayCichocki/taskloom/internal/logging"
	"github.com/ShayCichocki/taskloom/internal/planner"
	"github.com/ShayCichocki/taskloom/internal/policy"
	"github.com/ShayCichocki/taskloom/internal/processor"
	"github.com/ShayCichocki/taskloom/internal/queue"
	"github.com/ShayCichocki/taskloom/internal/router"
	"github.com/ShayCichocki/taskloom/internal/sandbox"
	"github.com/ShayCichocki/taskloom/internal/sqlengine"
	"github.com/ShayCichocki/taskloom/internal/state"
	"github.com/ShayCichocki/taskloom/internal/worker"
)

// app holds what every command shares: config, logger, store and queue.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *state.DB
	queue     *queue.Queue
	artifacts artifact.Store
	logCloser io.Closer
}

// loadConfig loads the config file from --config or the default locations.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// openApp loads config, builds the logger and opens the migrated store.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, closer, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	slog.SetDefault(logger)

	db, err := state.Open(cfg.Store.Path)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		closer.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	artifacts, err := artifact.NewFSStore(cfg.Artifacts.Dir)
	if err != nil {
		db.Close()
		closer.Close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		queue:     queue.New(db, logger),
		artifacts: artifacts,
		logCloser: closer,
	}, nil
}

// Close releases the store and the log file.
func (a *app) Close() error {
	err := a.db.Close()
	a.logCloser.Close()
	return err
}

// signalsDir is where pause and stop signal files live.
func (a *app) signalsDir() string {
	return signalsDirFor(a.cfg.Store.Path)
}

// signalsDirFor keeps signal files next to the database so every process
// sharing the store sees the same signals.
func signalsDirFor(storePath string) string {
	return processor.SignalsDir(filepath.Dir(storePath))
}

// signalState reports which signal files are present.
func signalState(dir string) (paused, stopped bool) {
	if _, err := os.Stat(filepath.Join(dir, processor.PauseSignal)); err == nil {
		paused = true
	}
	if _, err := os.Stat(filepath.Join(dir, processor.StopSignal)); err == nil {
		stopped = true
	}
	return paused, stopped
}

// newLLMClient builds the configured provider.
func newLLMClient(cfg *config.Config, logger *slog.Logger) (*llm.Retrying, llm.Tracked, error) {
	key, err := config.GetAPIKey(cfg)
	if err != nil {
		return nil, nil, err
	}

	retry := llm.DefaultRetryConfig()
	if cfg.LLM.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.LLM.MaxAttempts
	}

	return llm.NewClient(llm.ProviderConfig{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		APIKey:        key,
		BaseURL:       cfg.LLM.BaseURL,
		MaxTokens:     cfg.LLM.MaxTokens,
		UseAWSBedrock: cfg.LLM.Bedrock,
		AWSRegion:     cfg.LLM.AWSRegion,
		AWSProfile:    cfg.LLM.AWSProfile,
		Retry:         retry,
	}, logger)
}

// newPublisher connects to NATS when configured.
func newPublisher(cfg *config.Config) (events.Publisher, error) {
	if cfg.Events.NATSURL == "" {
		return events.Nop{}, nil
	}
	pub, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return pub, nil
}

// newSandbox builds the Python sandbox.
func newSandbox(cfg *config.Config, logger *slog.Logger) *sandbox.PythonSandbox {
	return sandbox.NewPython(sandbox.PythonConfig{
		Interpreter: cfg.Sandbox.Interpreter,
		Timeout:     cfg.Sandbox.Timeout,
		ToolsDir:    cfg.Sandbox.ToolsDir,
		Docker: sandbox.DockerConfig{
			Enabled: cfg.Sandbox.Docker.Enabled,
			Image:   cfg.Sandbox.Docker.Image,
			Memory:  cfg.Sandbox.Docker.Memory,
			CPUs:    cfg.Sandbox.Docker.CPUs,
		},
	}, nil, logger)
}

// newPolicy loads the malicious code rules.
func newPolicy(cfg *config.Config) (*policy.Detector, error) {
	if cfg.Worker.PolicyFile == "" {
		return policy.New(), nil
	}
	return policy.Load(cfg.Worker.PolicyFile)
}

// agents are the handler sets of one process.
type agents struct {
	planner *planner.Handlers
	worker  *worker.Handlers
	router  *router.Handlers
}

// newAgents wires the planner, worker and router handlers. client may be
// nil for commands that only submit work.
func (a *app) newAgents(client llm.Client, pub events.Publisher) (*agents, error) {
	detector, err := newPolicy(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	planners := planner.New(a.db, a.queue, client, a.artifacts, planner.Config{
		WorkerMaxRetry: a.cfg.Worker.MaxRetry,
		Tools:          a.cfg.Worker.Tools,
	}, planner.WithPublisher(pub), planner.WithLogger(a.logger))

	workers := worker.New(a.db, a.queue, client, a.artifacts,
		newSandbox(a.cfg, a.logger), sqlengine.New(a.cfg.Sandbox.MaxRows),
		worker.Config{
			RepeatThreshold: a.cfg.Worker.RepeatThreshold,
			SiblingResults:  a.cfg.Worker.SiblingResults,
			MaxOutput:       a.cfg.Worker.MaxOutput,
		},
		worker.WithPolicy(detector), worker.WithPublisher(pub), worker.WithLogger(a.logger))

	return &agents{
		planner: planners,
		worker:  workers,
		router:  router.New(a.db, a.queue, client, planners, a.logger),
	}, nil
}

// registry registers every handler and validates the set.
func (ag *agents) registry() (*processor.Registry, error) {
	reg := processor.NewRegistry()
	for _, register := range []func(*processor.Registry) error{
		ag.planner.Register,
		ag.worker.Register,
		ag.router.Register,
	} {
		if err := register(reg); err != nil {
			return nil, err
		}
	}
	if err := reg.Validate(processor.AllHandlers...); err != nil {
		return nil, err
	}
	reg.Freeze()
	return reg, nil
}
