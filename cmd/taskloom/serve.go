package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskloom/internal/processor"
	"github.com/ShayCichocki/taskloom/internal/state"
)

var (
	serveBatchSize   int
	serveConcurrency int
	serveRecovery    string
	serveMetricsAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background processor",
	Long: `Run the background processor until interrupted.

The processor claims up to batch-size PENDING tasks per cycle, runs them
concurrently through the planner, worker and router handlers, and waits for
the whole cohort before scanning again.

At startup, tasks left RUNNING by a previous process are resolved with the
recovery mode: "fail" marks them FAILED, "requeue" puts them back to PENDING.
Only use requeue when no other processor shares the database.

Pause, resume and stop with 'taskloom pause|resume|stop' from another shell.
Prometheus metrics are served on --metrics-addr (empty disables).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&serveBatchSize, "batch-size", 0, "Tasks claimed per cycle (default from config)")
	serveCmd.Flags().IntVar(&serveConcurrency, "concurrency", -1, "Handlers run at once per cohort, 0 for unbounded (default from config)")
	serveCmd.Flags().StringVar(&serveRecovery, "recovery", "", "Recovery mode for orphaned RUNNING tasks: fail or requeue")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Prometheus listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	client, tracked, err := newLLMClient(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}

	pub, err := newPublisher(a.cfg)
	if err != nil {
		return err
	}
	defer pub.Close()

	ag, err := a.newAgents(client, pub)
	if err != nil {
		return err
	}
	registry, err := ag.registry()
	if err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}

	pcfg, err := processorConfig(a)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := processor.NewMetrics(promRegistry)

	// A stop signal left from the last run would end this one immediately.
	signals := a.signalsDir()
	if err := processor.ClearSignal(signals, processor.StopSignal); err != nil {
		return fmt.Errorf("clear stop signal: %w", err)
	}
	control := processor.NewControl()
	watcher, err := processor.WatchSignals(signals, control, a.logger)
	if err != nil {
		return fmt.Errorf("watch signals: %w", err)
	}
	defer watcher.Close()

	proc := processor.New(a.db, registry, pcfg,
		processor.WithControl(control),
		processor.WithMetrics(metrics),
		processor.WithPublisher(pub),
		processor.WithLogger(a.logger))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	addr := a.cfg.Metrics.Addr
	if serveMetricsAddr != "" {
		addr = serveMetricsAddr
	}
	if addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           metricsMux(promRegistry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", "addr", addr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			srv.Shutdown(shutdownCtx)
		}()
		a.logger.Info("metrics listening", "addr", addr)
	}

	err = proc.Run(ctx)

	if tracked != nil {
		in, out := tracked.Tracker().Total()
		a.logger.Info("token usage", "input", in, "output", out, "calls", tracked.Tracker().Calls())
	}
	return err
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// processorConfig merges the config file with the serve flags.
func processorConfig(a *app) (processor.Config, error) {
	pcfg := processor.DefaultConfig()
	if a.cfg.Processor.BatchSize > 0 {
		pcfg.BatchSize = a.cfg.Processor.BatchSize
	}
	if a.cfg.Processor.PollInterval > 0 {
		pcfg.PollInterval = a.cfg.Processor.PollInterval
	}
	pcfg.Concurrency = a.cfg.Processor.Concurrency

	if serveBatchSize > 0 {
		pcfg.BatchSize = serveBatchSize
	}
	if serveConcurrency >= 0 {
		pcfg.Concurrency = serveConcurrency
	}

	mode := a.cfg.Store.Recovery
	if serveRecovery != "" {
		mode = serveRecovery
	}
	recovery, err := state.ParseRecoveryMode(mode)
	if err != nil {
		return pcfg, err
	}
	pcfg.RecoveryMode = recovery
	return pcfg, nil
}
