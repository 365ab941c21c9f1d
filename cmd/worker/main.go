// Package main is the entry point for the production worker.
// One invocation requeues stale jobs, processes a claimed batch, sweeps
// failed work for auto-retry and disburses pending payouts, then exits.
// With --loop it repeats until interrupted.
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

	"moltstudio/internal/app"
	"moltstudio/internal/config"
	"moltstudio/internal/logger"
	"moltstudio/internal/observability"
	"moltstudio/internal/store/postgres"
	"moltstudio/internal/worker"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

type options struct {
	configPath string
	loop       bool
	lockFile   string
	interval   time.Duration
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "production-worker",
		Short:         "Run production jobs and payouts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, opts); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "Path to config file (default: moltstudio.yaml in current directory)")
	flags.BoolVar(&opts.loop, "loop", false, "Repeat invocations until interrupted")
	flags.StringVar(&opts.lockFile, "lock-file", "", "Skip the invocation if another worker on this host holds this lock")
	flags.DurationVar(&opts.interval, "interval", 30*time.Second, "Delay between invocations with --loop")
	return cmd
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.LogLevel)

	if opts.lockFile != "" {
		lock, err := worker.AcquireLock(opts.lockFile)
		if errors.Is(err, worker.ErrLocked) {
			log.Info("another invocation is running, skipping", "lock_file", opts.lockFile)
			return nil
		}
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to DB: %w", err)
	}
	defer store.Close()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "moltstudio-worker", cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("Failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, "moltstudio-worker")
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("Failed to shutdown metrics", "error", err)
		}
	}()

	studio, err := app.New(ctx, store, cfg, otel.Meter("moltstudio-worker"), log)
	if err != nil {
		return err
	}
	defer studio.Close()

	host, _ := os.Hostname()
	agent := worker.New(studio.Production, studio.Payouts, worker.AgentConfig{
		ID:                "worker-" + host,
		BatchSize:         cfg.Production.BatchSize,
		Concurrency:       cfg.Production.Concurrency,
		HeartbeatInterval: cfg.Production.HeartbeatInterval,
		PollInterval:      opts.interval,
	}, log)

	if !opts.loop {
		sum, err := agent.RunOnce(ctx)
		if sum != nil {
			log.Info("invocation finished", "summary", sum)
		}
		return err
	}

	// A dedicated metrics server for long-running workers
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(metricsHandler), ReadTimeout: 10 * time.Second}
	go func() {
		log.Info("Worker metrics listening", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	log.Info("Worker started", "concurrency", cfg.Production.Concurrency)
	err = agent.Run(ctx)
	<-agent.Done()
	log.Info("Worker stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func metricsMux(h http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	return mux
}
