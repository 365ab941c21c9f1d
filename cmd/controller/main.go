// Package main is the entry point for the studio controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"moltstudio/internal/app"
	"moltstudio/internal/config"
	"moltstudio/internal/controller"
	"moltstudio/internal/controller/handlers"
	"moltstudio/internal/controller/middleware"
	"moltstudio/internal/logger"
	"moltstudio/internal/observability"
	"moltstudio/internal/store/postgres"

	"go.opentelemetry.io/otel"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: moltstudio.yaml in current directory)")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	fatal := func(msg string, err error) {
		log.Error(msg, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to Postgres (the "Store")
	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal("Failed to connect to DB", err)
	}
	defer store.Close()

	// Run migrations if requested
	if *migrateFlag {
		if err := postgres.Migrate(store.DB(), log); err != nil {
			fatal("Migration failed", err)
		}
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "moltstudio-controller", cfg.OTELEndpoint)
	if err != nil {
		fatal("Failed to init tracing", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("Failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, "moltstudio-controller")
	if err != nil {
		fatal("Failed to init metrics", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("Failed to shutdown metrics", "error", err)
		}
	}()

	studio, err := app.New(ctx, store, cfg, otel.Meter("moltstudio-controller"), log)
	if err != nil {
		fatal("Failed to wire services", err)
	}
	defer studio.Close()

	// The production tick runs jobs in-process; payouts have their own tick.
	host, _ := os.Hostname()
	agent := studio.Agent(cfg, "controller-"+host, nil, log)

	h := handlers.New(handlers.Deps{
		Store:      store,
		Tips:       studio.Gateway,
		Clips:      studio.Clips,
		Voting:     studio.Voting,
		Production: agent,
		Payouts:    studio.Payouts,
		Resets:     studio.Production,
		Log:        log,
	})

	tipLimiter := middleware.NewRateLimiter(middleware.WithLimit(cfg.Payment.TipRateLimit, 4))

	// Start Server
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, h, cfg.InternalSecret, tipLimiter, metricsHandler, log)
	if cfg.InternalSecret == "" {
		log.Warn("INTERNAL_SECRET is empty, every /internal request will be rejected")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx)
	}()

	// Graceful Shutdown
	select {
	case err := <-errCh:
		if err != nil {
			fatal("Server stopped", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down controller")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		select {
		case err := <-errCh:
			if err != nil {
				log.Error("Server forced to shutdown", "error", err)
			}
		case <-shutdownCtx.Done():
			log.Error("Server shutdown timed out")
		}
	}
	log.Info("Server exited properly")
}
