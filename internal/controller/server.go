// Package controller wires the studio HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"moltstudio/internal/controller/handlers"
	"moltstudio/internal/controller/middleware"
)

// limiterSweepInterval is how often idle tip limiters are dropped.
const limiterSweepInterval = time.Minute

// Server is the HTTP server for the studio API.
type Server struct {
	httpServer *http.Server
	tips       *middleware.RateLimiter
	log        *slog.Logger
}

// New creates a new controller server. metrics may be nil.
func New(addr string, h *handlers.Handlers, secret string, tips *middleware.RateLimiter, metrics http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if tips == nil {
		tips = middleware.NewRateLimiter()
	}
	internal := middleware.RequireInternalAuth(secret)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	// Public viewer endpoints
	mux.Handle("POST /clips/{id}/tip", tips.Middleware()(http.HandlerFunc(h.Tip)))
	mux.HandleFunc("GET /episodes/{id}/clips", h.Leaderboard)

	// Internal endpoints
	// These are called by the scheduler and operators with the shared secret.
	mux.Handle("POST /internal/ticks/voting", internal(http.HandlerFunc(h.VotingTick)))
	mux.Handle("POST /internal/ticks/production", internal(http.HandlerFunc(h.ProductionTick)))
	mux.Handle("POST /internal/ticks/payouts", internal(http.HandlerFunc(h.PayoutTick)))
	mux.Handle("POST /internal/periods/open", internal(http.HandlerFunc(h.OpenPeriod)))
	mux.Handle("POST /internal/periods/close", internal(http.HandlerFunc(h.ClosePeriod)))
	mux.Handle("POST /internal/scripts/{id}/produce", internal(http.HandlerFunc(h.ProduceScript)))
	mux.Handle("POST /internal/episodes/{id}/reset", internal(http.HandlerFunc(h.ResetEpisode)))
	mux.Handle("POST /internal/series/{id}/reset", internal(http.HandlerFunc(h.ResetSeries)))
	mux.Handle("GET /internal/jobs", internal(http.HandlerFunc(h.ListJobs)))

	handler := middleware.RequestID(middleware.AccessLog(log)(mux))

	return &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     handler,
			ReadTimeout: 10 * time.Second,
			// A production tick holds the connection for a whole generation batch.
			WriteTimeout: 30 * time.Minute,
		},
		tips: tips,
		log:  log,
	}
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		s.log.Info("controller listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-serverErr:
			return err
		case <-ticker.C:
			s.tips.Sweep()
		case <-ctx.Done():
			shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			return s.Shutdown(shutDownCtx)
		}
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
