// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"moltstudio/internal/apperr"
	"moltstudio/internal/logger"
	"moltstudio/internal/payment"
	"moltstudio/internal/payout"
	"moltstudio/internal/production"
	"moltstudio/internal/store"
	"moltstudio/internal/voting"
	"moltstudio/internal/worker"
	"moltstudio/pkg/api"

	"github.com/google/uuid"
)

// TipService runs the x402 exchange for a tip-vote.
type TipService interface {
	RequestTip(ctx context.Context, req payment.TipRequest) (*payment.Challenge, error)
	SettleTip(ctx context.Context, req payment.TipRequest, header string) (*payment.Receipt, error)
}

// LeaderboardService ranks an episode's clip variants.
type LeaderboardService interface {
	Leaderboard(ctx context.Context, episodeID uuid.UUID) (*store.Episode, []store.ClipVariant, error)
}

// VotingService drives voting periods.
type VotingService interface {
	Tick(ctx context.Context) (*voting.TickResult, error)
	ManuallyOpenPeriod(ctx context.Context, periodType string, duration time.Duration) (*store.VotingPeriod, bool, error)
	ManuallyClosePeriod(ctx context.Context) (*voting.CloseResult, error)
	TriggerProduction(ctx context.Context, scriptID uuid.UUID) (*voting.TriggerResult, error)
}

// ProductionTicker runs one production invocation.
type ProductionTicker interface {
	RunOnce(ctx context.Context) (*worker.Summary, error)
}

// PayoutTicker disburses one batch of payouts.
type PayoutTicker interface {
	Run(ctx context.Context) (payout.Result, error)
}

// ResetService clears failed production state.
type ResetService interface {
	ResetFailedEpisode(ctx context.Context, episodeID uuid.UUID) (*production.ResetResult, error)
	ResetFailedSeries(ctx context.Context, seriesID uuid.UUID) (*production.ResetResult, error)
}

// Deps are the services the handlers call.
type Deps struct {
	Store      store.Store
	Tips       TipService
	Clips      LeaderboardService
	Voting     VotingService
	Production ProductionTicker
	Payouts    PayoutTicker
	Resets     ResetService
	Log        *slog.Logger
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store      store.Store
	tips       TipService
	clips      LeaderboardService
	voting     VotingService
	production ProductionTicker
	payouts    PayoutTicker
	resets     ResetService
	log        *slog.Logger
}

// New creates a new Handlers instance.
func New(d Deps) *Handlers {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Handlers{
		store:      d.Store,
		tips:       d.Tips,
		clips:      d.Clips,
		voting:     d.Voting,
		production: d.Production,
		payouts:    d.Payouts,
		resets:     d.Resets,
		log:        d.Log,
	}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message, code string, status int) {
	h.respondJson(w, status, api.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// respondError maps err through apperr. Causes are logged, never returned.
func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.As(err)
	log := logger.FromContext(r.Context(), h.log)
	if ae.HTTPStatus >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "code", ae.Code, "error", err)
	} else if ae.Cause != nil {
		log.Warn("request rejected", "path", r.URL.Path, "code", ae.Code, "error", ae.Cause)
	}
	h.httpError(w, ae.Message, ae.Code, ae.HTTPStatus)
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid " + name + " id")
	}
	return id, nil
}
