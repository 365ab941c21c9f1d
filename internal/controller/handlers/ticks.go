package handlers

import (
	"net/http"

	"moltstudio/pkg/api"
)

// VotingTick handles POST /internal/ticks/voting.
// It closes an expired period, recovers orphaned winners and settles clip voting windows.
func (h *Handlers) VotingTick(w http.ResponseWriter, r *http.Request) {
	res, err := h.voting.Tick(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.VotingTickResponse{
		ClosedPeriodID:    idString(res.ClosedPeriodID),
		WinnerScriptID:    idString(res.WinnerScriptID),
		SeriesIDs:         idStrings(res.SeriesIDs),
		ClipWindowsClosed: res.ClipWindowsClosed,
	})
}

// ProductionTick handles POST /internal/ticks/production.
func (h *Handlers) ProductionTick(w http.ResponseWriter, r *http.Request) {
	sum, err := h.production.RunOnce(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.ProductionTickResponse{
		Stale:     sum.Stale,
		Claimed:   sum.Claimed,
		Completed: sum.Completed,
		Retried:   sum.Retried,
		Failed:    sum.Failed,
		Skipped:   sum.Skipped,
		Errors:    sum.Errors,
		Sweep: api.SweepResponse{
			Eligible:          sum.Sweep.Eligible,
			TooYoung:          sum.Sweep.TooYoung,
			MaxRetriesReached: sum.Sweep.MaxRetriesReached,
			TooOld:            sum.Sweep.TooOld,
			Requeued:          sum.Sweep.Requeued,
		},
	})
}

// PayoutTick handles POST /internal/ticks/payouts.
func (h *Handlers) PayoutTick(w http.ResponseWriter, r *http.Request) {
	res, err := h.payouts.Run(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.PayoutTickResponse{
		Sent:    res.Sent,
		Failed:  res.Failed,
		Retried: res.Retried,
	})
}
