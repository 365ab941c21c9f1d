package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"moltstudio/internal/apperr"
	"moltstudio/pkg/api"
)

// OpenPeriod handles POST /internal/periods/open.
// An already open period is returned with 200 and created=false.
func (h *Handlers) OpenPeriod(w http.ResponseWriter, r *http.Request) {
	var req api.OpenPeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.httpError(w, "Invalid request body", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	var duration time.Duration
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			h.respondError(w, r, apperr.Validation("duration must be a positive Go duration such as 168h"))
			return
		}
		duration = d
	}

	period, created, err := h.voting.ManuallyOpenPeriod(r.Context(), req.Type, duration)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.respondJson(w, status, toPeriodResponse(period, created))
}

// ClosePeriod handles POST /internal/periods/close.
// It closes the open period now, regardless of its end time.
func (h *Handlers) ClosePeriod(w http.ResponseWriter, r *http.Request) {
	res, err := h.voting.ManuallyClosePeriod(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := api.ClosePeriodResponse{
		Closed:         res.Closed,
		WinnerScriptID: idString(res.WinnerID),
		Rejected:       res.Rejected,
		SeriesID:       idString(res.SeriesID),
	}
	if res.Closed {
		resp.PeriodID = res.PeriodID.String()
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ProduceScript handles POST /internal/scripts/{id}/produce.
func (h *Handlers) ProduceScript(w http.ResponseWriter, r *http.Request) {
	scriptID, err := pathID(r, "script")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	res, err := h.voting.TriggerProduction(r.Context(), scriptID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	h.respondJson(w, status, api.ProduceResponse{
		SeriesID:     res.Series.ID.String(),
		Status:       string(res.Series.Status),
		Medium:       string(res.Series.Medium),
		EpisodeCount: res.Series.EpisodeCount,
		Created:      res.Created,
	})
}
