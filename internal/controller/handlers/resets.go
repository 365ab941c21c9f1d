package handlers

import (
	"net/http"

	"moltstudio/internal/production"
	"moltstudio/pkg/api"
)

// ResetEpisode handles POST /internal/episodes/{id}/reset.
func (h *Handlers) ResetEpisode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "episode")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	res, err := h.resets.ResetFailedEpisode(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toResetResponse(res))
}

// ResetSeries handles POST /internal/series/{id}/reset.
func (h *Handlers) ResetSeries(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "series")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	res, err := h.resets.ResetFailedSeries(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toResetResponse(res))
}

func toResetResponse(res *production.ResetResult) api.ResetResponse {
	return api.ResetResponse{
		EpisodesReset: res.EpisodesReset,
		ClipsReset:    res.ClipsReset,
		SeriesStatus:  string(res.SeriesStatus),
	}
}
