package handlers

import (
	"net/http"
	"strconv"

	"moltstudio/internal/apperr"
	"moltstudio/internal/store"
	"moltstudio/pkg/api"
)

const (
	defaultJobsLimit = 50
	maxJobsLimit     = 500
)

var jobStatuses = map[store.JobStatus]bool{
	store.JobStatusQueued:    true,
	store.JobStatusRunning:   true,
	store.JobStatusCompleted: true,
	store.JobStatusFailed:    true,
}

// ListJobs handles GET /internal/jobs?status=&limit=.
// It returns the most recent jobs in a status plus the queue depth per status.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := store.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = store.JobStatusFailed
	}
	if !jobStatuses[status] {
		h.respondError(w, r, apperr.Validation("status must be one of queued, running, completed, failed"))
		return
	}

	limit := defaultJobsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.respondError(w, r, apperr.Validation("limit must be a positive integer"))
			return
		}
		limit = min(n, maxJobsLimit)
	}

	var (
		jobs   []store.ProductionJob
		counts map[store.JobStatus]int64
	)
	err := h.store.InTx(ctx, func(repo store.Repository) error {
		var err error
		if jobs, err = repo.ListJobs(ctx, status, limit); err != nil {
			return err
		}
		counts, err = repo.CountJobsByStatus(ctx)
		return err
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := api.ListJobsResponse{
		Jobs:   make([]api.JobResponse, 0, len(jobs)),
		Counts: make(map[string]int64, len(counts)),
	}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	for s, n := range counts {
		resp.Counts[string(s)] = n
	}
	h.respondJson(w, http.StatusOK, resp)
}
