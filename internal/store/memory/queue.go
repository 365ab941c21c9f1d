package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"moltstudio/internal/store"

	"github.com/google/uuid"
)

func (r *repository) InsertJob(_ context.Context, j *store.ProductionJob) error {
	if (j.EpisodeID == nil) == (j.ClipVariantID == nil) {
		return fmt.Errorf("job %s must reference exactly one of episode or clip variant", j.ID)
	}
	j.CreatedAt = r.stamp()
	if j.RunAfter.IsZero() {
		j.RunAfter = j.CreatedAt
	}
	r.t.jobs[j.ID] = *j
	return nil
}

func (r *repository) GetJob(_ context.Context, id uuid.UUID) (*store.ProductionJob, error) {
	j, ok := r.t.jobs[id]
	if !ok {
		return nil, notFound("job", id)
	}
	return &j, nil
}

func (r *repository) ClaimJobs(_ context.Context, limit int, now time.Time) ([]store.ProductionJob, error) {
	if limit <= 0 {
		limit = 1
	}
	var ready []store.ProductionJob
	for _, j := range r.t.jobs {
		if j.Status == store.JobStatusQueued && !j.RunAfter.After(now) {
			ready = append(ready, j)
		}
	}
	sort.Slice(ready, func(i, k int) bool {
		if ready[i].Priority != ready[k].Priority {
			return ready[i].Priority < ready[k].Priority
		}
		return ready[i].CreatedAt.Before(ready[k].CreatedAt)
	})
	ready = limitSlice(ready, limit)
	if len(ready) == 0 {
		return nil, nil
	}
	for i := range ready {
		ready[i].Status = store.JobStatusRunning
		ready[i].StartedAt = ptr(now)
		ready[i].HeartbeatAt = ptr(now)
		r.t.jobs[ready[i].ID] = ready[i]
	}
	return ready, nil
}

func (r *repository) updateJob(id uuid.UUID, fn func(*store.ProductionJob)) error {
	j, ok := r.t.jobs[id]
	if !ok {
		return notFound("job", id)
	}
	fn(&j)
	r.t.jobs[id] = j
	return nil
}

func (r *repository) CompleteJob(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.updateJob(id, func(j *store.ProductionJob) {
		j.Status = store.JobStatusCompleted
		j.AttemptCount++
		j.CompletedAt = ptr(at)
		j.LastError = nil
	})
}

func (r *repository) RetryJob(_ context.Context, id uuid.UUID, errMsg string, runAfter time.Time) error {
	return r.updateJob(id, func(j *store.ProductionJob) {
		j.Status = store.JobStatusQueued
		j.AttemptCount++
		j.LastError = ptr(errMsg)
		j.RunAfter = runAfter
		j.StartedAt = nil
		j.HeartbeatAt = nil
	})
}

func (r *repository) FailJob(_ context.Context, id uuid.UUID, errMsg string, at time.Time) error {
	return r.updateJob(id, func(j *store.ProductionJob) {
		j.Status = store.JobStatusFailed
		j.AttemptCount++
		j.LastError = ptr(errMsg)
		j.CompletedAt = ptr(at)
	})
}

func (r *repository) HeartbeatJob(_ context.Context, id uuid.UUID, at time.Time) error {
	j, ok := r.t.jobs[id]
	if !ok || j.Status != store.JobStatusRunning {
		return notFound("running job", id)
	}
	j.HeartbeatAt = ptr(at)
	r.t.jobs[id] = j
	return nil
}

func (r *repository) ListStaleJobs(_ context.Context, cutoff time.Time, limit int) ([]store.ProductionJob, error) {
	var out []store.ProductionJob
	for _, j := range r.t.jobs {
		if j.Status != store.JobStatusRunning {
			continue
		}
		seen := j.HeartbeatAt
		if seen == nil {
			seen = j.StartedAt
		}
		if seen != nil && seen.Before(cutoff) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return timeBefore(out[i].StartedAt, out[k].StartedAt) })
	return limitSlice(out, limit), nil
}

func (r *repository) ListJobs(_ context.Context, status store.JobStatus, limit int) ([]store.ProductionJob, error) {
	var out []store.ProductionJob
	for _, j := range r.t.jobs {
		if status == "" || j.Status == status {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return limitSlice(out, limit), nil
}

func (r *repository) CountJobsByStatus(context.Context) (map[store.JobStatus]int64, error) {
	counts := make(map[store.JobStatus]int64)
	for _, j := range r.t.jobs {
		counts[j.Status]++
	}
	return counts, nil
}
