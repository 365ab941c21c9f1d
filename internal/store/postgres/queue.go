package postgres

import (
	"context"
	"fmt"
	"time"

	"moltstudio/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const jobColumns = `id, job_type, status, priority, attempt_count, last_error, series_id, episode_id,
	clip_variant_id, payload, run_after, created_at, started_at, heartbeat_at, completed_at`

func scanJob(row rowScanner) (*store.ProductionJob, error) {
	var j store.ProductionJob
	err := row.Scan(&j.ID, &j.JobType, &j.Status, &j.Priority, &j.AttemptCount, &j.LastError,
		&j.SeriesID, &j.EpisodeID, &j.ClipVariantID, &j.Payload, &j.RunAfter, &j.CreatedAt,
		&j.StartedAt, &j.HeartbeatAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// InsertJob adds a job to the production queue.
func (r *repository) InsertJob(ctx context.Context, j *store.ProductionJob) error {
	if j.RunAfter.IsZero() {
		j.RunAfter = time.Now()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO production_jobs (id, job_type, status, priority, series_id, episode_id, clip_variant_id, payload, run_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, j.ID, j.JobType, j.Status, j.Priority, j.SeriesID, j.EpisodeID, j.ClipVariantID, j.Payload, j.RunAfter).Scan(&j.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", j.ID, translate(err))
	}
	return nil
}

// GetJob retrieves a job by ID.
func (r *repository) GetJob(ctx context.Context, id uuid.UUID) (*store.ProductionJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM production_jobs WHERE id = $1`, jobColumns)
	j, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translate(err)
	}
	return j, nil
}

// ClaimJobs claims up to 'limit' runnable jobs using SELECT ... FOR UPDATE SKIP LOCKED
// and flips them to running in bulk. Returns nil slice if no jobs are available.
func (r *repository) ClaimJobs(ctx context.Context, limit int, now time.Time) ([]store.ProductionJob, error) {
	if limit <= 0 {
		limit = 1
	}

	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM production_jobs
		WHERE status = $2 AND run_after <= $3
		ORDER BY priority ASC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, jobColumns)

	rows, err := r.db.QueryContext(ctx, selectQuery, limit, store.JobStatusQueued, now)
	if err != nil {
		return nil, fmt.Errorf("claim query failed: %w", err)
	}
	defer rows.Close()

	var jobs []store.ProductionJob
	var ids []uuid.UUID
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("claim scan failed: %w", err)
		}
		jobs = append(jobs, *j)
		ids = append(ids, j.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim rows error: %w", err)
	}

	// Empty queue
	if len(jobs) == 0 {
		return nil, nil
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE production_jobs
		SET status = $1, started_at = $2, heartbeat_at = $2
		WHERE id = ANY($3)
	`, store.JobStatusRunning, now, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("claim status update failed: %w", err)
	}

	for i := range jobs {
		jobs[i].Status = store.JobStatusRunning
		jobs[i].StartedAt = &now
		jobs[i].HeartbeatAt = &now
	}
	return jobs, nil
}

// CompleteJob marks a job completed.
func (r *repository) CompleteJob(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE production_jobs
		SET status = $1, attempt_count = attempt_count + 1, completed_at = $2, last_error = NULL
		WHERE id = $3
	`, store.JobStatusCompleted, at, id)
	return expectRow(res, err)
}

// RetryJob counts the failed attempt and makes the job visible again at runAfter.
func (r *repository) RetryJob(ctx context.Context, id uuid.UUID, errMsg string, runAfter time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE production_jobs
		SET status = $1, attempt_count = attempt_count + 1, last_error = $2, run_after = $3,
		    started_at = NULL, heartbeat_at = NULL
		WHERE id = $4
	`, store.JobStatusQueued, errMsg, runAfter, id)
	return expectRow(res, err)
}

// FailJob counts the failed attempt and marks the job permanently failed.
func (r *repository) FailJob(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE production_jobs
		SET status = $1, attempt_count = attempt_count + 1, last_error = $2, completed_at = $3
		WHERE id = $4
	`, store.JobStatusFailed, errMsg, at, id)
	return expectRow(res, err)
}

// HeartbeatJob extends the liveness of a running job.
func (r *repository) HeartbeatJob(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE production_jobs SET heartbeat_at = $1 WHERE id = $2 AND status = $3
	`, at, id, store.JobStatusRunning)
	return expectRow(res, err)
}

// ListStaleJobs locks running jobs that stopped heartbeating before cutoff.
func (r *repository) ListStaleJobs(ctx context.Context, cutoff time.Time, limit int) ([]store.ProductionJob, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM production_jobs
		WHERE status = $1 AND COALESCE(heartbeat_at, started_at) < $2
		ORDER BY started_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $3
	`, jobColumns)
	return r.queryJobs(ctx, query, store.JobStatusRunning, cutoff, limit)
}

// ListJobs returns the most recent jobs, optionally filtered by status.
func (r *repository) ListJobs(ctx context.Context, status store.JobStatus, limit int) ([]store.ProductionJob, error) {
	if status == "" {
		query := fmt.Sprintf(`SELECT %s FROM production_jobs ORDER BY created_at DESC LIMIT $1`, jobColumns)
		return r.queryJobs(ctx, query, limit)
	}
	query := fmt.Sprintf(`SELECT %s FROM production_jobs WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, jobColumns)
	return r.queryJobs(ctx, query, status, limit)
}

// CountJobsByStatus returns the number of jobs per status.
func (r *repository) CountJobsByStatus(ctx context.Context) (map[store.JobStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM production_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[store.JobStatus]int64)
	for rows.Next() {
		var status store.JobStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *repository) queryJobs(ctx context.Context, query string, args ...interface{}) ([]store.ProductionJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []store.ProductionJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}
