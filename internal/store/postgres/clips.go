package postgres

import (
	"context"
	"fmt"
	"time"

	"moltstudio/internal/store"

	"github.com/google/uuid"
)

const clipColumns = `id, episode_id, variant_number, status, prompt, seed, video_url, vote_count, tip_total,
	is_selected, retry_count, error_message, last_failed_at, failure_terminal, created_at`

func scanClip(row rowScanner) (*store.ClipVariant, error) {
	var c store.ClipVariant
	err := row.Scan(&c.ID, &c.EpisodeID, &c.VariantNumber, &c.Status, &c.Prompt, &c.Seed,
		&c.VideoURL, &c.VoteCount, &c.TipTotal, &c.IsSelected, &c.RetryCount, &c.ErrorMessage,
		&c.LastFailedAt, &c.FailureTerminal, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertClipVariant creates a clip variant.
func (r *repository) InsertClipVariant(ctx context.Context, c *store.ClipVariant) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO clip_variants (id, episode_id, variant_number, status, prompt, seed)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, c.ID, c.EpisodeID, c.VariantNumber, c.Status, c.Prompt, c.Seed).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert clip variant %d: %w", c.VariantNumber, translate(err))
	}
	return nil
}

// GetClipVariant retrieves a clip variant by ID.
func (r *repository) GetClipVariant(ctx context.Context, id uuid.UUID) (*store.ClipVariant, error) {
	query := fmt.Sprintf(`SELECT %s FROM clip_variants WHERE id = $1`, clipColumns)
	c, err := scanClip(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translate(err)
	}
	return c, nil
}

// LockClipVariant retrieves a clip variant and holds its row lock until the
// transaction ends. Concurrent tips on the same clip serialize here.
func (r *repository) LockClipVariant(ctx context.Context, id uuid.UUID) (*store.ClipVariant, error) {
	query := fmt.Sprintf(`SELECT %s FROM clip_variants WHERE id = $1 FOR UPDATE`, clipColumns)
	c, err := scanClip(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translate(err)
	}
	return c, nil
}

// ListClipVariants returns the variants of an episode in leaderboard order.
func (r *repository) ListClipVariants(ctx context.Context, episodeID uuid.UUID) ([]store.ClipVariant, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM clip_variants
		WHERE episode_id = $1
		ORDER BY tip_total DESC, vote_count DESC, created_at ASC, variant_number ASC
	`, clipColumns)
	return r.queryClips(ctx, query, episodeID)
}

// MarkClipProcessing flips a clip to processing.
func (r *repository) MarkClipProcessing(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE clip_variants SET status = $1 WHERE id = $2
	`, store.ClipStatusProcessing, id)
	return expectRow(res, err)
}

// CompleteClip stores the rendered clip URL.
func (r *repository) CompleteClip(ctx context.Context, id uuid.UUID, videoURL string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE clip_variants SET status = $1, video_url = $2, error_message = NULL WHERE id = $3
	`, store.ClipStatusCompleted, videoURL, id)
	return expectRow(res, err)
}

// RecordClipFailure counts a failed render against the clip's retry budget.
func (r *repository) RecordClipFailure(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		UPDATE clip_variants
		SET retry_count = retry_count + 1,
		    error_message = $1,
		    last_failed_at = $2
		WHERE id = $3
		RETURNING retry_count
	`, errMsg, at, id).Scan(&count)
	if err != nil {
		return 0, translate(err)
	}
	return count, nil
}

// FailClip marks a clip failed.
func (r *repository) FailClip(ctx context.Context, id uuid.UUID, f store.Failure) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE clip_variants
		SET status = $1,
		    error_message = $2,
		    last_failed_at = $3,
		    failure_terminal = $4
		WHERE id = $5
	`, store.ClipStatusFailed, f.Message, f.At, f.Terminal, id)
	return expectRow(res, err)
}

// RequeueClip moves a failed clip back to pending for another attempt.
func (r *repository) RequeueClip(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE clip_variants SET status = $1 WHERE id = $2 AND status = $3
	`, store.ClipStatusPending, id, store.ClipStatusFailed)
	return changed(res, err)
}

// ResetClip moves a failed clip back to pending with a fresh retry budget.
func (r *repository) ResetClip(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE clip_variants
		SET status = $1, retry_count = 0, error_message = NULL,
		    last_failed_at = NULL, failure_terminal = FALSE
		WHERE id = $2 AND status = $3
	`, store.ClipStatusPending, id, store.ClipStatusFailed)
	return changed(res, err)
}

// ApplyTip adds to the vote and tip tallies of a clip.
func (r *repository) ApplyTip(ctx context.Context, id uuid.UUID, voteDelta int, cents int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE clip_variants
		SET vote_count = vote_count + $1, tip_total = tip_total + $2
		WHERE id = $3
	`, voteDelta, cents, id)
	return expectRow(res, err)
}

// SelectClip marks the winner of an episode and clears its siblings.
func (r *repository) SelectClip(ctx context.Context, episodeID, clipID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE clip_variants SET is_selected = FALSE WHERE episode_id = $1 AND id <> $2 AND is_selected
	`, episodeID, clipID); err != nil {
		return fmt.Errorf("failed to clear selected clips: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE clip_variants SET is_selected = TRUE WHERE id = $1 AND episode_id = $2
	`, clipID, episodeID)
	return expectRow(res, err)
}

// ListRetryableFailedClips returns non-terminal failed clip variants.
func (r *repository) ListRetryableFailedClips(ctx context.Context, limit int) ([]store.ClipVariant, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM clip_variants
		WHERE status = $1 AND failure_terminal = FALSE
		ORDER BY last_failed_at ASC NULLS FIRST
		LIMIT $2
	`, clipColumns)
	return r.queryClips(ctx, query, store.ClipStatusFailed, limit)
}

func (r *repository) queryClips(ctx context.Context, query string, args ...interface{}) ([]store.ClipVariant, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query clip variants: %w", err)
	}
	defer rows.Close()

	var clips []store.ClipVariant
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan clip variant: %w", err)
		}
		clips = append(clips, *c)
	}
	return clips, rows.Err()
}

