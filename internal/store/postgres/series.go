package postgres

import (
	"context"
	"fmt"
	"time"

	"moltstudio/internal/store"

	"github.com/google/uuid"
)

const seriesColumns = `id, script_id, title, medium, status, episode_count, poster_url, greenlit_at, completed_at, created_at`

const episodeColumns = `id, series_id, episode_number, title, status, audio_url, video_url, tts_retry_count,
	tts_error_message, last_failed_at, failure_terminal, clip_voting_ends_at, completed_at, created_at`

func scanSeries(row rowScanner) (*store.Series, error) {
	var s store.Series
	err := row.Scan(&s.ID, &s.ScriptID, &s.Title, &s.Medium, &s.Status, &s.EpisodeCount,
		&s.PosterURL, &s.GreenlitAt, &s.CompletedAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanEpisode(row rowScanner) (*store.Episode, error) {
	var e store.Episode
	err := row.Scan(&e.ID, &e.SeriesID, &e.EpisodeNumber, &e.Title, &e.Status, &e.AudioURL,
		&e.VideoURL, &e.TTSRetryCount, &e.TTSErrorMessage, &e.LastFailedAt, &e.FailureTerminal,
		&e.ClipVotingEndsAt, &e.CompletedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// InsertSeries creates a series. The unique script_id makes concurrent
// triggers for the same script collapse into a single row.
func (r *repository) InsertSeries(ctx context.Context, s *store.Series) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO series (id, script_id, title, medium, status, episode_count, poster_url, greenlit_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (script_id) DO NOTHING
	`, s.ID, s.ScriptID, s.Title, s.Medium, s.Status, s.EpisodeCount, s.PosterURL, s.GreenlitAt)
	return changed(res, err)
}

// GetSeries retrieves a series by ID.
func (r *repository) GetSeries(ctx context.Context, id uuid.UUID) (*store.Series, error) {
	query := fmt.Sprintf(`SELECT %s FROM series WHERE id = $1`, seriesColumns)
	s, err := scanSeries(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translate(err)
	}
	return s, nil
}

// GetSeriesByScript retrieves the series produced from a script.
func (r *repository) GetSeriesByScript(ctx context.Context, scriptID uuid.UUID) (*store.Series, error) {
	query := fmt.Sprintf(`SELECT %s FROM series WHERE script_id = $1`, seriesColumns)
	s, err := scanSeries(r.db.QueryRowContext(ctx, query, scriptID))
	if err != nil {
		return nil, translate(err)
	}
	return s, nil
}

// SetSeriesStatus updates the status of a series.
func (r *repository) SetSeriesStatus(ctx context.Context, id uuid.UUID, status store.SeriesStatus, completedAt *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE series SET status = $1, completed_at = $2 WHERE id = $3
	`, status, completedAt, id)
	return expectRow(res, err)
}

// InsertEpisode creates an episode.
func (r *repository) InsertEpisode(ctx context.Context, e *store.Episode) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO episodes (id, series_id, episode_number, title, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, e.ID, e.SeriesID, e.EpisodeNumber, e.Title, e.Status).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert episode %d: %w", e.EpisodeNumber, translate(err))
	}
	return nil
}

// GetEpisode retrieves an episode by ID.
func (r *repository) GetEpisode(ctx context.Context, id uuid.UUID) (*store.Episode, error) {
	query := fmt.Sprintf(`SELECT %s FROM episodes WHERE id = $1`, episodeColumns)
	e, err := scanEpisode(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translate(err)
	}
	return e, nil
}

// LockEpisode retrieves an episode and holds its row lock until the transaction ends.
func (r *repository) LockEpisode(ctx context.Context, id uuid.UUID) (*store.Episode, error) {
	query := fmt.Sprintf(`SELECT %s FROM episodes WHERE id = $1 FOR UPDATE`, episodeColumns)
	e, err := scanEpisode(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translate(err)
	}
	return e, nil
}

// ListEpisodes returns the episodes of a series in order.
func (r *repository) ListEpisodes(ctx context.Context, seriesID uuid.UUID) ([]store.Episode, error) {
	query := fmt.Sprintf(`SELECT %s FROM episodes WHERE series_id = $1 ORDER BY episode_number ASC`, episodeColumns)
	return r.queryEpisodes(ctx, query, seriesID)
}

// MarkEpisodeProcessing flips an episode to processing.
func (r *repository) MarkEpisodeProcessing(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE episodes SET status = $1 WHERE id = $2
	`, store.EpisodeStatusProcessing, id)
	return expectRow(res, err)
}

// CompleteEpisode stores the produced media and marks the episode completed.
func (r *repository) CompleteEpisode(ctx context.Context, id uuid.UUID, audioURL, videoURL *string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE episodes
		SET status = $1,
		    audio_url = COALESCE($2, audio_url),
		    video_url = COALESCE($3, video_url),
		    tts_error_message = NULL,
		    completed_at = $4
		WHERE id = $5
	`, store.EpisodeStatusCompleted, audioURL, videoURL, at, id)
	return expectRow(res, err)
}

// RecordEpisodeFailure counts a failed attempt against the retry budget.
func (r *repository) RecordEpisodeFailure(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		UPDATE episodes
		SET tts_retry_count = tts_retry_count + 1,
		    tts_error_message = $1,
		    last_failed_at = $2
		WHERE id = $3
		RETURNING tts_retry_count
	`, errMsg, at, id).Scan(&count)
	if err != nil {
		return 0, translate(err)
	}
	return count, nil
}

// FailEpisode marks an episode failed.
func (r *repository) FailEpisode(ctx context.Context, id uuid.UUID, f store.Failure) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE episodes
		SET status = $1,
		    tts_error_message = $2,
		    last_failed_at = $3,
		    failure_terminal = $4
		WHERE id = $5
	`, store.EpisodeStatusFailed, f.Message, f.At, f.Terminal, id)
	return expectRow(res, err)
}

// RequeueEpisode moves a failed episode back to pending for another attempt.
func (r *repository) RequeueEpisode(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE episodes SET status = $1 WHERE id = $2 AND status = $3
	`, store.EpisodeStatusPending, id, store.EpisodeStatusFailed)
	return changed(res, err)
}

// ResetEpisode moves a failed episode back to pending with a fresh retry budget.
func (r *repository) ResetEpisode(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE episodes
		SET status = $1, tts_retry_count = 0, tts_error_message = NULL,
		    last_failed_at = NULL, failure_terminal = FALSE
		WHERE id = $2 AND status = $3
	`, store.EpisodeStatusPending, id, store.EpisodeStatusFailed)
	return changed(res, err)
}

// OpenClipVoting starts the clip voting window of an episode.
func (r *repository) OpenClipVoting(ctx context.Context, id uuid.UUID, endsAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE episodes SET clip_voting_ends_at = $1 WHERE id = $2
	`, endsAt, id)
	return expectRow(res, err)
}

// ListEpisodesDueForSelection returns episodes whose clip voting window closed
// without a winner being picked.
func (r *repository) ListEpisodesDueForSelection(ctx context.Context, now time.Time, limit int) ([]store.Episode, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM episodes
		WHERE clip_voting_ends_at IS NOT NULL
		  AND clip_voting_ends_at <= $1
		  AND status <> $2
		ORDER BY clip_voting_ends_at ASC
		LIMIT $3
	`, episodeColumns)
	return r.queryEpisodes(ctx, query, now, store.EpisodeStatusCompleted, limit)
}

// ListRetryableFailedEpisodes returns non-terminal failed episodes of audio series.
func (r *repository) ListRetryableFailedEpisodes(ctx context.Context, limit int) ([]store.Episode, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM episodes e
		WHERE e.status = $1
		  AND e.failure_terminal = FALSE
		  AND EXISTS (SELECT 1 FROM series s WHERE s.id = e.series_id AND s.medium = $2)
		ORDER BY e.last_failed_at ASC NULLS FIRST
		LIMIT $3
	`, episodeColumns)
	return r.queryEpisodes(ctx, query, store.EpisodeStatusFailed, store.MediumAudio, limit)
}

func (r *repository) queryEpisodes(ctx context.Context, query string, args ...interface{}) ([]store.Episode, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}
	defer rows.Close()

	var episodes []store.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		episodes = append(episodes, *e)
	}
	return episodes, rows.Err()
}
