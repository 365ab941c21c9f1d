package production

import (
	"context"
	"errors"
	"time"

	"moltstudio/internal/store"

	"github.com/google/uuid"
)

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// RollupSeries derives the series status from its episodes: completed once
// every episode is completed, failed when any failed episode is exhausted,
// in production otherwise. It writes only when the status changes.
func RollupSeries(ctx context.Context, r store.Repository, seriesID uuid.UUID, policy RetryPolicy, now time.Time) (store.SeriesStatus, error) {
	series, err := r.GetSeries(ctx, seriesID)
	if err != nil {
		return "", err
	}
	episodes, err := r.ListEpisodes(ctx, seriesID)
	if err != nil {
		return "", err
	}

	next := store.SeriesStatusInProduction
	completed := 0
	for _, ep := range episodes {
		switch ep.Status {
		case store.EpisodeStatusCompleted:
			completed++
		case store.EpisodeStatusFailed:
			if policy.Exhausted(ep.FailureTerminal, ep.TTSRetryCount, ep.LastFailedAt, now) {
				next = store.SeriesStatusFailed
			}
		}
	}
	if len(episodes) > 0 && completed == len(episodes) {
		next = store.SeriesStatusCompleted
	}

	if next == series.Status {
		return next, nil
	}
	var completedAt *time.Time
	if next == store.SeriesStatusCompleted {
		completedAt = &now
	}
	return next, r.SetSeriesStatus(ctx, seriesID, next, completedAt)
}

// clipSettled reports whether a clip will not change status without operator action.
func clipSettled(c store.ClipVariant, policy RetryPolicy, now time.Time) bool {
	switch c.Status {
	case store.ClipStatusCompleted:
		return true
	case store.ClipStatusFailed:
		return policy.Exhausted(c.FailureTerminal, c.RetryCount, c.LastFailedAt, now)
	}
	return false
}

// settleEpisodeClips opens clip voting once every variant has settled and at
// least one rendered, or fails the episode when none did.
func settleEpisodeClips(ctx context.Context, r store.Repository, episodeID uuid.UUID, policy RetryPolicy, window time.Duration, now time.Time) error {
	episode, err := r.LockEpisode(ctx, episodeID)
	if err != nil {
		return err
	}
	if episode.Status == store.EpisodeStatusCompleted || episode.Status == store.EpisodeStatusFailed || episode.ClipVotingEndsAt != nil {
		return nil
	}

	clips, err := r.ListClipVariants(ctx, episodeID)
	if err != nil {
		return err
	}
	rendered := 0
	for _, c := range clips {
		if !clipSettled(c, policy, now) {
			return nil
		}
		if c.Status == store.ClipStatusCompleted {
			rendered++
		}
	}

	if rendered > 0 {
		return r.OpenClipVoting(ctx, episodeID, now.Add(window))
	}
	return r.FailEpisode(ctx, episodeID, store.Failure{
		Message:  "all clip variants failed",
		Terminal: true,
		At:       now,
	})
}
