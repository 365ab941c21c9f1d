package production

import (
	"context"
	"errors"
	"fmt"

	"moltstudio/internal/apperr"
	"moltstudio/internal/screenplay"
	"moltstudio/internal/store"

	"github.com/google/uuid"
)

// ResetResult describes what an operator reset changed.
type ResetResult struct {
	EpisodesReset int                `json:"episodes_reset"`
	ClipsReset    int                `json:"clips_reset"`
	SeriesStatus  store.SeriesStatus `json:"series_status"`
}

// ResetFailedEpisode clears the failure state of an episode, enqueues new work
// for it and moves a failed series back into production. Resetting an episode
// that is not failed changes nothing.
func (s *Service) ResetFailedEpisode(ctx context.Context, episodeID uuid.UUID) (*ResetResult, error) {
	res := &ResetResult{}
	err := s.store.InTx(ctx, func(r store.Repository) error {
		ep, err := r.LockEpisode(ctx, episodeID)
		if isNotFound(err) {
			return apperr.NotFound("episode")
		}
		if err != nil {
			return err
		}
		series, err := r.GetSeries(ctx, ep.SeriesID)
		if err != nil {
			return err
		}
		if err := s.resetEpisode(ctx, r, series, *ep, res); err != nil {
			return err
		}
		return s.reopenSeries(ctx, r, series, res)
	})
	if err != nil {
		return nil, wrapReset(err)
	}
	s.log.Info("episode reset", "episode_id", episodeID, "episodes_reset", res.EpisodesReset, "clips_reset", res.ClipsReset)
	return res, nil
}

// ResetFailedSeries resets every failed episode of a series.
func (s *Service) ResetFailedSeries(ctx context.Context, seriesID uuid.UUID) (*ResetResult, error) {
	res := &ResetResult{}
	err := s.store.InTx(ctx, func(r store.Repository) error {
		series, err := r.GetSeries(ctx, seriesID)
		if isNotFound(err) {
			return apperr.NotFound("series")
		}
		if err != nil {
			return err
		}
		episodes, err := r.ListEpisodes(ctx, seriesID)
		if err != nil {
			return err
		}
		for _, ep := range episodes {
			if err := s.resetEpisode(ctx, r, series, ep, res); err != nil {
				return err
			}
		}
		return s.reopenSeries(ctx, r, series, res)
	})
	if err != nil {
		return nil, wrapReset(err)
	}
	s.log.Info("series reset", "series_id", seriesID, "episodes_reset", res.EpisodesReset, "clips_reset", res.ClipsReset)
	return res, nil
}

func (s *Service) resetEpisode(ctx context.Context, r store.Repository, series *store.Series, ep store.Episode, res *ResetResult) error {
	if series.Medium == store.MediumVideo && ep.ClipVotingEndsAt == nil && ep.Status != store.EpisodeStatusCompleted {
		clips, err := r.ListClipVariants(ctx, ep.ID)
		if err != nil {
			return err
		}
		for _, c := range clips {
			if c.Status != store.ClipStatusFailed {
				continue
			}
			ok, err := s.requeueClip(ctx, r, c, true)
			if err != nil {
				return err
			}
			if ok {
				res.ClipsReset++
			}
		}
	}

	if ep.Status != store.EpisodeStatusFailed {
		return nil
	}
	ok, err := s.requeueEpisode(ctx, r, ep, true)
	if err != nil {
		return err
	}
	if ok {
		res.EpisodesReset++
	}
	return nil
}

func (s *Service) reopenSeries(ctx context.Context, r store.Repository, series *store.Series, res *ResetResult) error {
	res.SeriesStatus = series.Status
	if series.Status != store.SeriesStatusFailed || res.EpisodesReset+res.ClipsReset == 0 {
		return nil
	}
	res.SeriesStatus = store.SeriesStatusInProduction
	return r.SetSeriesStatus(ctx, series.ID, store.SeriesStatusInProduction, nil)
}

func wrapReset(err error) error {
	var ae *apperr.AppError
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, screenplay.ErrInvalid) {
		return apperr.Validation(screenplay.ErrInvalid.Error()).WithCause(err)
	}
	return fmt.Errorf("reset: %w", err)
}
