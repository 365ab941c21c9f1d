package production

import (
	"context"
	"fmt"
	"time"

	"moltstudio/internal/store"

	"github.com/google/uuid"
)

// SweepResult counts the decisions of one auto-retry sweep.
type SweepResult struct {
	Eligible          int `json:"eligible"`
	TooYoung          int `json:"too_young"`
	MaxRetriesReached int `json:"max_retries_reached"`
	TooOld            int `json:"too_old"`
	Requeued          int `json:"requeued"`
}

func (r *SweepResult) add(d Decision) {
	switch d {
	case DecisionEligible:
		r.Eligible++
	case DecisionTooYoung:
		r.TooYoung++
	case DecisionMaxRetriesReached:
		r.MaxRetriesReached++
	case DecisionTooOld:
		r.TooOld++
	}
}

// ProcessPendingProductions re-enqueues failed episodes and clips that the
// retry policy allows, and rolls up work it has given up on.
func (s *Service) ProcessPendingProductions(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.now()

	err := s.store.InTx(ctx, func(r store.Repository) error {
		episodes, err := r.ListRetryableFailedEpisodes(ctx, s.cfg.SweepLimit)
		if err != nil {
			return err
		}
		for _, ep := range episodes {
			d := s.cfg.Retry.Eligibility(true, ep.TTSRetryCount, ep.LastFailedAt, now)
			res.add(d)
			switch d {
			case DecisionEligible:
				requeued, err := s.requeueEpisode(ctx, r, ep, false)
				if err != nil {
					return err
				}
				if requeued {
					res.Requeued++
				}
			case DecisionMaxRetriesReached, DecisionTooOld:
				if _, err := RollupSeries(ctx, r, ep.SeriesID, s.cfg.Retry, now); err != nil {
					return err
				}
			}
		}

		clips, err := r.ListRetryableFailedClips(ctx, s.cfg.SweepLimit)
		if err != nil {
			return err
		}
		for _, c := range clips {
			d := s.cfg.Retry.Eligibility(true, c.RetryCount, c.LastFailedAt, now)
			res.add(d)
			switch d {
			case DecisionEligible:
				requeued, err := s.requeueClip(ctx, r, c, false)
				if err != nil {
					return err
				}
				if requeued {
					res.Requeued++
				}
			case DecisionMaxRetriesReached, DecisionTooOld:
				if err := s.settleClipOwner(ctx, r, c); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return SweepResult{}, fmt.Errorf("auto-retry sweep: %w", err)
	}

	s.metrics.SweepDecisions(ctx, string(DecisionEligible), res.Eligible)
	s.metrics.SweepDecisions(ctx, string(DecisionTooYoung), res.TooYoung)
	s.metrics.SweepDecisions(ctx, string(DecisionMaxRetriesReached), res.MaxRetriesReached)
	s.metrics.SweepDecisions(ctx, string(DecisionTooOld), res.TooOld)
	s.log.Info("auto-retry sweep finished",
		"eligible", res.Eligible,
		"too_young", res.TooYoung,
		"max_retries_reached", res.MaxRetriesReached,
		"too_old", res.TooOld,
		"requeued", res.Requeued,
	)
	return res, nil
}

func (s *Service) settleClipOwner(ctx context.Context, r store.Repository, c store.ClipVariant) error {
	now := s.now()
	if err := settleEpisodeClips(ctx, r, c.EpisodeID, s.cfg.Retry, s.cfg.ClipWindow, now); err != nil {
		return err
	}
	ep, err := r.GetEpisode(ctx, c.EpisodeID)
	if err != nil {
		return err
	}
	_, err = RollupSeries(ctx, r, ep.SeriesID, s.cfg.Retry, now)
	return err
}

// requeueEpisode moves a failed audio episode back to pending and enqueues a
// fresh job for it. reset also clears the failure history.
func (s *Service) requeueEpisode(ctx context.Context, r store.Repository, ep store.Episode, reset bool) (bool, error) {
	var (
		moved bool
		err   error
	)
	if reset {
		moved, err = r.ResetEpisode(ctx, ep.ID)
	} else {
		moved, err = r.RequeueEpisode(ctx, ep.ID)
	}
	if err != nil || !moved {
		return false, err
	}

	series, err := r.GetSeries(ctx, ep.SeriesID)
	if err != nil {
		return false, err
	}
	if series.Medium == store.MediumVideo {
		return true, nil
	}
	text, err := narrationFor(ctx, r, series, ep.EpisodeNumber)
	if err != nil {
		return false, err
	}
	return true, enqueueAudio(ctx, r, series.ID, &ep, text)
}

// requeueClip moves a failed clip back to pending and enqueues a fresh job for it.
func (s *Service) requeueClip(ctx context.Context, r store.Repository, c store.ClipVariant, reset bool) (bool, error) {
	var (
		moved bool
		err   error
	)
	if reset {
		moved, err = r.ResetClip(ctx, c.ID)
	} else {
		moved, err = r.RequeueClip(ctx, c.ID)
	}
	if err != nil || !moved {
		return false, err
	}

	ep, err := r.GetEpisode(ctx, c.EpisodeID)
	if err != nil {
		return false, err
	}
	return true, enqueueClip(ctx, r, ep.SeriesID, ep.EpisodeNumber, &c)
}

// RequeueStale returns abandoned running jobs to the queue. A job is
// abandoned when it has not heartbeated for StaleAfter. The lost run counts
// as an attempt against both the job and its owner; jobs out of attempts
// fail their owner as retryable.
func (s *Service) RequeueStale(ctx context.Context) (int, error) {
	now := s.now()
	cutoff := now.Add(-s.cfg.StaleAfter)
	var ids []uuid.UUID

	err := s.store.InTx(ctx, func(r store.Repository) error {
		stale, err := r.ListStaleJobs(ctx, cutoff, s.cfg.SweepLimit)
		if err != nil {
			return err
		}
		for _, job := range stale {
			ids = append(ids, job.ID)
			msg := fmt.Sprintf("worker stopped heartbeating; no sign of progress since %s", cutoff.Format(time.RFC3339))
			retries, err := recordOwnerFailure(ctx, r, job, msg, now)
			if err != nil {
				return err
			}
			if job.AttemptCount+1 < s.cfg.MaxAttempts && retries < s.cfg.Retry.MaxRetries {
				if err := r.RetryJob(ctx, job.ID, msg, now); err != nil {
					return err
				}
				continue
			}
			if err := r.FailJob(ctx, job.ID, msg, now); err != nil {
				return err
			}
			if err := s.failOwner(ctx, r, job, store.Failure{Message: msg, At: now}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	if len(ids) > 0 {
		s.log.Warn("requeued stale jobs", "count", len(ids), "job_ids", ids, "stale_after", s.cfg.StaleAfter)
	}
	return len(ids), nil
}
