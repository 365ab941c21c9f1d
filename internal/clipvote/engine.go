// Package clipvote tallies tip-votes on clip variants and picks the final cut
// of each video episode.
package clipvote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"moltstudio/internal/apperr"
	"moltstudio/internal/production"
	"moltstudio/internal/store"

	"github.com/google/uuid"
)

var (
	// ErrVotingClosed is returned when a clip cannot receive tips.
	ErrVotingClosed = errors.New("clip is not open for voting")

	// ErrNoCandidates is returned when an episode has no rendered clip to select.
	ErrNoCandidates = errors.New("episode has no completed clip variants")
)

// Tally is the state of a vote and its clip after a tip was recorded.
type Tally struct {
	Vote      store.Vote
	Clip      store.ClipVariant
	FirstVote bool
}

// Engine records tip-votes and selects winning clips.
type Engine struct {
	store  store.Store
	policy production.RetryPolicy
	log    *slog.Logger
	now    func() time.Time
}

// NewEngine returns an engine. policy is used to roll series up after a selection.
func NewEngine(st store.Store, policy production.RetryPolicy, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: st, policy: policy, log: log, now: time.Now}
}

// SetClock overrides time.Now.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// CheckOpen reports whether clip accepts tips at now: the clip rendered and
// its episode's voting window is open.
func CheckOpen(episode *store.Episode, clip *store.ClipVariant, now time.Time) error {
	if clip.Status != store.ClipStatusCompleted {
		return fmt.Errorf("%w: clip %s is %s", ErrVotingClosed, clip.ID, clip.Status)
	}
	if episode.Status == store.EpisodeStatusCompleted || episode.ClipVotingEndsAt == nil {
		return fmt.Errorf("%w: episode %s has no open window", ErrVotingClosed, episode.ID)
	}
	if !now.Before(*episode.ClipVotingEndsAt) {
		return fmt.Errorf("%w: window ended at %s", ErrVotingClosed, episode.ClipVotingEndsAt.Format(time.RFC3339))
	}
	return nil
}

// RecordVote applies a settled tip inside the caller's transaction. The first
// tip of a session counts one vote; later tips only add to the tip total.
func (e *Engine) RecordVote(ctx context.Context, r store.Repository, clipID uuid.UUID, sessionID string, cents int64) (*Tally, error) {
	if cents <= 0 {
		return nil, fmt.Errorf("tip amount must be positive, got %d", cents)
	}
	if _, err := r.LockClipVariant(ctx, clipID); err != nil {
		return nil, fmt.Errorf("lock clip: %w", err)
	}

	now := e.now()
	first := false
	vote, err := r.GetVote(ctx, sessionID, clipID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		first = true
		vote = &store.Vote{
			ID:             uuid.New(),
			SessionID:      sessionID,
			ClipVariantID:  clipID,
			TipAmountCents: cents,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := r.InsertVote(ctx, vote); err != nil {
			return nil, fmt.Errorf("insert vote: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("get vote: %w", err)
	default:
		if err := r.AddToVote(ctx, vote.ID, cents, now); err != nil {
			return nil, fmt.Errorf("update vote: %w", err)
		}
		vote.TipAmountCents += cents
		vote.UpdatedAt = now
	}

	delta := 0
	if first {
		delta = 1
	}
	if err := r.ApplyTip(ctx, clipID, delta, cents); err != nil {
		return nil, fmt.Errorf("apply tip: %w", err)
	}
	clip, err := r.GetClipVariant(ctx, clipID)
	if err != nil {
		return nil, err
	}
	return &Tally{Vote: *vote, Clip: *clip, FirstVote: first}, nil
}

// Leaderboard returns the variants of an episode, best first.
func (e *Engine) Leaderboard(ctx context.Context, episodeID uuid.UUID) (*store.Episode, []store.ClipVariant, error) {
	var (
		episode *store.Episode
		clips   []store.ClipVariant
	)
	err := e.store.InTx(ctx, func(r store.Repository) error {
		var err error
		episode, err = r.GetEpisode(ctx, episodeID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("episode")
		}
		if err != nil {
			return err
		}
		clips, err = r.ListClipVariants(ctx, episodeID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return episode, clips, nil
}

// SelectWinner marks the top rendered variant selected, completes the episode
// with its video and rolls the series up. Selecting again returns the clip
// already chosen.
func (e *Engine) SelectWinner(ctx context.Context, r store.Repository, episodeID uuid.UUID) (*store.ClipVariant, error) {
	episode, err := r.LockEpisode(ctx, episodeID)
	if err != nil {
		return nil, fmt.Errorf("lock episode: %w", err)
	}
	clips, err := r.ListClipVariants(ctx, episodeID)
	if err != nil {
		return nil, err
	}

	if episode.Status == store.EpisodeStatusCompleted {
		for i := range clips {
			if clips[i].IsSelected {
				return &clips[i], nil
			}
		}
	}

	var winner *store.ClipVariant
	for i := range clips {
		if clips[i].Status == store.ClipStatusCompleted && clips[i].VideoURL != nil {
			winner = &clips[i]
			break
		}
	}
	if winner == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCandidates, episodeID)
	}

	now := e.now()
	if err := r.SelectClip(ctx, episodeID, winner.ID); err != nil {
		return nil, fmt.Errorf("select clip: %w", err)
	}
	if err := r.CompleteEpisode(ctx, episodeID, nil, winner.VideoURL, now); err != nil {
		return nil, fmt.Errorf("complete episode: %w", err)
	}
	if _, err := production.RollupSeries(ctx, r, episode.SeriesID, e.policy, now); err != nil {
		return nil, fmt.Errorf("roll up series: %w", err)
	}
	winner.IsSelected = true
	return winner, nil
}

// CloseExpiredWindows selects winners for every episode whose voting window
// has ended. Each episode commits on its own so one bad episode does not
// hold back the rest.
func (e *Engine) CloseExpiredWindows(ctx context.Context, limit int) (int, error) {
	var due []store.Episode
	err := e.store.InTx(ctx, func(r store.Repository) error {
		var err error
		due, err = r.ListEpisodesDueForSelection(ctx, e.now(), limit)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list expired windows: %w", err)
	}

	closed := 0
	var errs []error
	for _, ep := range due {
		var winner *store.ClipVariant
		err := e.store.InTx(ctx, func(r store.Repository) error {
			var err error
			winner, err = e.SelectWinner(ctx, r, ep.ID)
			return err
		})
		if err != nil {
			e.log.Error("clip selection failed", "episode_id", ep.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		closed++
		e.log.Info("clip selected",
			"episode_id", ep.ID,
			"clip_variant_id", winner.ID,
			"tip_total_cents", winner.TipTotal,
			"vote_count", winner.VoteCount,
		)
	}
	return closed, errors.Join(errs...)
}
