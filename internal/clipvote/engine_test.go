package clipvote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"moltstudio/internal/apperr"
	"moltstudio/internal/production"
	"moltstudio/internal/store"
	"moltstudio/internal/store/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
	t0      = time.Date(2026, 4, 10, 18, 0, 0, 0, time.UTC)
	policy  = production.RetryPolicy{MaxRetries: 3, Cooldown: 10 * time.Minute, AbandonAfter: 72 * time.Hour}
)

type episodeFixture struct {
	store   *memory.Store
	engine  *Engine
	now     time.Time
	series  store.Series
	episode store.Episode
	clips   []store.ClipVariant
}

// newEpisode seeds a one-episode video series whose clips rendered and whose
// voting window is open until t0+72h.
func newEpisode(t *testing.T, variants int) *episodeFixture {
	t.Helper()
	f := &episodeFixture{store: memory.New(), now: t0}
	f.store.SetClock(func() time.Time { return f.now })
	f.engine = NewEngine(f.store, policy, discard)
	f.engine.SetClock(func() time.Time { return f.now })

	ctx := context.Background()
	require.NoError(t, f.store.InTx(ctx, func(r store.Repository) error {
		f.series = store.Series{ID: uuid.New(), ScriptID: uuid.New(), Title: "Orbital Bakery", Medium: store.MediumVideo, Status: store.SeriesStatusInProduction, EpisodeCount: 1}
		if _, err := r.InsertSeries(ctx, &f.series); err != nil {
			return err
		}
		f.episode = store.Episode{ID: uuid.New(), SeriesID: f.series.ID, EpisodeNumber: 1, Status: store.EpisodeStatusProcessing}
		if err := r.InsertEpisode(ctx, &f.episode); err != nil {
			return err
		}
		for v := 1; v <= variants; v++ {
			c := store.ClipVariant{ID: uuid.New(), EpisodeID: f.episode.ID, VariantNumber: v, Status: store.ClipStatusPending}
			if err := r.InsertClipVariant(ctx, &c); err != nil {
				return err
			}
			url := fmt.Sprintf("https://cdn.example/variant-%d.mp4", v)
			if err := r.CompleteClip(ctx, c.ID, url); err != nil {
				return err
			}
			c.Status, c.VideoURL = store.ClipStatusCompleted, &url
			f.clips = append(f.clips, c)
		}
		ends := t0.Add(72 * time.Hour)
		f.episode.ClipVotingEndsAt = &ends
		return r.OpenClipVoting(ctx, f.episode.ID, ends)
	}))
	return f
}

func (f *episodeFixture) tip(t *testing.T, clipID uuid.UUID, session string, cents int64) *Tally {
	t.Helper()
	var tally *Tally
	require.NoError(t, f.store.InTx(context.Background(), func(r store.Repository) error {
		var err error
		tally, err = f.engine.RecordVote(context.Background(), r, clipID, session, cents)
		return err
	}))
	return tally
}

func TestRecordVote_OneVotePerSession(t *testing.T) {
	f := newEpisode(t, 2)
	clip := f.clips[0].ID

	first := f.tip(t, clip, "sess-a", 25)
	assert.True(t, first.FirstVote)
	assert.Equal(t, 1, first.Clip.VoteCount)
	assert.Equal(t, int64(25), first.Clip.TipTotal)
	assert.Equal(t, int64(25), first.Vote.TipAmountCents)

	second := f.tip(t, clip, "sess-a", 100)
	assert.False(t, second.FirstVote)
	assert.Equal(t, first.Vote.ID, second.Vote.ID)
	assert.Equal(t, 1, second.Clip.VoteCount)
	assert.Equal(t, int64(125), second.Clip.TipTotal)
	assert.Equal(t, int64(125), second.Vote.TipAmountCents)

	other := f.tip(t, clip, "sess-b", 10)
	assert.True(t, other.FirstVote)
	assert.Equal(t, 2, other.Clip.VoteCount)
	assert.Equal(t, int64(135), other.Clip.TipTotal)
}

func TestRecordVote_RejectsNonPositive(t *testing.T) {
	f := newEpisode(t, 1)
	err := f.store.InTx(context.Background(), func(r store.Repository) error {
		_, err := f.engine.RecordVote(context.Background(), r, f.clips[0].ID, "sess", 0)
		return err
	})
	assert.Error(t, err)
}

func TestCheckOpen(t *testing.T) {
	f := newEpisode(t, 1)
	ep, clip := f.episode, f.clips[0]

	assert.NoError(t, CheckOpen(&ep, &clip, t0.Add(time.Hour)))
	assert.ErrorIs(t, CheckOpen(&ep, &clip, t0.Add(72*time.Hour)), ErrVotingClosed)

	pending := clip
	pending.Status = store.ClipStatusPending
	assert.ErrorIs(t, CheckOpen(&ep, &pending, t0), ErrVotingClosed)

	noWindow := ep
	noWindow.ClipVotingEndsAt = nil
	assert.ErrorIs(t, CheckOpen(&noWindow, &clip, t0), ErrVotingClosed)

	done := ep
	done.Status = store.EpisodeStatusCompleted
	assert.ErrorIs(t, CheckOpen(&done, &clip, t0), ErrVotingClosed)
}

func TestSelectWinner(t *testing.T) {
	tests := []struct {
		name string
		tips func(f *episodeFixture, t *testing.T)
		want int // variant number
	}{
		{
			name: "highest tip total",
			tips: func(f *episodeFixture, t *testing.T) {
				f.tip(t, f.clips[0].ID, "a", 50)
				f.tip(t, f.clips[2].ID, "b", 75)
			},
			want: 3,
		},
		{
			name: "tie broken by vote count",
			tips: func(f *episodeFixture, t *testing.T) {
				f.tip(t, f.clips[0].ID, "a", 100)
				f.tip(t, f.clips[1].ID, "b", 50)
				f.tip(t, f.clips[1].ID, "c", 50)
			},
			want: 2,
		},
		{
			name: "full tie goes to the earliest variant",
			tips: func(f *episodeFixture, t *testing.T) {
				f.tip(t, f.clips[2].ID, "a", 30)
				f.tip(t, f.clips[1].ID, "b", 30)
			},
			want: 2,
		},
		{
			name: "no tips",
			tips: func(*episodeFixture, *testing.T) {},
			want: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEpisode(t, 3)
			tt.tips(f, t)

			ctx := context.Background()
			var winner *store.ClipVariant
			require.NoError(t, f.store.InTx(ctx, func(r store.Repository) error {
				var err error
				winner, err = f.engine.SelectWinner(ctx, r, f.episode.ID)
				return err
			}))
			assert.Equal(t, tt.want, winner.VariantNumber)

			_, clips, err := f.engine.Leaderboard(ctx, f.episode.ID)
			require.NoError(t, err)
			selected := 0
			for _, c := range clips {
				if c.IsSelected {
					selected++
					assert.Equal(t, winner.ID, c.ID)
				}
			}
			assert.Equal(t, 1, selected)
		})
	}
}

func TestSelectWinner_CompletesEpisodeAndSeries(t *testing.T) {
	f := newEpisode(t, 2)
	f.tip(t, f.clips[1].ID, "a", 40)
	ctx := context.Background()

	var first, again *store.ClipVariant
	require.NoError(t, f.store.InTx(ctx, func(r store.Repository) error {
		var err error
		first, err = f.engine.SelectWinner(ctx, r, f.episode.ID)
		return err
	}))

	require.NoError(t, f.store.InTx(ctx, func(r store.Repository) error {
		ep, err := r.GetEpisode(ctx, f.episode.ID)
		require.NoError(t, err)
		assert.Equal(t, store.EpisodeStatusCompleted, ep.Status)
		require.NotNil(t, ep.VideoURL)
		assert.Equal(t, *f.clips[1].VideoURL, *ep.VideoURL)

		series, err := r.GetSeries(ctx, f.series.ID)
		require.NoError(t, err)
		assert.Equal(t, store.SeriesStatusCompleted, series.Status)

		again, err = f.engine.SelectWinner(ctx, r, f.episode.ID)
		return err
	}))
	assert.Equal(t, first.ID, again.ID)
}

func TestCloseExpiredWindows(t *testing.T) {
	f := newEpisode(t, 2)
	ctx := context.Background()

	n, err := f.engine.CloseExpiredWindows(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = t0.Add(72 * time.Hour)
	n, err = f.engine.CloseExpiredWindows(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.engine.CloseExpiredWindows(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLeaderboard_UnknownEpisode(t *testing.T) {
	f := newEpisode(t, 1)
	_, _, err := f.engine.Leaderboard(context.Background(), uuid.New())

	var ae *apperr.AppError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, http.StatusNotFound, ae.HTTPStatus)
}
