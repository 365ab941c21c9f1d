package production

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"moltstudio/internal/apperr"
	"moltstudio/internal/generation"
	"moltstudio/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queuedJobs(f *fixture) int {
	n := 0
	for _, j := range f.store.Jobs() {
		if j.Status == store.JobStatusQueued {
			n++
		}
	}
	return n
}

func TestProcessPendingProductions_RetriesUntilExhausted(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 1})
	ctx := context.Background()
	series := f.produce(t, audioPayload(1))
	f.audio.errs = []error{
		generation.Retryable("tts returned 503"),
		generation.Retryable("tts returned 503"),
		generation.Retryable("tts returned 503"),
	}

	require.Equal(t, []Outcome{OutcomeFailed}, f.runAll(t))

	res, err := f.svc.ProcessPendingProductions(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{TooYoung: 1}, res)
	assert.Zero(t, queuedJobs(f))

	for i := 2; i <= 3; i++ {
		f.clock.Advance(11 * time.Minute)
		res, err = f.svc.ProcessPendingProductions(ctx)
		require.NoError(t, err)
		assert.Equal(t, SweepResult{Eligible: 1, Requeued: 1}, res)
		assert.Equal(t, 1, queuedJobs(f))
		assert.Equal(t, store.EpisodeStatusPending, f.episodes(t, series.ID)[0].Status)

		require.Equal(t, []Outcome{OutcomeFailed}, f.runAll(t))
		assert.Equal(t, i, f.episodes(t, series.ID)[0].TTSRetryCount)
	}
	assert.Equal(t, store.SeriesStatusFailed, f.series(t, series.ID).Status)

	f.clock.Advance(11 * time.Minute)
	res, err = f.svc.ProcessPendingProductions(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{MaxRetriesReached: 1}, res)
	assert.Zero(t, queuedJobs(f))
}

func TestProcessPendingProductions_AbandonsOldFailures(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 1})
	ctx := context.Background()
	series := f.produce(t, audioPayload(2))
	f.audio.errs = []error{generation.Retryable("connection reset")}

	f.runAll(t)
	assert.Equal(t, store.SeriesStatusInProduction, f.series(t, series.ID).Status)

	f.clock.Advance(73 * time.Hour)
	res, err := f.svc.ProcessPendingProductions(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{TooOld: 1}, res)
	assert.Equal(t, store.SeriesStatusFailed, f.series(t, series.ID).Status)
}

func TestProcessPendingProductions_SkipsTerminalFailures(t *testing.T) {
	f := newFixture(t, Config{})
	f.produce(t, audioPayload(1))
	f.audio.errs = []error{generation.Terminal("voice not found")}
	f.runAll(t)

	f.clock.Advance(time.Hour)
	res, err := f.svc.ProcessPendingProductions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
}

func TestProcessPendingProductions_RequeuesFailedClip(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 1})
	series := f.produce(t, videoPayload(1))
	f.clips.fail[1] = generation.Retryable("gpu out of memory")

	f.runAll(t)
	ep := f.episodes(t, series.ID)[0]
	assert.Nil(t, ep.ClipVotingEndsAt, "voting waits for the failed clip to settle")

	delete(f.clips.fail, 1)
	f.clock.Advance(15 * time.Minute)
	res, err := f.svc.ProcessPendingProductions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Requeued)

	assert.Equal(t, []Outcome{OutcomeCompleted}, f.runAll(t))
	ep = f.episodes(t, series.ID)[0]
	require.NotNil(t, ep.ClipVotingEndsAt)
	for _, c := range f.clipsOf(t, ep.ID) {
		assert.Equal(t, store.ClipStatusCompleted, c.Status)
	}
}

func TestResetFailedEpisode_RestartsProduction(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 1, Retry: RetryPolicy{MaxRetries: 1}})
	ctx := context.Background()
	series := f.produce(t, audioPayload(1))
	f.audio.errs = []error{generation.Retryable("tts returned 500")}

	f.runAll(t)
	ep := f.episodes(t, series.ID)[0]
	require.Equal(t, store.EpisodeStatusFailed, ep.Status)
	require.Equal(t, store.SeriesStatusFailed, f.series(t, series.ID).Status)

	res, err := f.svc.ResetFailedEpisode(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, &ResetResult{EpisodesReset: 1, SeriesStatus: store.SeriesStatusInProduction}, res)

	ep = f.episodes(t, series.ID)[0]
	assert.Equal(t, store.EpisodeStatusPending, ep.Status)
	assert.Zero(t, ep.TTSRetryCount)
	assert.Nil(t, ep.TTSErrorMessage)
	assert.Nil(t, ep.LastFailedAt)
	assert.Equal(t, store.SeriesStatusInProduction, f.series(t, series.ID).Status)
	assert.Equal(t, 1, queuedJobs(f))

	assert.Equal(t, []Outcome{OutcomeCompleted}, f.runAll(t))
	assert.Equal(t, store.SeriesStatusCompleted, f.series(t, series.ID).Status)
}

func TestResetFailedEpisode_NoopWhenNotFailed(t *testing.T) {
	f := newFixture(t, Config{})
	series := f.produce(t, audioPayload(1))
	ep := f.episodes(t, series.ID)[0]

	res, err := f.svc.ResetFailedEpisode(context.Background(), ep.ID)
	require.NoError(t, err)
	assert.Equal(t, &ResetResult{SeriesStatus: store.SeriesStatusPending}, res)
	assert.Equal(t, 1, queuedJobs(f))
}

func TestResetFailedEpisode_UnknownEpisode(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.svc.ResetFailedEpisode(context.Background(), uuid.New())
	var ae *apperr.AppError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, http.StatusNotFound, ae.HTTPStatus)
}

func TestResetFailedSeries_ResetsFailedClips(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	series := f.produce(t, videoPayload(2))
	for v := 1; v <= DefaultVariantsPerEpisode; v++ {
		f.clips.fail[v] = generation.Terminal("content filter")
	}
	f.runAll(t)
	require.Equal(t, store.SeriesStatusFailed, f.series(t, series.ID).Status)

	f.clips.fail = map[int]error{}
	res, err := f.svc.ResetFailedSeries(ctx, series.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.EpisodesReset)
	assert.Equal(t, 2*DefaultVariantsPerEpisode, res.ClipsReset)
	assert.Equal(t, store.SeriesStatusInProduction, res.SeriesStatus)

	f.runAll(t)
	for _, ep := range f.episodes(t, series.ID) {
		assert.NotNil(t, ep.ClipVotingEndsAt)
	}
}
