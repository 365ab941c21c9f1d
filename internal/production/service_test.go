package production

import (
	"context"
	"strings"
	"testing"
	"time"

	"moltstudio/internal/generation"
	"moltstudio/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessJob_AudioSuccessCompletesSeries(t *testing.T) {
	f := newFixture(t, Config{})
	series := f.produce(t, audioPayload(2))

	outcomes := f.runAll(t)
	assert.Equal(t, []Outcome{OutcomeCompleted, OutcomeCompleted}, outcomes)

	for _, ep := range f.episodes(t, series.ID) {
		assert.Equal(t, store.EpisodeStatusCompleted, ep.Status)
		require.NotNil(t, ep.AudioURL)
		assert.Contains(t, *ep.AudioURL, ep.ID.String())
	}
	for _, j := range f.store.Jobs() {
		assert.Equal(t, store.JobStatusCompleted, j.Status)
		assert.Equal(t, 1, j.AttemptCount)
	}
	got := f.series(t, series.ID)
	assert.Equal(t, store.SeriesStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestProcessJob_ClaimOrderFollowsEpisodes(t *testing.T) {
	f := newFixture(t, Config{})
	f.produce(t, audioPayload(3))

	jobs, err := f.svc.ClaimBatch(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, 1, jobs[0].Priority)
	assert.Equal(t, 2, jobs[1].Priority)
}

func TestProcessJob_RetryableFailureRequeuesWithBackoff(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 3})
	series := f.produce(t, audioPayload(1))
	f.audio.errs = []error{generation.Retryable("tts returned 429")}

	outcomes := f.runAll(t)
	assert.Equal(t, []Outcome{OutcomeRetried}, outcomes)

	job := f.store.Jobs()[0]
	assert.Equal(t, store.JobStatusQueued, job.Status)
	assert.Equal(t, 1, job.AttemptCount)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "429")
	assert.Equal(t, f.clock.Now().Add(Backoff(1)), job.RunAfter)

	ep := f.episodes(t, series.ID)[0]
	assert.Equal(t, store.EpisodeStatusProcessing, ep.Status)
	assert.Equal(t, 1, ep.TTSRetryCount)
	require.NotNil(t, ep.TTSErrorMessage)
	assert.Contains(t, *ep.TTSErrorMessage, "429")

	// Not runnable until the backoff elapses.
	assert.Empty(t, f.runAll(t))
	f.clock.Advance(Backoff(1))
	assert.Equal(t, []Outcome{OutcomeCompleted}, f.runAll(t))
	assert.Equal(t, store.SeriesStatusCompleted, f.series(t, series.ID).Status)
}

func TestProcessJob_ExhaustedAttemptsFailOwner(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 2})
	series := f.produce(t, audioPayload(1))
	f.audio.errs = []error{generation.Retryable("timeout"), generation.Retryable("timeout again")}

	f.runAll(t)
	f.clock.Advance(time.Hour)
	assert.Equal(t, []Outcome{OutcomeFailed}, f.runAll(t))

	job := f.store.Jobs()[0]
	assert.Equal(t, store.JobStatusFailed, job.Status)
	assert.Equal(t, 2, job.AttemptCount)

	ep := f.episodes(t, series.ID)[0]
	assert.Equal(t, store.EpisodeStatusFailed, ep.Status)
	assert.Equal(t, 2, ep.TTSRetryCount)
	assert.False(t, ep.FailureTerminal)
	require.NotNil(t, ep.TTSErrorMessage)
	assert.Contains(t, *ep.TTSErrorMessage, "timeout again")

	// Two failures leave one retry in the default budget, so the series keeps going.
	assert.Equal(t, store.SeriesStatusInProduction, f.series(t, series.ID).Status)
}

func TestProcessJob_TerminalFailureFailsSeries(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 5})
	series := f.produce(t, audioPayload(2))
	f.audio.errs = []error{generation.Terminal("tts returned 422: text too long")}

	outcomes := f.runAll(t)
	assert.ElementsMatch(t, []Outcome{OutcomeFailed, OutcomeCompleted}, outcomes)

	failed := 0
	for _, ep := range f.episodes(t, series.ID) {
		if ep.Status == store.EpisodeStatusFailed {
			failed++
			assert.True(t, ep.FailureTerminal)
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, store.SeriesStatusFailed, f.series(t, series.ID).Status)
}

func TestProcessJob_ErrorMessageTruncated(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 1, MaxErrorLength: 40})
	series := f.produce(t, audioPayload(1))
	f.audio.errs = []error{generation.Retryable("%s", strings.Repeat("x", 200))}

	f.runAll(t)
	ep := f.episodes(t, series.ID)[0]
	require.NotNil(t, ep.TTSErrorMessage)
	assert.Equal(t, 40, len([]rune(*ep.TTSErrorMessage)))
	assert.True(t, strings.HasSuffix(*ep.TTSErrorMessage, "…"))
}

func TestProcessJob_VideoOpensClipVoting(t *testing.T) {
	f := newFixture(t, Config{ClipWindow: 72 * time.Hour})
	series := f.produce(t, videoPayload(1))
	f.clips.fail[2] = generation.Terminal("prompt rejected")

	f.runAll(t)

	ep := f.episodes(t, series.ID)[0]
	assert.Equal(t, store.EpisodeStatusProcessing, ep.Status)
	require.NotNil(t, ep.ClipVotingEndsAt)
	assert.Equal(t, f.clock.Now().Add(72*time.Hour), *ep.ClipVotingEndsAt)

	completed := 0
	for _, c := range f.clipsOf(t, ep.ID) {
		if c.Status == store.ClipStatusCompleted {
			completed++
			assert.NotNil(t, c.VideoURL)
		}
	}
	assert.Equal(t, 3, completed)
	assert.Equal(t, store.SeriesStatusInProduction, f.series(t, series.ID).Status)
}

func TestProcessJob_AllVariantsFailedFailsEpisode(t *testing.T) {
	f := newFixture(t, Config{})
	series := f.produce(t, videoPayload(1))
	for v := 1; v <= DefaultVariantsPerEpisode; v++ {
		f.clips.fail[v] = generation.Terminal("model rejected prompt")
	}

	f.runAll(t)

	ep := f.episodes(t, series.ID)[0]
	assert.Equal(t, store.EpisodeStatusFailed, ep.Status)
	assert.True(t, ep.FailureTerminal)
	assert.Nil(t, ep.ClipVotingEndsAt)
	assert.Equal(t, store.SeriesStatusFailed, f.series(t, series.ID).Status)
}

func TestRequeueStale(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 3, StaleAfter: 45 * time.Minute})
	f.produce(t, audioPayload(1))
	ctx := context.Background()

	jobs, err := f.svc.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	// Heartbeating keeps a slow job alive.
	f.clock.Advance(30 * time.Minute)
	require.NoError(t, f.svc.Heartbeat(ctx, jobs[0].ID))
	f.clock.Advance(30 * time.Minute)
	n, err := f.svc.RequeueStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(30 * time.Minute)
	n, err = f.svc.RequeueStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job := f.store.Jobs()[0]
	assert.Equal(t, store.JobStatusQueued, job.Status)
	assert.Equal(t, 1, job.AttemptCount)
	assert.Equal(t, 1, f.episodes(t, job.SeriesID)[0].TTSRetryCount)

	// The abandoned run finishing late must not overwrite the new attempt.
	outcome, err := f.svc.ProcessJob(ctx, jobs[0])
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, store.JobStatusQueued, f.store.Jobs()[0].Status)
}

func TestRequeueStale_OutOfAttemptsFailsOwner(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 1, StaleAfter: time.Minute})
	series := f.produce(t, audioPayload(1))
	ctx := context.Background()

	_, err := f.svc.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)

	n, err := f.svc.RequeueStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, store.JobStatusFailed, f.store.Jobs()[0].Status)
	ep := f.episodes(t, series.ID)[0]
	assert.Equal(t, store.EpisodeStatusFailed, ep.Status)
	assert.False(t, ep.FailureTerminal)
}

func TestProcessJob_EveryFailureCountsAgainstEpisode(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	series := f.produce(t, audioPayload(1))
	f.audio.errs = []error{
		generation.Retryable("tts returned 503"),
		generation.Retryable("tts returned 503"),
		generation.Retryable("tts returned 503"),
		generation.Retryable("tts returned 503"),
	}

	for i := 1; i <= 3; i++ {
		outcomes := f.runAll(t)
		require.Len(t, outcomes, 1)
		assert.Equal(t, i, f.episodes(t, series.ID)[0].TTSRetryCount)
		f.clock.Advance(time.Hour)
	}
	assert.Equal(t, 3, f.audio.calls)

	ep := f.episodes(t, series.ID)[0]
	assert.Equal(t, store.EpisodeStatusFailed, ep.Status)
	assert.Equal(t, store.JobStatusFailed, f.store.Jobs()[0].Status)
	assert.Equal(t, store.SeriesStatusFailed, f.series(t, series.ID).Status)

	res, err := f.svc.ProcessPendingProductions(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{MaxRetriesReached: 1}, res)
	assert.Empty(t, f.runAll(t))
	assert.Equal(t, 3, f.audio.calls)
}

func TestProcessJob_RetryBudgetStopsJobAttempts(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 5, Retry: RetryPolicy{MaxRetries: 2}})
	series := f.produce(t, audioPayload(1))
	f.audio.errs = []error{
		generation.Retryable("timeout"),
		generation.Retryable("timeout"),
		generation.Retryable("timeout"),
	}

	assert.Equal(t, []Outcome{OutcomeRetried}, f.runAll(t))
	f.clock.Advance(time.Hour)
	assert.Equal(t, []Outcome{OutcomeFailed}, f.runAll(t))

	job := f.store.Jobs()[0]
	assert.Equal(t, store.JobStatusFailed, job.Status)
	assert.Equal(t, 2, job.AttemptCount)
	assert.Equal(t, 2, f.episodes(t, series.ID)[0].TTSRetryCount)
	assert.Equal(t, 2, f.audio.calls)
}
