package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"moltstudio/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedJobs(t *testing.T, s *Store, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.InTx(ctx, func(r store.Repository) error {
		series := &store.Series{ID: uuid.New(), ScriptID: uuid.New(), Medium: store.MediumAudio, Status: store.SeriesStatusPending, EpisodeCount: n}
		if _, err := r.InsertSeries(ctx, series); err != nil {
			return err
		}
		for i := 1; i <= n; i++ {
			ep := &store.Episode{ID: uuid.New(), SeriesID: series.ID, EpisodeNumber: i, Status: store.EpisodeStatusPending}
			if err := r.InsertEpisode(ctx, ep); err != nil {
				return err
			}
			job := &store.ProductionJob{
				ID:        uuid.New(),
				JobType:   store.JobTypeTTSAudio,
				Status:    store.JobStatusQueued,
				Priority:  i,
				SeriesID:  series.ID,
				EpisodeID: &ep.ID,
				Payload:   json.RawMessage(`{}`),
			}
			if err := r.InsertJob(ctx, job); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestClaimJobs_ConcurrentClaimsNeverOverlap(t *testing.T) {
	s := New()
	seedJobs(t, s, 50)

	ctx := context.Background()
	var (
		mu      sync.Mutex
		claimed = map[uuid.UUID]int{}
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				var jobs []store.ProductionJob
				err := s.InTx(ctx, func(r store.Repository) error {
					var err error
					jobs, err = r.ClaimJobs(ctx, 3, time.Now().Add(time.Second))
					return err
				})
				if err != nil || len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					claimed[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, 50)
	for id, n := range claimed {
		assert.Equalf(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestClaimJobs_PriorityOrder(t *testing.T) {
	s := New()
	seedJobs(t, s, 4)

	ctx := context.Background()
	var jobs []store.ProductionJob
	require.NoError(t, s.InTx(ctx, func(r store.Repository) error {
		var err error
		jobs, err = r.ClaimJobs(ctx, 2, time.Now().Add(time.Second))
		return err
	}))

	require.Len(t, jobs, 2)
	assert.Equal(t, 1, jobs[0].Priority)
	assert.Equal(t, 2, jobs[1].Priority)
	assert.Equal(t, store.JobStatusRunning, jobs[0].Status)
}

func TestClaimJobs_RespectsRunAfter(t *testing.T) {
	s := New()
	seedJobs(t, s, 1)
	ctx := context.Background()

	job := s.Jobs()[0]
	later := time.Now().Add(time.Hour)
	require.NoError(t, s.InTx(ctx, func(r store.Repository) error {
		return r.RetryJob(ctx, job.ID, "rate limited", later)
	}))

	require.NoError(t, s.InTx(ctx, func(r store.Repository) error {
		jobs, err := r.ClaimJobs(ctx, 5, time.Now())
		assert.Empty(t, jobs)
		return err
	}))
}

func TestInTx_RollbackRestoresSnapshot(t *testing.T) {
	s := New()
	ctx := context.Background()
	scriptID := uuid.New()
	s.PutScript(store.Script{ID: scriptID, PilotStatus: store.PilotStatusVoting})

	boom := errors.New("boom")
	err := s.InTx(ctx, func(r store.Repository) error {
		if err := r.SetPilotStatus(ctx, []uuid.UUID{scriptID}, store.PilotStatusSelected); err != nil {
			return err
		}
		_, err := r.InsertSeries(ctx, &store.Series{ID: uuid.New(), ScriptID: scriptID})
		if err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	script, _ := s.Script(scriptID)
	assert.Equal(t, store.PilotStatusVoting, script.PilotStatus)
	require.NoError(t, s.InTx(ctx, func(r store.Repository) error {
		_, err := r.GetSeriesByScript(ctx, scriptID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func TestCreatePeriod_SingleOpen(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	open := func() error {
		return s.InTx(ctx, func(r store.Repository) error {
			return r.CreatePeriod(ctx, &store.VotingPeriod{
				ID: uuid.New(), Type: "weekly", StartsAt: now, EndsAt: now.Add(time.Hour), IsActive: true,
			})
		})
	}
	require.NoError(t, open())
	assert.ErrorIs(t, open(), store.ErrConflict)
}

func TestInsertPayment_DuplicateProof(t *testing.T) {
	s := New()
	ctx := context.Background()

	insert := func() error {
		return s.InTx(ctx, func(r store.Repository) error {
			return r.InsertPayment(ctx, &store.Payment{ID: uuid.New(), ProofHash: "same"})
		})
	}
	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), store.ErrConflict)
}
