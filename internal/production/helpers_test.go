package production

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"moltstudio/internal/generation"
	"moltstudio/internal/store"
	"moltstudio/internal/store/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeAudio struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *fakeAudio) Synthesize(_ context.Context, episodeID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return "https://cdn.example/" + episodeID + ".mp3", nil
}

type fakeClips struct {
	mu   sync.Mutex
	fail map[int]error // by variant number
}

func (f *fakeClips) RenderClip(_ context.Context, req generation.ClipRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[req.VariantNumber]; err != nil {
		return "", err
	}
	return generation.AssetPath(req.SeriesID, req.EpisodeNumber, req.VariantNumber), nil
}

type fixture struct {
	store *memory.Store
	clock *clock
	audio *fakeAudio
	clips *fakeClips
	svc   *Service
	orch  *Orchestrator
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	st := memory.New()
	st.SetClock(c.Now)
	f := &fixture{
		store: st,
		clock: c,
		audio: &fakeAudio{},
		clips: &fakeClips{fail: map[int]error{}},
	}
	f.svc = NewService(st, f.audio, f.clips, cfg, discard, WithClock(c.Now))
	f.orch = NewOrchestrator(0, discard)
	f.orch.now = c.Now
	return f
}

func audioPayload(episodes int) json.RawMessage {
	eps := make([]map[string]string, episodes)
	for i := range eps {
		eps[i] = map[string]string{"title": fmt.Sprintf("Part %d", i+1), "narration": fmt.Sprintf("Narration %d", i+1)}
	}
	raw, _ := json.Marshal(map[string]any{"version": 1, "title": "Saltwater Radio", "medium": "audio", "episodes": eps})
	return raw
}

func videoPayload(episodes int) json.RawMessage {
	eps := make([]map[string]string, episodes)
	for i := range eps {
		eps[i] = map[string]string{"narration": fmt.Sprintf("Scene %d", i+1), "visual": fmt.Sprintf("wide shot %d", i+1)}
	}
	raw, _ := json.Marshal(map[string]any{"version": 1, "title": "Orbital Bakery", "medium": "video", "episodes": eps})
	return raw
}

// produce seeds a selected script and expands it into a series.
func (f *fixture) produce(t *testing.T, payload json.RawMessage) *store.Series {
	t.Helper()
	ctx := context.Background()
	script := store.Script{ID: uuid.New(), Title: "pilot", Payload: payload, PilotStatus: store.PilotStatusSelected}
	f.store.PutScript(script)

	var series *store.Series
	require.NoError(t, f.store.InTx(ctx, func(r store.Repository) error {
		var err error
		series, _, err = f.orch.CreateSeriesForScript(ctx, r, &script)
		return err
	}))
	return series
}

// runAll claims and processes jobs until the queue has nothing runnable.
func (f *fixture) runAll(t *testing.T) []Outcome {
	t.Helper()
	ctx := context.Background()
	var outcomes []Outcome
	for {
		jobs, err := f.svc.ClaimBatch(ctx, 10)
		require.NoError(t, err)
		if len(jobs) == 0 {
			return outcomes
		}
		for _, j := range jobs {
			o, err := f.svc.ProcessJob(ctx, j)
			require.NoError(t, err)
			outcomes = append(outcomes, o)
		}
	}
}

func (f *fixture) episodes(t *testing.T, seriesID uuid.UUID) []store.Episode {
	t.Helper()
	var eps []store.Episode
	require.NoError(t, f.store.InTx(context.Background(), func(r store.Repository) error {
		var err error
		eps, err = r.ListEpisodes(context.Background(), seriesID)
		return err
	}))
	return eps
}

func (f *fixture) series(t *testing.T, id uuid.UUID) *store.Series {
	t.Helper()
	var s *store.Series
	require.NoError(t, f.store.InTx(context.Background(), func(r store.Repository) error {
		var err error
		s, err = r.GetSeries(context.Background(), id)
		return err
	}))
	return s
}

func (f *fixture) clipsOf(t *testing.T, episodeID uuid.UUID) []store.ClipVariant {
	t.Helper()
	var clips []store.ClipVariant
	require.NoError(t, f.store.InTx(context.Background(), func(r store.Repository) error {
		var err error
		clips, err = r.ListClipVariants(context.Background(), episodeID)
		return err
	}))
	return clips
}
