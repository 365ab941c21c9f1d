// Package production expands winning scripts into series and drives their
// generation jobs to completion.
package production

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"moltstudio/internal/generation"
	"moltstudio/internal/screenplay"
	"moltstudio/internal/store"

	"github.com/google/uuid"
)

// DefaultVariantsPerEpisode is the number of competing clips rendered per video episode.
const DefaultVariantsPerEpisode = 4

// JobPayload is the generation input carried by a job.
type JobPayload struct {
	EpisodeNumber int    `json:"episode_number"`
	VariantNumber int    `json:"variant_number,omitempty"`
	Text          string `json:"text,omitempty"`
	Prompt        string `json:"prompt,omitempty"`
	Seed          int64  `json:"seed,omitempty"`
}

// Orchestrator materializes the series graph of a winning script.
type Orchestrator struct {
	variants int
	log      *slog.Logger
	now      func() time.Time
}

// NewOrchestrator returns an orchestrator rendering variants clips per video episode.
func NewOrchestrator(variants int, log *slog.Logger) *Orchestrator {
	if variants <= 0 {
		variants = DefaultVariantsPerEpisode
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{variants: variants, log: log, now: time.Now}
}

// CreateSeriesForScript creates the series, its episodes, clip placeholders
// and initial jobs through r. It must run inside the caller's transaction so
// the whole graph commits or none of it does. When the script already has a
// series, that series is returned with created=false.
func (o *Orchestrator) CreateSeriesForScript(ctx context.Context, r store.Repository, script *store.Script) (*store.Series, bool, error) {
	if existing, err := r.GetSeriesByScript(ctx, script.ID); err == nil {
		return existing, false, nil
	} else if !isNotFound(err) {
		return nil, false, err
	}

	plan, err := screenplay.Parse(script.Payload)
	if err != nil {
		o.log.Error("script payload rejected", "script_id", script.ID, "error", err)
		return nil, false, err
	}

	now := o.now()
	series := &store.Series{
		ID:           uuid.New(),
		ScriptID:     script.ID,
		Title:        plan.Title,
		Medium:       plan.Medium,
		Status:       store.SeriesStatusPending,
		EpisodeCount: len(plan.Episodes),
		GreenlitAt:   now,
	}
	created, err := r.InsertSeries(ctx, series)
	if err != nil {
		return nil, false, fmt.Errorf("insert series: %w", err)
	}
	if !created {
		// A concurrent trigger won the unique script_id race.
		existing, err := r.GetSeriesByScript(ctx, script.ID)
		return existing, false, err
	}

	jobs := 0
	for _, ep := range plan.Episodes {
		episode := &store.Episode{
			ID:            uuid.New(),
			SeriesID:      series.ID,
			EpisodeNumber: ep.Number,
			Title:         ep.Title,
			Status:        store.EpisodeStatusPending,
		}
		if err := r.InsertEpisode(ctx, episode); err != nil {
			return nil, false, err
		}

		if plan.Medium == store.MediumAudio {
			if err := enqueueAudio(ctx, r, series.ID, episode, ep.NarrationText); err != nil {
				return nil, false, err
			}
			jobs++
			continue
		}

		for v := 1; v <= o.variants; v++ {
			clip := &store.ClipVariant{
				ID:            uuid.New(),
				EpisodeID:     episode.ID,
				VariantNumber: v,
				Status:        store.ClipStatusPending,
				Prompt:        ep.VisualPrompt,
			}
			clip.Seed = generation.SeedFor(clip.ID)
			if err := r.InsertClipVariant(ctx, clip); err != nil {
				return nil, false, err
			}
			if err := enqueueClip(ctx, r, series.ID, episode.EpisodeNumber, clip); err != nil {
				return nil, false, err
			}
			jobs++
		}
	}

	o.log.Info("series created",
		"series_id", series.ID,
		"script_id", script.ID,
		"medium", series.Medium,
		"episodes", series.EpisodeCount,
		"jobs", jobs,
	)
	return series, true, nil
}

func enqueueAudio(ctx context.Context, r store.Repository, seriesID uuid.UUID, ep *store.Episode, text string) error {
	payload, err := json.Marshal(JobPayload{EpisodeNumber: ep.EpisodeNumber, Text: text})
	if err != nil {
		return err
	}
	return r.InsertJob(ctx, &store.ProductionJob{
		ID:        uuid.New(),
		JobType:   store.JobTypeTTSAudio,
		Status:    store.JobStatusQueued,
		Priority:  ep.EpisodeNumber,
		SeriesID:  seriesID,
		EpisodeID: &ep.ID,
		Payload:   payload,
	})
}

func enqueueClip(ctx context.Context, r store.Repository, seriesID uuid.UUID, episodeNumber int, clip *store.ClipVariant) error {
	payload, err := json.Marshal(JobPayload{
		EpisodeNumber: episodeNumber,
		VariantNumber: clip.VariantNumber,
		Prompt:        clip.Prompt,
		Seed:          clip.Seed,
	})
	if err != nil {
		return err
	}
	return r.InsertJob(ctx, &store.ProductionJob{
		ID:            uuid.New(),
		JobType:       store.JobTypeVideoClip,
		Status:        store.JobStatusQueued,
		Priority:      episodeNumber,
		SeriesID:      seriesID,
		ClipVariantID: &clip.ID,
		Payload:       payload,
	})
}

// narrationFor re-reads the script of a series to rebuild an episode's
// narration when its job must be enqueued again.
func narrationFor(ctx context.Context, r store.Repository, series *store.Series, episodeNumber int) (string, error) {
	script, err := r.GetScript(ctx, series.ScriptID)
	if err != nil {
		return "", fmt.Errorf("load script %s: %w", series.ScriptID, err)
	}
	plan, err := screenplay.Parse(script.Payload)
	if err != nil {
		return "", err
	}
	for _, ep := range plan.Episodes {
		if ep.Number == episodeNumber {
			return ep.NarrationText, nil
		}
	}
	return "", fmt.Errorf("script %s has no episode %d: %w", script.ID, episodeNumber, screenplay.ErrInvalid)
}
