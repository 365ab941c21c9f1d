package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"moltstudio/internal/store"

	"github.com/google/uuid"
)

// Scripts

func (r *repository) GetScript(_ context.Context, id uuid.UUID) (*store.Script, error) {
	s, ok := r.t.scripts[id]
	if !ok {
		return nil, notFound("script", id)
	}
	return &s, nil
}

func (r *repository) ListVotingScripts(_ context.Context, periodID uuid.UUID) ([]store.Script, error) {
	var out []store.Script
	for _, s := range r.t.scripts {
		if s.VotingPeriodID != nil && *s.VotingPeriodID == periodID && s.PilotStatus == store.PilotStatusVoting {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Upvotes != b.Upvotes {
			return a.Upvotes > b.Upvotes
		}
		if !timeEqual(a.SubmittedAt, b.SubmittedAt) {
			return timeBefore(a.SubmittedAt, b.SubmittedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return out, nil
}

func (r *repository) SetPilotStatus(_ context.Context, ids []uuid.UUID, status store.PilotStatus) error {
	for _, id := range ids {
		s, ok := r.t.scripts[id]
		if !ok {
			continue
		}
		s.PilotStatus = status
		r.t.scripts[id] = s
	}
	return nil
}

func (r *repository) AssignSubmittedScripts(_ context.Context, periodID uuid.UUID) (int64, error) {
	var n int64
	for id, s := range r.t.scripts {
		if s.PilotStatus != store.PilotStatusSubmitted {
			continue
		}
		s.PilotStatus = store.PilotStatusVoting
		s.VotingPeriodID = ptr(periodID)
		r.t.scripts[id] = s
		n++
	}
	return n, nil
}

func (r *repository) ListSelectedWithoutSeries(_ context.Context, limit int) ([]store.Script, error) {
	produced := make(map[uuid.UUID]bool, len(r.t.series))
	for _, s := range r.t.series {
		produced[s.ScriptID] = true
	}
	var out []store.Script
	for _, s := range r.t.scripts {
		if s.PilotStatus == store.PilotStatusSelected && !produced[s.ID] {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return limitSlice(out, limit), nil
}

// Periods

func (r *repository) openPeriod() (*store.VotingPeriod, error) {
	var open *store.VotingPeriod
	for _, p := range r.t.periods {
		if !p.IsActive || p.IsProcessed {
			continue
		}
		if open == nil || p.StartsAt.Before(open.StartsAt) {
			open = ptr(p)
		}
	}
	if open == nil {
		return nil, fmt.Errorf("open voting period: %w", store.ErrNotFound)
	}
	return open, nil
}

func (r *repository) LockOpenPeriod(context.Context) (*store.VotingPeriod, error) {
	return r.openPeriod()
}

func (r *repository) GetOpenPeriod(context.Context) (*store.VotingPeriod, error) {
	return r.openPeriod()
}

func (r *repository) CreatePeriod(_ context.Context, p *store.VotingPeriod) error {
	if p.IsActive && !p.IsProcessed {
		if _, err := r.openPeriod(); err == nil {
			return fmt.Errorf("%w: voting_periods_single_open", store.ErrConflict)
		}
	}
	p.CreatedAt = r.stamp()
	r.t.periods[p.ID] = *p
	return nil
}

func (r *repository) MarkPeriodProcessed(_ context.Context, id uuid.UUID, winnerID *uuid.UUID, at time.Time) error {
	p, ok := r.t.periods[id]
	if !ok {
		return notFound("voting period", id)
	}
	p.IsActive = false
	p.IsProcessed = true
	p.ProcessedAt = ptr(at)
	p.WinnerScriptID = winnerID
	r.t.periods[id] = p
	return nil
}

// Series and episodes

func (r *repository) InsertSeries(_ context.Context, s *store.Series) (bool, error) {
	for _, existing := range r.t.series {
		if existing.ScriptID == s.ScriptID {
			return false, nil
		}
	}
	s.CreatedAt = r.stamp()
	r.t.series[s.ID] = *s
	return true, nil
}

func (r *repository) GetSeries(_ context.Context, id uuid.UUID) (*store.Series, error) {
	s, ok := r.t.series[id]
	if !ok {
		return nil, notFound("series", id)
	}
	return &s, nil
}

func (r *repository) GetSeriesByScript(_ context.Context, scriptID uuid.UUID) (*store.Series, error) {
	for _, s := range r.t.series {
		if s.ScriptID == scriptID {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("series for script %s: %w", scriptID, store.ErrNotFound)
}

func (r *repository) SetSeriesStatus(_ context.Context, id uuid.UUID, status store.SeriesStatus, completedAt *time.Time) error {
	s, ok := r.t.series[id]
	if !ok {
		return notFound("series", id)
	}
	s.Status = status
	s.CompletedAt = completedAt
	r.t.series[id] = s
	return nil
}

func (r *repository) InsertEpisode(_ context.Context, e *store.Episode) error {
	if _, ok := r.t.series[e.SeriesID]; !ok {
		return notFound("series", e.SeriesID)
	}
	for _, existing := range r.t.episodes {
		if existing.SeriesID == e.SeriesID && existing.EpisodeNumber == e.EpisodeNumber {
			return fmt.Errorf("%w: episodes_series_id_episode_number_key", store.ErrConflict)
		}
	}
	e.CreatedAt = r.stamp()
	r.t.episodes[e.ID] = *e
	return nil
}

func (r *repository) GetEpisode(_ context.Context, id uuid.UUID) (*store.Episode, error) {
	e, ok := r.t.episodes[id]
	if !ok {
		return nil, notFound("episode", id)
	}
	return &e, nil
}

func (r *repository) LockEpisode(ctx context.Context, id uuid.UUID) (*store.Episode, error) {
	return r.GetEpisode(ctx, id)
}

func (r *repository) ListEpisodes(_ context.Context, seriesID uuid.UUID) ([]store.Episode, error) {
	var out []store.Episode
	for _, e := range r.t.episodes {
		if e.SeriesID == seriesID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EpisodeNumber < out[j].EpisodeNumber })
	return out, nil
}

func (r *repository) updateEpisode(id uuid.UUID, fn func(*store.Episode)) error {
	e, ok := r.t.episodes[id]
	if !ok {
		return notFound("episode", id)
	}
	fn(&e)
	r.t.episodes[id] = e
	return nil
}

func (r *repository) MarkEpisodeProcessing(_ context.Context, id uuid.UUID) error {
	return r.updateEpisode(id, func(e *store.Episode) { e.Status = store.EpisodeStatusProcessing })
}

func (r *repository) CompleteEpisode(_ context.Context, id uuid.UUID, audioURL, videoURL *string, at time.Time) error {
	return r.updateEpisode(id, func(e *store.Episode) {
		e.Status = store.EpisodeStatusCompleted
		if audioURL != nil {
			e.AudioURL = ptr(*audioURL)
		}
		if videoURL != nil {
			e.VideoURL = ptr(*videoURL)
		}
		e.TTSErrorMessage = nil
		e.CompletedAt = ptr(at)
	})
}

func (r *repository) RecordEpisodeFailure(_ context.Context, id uuid.UUID, errMsg string, at time.Time) (int, error) {
	var count int
	err := r.updateEpisode(id, func(e *store.Episode) {
		e.TTSRetryCount++
		e.TTSErrorMessage = ptr(errMsg)
		e.LastFailedAt = ptr(at)
		count = e.TTSRetryCount
	})
	return count, err
}

func (r *repository) FailEpisode(_ context.Context, id uuid.UUID, f store.Failure) error {
	return r.updateEpisode(id, func(e *store.Episode) {
		e.Status = store.EpisodeStatusFailed
		e.TTSErrorMessage = ptr(f.Message)
		e.LastFailedAt = ptr(f.At)
		e.FailureTerminal = f.Terminal
	})
}

func (r *repository) RequeueEpisode(_ context.Context, id uuid.UUID) (bool, error) {
	e, ok := r.t.episodes[id]
	if !ok {
		return false, notFound("episode", id)
	}
	if e.Status != store.EpisodeStatusFailed {
		return false, nil
	}
	e.Status = store.EpisodeStatusPending
	r.t.episodes[id] = e
	return true, nil
}

func (r *repository) ResetEpisode(_ context.Context, id uuid.UUID) (bool, error) {
	e, ok := r.t.episodes[id]
	if !ok {
		return false, notFound("episode", id)
	}
	if e.Status != store.EpisodeStatusFailed {
		return false, nil
	}
	e.Status = store.EpisodeStatusPending
	e.TTSRetryCount = 0
	e.TTSErrorMessage = nil
	e.LastFailedAt = nil
	e.FailureTerminal = false
	r.t.episodes[id] = e
	return true, nil
}

func (r *repository) OpenClipVoting(_ context.Context, id uuid.UUID, endsAt time.Time) error {
	return r.updateEpisode(id, func(e *store.Episode) { e.ClipVotingEndsAt = ptr(endsAt) })
}

func (r *repository) ListEpisodesDueForSelection(_ context.Context, now time.Time, limit int) ([]store.Episode, error) {
	var out []store.Episode
	for _, e := range r.t.episodes {
		if e.ClipVotingEndsAt != nil && !e.ClipVotingEndsAt.After(now) && e.Status != store.EpisodeStatusCompleted {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClipVotingEndsAt.Before(*out[j].ClipVotingEndsAt) })
	return limitSlice(out, limit), nil
}

func (r *repository) ListRetryableFailedEpisodes(_ context.Context, limit int) ([]store.Episode, error) {
	var out []store.Episode
	for _, e := range r.t.episodes {
		if e.Status != store.EpisodeStatusFailed || e.FailureTerminal {
			continue
		}
		if s, ok := r.t.series[e.SeriesID]; !ok || s.Medium != store.MediumAudio {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return timeBefore(out[i].LastFailedAt, out[j].LastFailedAt) })
	return limitSlice(out, limit), nil
}

// Clip variants

func (r *repository) InsertClipVariant(_ context.Context, c *store.ClipVariant) error {
	if _, ok := r.t.episodes[c.EpisodeID]; !ok {
		return notFound("episode", c.EpisodeID)
	}
	for _, existing := range r.t.clips {
		if existing.EpisodeID == c.EpisodeID && existing.VariantNumber == c.VariantNumber {
			return fmt.Errorf("%w: clip_variants_episode_id_variant_number_key", store.ErrConflict)
		}
	}
	c.CreatedAt = r.stamp()
	r.t.clips[c.ID] = *c
	return nil
}

func (r *repository) GetClipVariant(_ context.Context, id uuid.UUID) (*store.ClipVariant, error) {
	c, ok := r.t.clips[id]
	if !ok {
		return nil, notFound("clip variant", id)
	}
	return &c, nil
}

func (r *repository) LockClipVariant(ctx context.Context, id uuid.UUID) (*store.ClipVariant, error) {
	return r.GetClipVariant(ctx, id)
}

func (r *repository) ListClipVariants(_ context.Context, episodeID uuid.UUID) ([]store.ClipVariant, error) {
	var out []store.ClipVariant
	for _, c := range r.t.clips {
		if c.EpisodeID == episodeID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TipTotal != b.TipTotal {
			return a.TipTotal > b.TipTotal
		}
		if a.VoteCount != b.VoteCount {
			return a.VoteCount > b.VoteCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.VariantNumber < b.VariantNumber
	})
	return out, nil
}

func (r *repository) updateClip(id uuid.UUID, fn func(*store.ClipVariant)) error {
	c, ok := r.t.clips[id]
	if !ok {
		return notFound("clip variant", id)
	}
	fn(&c)
	r.t.clips[id] = c
	return nil
}

func (r *repository) MarkClipProcessing(_ context.Context, id uuid.UUID) error {
	return r.updateClip(id, func(c *store.ClipVariant) { c.Status = store.ClipStatusProcessing })
}

func (r *repository) CompleteClip(_ context.Context, id uuid.UUID, videoURL string) error {
	return r.updateClip(id, func(c *store.ClipVariant) {
		c.Status = store.ClipStatusCompleted
		c.VideoURL = ptr(videoURL)
		c.ErrorMessage = nil
	})
}

func (r *repository) RecordClipFailure(_ context.Context, id uuid.UUID, errMsg string, at time.Time) (int, error) {
	var count int
	err := r.updateClip(id, func(c *store.ClipVariant) {
		c.RetryCount++
		c.ErrorMessage = ptr(errMsg)
		c.LastFailedAt = ptr(at)
		count = c.RetryCount
	})
	return count, err
}

func (r *repository) FailClip(_ context.Context, id uuid.UUID, f store.Failure) error {
	return r.updateClip(id, func(c *store.ClipVariant) {
		c.Status = store.ClipStatusFailed
		c.ErrorMessage = ptr(f.Message)
		c.LastFailedAt = ptr(f.At)
		c.FailureTerminal = f.Terminal
	})
}

func (r *repository) RequeueClip(_ context.Context, id uuid.UUID) (bool, error) {
	c, ok := r.t.clips[id]
	if !ok {
		return false, notFound("clip variant", id)
	}
	if c.Status != store.ClipStatusFailed {
		return false, nil
	}
	c.Status = store.ClipStatusPending
	r.t.clips[id] = c
	return true, nil
}

func (r *repository) ResetClip(_ context.Context, id uuid.UUID) (bool, error) {
	c, ok := r.t.clips[id]
	if !ok {
		return false, notFound("clip variant", id)
	}
	if c.Status != store.ClipStatusFailed {
		return false, nil
	}
	c.Status = store.ClipStatusPending
	c.RetryCount = 0
	c.ErrorMessage = nil
	c.LastFailedAt = nil
	c.FailureTerminal = false
	r.t.clips[id] = c
	return true, nil
}

func (r *repository) ApplyTip(_ context.Context, id uuid.UUID, voteDelta int, cents int64) error {
	return r.updateClip(id, func(c *store.ClipVariant) {
		c.VoteCount += voteDelta
		c.TipTotal += cents
	})
}

func (r *repository) SelectClip(_ context.Context, episodeID, clipID uuid.UUID) error {
	winner, ok := r.t.clips[clipID]
	if !ok || winner.EpisodeID != episodeID {
		return notFound("clip variant", clipID)
	}
	for id, c := range r.t.clips {
		if c.EpisodeID != episodeID {
			continue
		}
		c.IsSelected = id == clipID
		r.t.clips[id] = c
	}
	return nil
}

func (r *repository) ListRetryableFailedClips(_ context.Context, limit int) ([]store.ClipVariant, error) {
	var out []store.ClipVariant
	for _, c := range r.t.clips {
		if c.Status == store.ClipStatusFailed && !c.FailureTerminal {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return timeBefore(out[i].LastFailedAt, out[j].LastFailedAt) })
	return limitSlice(out, limit), nil
}

func limitSlice[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// timeBefore orders nil after every non-nil time.
func timeBefore(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.Before(*b)
	}
}
