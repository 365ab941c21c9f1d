package handlers

import (
	"moltstudio/internal/store"
	"moltstudio/pkg/api"

	"github.com/google/uuid"
)

func toClipResponse(c store.ClipVariant) api.ClipVariantResponse {
	return api.ClipVariantResponse{
		ID:            c.ID.String(),
		EpisodeID:     c.EpisodeID.String(),
		VariantNumber: c.VariantNumber,
		Status:        string(c.Status),
		VideoURL:      c.VideoURL,
		VoteCount:     c.VoteCount,
		TipTotalCents: c.TipTotal,
		IsSelected:    c.IsSelected,
	}
}

func toVoteResponse(v store.Vote) api.VoteResponse {
	return api.VoteResponse{
		ID:             v.ID.String(),
		SessionID:      v.SessionID,
		ClipVariantID:  v.ClipVariantID.String(),
		TipAmountCents: v.TipAmountCents,
		CreatedAt:      v.CreatedAt,
		UpdatedAt:      v.UpdatedAt,
	}
}

func toJobResponse(j store.ProductionJob) api.JobResponse {
	return api.JobResponse{
		ID:            j.ID.String(),
		JobType:       string(j.JobType),
		Status:        string(j.Status),
		Priority:      j.Priority,
		AttemptCount:  j.AttemptCount,
		LastError:     j.LastError,
		SeriesID:      j.SeriesID.String(),
		EpisodeID:     idString(j.EpisodeID),
		ClipVariantID: idString(j.ClipVariantID),
		RunAfter:      j.RunAfter,
		CreatedAt:     j.CreatedAt,
		StartedAt:     j.StartedAt,
		HeartbeatAt:   j.HeartbeatAt,
		CompletedAt:   j.CompletedAt,
	}
}

func toPeriodResponse(p *store.VotingPeriod, created bool) api.PeriodResponse {
	return api.PeriodResponse{
		ID:       p.ID.String(),
		Type:     p.Type,
		StartsAt: p.StartsAt,
		EndsAt:   p.EndsAt,
		IsActive: p.IsActive,
		Created:  created,
	}
}

func idString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
