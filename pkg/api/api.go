// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import "time"

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// TipRequest is the request body of POST /clips/{id}/tip.
type TipRequest struct {
	SessionID      string `json:"session_id"`
	TipAmountCents int64  `json:"tip_amount_cents"`
}

// VoteResponse is a session's net tip-vote on a clip.
type VoteResponse struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	ClipVariantID  string    `json:"clip_variant_id"`
	TipAmountCents int64     `json:"tip_amount_cents"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ClipVariantResponse represents a clip variant in API responses.
type ClipVariantResponse struct {
	ID            string  `json:"id"`
	EpisodeID     string  `json:"episode_id"`
	VariantNumber int     `json:"variant_number"`
	Status        string  `json:"status"`
	VideoURL      *string `json:"video_url,omitempty"`
	VoteCount     int     `json:"vote_count"`
	TipTotalCents int64   `json:"tip_total_cents"`
	IsSelected    bool    `json:"is_selected"`
}

// TipResponse is returned once a tip has settled.
type TipResponse struct {
	Vote        VoteResponse        `json:"vote"`
	ClipVariant ClipVariantResponse `json:"clipVariant"`
	FirstVote   bool                `json:"first_vote"`
	PaymentID   string              `json:"payment_id"`
}

// LeaderboardResponse lists an episode's clip variants, best first.
type LeaderboardResponse struct {
	EpisodeID        string                `json:"episode_id"`
	Status           string                `json:"status"`
	ClipVotingEndsAt *time.Time            `json:"clip_voting_ends_at,omitempty"`
	Clips            []ClipVariantResponse `json:"clips"`
}

// VotingTickResponse summarizes POST /internal/ticks/voting.
type VotingTickResponse struct {
	ClosedPeriodID    *string  `json:"closed_period_id,omitempty"`
	WinnerScriptID    *string  `json:"winner_script_id,omitempty"`
	SeriesIDs         []string `json:"series_ids"`
	ClipWindowsClosed int      `json:"clip_windows_closed"`
}

// SweepResponse counts auto-retry decisions.
type SweepResponse struct {
	Eligible          int `json:"eligible"`
	TooYoung          int `json:"too_young"`
	MaxRetriesReached int `json:"max_retries_reached"`
	TooOld            int `json:"too_old"`
	Requeued          int `json:"requeued"`
}

// ProductionTickResponse summarizes POST /internal/ticks/production.
type ProductionTickResponse struct {
	Stale     int           `json:"stale"`
	Claimed   int           `json:"claimed"`
	Completed int           `json:"completed"`
	Retried   int           `json:"retried"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
	Sweep     SweepResponse `json:"sweep"`
}

// PayoutTickResponse summarizes POST /internal/ticks/payouts.
type PayoutTickResponse struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Retried int `json:"retried"`
}

// OpenPeriodRequest is the body of POST /internal/periods/open.
type OpenPeriodRequest struct {
	Type string `json:"type,omitempty"`
	// Duration is a Go duration string such as "168h".
	Duration string `json:"duration,omitempty"`
}

// PeriodResponse represents a voting period.
type PeriodResponse struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	IsActive bool      `json:"is_active"`
	Created  bool      `json:"created"`
}

// ClosePeriodResponse is returned by POST /internal/periods/close.
type ClosePeriodResponse struct {
	Closed         bool    `json:"closed"`
	PeriodID       string  `json:"period_id,omitempty"`
	WinnerScriptID *string `json:"winner_script_id,omitempty"`
	Rejected       int     `json:"rejected"`
	SeriesID       *string `json:"series_id,omitempty"`
}

// ProduceResponse is returned by POST /internal/scripts/{id}/produce.
type ProduceResponse struct {
	SeriesID     string `json:"series_id"`
	Status       string `json:"status"`
	Medium       string `json:"medium"`
	EpisodeCount int    `json:"episode_count"`
	Created      bool   `json:"created"`
}

// ResetResponse is returned by the episode and series reset endpoints.
type ResetResponse struct {
	EpisodesReset int    `json:"episodes_reset"`
	ClipsReset    int    `json:"clips_reset"`
	SeriesStatus  string `json:"series_status"`
}

// JobResponse represents a production job in API responses.
type JobResponse struct {
	ID            string     `json:"id"`
	JobType       string     `json:"job_type"`
	Status        string     `json:"status"`
	Priority      int        `json:"priority"`
	AttemptCount  int        `json:"attempt_count"`
	LastError     *string    `json:"last_error,omitempty"`
	SeriesID      string     `json:"series_id"`
	EpisodeID     *string    `json:"episode_id,omitempty"`
	ClipVariantID *string    `json:"clip_variant_id,omitempty"`
	RunAfter      time.Time  `json:"run_after"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	HeartbeatAt   *time.Time `json:"heartbeat_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ListJobsResponse is returned by GET /internal/jobs.
type ListJobsResponse struct {
	Jobs   []JobResponse    `json:"jobs"`
	Counts map[string]int64 `json:"counts"`
}
