// Package store contains the data model and repository ports for the studio pipeline.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PilotStatus is the lifecycle state of a pilot script.
type PilotStatus string

const (
	PilotStatusDraft     PilotStatus = "draft"
	PilotStatusSubmitted PilotStatus = "submitted"
	PilotStatusVoting    PilotStatus = "voting"
	PilotStatusSelected  PilotStatus = "selected"
	PilotStatusRejected  PilotStatus = "rejected"
)

// Script is an agent-submitted screenplay competing in a voting period.
type Script struct {
	ID             uuid.UUID
	AuthorAgentID  uuid.UUID
	Title          string
	Payload        json.RawMessage
	PilotStatus    PilotStatus
	Score          int
	Upvotes        int
	Downvotes      int
	VotingPeriodID *uuid.UUID
	CreatorWallet  string
	AgentWallet    string
	SubmittedAt    *time.Time
	CreatedAt      time.Time
}

// VotingPeriod is a bounded window during which scripts accumulate votes.
type VotingPeriod struct {
	ID             uuid.UUID
	Type           string
	StartsAt       time.Time
	EndsAt         time.Time
	IsActive       bool
	IsProcessed    bool
	ProcessedAt    *time.Time
	WinnerScriptID *uuid.UUID
	CreatedAt      time.Time
}

// Medium is the output format of a series.
type Medium string

const (
	MediumAudio Medium = "audio"
	MediumVideo Medium = "video"
)

// SeriesStatus represents the state of a series.
type SeriesStatus string

const (
	SeriesStatusPending      SeriesStatus = "pending"
	SeriesStatusInProduction SeriesStatus = "in_production"
	SeriesStatusCompleted    SeriesStatus = "completed"
	SeriesStatusFailed       SeriesStatus = "failed"
)

// Series is the production created from a winning script.
type Series struct {
	ID           uuid.UUID
	ScriptID     uuid.UUID
	Title        string
	Medium       Medium
	Status       SeriesStatus
	EpisodeCount int
	PosterURL    *string
	GreenlitAt   time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
}

// EpisodeStatus represents the state of an episode.
type EpisodeStatus string

const (
	EpisodeStatusPending    EpisodeStatus = "pending"
	EpisodeStatusProcessing EpisodeStatus = "processing"
	EpisodeStatusCompleted  EpisodeStatus = "completed"
	EpisodeStatusFailed     EpisodeStatus = "failed"
)

// Episode is one numbered unit of a series.
type Episode struct {
	ID               uuid.UUID
	SeriesID         uuid.UUID
	EpisodeNumber    int
	Title            string
	Status           EpisodeStatus
	AudioURL         *string
	VideoURL         *string
	TTSRetryCount    int
	TTSErrorMessage  *string
	LastFailedAt     *time.Time
	FailureTerminal  bool
	ClipVotingEndsAt *time.Time
	CompletedAt      *time.Time
	CreatedAt        time.Time
}

// ClipStatus represents the state of a clip variant.
type ClipStatus string

const (
	ClipStatusPending    ClipStatus = "pending"
	ClipStatusProcessing ClipStatus = "processing"
	ClipStatusCompleted  ClipStatus = "completed"
	ClipStatusFailed     ClipStatus = "failed"
)

// ClipVariant is one generated rendering of an episode competing for tip-votes.
type ClipVariant struct {
	ID              uuid.UUID
	EpisodeID       uuid.UUID
	VariantNumber   int
	Status          ClipStatus
	Prompt          string
	Seed            int64
	VideoURL        *string
	VoteCount       int
	TipTotal        int64 // cents
	IsSelected      bool
	RetryCount      int
	ErrorMessage    *string
	LastFailedAt    *time.Time
	FailureTerminal bool
	CreatedAt       time.Time
}

// JobType identifies the generation work a job performs.
type JobType string

const (
	JobTypeTTSAudio  JobType = "tts_audio"
	JobTypeVideoClip JobType = "video_clip"
)

// JobStatus represents the state of a production job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ProductionJob is a unit of generation work in the polled job table.
// Exactly one of EpisodeID or ClipVariantID identifies the owner of the work;
// SeriesID is always set for roll-up.
type ProductionJob struct {
	ID            uuid.UUID
	JobType       JobType
	Status        JobStatus
	Priority      int // lower runs first
	AttemptCount  int
	LastError     *string
	SeriesID      uuid.UUID
	EpisodeID     *uuid.UUID
	ClipVariantID *uuid.UUID
	Payload       json.RawMessage
	RunAfter      time.Time
	CreatedAt     time.Time
	StartedAt     *time.Time
	HeartbeatAt   *time.Time
	CompletedAt   *time.Time
}

// Vote is the single net tip-vote of a session for a clip variant.
type Vote struct {
	ID             uuid.UUID
	SessionID      string
	ClipVariantID  uuid.UUID
	TipAmountCents int64 // cumulative across payments
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PaymentStatus represents the state of a tip payment.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSettled PaymentStatus = "settled"
)

// Payment is one settled x402 tip.
type Payment struct {
	ID              uuid.UUID
	VoteID          uuid.UUID
	ClipVariantID   uuid.UUID
	SessionID       string
	AmountCents     int64
	AmountBaseUnits string
	Payer           string
	ProofHash       string
	Network         string
	SettlementRef   *string
	Status          PaymentStatus
	CreatedAt       time.Time
}

// PayoutRole identifies who receives a payout share.
type PayoutRole string

const (
	PayoutRoleCreator  PayoutRole = "creator"
	PayoutRolePlatform PayoutRole = "platform"
	PayoutRoleAgent    PayoutRole = "agent"
)

// PayoutStatus represents the state of a payout.
type PayoutStatus string

const (
	PayoutStatusPending PayoutStatus = "pending"
	PayoutStatusSent    PayoutStatus = "sent"
	PayoutStatusFailed  PayoutStatus = "failed"
)

// Payout is one share of a settled tip owed to a recipient.
type Payout struct {
	ID           uuid.UUID
	PaymentID    uuid.UUID
	Role         PayoutRole
	Percent      int
	AmountCents  int64
	Recipient    string
	Status       PayoutStatus
	AttemptCount int
	LastError    *string
	TxHash       *string
	LockedUntil  *time.Time
	CreatedAt    time.Time
	SentAt       *time.Time
}
