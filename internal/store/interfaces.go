package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a write violates a uniqueness rule.
	ErrConflict = errors.New("store: conflict")
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store is the storage port of the pipeline.
// Every read and write happens inside InTx: either all writes made through
// the Repository passed to fn become visible, or none do.
type Store interface {
	InTx(ctx context.Context, fn func(Repository) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Repository groups every data operation available inside a transaction.
type Repository interface {
	ScriptRepository
	PeriodRepository
	SeriesRepository
	ClipRepository
	JobRepository
	VoteRepository
	PayoutRepository
}

// Failure describes a generation failure recorded on an episode or clip.
type Failure struct {
	Message  string
	Terminal bool
	At       time.Time
}

// ScriptRepository handles pilot scripts.
type ScriptRepository interface {
	GetScript(ctx context.Context, id uuid.UUID) (*Script, error)

	// ListVotingScripts returns the scripts competing in a period, ranked by
	// score desc, upvotes desc, submitted_at asc, id asc.
	ListVotingScripts(ctx context.Context, periodID uuid.UUID) ([]Script, error)

	SetPilotStatus(ctx context.Context, ids []uuid.UUID, status PilotStatus) error

	// AssignSubmittedScripts moves every submitted script into the period.
	AssignSubmittedScripts(ctx context.Context, periodID uuid.UUID) (int64, error)

	// ListSelectedWithoutSeries returns winners whose production never started.
	ListSelectedWithoutSeries(ctx context.Context, limit int) ([]Script, error)
}

// PeriodRepository handles voting periods.
type PeriodRepository interface {
	// LockOpenPeriod returns the active, unprocessed period locked for update.
	// A period locked by a concurrent transaction is skipped (ErrNotFound).
	LockOpenPeriod(ctx context.Context) (*VotingPeriod, error)

	GetOpenPeriod(ctx context.Context) (*VotingPeriod, error)
	CreatePeriod(ctx context.Context, period *VotingPeriod) error
	MarkPeriodProcessed(ctx context.Context, id uuid.UUID, winnerID *uuid.UUID, at time.Time) error
}

// SeriesRepository handles series and episodes.
type SeriesRepository interface {
	// InsertSeries creates the series unless the script already has one.
	// It reports whether a row was created.
	InsertSeries(ctx context.Context, series *Series) (bool, error)

	GetSeries(ctx context.Context, id uuid.UUID) (*Series, error)
	GetSeriesByScript(ctx context.Context, scriptID uuid.UUID) (*Series, error)
	SetSeriesStatus(ctx context.Context, id uuid.UUID, status SeriesStatus, completedAt *time.Time) error

	InsertEpisode(ctx context.Context, episode *Episode) error
	GetEpisode(ctx context.Context, id uuid.UUID) (*Episode, error)
	LockEpisode(ctx context.Context, id uuid.UUID) (*Episode, error)
	ListEpisodes(ctx context.Context, seriesID uuid.UUID) ([]Episode, error)

	MarkEpisodeProcessing(ctx context.Context, id uuid.UUID) error
	CompleteEpisode(ctx context.Context, id uuid.UUID, audioURL, videoURL *string, at time.Time) error

	// RecordEpisodeFailure counts one failed generation attempt against the
	// episode's retry budget and returns the new count. Status is unchanged.
	RecordEpisodeFailure(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) (int, error)

	// FailEpisode marks the episode failed. The retry count is left alone.
	FailEpisode(ctx context.Context, id uuid.UUID, failure Failure) error

	// RequeueEpisode moves a failed episode back to pending, keeping its retry count.
	RequeueEpisode(ctx context.Context, id uuid.UUID) (bool, error)

	// ResetEpisode moves a failed episode back to pending and clears its failure fields.
	ResetEpisode(ctx context.Context, id uuid.UUID) (bool, error)

	OpenClipVoting(ctx context.Context, id uuid.UUID, endsAt time.Time) error
	ListEpisodesDueForSelection(ctx context.Context, now time.Time, limit int) ([]Episode, error)

	// ListRetryableFailedEpisodes returns non-terminal failed episodes of audio series.
	ListRetryableFailedEpisodes(ctx context.Context, limit int) ([]Episode, error)
}

// ClipRepository handles clip variants.
type ClipRepository interface {
	InsertClipVariant(ctx context.Context, clip *ClipVariant) error
	GetClipVariant(ctx context.Context, id uuid.UUID) (*ClipVariant, error)
	LockClipVariant(ctx context.Context, id uuid.UUID) (*ClipVariant, error)

	// ListClipVariants returns the variants of an episode ordered for the
	// leaderboard: tip_total desc, vote_count desc, created_at asc.
	ListClipVariants(ctx context.Context, episodeID uuid.UUID) ([]ClipVariant, error)

	MarkClipProcessing(ctx context.Context, id uuid.UUID) error
	CompleteClip(ctx context.Context, id uuid.UUID, videoURL string) error
	RecordClipFailure(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) (int, error)
	FailClip(ctx context.Context, id uuid.UUID, failure Failure) error
	RequeueClip(ctx context.Context, id uuid.UUID) (bool, error)
	ResetClip(ctx context.Context, id uuid.UUID) (bool, error)

	// ApplyTip adds to the vote and tip tallies of a clip.
	ApplyTip(ctx context.Context, id uuid.UUID, voteDelta int, cents int64) error

	// SelectClip marks one variant selected and clears its siblings.
	SelectClip(ctx context.Context, episodeID, clipID uuid.UUID) error

	ListRetryableFailedClips(ctx context.Context, limit int) ([]ClipVariant, error)
}

// JobRepository handles the production job table.
type JobRepository interface {
	InsertJob(ctx context.Context, job *ProductionJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*ProductionJob, error)

	// ClaimJobs atomically flips up to limit runnable queued jobs to running,
	// ordered by priority asc, created_at asc. Rows claimed by a concurrent
	// transaction are skipped, so no two callers ever receive the same job.
	ClaimJobs(ctx context.Context, limit int, now time.Time) ([]ProductionJob, error)

	CompleteJob(ctx context.Context, id uuid.UUID, at time.Time) error

	// RetryJob records a failed attempt and requeues the job to run after runAfter.
	RetryJob(ctx context.Context, id uuid.UUID, errMsg string, runAfter time.Time) error

	// FailJob records a failed attempt and marks the job failed.
	FailJob(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error

	HeartbeatJob(ctx context.Context, id uuid.UUID, at time.Time) error

	// ListStaleJobs returns running jobs whose last sign of life is before cutoff,
	// locked for update.
	ListStaleJobs(ctx context.Context, cutoff time.Time, limit int) ([]ProductionJob, error)

	ListJobs(ctx context.Context, status JobStatus, limit int) ([]ProductionJob, error)
	CountJobsByStatus(ctx context.Context) (map[JobStatus]int64, error)
}

// VoteRepository handles tip-votes and payments.
type VoteRepository interface {
	GetVote(ctx context.Context, sessionID string, clipID uuid.UUID) (*Vote, error)
	InsertVote(ctx context.Context, vote *Vote) error
	AddToVote(ctx context.Context, id uuid.UUID, cents int64, at time.Time) error

	// InsertPayment returns ErrConflict when the proof was already used.
	InsertPayment(ctx context.Context, payment *Payment) error
	MarkPaymentSettled(ctx context.Context, id uuid.UUID, settlementRef string) error
}

// PayoutRepository handles payout shares.
type PayoutRepository interface {
	InsertPayouts(ctx context.Context, payouts []Payout) error
	ListPayouts(ctx context.Context, paymentID uuid.UUID) ([]Payout, error)

	// ClaimPendingPayouts leases up to limit pending payouts until now+lease
	// and counts the attempt.
	ClaimPendingPayouts(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]Payout, error)

	MarkPayoutSent(ctx context.Context, id uuid.UUID, txHash string, at time.Time) error

	// MarkPayoutFailed records a transfer error. A final failure moves the
	// payout to failed; otherwise it stays pending until retryAt.
	MarkPayoutFailed(ctx context.Context, id uuid.UUID, errMsg string, final bool, retryAt time.Time) error
}
