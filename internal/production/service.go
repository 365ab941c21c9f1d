package production

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"moltstudio/internal/generation"
	"moltstudio/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// AudioGenerator turns narration into a hosted audio file.
type AudioGenerator interface {
	Synthesize(ctx context.Context, episodeID, text string) (string, error)
}

// ClipGenerator renders a clip variant into a hosted video file.
type ClipGenerator interface {
	RenderClip(ctx context.Context, req generation.ClipRequest) (string, error)
}

// Recorder receives pipeline measurements.
type Recorder interface {
	JobsClaimed(ctx context.Context, n int)
	JobProcessed(ctx context.Context, jobType, outcome string)
	SweepDecisions(ctx context.Context, decision string, n int)
}

type nopRecorder struct{}

func (nopRecorder) JobsClaimed(context.Context, int)             {}
func (nopRecorder) JobProcessed(context.Context, string, string) {}
func (nopRecorder) SweepDecisions(context.Context, string, int)  {}

// Config holds the queue and retry limits.
type Config struct {
	MaxAttempts    int
	Retry          RetryPolicy
	StaleAfter     time.Duration
	ClipWindow     time.Duration
	MaxErrorLength int
	SweepLimit     int
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.Cooldown <= 0 {
		c.Retry.Cooldown = 10 * time.Minute
	}
	if c.Retry.AbandonAfter <= 0 {
		c.Retry.AbandonAfter = 72 * time.Hour
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 45 * time.Minute
	}
	if c.ClipWindow <= 0 {
		c.ClipWindow = 72 * time.Hour
	}
	if c.MaxErrorLength <= 0 {
		c.MaxErrorLength = 500
	}
	if c.SweepLimit <= 0 {
		c.SweepLimit = 200
	}
}

// Outcome is the result of processing one job.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRetried   Outcome = "retried"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Service claims production jobs, runs them against the generation services
// and records the results.
type Service struct {
	store   store.Store
	audio   AudioGenerator
	clips   ClipGenerator
	cfg     Config
	metrics Recorder
	log     *slog.Logger
	now     func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option { return func(s *Service) { s.metrics = r } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService wires a production service.
func NewService(st store.Store, audio AudioGenerator, clips ClipGenerator, cfg Config, log *slog.Logger, opts ...Option) *Service {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		store:   st,
		audio:   audio,
		clips:   clips,
		cfg:     cfg,
		metrics: nopRecorder{},
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the auto-retry policy in effect.
func (s *Service) Policy() RetryPolicy { return s.cfg.Retry }

// ClaimBatch atomically claims up to limit runnable jobs.
func (s *Service) ClaimBatch(ctx context.Context, limit int) ([]store.ProductionJob, error) {
	var jobs []store.ProductionJob
	err := s.store.InTx(ctx, func(r store.Repository) error {
		var err error
		jobs, err = r.ClaimJobs(ctx, limit, s.now())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	if len(jobs) > 0 {
		s.metrics.JobsClaimed(ctx, len(jobs))
	}
	return jobs, nil
}

// Heartbeat records that a claimed job is still making progress.
func (s *Service) Heartbeat(ctx context.Context, jobID uuid.UUID) error {
	return s.store.InTx(ctx, func(r store.Repository) error {
		return r.HeartbeatJob(ctx, jobID, s.now())
	})
}

// ProcessJob runs one claimed job. Generation failures are recorded on the
// job and its owner and never returned; the error result reports storage
// failures only.
func (s *Service) ProcessJob(ctx context.Context, job store.ProductionJob) (Outcome, error) {
	ctx, span := otel.Tracer("moltstudio/production").Start(ctx, "production.process_job")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.String("job.type", string(job.JobType)),
		attribute.Int("job.attempt", job.AttemptCount+1),
	)

	log := s.log.With("job_id", job.ID, "job_type", job.JobType, "attempt", job.AttemptCount+1)

	outcome, err := s.processJob(ctx, job, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("job processing aborted", "error", err)
		return outcome, err
	}
	span.SetAttributes(attribute.String("job.outcome", string(outcome)))
	s.metrics.JobProcessed(ctx, string(job.JobType), string(outcome))
	return outcome, nil
}

func (s *Service) processJob(ctx context.Context, job store.ProductionJob, log *slog.Logger) (Outcome, error) {
	skip, err := s.begin(ctx, job)
	if err != nil {
		return "", err
	}
	// results are written even if the invocation is shutting down
	recordCtx := context.WithoutCancel(ctx)
	if skip {
		log.Info("owner already completed, closing job")
		return OutcomeSkipped, s.store.InTx(recordCtx, func(r store.Repository) error {
			return r.CompleteJob(recordCtx, job.ID, s.now())
		})
	}

	var payload JobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return s.recordFailure(recordCtx, job, generation.Terminal("malformed job payload: %v", err), log)
	}

	start := s.now()
	url, genErr := s.generate(ctx, job, payload)
	if genErr != nil {
		log.Warn("generation failed", "error", genErr, "elapsed", s.now().Sub(start))
		return s.recordFailure(recordCtx, job, genErr, log)
	}
	log.Info("generation completed", "url", url, "elapsed", s.now().Sub(start))
	return s.recordSuccess(recordCtx, job, url, log)
}

// begin marks the owner processing and the series in production. It reports
// skip when the owner already completed.
func (s *Service) begin(ctx context.Context, job store.ProductionJob) (bool, error) {
	skip := false
	err := s.store.InTx(ctx, func(r store.Repository) error {
		switch {
		case job.EpisodeID != nil:
			ep, err := r.GetEpisode(ctx, *job.EpisodeID)
			if err != nil {
				return err
			}
			if ep.Status == store.EpisodeStatusCompleted {
				skip = true
				return nil
			}
			if err := r.MarkEpisodeProcessing(ctx, ep.ID); err != nil {
				return err
			}
		case job.ClipVariantID != nil:
			clip, err := r.GetClipVariant(ctx, *job.ClipVariantID)
			if err != nil {
				return err
			}
			if clip.Status == store.ClipStatusCompleted {
				skip = true
				return nil
			}
			if err := r.MarkClipProcessing(ctx, clip.ID); err != nil {
				return err
			}
			ep, err := r.GetEpisode(ctx, clip.EpisodeID)
			if err != nil {
				return err
			}
			if ep.Status == store.EpisodeStatusPending {
				if err := r.MarkEpisodeProcessing(ctx, ep.ID); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("job %s has no owner", job.ID)
		}

		series, err := r.GetSeries(ctx, job.SeriesID)
		if err != nil {
			return err
		}
		if series.Status == store.SeriesStatusPending {
			return r.SetSeriesStatus(ctx, series.ID, store.SeriesStatusInProduction, nil)
		}
		return nil
	})
	return skip, err
}

func (s *Service) generate(ctx context.Context, job store.ProductionJob, p JobPayload) (string, error) {
	switch job.JobType {
	case store.JobTypeTTSAudio:
		if s.audio == nil {
			return "", generation.Terminal("no audio generator configured")
		}
		return s.audio.Synthesize(ctx, job.EpisodeID.String(), p.Text)
	case store.JobTypeVideoClip:
		if s.clips == nil {
			return "", generation.Terminal("no clip generator configured")
		}
		return s.clips.RenderClip(ctx, generation.ClipRequest{
			SeriesID:      job.SeriesID,
			EpisodeNumber: p.EpisodeNumber,
			VariantNumber: p.VariantNumber,
			Prompt:        p.Prompt,
			Seed:          p.Seed,
		})
	default:
		return "", generation.Terminal("unknown job type %q", job.JobType)
	}
}

// owned reports whether the job is still the running attempt this worker claimed.
// A stale requeue bumps the attempt count, so results of the lost run are dropped.
func owned(ctx context.Context, r store.Repository, job store.ProductionJob) (bool, error) {
	current, err := r.GetJob(ctx, job.ID)
	if err != nil {
		return false, err
	}
	return current.Status == store.JobStatusRunning && current.AttemptCount == job.AttemptCount, nil
}

func (s *Service) recordSuccess(ctx context.Context, job store.ProductionJob, url string, log *slog.Logger) (Outcome, error) {
	outcome := OutcomeCompleted
	err := s.store.InTx(ctx, func(r store.Repository) error {
		ok, err := owned(ctx, r, job)
		if err != nil {
			return err
		}
		if !ok {
			outcome = OutcomeSkipped
			log.Warn("job ownership lost before completion, discarding result")
			return nil
		}

		now := s.now()
		if job.EpisodeID != nil {
			if err := r.CompleteEpisode(ctx, *job.EpisodeID, &url, nil, now); err != nil {
				return err
			}
		} else {
			if err := r.CompleteClip(ctx, *job.ClipVariantID, url); err != nil {
				return err
			}
		}
		if err := r.CompleteJob(ctx, job.ID, now); err != nil {
			return err
		}
		return s.advance(ctx, r, job, now)
	})
	return outcome, err
}

func (s *Service) recordFailure(ctx context.Context, job store.ProductionJob, genErr error, log *slog.Logger) (Outcome, error) {
	terminal := generation.Classify(genErr) == generation.OutcomeTerminal
	msg := Truncate(genErr.Error(), s.cfg.MaxErrorLength)
	attempts := job.AttemptCount + 1

	outcome := OutcomeFailed
	err := s.store.InTx(ctx, func(r store.Repository) error {
		ok, err := owned(ctx, r, job)
		if err != nil {
			return err
		}
		if !ok {
			outcome = OutcomeSkipped
			return nil
		}

		now := s.now()
		retries, err := recordOwnerFailure(ctx, r, job, msg, now)
		if err != nil {
			return err
		}
		if !terminal && attempts < s.cfg.MaxAttempts && retries < s.cfg.Retry.MaxRetries {
			outcome = OutcomeRetried
			return r.RetryJob(ctx, job.ID, msg, now.Add(Backoff(attempts)))
		}
		if err := r.FailJob(ctx, job.ID, msg, now); err != nil {
			return err
		}
		return s.failOwner(ctx, r, job, store.Failure{Message: msg, Terminal: terminal, At: now})
	})
	if err == nil {
		log.Info("job failure recorded", "outcome", outcome, "terminal", terminal)
	}
	return outcome, err
}

// recordOwnerFailure charges one failed attempt to the job's episode or clip
// and returns its retry count.
func recordOwnerFailure(ctx context.Context, r store.Repository, job store.ProductionJob, msg string, at time.Time) (int, error) {
	if job.EpisodeID != nil {
		return r.RecordEpisodeFailure(ctx, *job.EpisodeID, msg, at)
	}
	return r.RecordClipFailure(ctx, *job.ClipVariantID, msg, at)
}

func (s *Service) failOwner(ctx context.Context, r store.Repository, job store.ProductionJob, f store.Failure) error {
	if job.EpisodeID != nil {
		if err := r.FailEpisode(ctx, *job.EpisodeID, f); err != nil {
			return err
		}
	} else {
		if err := r.FailClip(ctx, *job.ClipVariantID, f); err != nil {
			return err
		}
	}
	return s.advance(ctx, r, job, f.At)
}

// advance propagates an owner's new status to its episode and series.
func (s *Service) advance(ctx context.Context, r store.Repository, job store.ProductionJob, now time.Time) error {
	if job.ClipVariantID != nil {
		clip, err := r.GetClipVariant(ctx, *job.ClipVariantID)
		if err != nil {
			return err
		}
		if err := settleEpisodeClips(ctx, r, clip.EpisodeID, s.cfg.Retry, s.cfg.ClipWindow, now); err != nil {
			return err
		}
	}
	_, err := RollupSeries(ctx, r, job.SeriesID, s.cfg.Retry, now)
	return err
}
