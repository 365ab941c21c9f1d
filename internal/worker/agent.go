// Package worker runs production invocations: requeue stale jobs, claim a
// batch, generate it with bounded concurrency, sweep failures and disburse payouts.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"moltstudio/internal/payout"
	"moltstudio/internal/production"
	"moltstudio/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Pipeline is the production work an invocation drives.
type Pipeline interface {
	RequeueStale(ctx context.Context) (int, error)
	ClaimBatch(ctx context.Context, limit int) ([]store.ProductionJob, error)
	Heartbeat(ctx context.Context, jobID uuid.UUID) error
	ProcessJob(ctx context.Context, job store.ProductionJob) (production.Outcome, error)
	ProcessPendingProductions(ctx context.Context) (production.SweepResult, error)
}

// Disburser sends pending payout shares.
type Disburser interface {
	Run(ctx context.Context) (payout.Result, error)
}

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID                string
	BatchSize         int
	Concurrency       int
	HeartbeatInterval time.Duration
	PollInterval      time.Duration // delay between invocations in loop mode (default: 30s)
	MaxBackoff        time.Duration // maximum delay when the queue stays empty (default: 5m)
}

// Summary reports what one invocation did.
type Summary struct {
	Stale     int                    `json:"stale"`
	Claimed   int                    `json:"claimed"`
	Completed int                    `json:"completed"`
	Retried   int                    `json:"retried"`
	Failed    int                    `json:"failed"`
	Skipped   int                    `json:"skipped"`
	Errors    int                    `json:"errors"`
	Sweep     production.SweepResult `json:"sweep"`
	Payouts   *payout.Result         `json:"payouts,omitempty"`
}

func (s *Summary) add(o production.Outcome) {
	switch o {
	case production.OutcomeCompleted:
		s.Completed++
	case production.OutcomeRetried:
		s.Retried++
	case production.OutcomeFailed:
		s.Failed++
	case production.OutcomeSkipped:
		s.Skipped++
	}
}

// Agent runs production invocations.
type Agent struct {
	pipeline Pipeline
	payouts  Disburser
	config   AgentConfig
	log      *slog.Logger
	done     chan struct{}
}

// New creates a new worker agent. payouts may be nil.
func New(p Pipeline, payouts Disburser, config AgentConfig, log *slog.Logger) *Agent {
	if config.BatchSize <= 0 {
		config.BatchSize = 5
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = time.Minute
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Agent{
		pipeline: p,
		payouts:  payouts,
		config:   config,
		log:      log.With("worker_id", config.ID),
		done:     make(chan struct{}),
	}
}

// RunOnce performs one invocation. Jobs are processed even if ctx is
// cancelled once claimed, so a shutdown drains the batch instead of
// abandoning it to the stale sweep.
func (a *Agent) RunOnce(ctx context.Context) (*Summary, error) {
	ctx, span := otel.Tracer("moltstudio/worker").Start(ctx, "worker.invocation",
		trace.WithAttributes(attribute.String("worker.id", a.config.ID)))
	defer span.End()

	var sum Summary
	var errs []error

	stale, err := a.pipeline.RequeueStale(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	sum.Stale = stale

	jobs, err := a.pipeline.ClaimBatch(ctx, a.config.BatchSize)
	if err != nil {
		errs = append(errs, err)
	}
	sum.Claimed = len(jobs)
	span.SetAttributes(attribute.Int("jobs.claimed", len(jobs)))

	if len(jobs) > 0 {
		a.log.Info("claimed jobs", "count", len(jobs))
		a.processBatch(context.WithoutCancel(ctx), jobs, &sum)
	}

	sweep, err := a.pipeline.ProcessPendingProductions(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	sum.Sweep = sweep

	if a.payouts != nil {
		res, err := a.payouts.Run(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		sum.Payouts = &res
	}

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		return &sum, fmt.Errorf("worker invocation: %w", err)
	}
	return &sum, nil
}

func (a *Agent) processBatch(ctx context.Context, jobs []store.ProductionJob, sum *Summary) {
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(a.config.Concurrency)

	for _, job := range jobs {
		g.Go(func() error {
			hbCtx, stopHeartbeat := context.WithCancel(ctx)
			defer stopHeartbeat()
			go a.runHeartbeat(hbCtx, job.ID)

			outcome, err := a.pipeline.ProcessJob(ctx, job)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Errors++
				a.log.Error("job failed to record", "job_id", job.ID, "error", err)
				return nil
			}
			sum.add(outcome)
			return nil
		})
	}
	_ = g.Wait()
}

// runHeartbeat keeps heartbeat_at fresh while a job is generating so the
// stale sweep leaves it alone.
func (a *Agent) runHeartbeat(ctx context.Context, jobID uuid.UUID) {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.pipeline.Heartbeat(ctx, jobID); err != nil && ctx.Err() == nil {
				a.log.Warn("heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// Run repeats invocations until ctx is cancelled. An invocation that claims
// nothing doubles the delay before the next one, up to MaxBackoff.
func (a *Agent) Run(ctx context.Context) error {
	defer close(a.done)
	a.log.Info("worker loop starting", "concurrency", a.config.Concurrency, "batch_size", a.config.BatchSize)

	backoff := a.config.PollInterval
	for {
		sum, err := a.RunOnce(ctx)
		if err != nil {
			a.log.Error("invocation failed", "error", err)
		}

		if sum != nil && sum.Claimed > 0 {
			backoff = a.config.PollInterval
		} else {
			backoff *= 2
			if backoff > a.config.MaxBackoff {
				backoff = a.config.MaxBackoff
			}
		}

		select {
		case <-ctx.Done():
			a.log.Info("worker loop stopped")
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// Done returns a channel that is closed when Run has returned.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}
