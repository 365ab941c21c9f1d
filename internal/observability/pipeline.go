package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueueDepthFunc reports the number of production jobs per status.
type QueueDepthFunc func(ctx context.Context) (map[string]int64, error)

// PipelineMetrics records job, tip and payout activity. It satisfies the
// recorder interfaces of the production, payment and payout packages.
type PipelineMetrics struct {
	jobsProcessed    metric.Int64Counter
	jobsClaimed      metric.Int64Counter
	sweepDecisions   metric.Int64Counter
	tipsSettled      metric.Int64Counter
	tipCents         metric.Int64Counter
	payoutsDisbursed metric.Int64Counter
}

// NewPipelineMetrics registers the pipeline instruments on meter. When depth
// is non-nil the studio.jobs.queued gauge is observed through it.
func NewPipelineMetrics(meter metric.Meter, depth QueueDepthFunc) (*PipelineMetrics, error) {
	var (
		m   PipelineMetrics
		err error
	)
	if m.jobsProcessed, err = meter.Int64Counter("studio.jobs.processed",
		metric.WithDescription("Production jobs processed, by job type and outcome")); err != nil {
		return nil, fmt.Errorf("create studio.jobs.processed: %w", err)
	}
	if m.jobsClaimed, err = meter.Int64Counter("studio.jobs.claimed",
		metric.WithDescription("Production jobs claimed by workers")); err != nil {
		return nil, fmt.Errorf("create studio.jobs.claimed: %w", err)
	}
	if m.sweepDecisions, err = meter.Int64Counter("studio.sweep.decisions",
		metric.WithDescription("Auto-retry sweep decisions, by bucket")); err != nil {
		return nil, fmt.Errorf("create studio.sweep.decisions: %w", err)
	}
	if m.tipsSettled, err = meter.Int64Counter("studio.tips.settled",
		metric.WithDescription("Tips settled through x402")); err != nil {
		return nil, fmt.Errorf("create studio.tips.settled: %w", err)
	}
	if m.tipCents, err = meter.Int64Counter("studio.tips.cents",
		metric.WithDescription("Settled tip volume in cents"), metric.WithUnit("{cent}")); err != nil {
		return nil, fmt.Errorf("create studio.tips.cents: %w", err)
	}
	if m.payoutsDisbursed, err = meter.Int64Counter("studio.payouts.disbursed",
		metric.WithDescription("Payout transfer attempts, by outcome")); err != nil {
		return nil, fmt.Errorf("create studio.payouts.disbursed: %w", err)
	}

	if depth != nil {
		_, err = meter.Int64ObservableGauge("studio.jobs.queued",
			metric.WithDescription("Production jobs per status"),
			metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
				counts, err := depth(ctx)
				if err != nil {
					return err
				}
				for status, n := range counts {
					o.Observe(n, metric.WithAttributes(attribute.String("status", status)))
				}
				return nil
			}))
		if err != nil {
			return nil, fmt.Errorf("create studio.jobs.queued: %w", err)
		}
	}
	return &m, nil
}

func (m *PipelineMetrics) JobsClaimed(ctx context.Context, n int) {
	m.jobsClaimed.Add(ctx, int64(n))
}

func (m *PipelineMetrics) JobProcessed(ctx context.Context, jobType, outcome string) {
	m.jobsProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_type", jobType),
		attribute.String("outcome", outcome),
	))
}

func (m *PipelineMetrics) SweepDecisions(ctx context.Context, decision string, n int) {
	if n == 0 {
		return
	}
	m.sweepDecisions.Add(ctx, int64(n), metric.WithAttributes(attribute.String("bucket", decision)))
}

func (m *PipelineMetrics) TipSettled(ctx context.Context, cents int64) {
	m.tipsSettled.Add(ctx, 1)
	m.tipCents.Add(ctx, cents)
}

func (m *PipelineMetrics) PayoutDisbursed(ctx context.Context, outcome string) {
	m.payoutsDisbursed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
