// Package app builds the studio services from configuration. The controller
// and the worker share it so both processes run the same pipeline.
package app

import (
	"context"
	"errors"
	"log/slog"

	"moltstudio/internal/clipvote"
	"moltstudio/internal/config"
	"moltstudio/internal/generation"
	"moltstudio/internal/observability"
	"moltstudio/internal/payment"
	"moltstudio/internal/payout"
	"moltstudio/internal/production"
	"moltstudio/internal/store"
	"moltstudio/internal/voting"
	"moltstudio/internal/worker"

	"go.opentelemetry.io/otel/metric"
)

// App holds the wired services.
type App struct {
	Store      store.Store
	Metrics    *observability.PipelineMetrics
	Production *production.Service
	Clips      *clipvote.Engine
	Voting     *voting.Manager
	Gateway    *payment.Gateway
	Payouts    *payout.Disburser

	closers []func() error
}

// New wires every service on top of st. meter receives the pipeline
// instruments; the queue depth gauge reads from st.
func New(ctx context.Context, st store.Store, cfg *config.Config, meter metric.Meter, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{Store: st}

	m, err := observability.NewPipelineMetrics(meter, queueDepth(st))
	if err != nil {
		return nil, err
	}
	a.Metrics = m

	policy := production.RetryPolicy{
		MaxRetries:   cfg.Production.MaxRetries,
		Cooldown:     cfg.Production.RetryCooldown,
		AbandonAfter: cfg.Production.AbandonAfter,
	}

	tts := generation.NewTTSClient(generation.TTSConfig{
		BaseURL:      cfg.Generation.TTSURL,
		APIKey:       cfg.Generation.TTSAPIKey,
		Model:        cfg.Generation.TTSModel,
		PollInterval: cfg.Generation.TTSPollInterval,
		MaxWait:      cfg.Generation.TTSMaxWait,
		RatePerSec:   cfg.Generation.RatePerSecond,
	})
	video := generation.NewVideoClient(generation.VideoConfig{
		URL:        cfg.Generation.VideoURL,
		Timeout:    cfg.Generation.VideoTimeout,
		RatePerSec: cfg.Generation.RatePerSecond,
	})

	var assets generation.AssetStore
	if cfg.Storage.SupabaseURL != "" {
		sb, err := generation.NewSupabaseAssets(cfg.Storage.SupabaseURL, cfg.Storage.SupabaseKey, cfg.Storage.Bucket)
		if err != nil {
			return nil, err
		}
		assets = sb
	} else {
		log.Warn("asset storage not configured, video clips will fail")
	}

	a.Production = production.NewService(st, tts, generation.NewClipRenderer(video, assets), production.Config{
		MaxAttempts:    cfg.Production.MaxAttempts,
		Retry:          policy,
		StaleAfter:     cfg.Production.StaleAfter,
		ClipWindow:     cfg.Voting.ClipWindow,
		MaxErrorLength: cfg.Production.MaxErrorLength,
	}, log.With("component", "production"), production.WithRecorder(m))

	a.Clips = clipvote.NewEngine(st, policy, log.With("component", "clipvote"))
	a.Voting = voting.NewManager(st,
		production.NewOrchestrator(cfg.Production.VariantsPerEpisode, log.With("component", "orchestrator")),
		a.Clips,
		voting.Config{PeriodDuration: cfg.Voting.PeriodDuration},
		log.With("component", "voting"))

	var guard payment.ReplayGuard
	if cfg.RedisURL != "" {
		rg, err := payment.NewRedisGuard(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := rg.Ping(ctx); err != nil {
			log.Warn("redis unreachable, relying on stored proof hashes", "error", err)
		}
		guard = rg
		a.closers = append(a.closers, rg.Close)
	}

	a.Gateway = payment.NewGateway(st, a.Clips, payment.NewFacilitatorClient(cfg.Payment.FacilitatorURL), guard, payment.Config{
		Network:           cfg.Payment.Network,
		Asset:             cfg.Payment.Asset,
		AssetDecimals:     cfg.Payment.AssetDecimals,
		PayTo:             cfg.Payment.PayTo,
		PlatformAddress:   cfg.Payout.PlatformAddress,
		MinTipCents:       cfg.Payment.MinTipCents,
		MaxTimeoutSeconds: cfg.Payment.MaxTimeoutSeconds,
		PublicURL:         cfg.ControllerURL,
	}, log.With("component", "payment"))
	a.Gateway.SetRecorder(m)

	if cfg.Payout.TransferURL == "" {
		log.Warn("payout transfer service not configured, payouts will be retried until it is")
	}
	a.Payouts = payout.NewDisburser(st, payout.NewTransferClient(cfg.Payout.TransferURL, cfg.Payout.TransferToken), payout.Config{
		BatchSize:     cfg.Payout.BatchSize,
		MaxAttempts:   cfg.Payout.MaxAttempts,
		Asset:         cfg.Payment.Asset,
		Network:       cfg.Payment.Network,
		AssetDecimals: cfg.Payment.AssetDecimals,
	}, log.With("component", "payout"))
	a.Payouts.SetRecorder(m)

	return a, nil
}

// Agent returns a worker agent driving the production service. payouts may be nil.
func (a *App) Agent(cfg *config.Config, id string, payouts worker.Disburser, log *slog.Logger) *worker.Agent {
	return worker.New(a.Production, payouts, worker.AgentConfig{
		ID:                id,
		BatchSize:         cfg.Production.BatchSize,
		Concurrency:       cfg.Production.Concurrency,
		HeartbeatInterval: cfg.Production.HeartbeatInterval,
	}, log)
}

// Close releases connections opened by New. The store is owned by the caller.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func queueDepth(st store.Store) observability.QueueDepthFunc {
	return func(ctx context.Context) (map[string]int64, error) {
		var counts map[store.JobStatus]int64
		err := st.InTx(ctx, func(repo store.Repository) error {
			var err error
			counts, err = repo.CountJobsByStatus(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		out := make(map[string]int64, len(counts))
		for s, n := range counts {
			out[string(s)] = n
		}
		return out, nil
	}
}
