package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"moltstudio/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// Transferrer executes on-chain transfers.
type Transferrer interface {
	Transfer(ctx context.Context, req TransferRequest) (string, error)
}

// Recorder receives disbursement measurements.
type Recorder interface {
	PayoutDisbursed(ctx context.Context, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) PayoutDisbursed(context.Context, string) {}

// Config controls disbursement.
type Config struct {
	BatchSize     int
	MaxAttempts   int
	Concurrency   int
	Lease         time.Duration
	Asset         string
	Network       string
	AssetDecimals int
}

// Result counts the outcomes of one disbursement pass.
type Result struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Retried int `json:"retried"`
}

// Disburser pays out pending shares. A failed transfer never touches the
// vote or payment it came from; it is retried on its own.
type Disburser struct {
	store    store.Store
	transfer Transferrer
	cfg      Config
	metrics  Recorder
	log      *slog.Logger
	now      func() time.Time
}

// NewDisburser wires a disburser.
func NewDisburser(st store.Store, t Transferrer, cfg Config, log *slog.Logger) *Disburser {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if cfg.AssetDecimals == 0 {
		cfg.AssetDecimals = 6
	}
	if log == nil {
		log = slog.Default()
	}
	return &Disburser{store: st, transfer: t, cfg: cfg, metrics: nopRecorder{}, log: log, now: time.Now}
}

// SetRecorder sets the metrics recorder.
func (d *Disburser) SetRecorder(r Recorder) { d.metrics = r }

// SetClock overrides time.Now.
func (d *Disburser) SetClock(now func() time.Time) { d.now = now }

// Run leases one batch of pending payouts and attempts each transfer.
func (d *Disburser) Run(ctx context.Context) (Result, error) {
	var batch []store.Payout
	err := d.store.InTx(ctx, func(r store.Repository) error {
		var err error
		batch, err = r.ClaimPendingPayouts(ctx, d.cfg.BatchSize, d.now(), d.cfg.Lease)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("claim payouts: %w", err)
	}

	var (
		mu   sync.Mutex
		res  Result
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(d.cfg.Concurrency)
	for _, p := range batch {
		g.Go(func() error {
			outcome, err := d.disburse(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("payout %s: %w", p.ID, err))
				return nil
			}
			switch outcome {
			case "sent":
				res.Sent++
			case "failed":
				res.Failed++
			case "retried":
				res.Retried++
			}
			d.metrics.PayoutDisbursed(ctx, outcome)
			return nil
		})
	}
	_ = g.Wait()
	if err := errors.Join(errs...); err != nil {
		return res, err
	}
	if len(batch) > 0 {
		d.log.Info("payout batch finished", "sent", res.Sent, "failed", res.Failed, "retried", res.Retried)
	}
	return res, nil
}

// disburse transfers one payout. It returns an error only when the outcome
// could not be stored.
func (d *Disburser) disburse(ctx context.Context, p store.Payout) (string, error) {
	ctx, span := otel.Tracer("moltstudio/payout").Start(ctx, "payout.transfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("payout.id", p.ID.String()),
		attribute.String("payout.role", string(p.Role)),
		attribute.Int("payout.attempt", p.AttemptCount),
	)
	log := d.log.With("payout_id", p.ID, "payment_id", p.PaymentID, "role", p.Role, "attempt", p.AttemptCount)
	// outcomes are stored even if the pass is cancelled mid-transfer
	recordCtx := context.WithoutCancel(ctx)

	if p.AmountCents == 0 {
		return "sent", d.store.InTx(recordCtx, func(r store.Repository) error {
			return r.MarkPayoutSent(recordCtx, p.ID, "", d.now())
		})
	}
	if p.Recipient == "" {
		log.Error("payout has no recipient address")
		return "failed", d.markFailed(recordCtx, p, "missing recipient address", true)
	}

	amount, err := BaseUnits(p.AmountCents, d.cfg.AssetDecimals)
	if err != nil {
		return "failed", d.markFailed(recordCtx, p, err.Error(), true)
	}

	txHash, err := d.transfer.Transfer(ctx, TransferRequest{
		To:             p.Recipient,
		Amount:         amount,
		Asset:          d.cfg.Asset,
		Network:        d.cfg.Network,
		IdempotencyKey: p.ID.String(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		final := errors.Is(err, ErrRejected) || p.AttemptCount >= d.cfg.MaxAttempts
		log.Warn("payout transfer failed", "error", err, "final", final)
		outcome := "retried"
		if final {
			outcome = "failed"
		}
		return outcome, d.markFailed(recordCtx, p, err.Error(), final)
	}

	log.Info("payout sent", "tx_hash", txHash, "amount_cents", p.AmountCents)
	return "sent", d.store.InTx(recordCtx, func(r store.Repository) error {
		return r.MarkPayoutSent(recordCtx, p.ID, txHash, d.now())
	})
}

func (d *Disburser) markFailed(ctx context.Context, p store.Payout, msg string, final bool) error {
	retryAt := d.now().Add(Backoff(p.AttemptCount))
	return d.store.InTx(ctx, func(r store.Repository) error {
		return r.MarkPayoutFailed(ctx, p.ID, msg, final, retryAt)
	})
}

// Backoff is the wait before a failed transfer is attempted again:
// 30s * 2^(attempt-1), capped at one hour.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 8 {
		return time.Hour
	}
	d := 30 * time.Second << (attempt - 1)
	if d > time.Hour {
		return time.Hour
	}
	return d
}
