package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"moltstudio/internal/apperr"
	"moltstudio/internal/auth"
	"moltstudio/internal/clipvote"
	"moltstudio/internal/payout"
	"moltstudio/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrValidation is returned for a malformed tip request.
	ErrValidation = errors.New("invalid tip request")

	// ErrClipClosed is returned when the clip does not accept tips.
	ErrClipClosed = errors.New("clip is not open for voting")

	// ErrDeclined is matched by every *DeclinedError.
	ErrDeclined = errors.New("payment declined")

	// ErrReplay is returned when a payment proof was already used.
	ErrReplay = errors.New("payment proof already used")
)

// DeclinedError reports a payment the facilitator refused. Nothing was
// recorded and the caller may retry with a new signature.
type DeclinedError struct {
	Reason    string
	Challenge *Challenge
}

func (e *DeclinedError) Error() string { return "payment declined: " + e.Reason }

// Is makes errors.Is(err, ErrDeclined) match.
func (e *DeclinedError) Is(target error) bool { return target == ErrDeclined }

// Config describes the accepted payment option.
type Config struct {
	Network           string
	Asset             string
	AssetName         string
	AssetVersion      string
	AssetDecimals     int
	PayTo             string
	PlatformAddress   string
	MinTipCents       int64
	MaxTimeoutSeconds int
	PublicURL         string
}

// Recorder receives payment measurements.
type Recorder interface {
	TipSettled(ctx context.Context, cents int64)
}

type nopRecorder struct{}

func (nopRecorder) TipSettled(context.Context, int64) {}

// TipRequest is a viewer's request to tip a clip.
type TipRequest struct {
	ClipID      uuid.UUID
	SessionID   string
	AmountCents int64
}

// Receipt is the recorded result of a settled tip.
type Receipt struct {
	State     State
	FirstVote bool
	Vote      store.Vote
	Clip      store.ClipVariant
	Payment   store.Payment
	Payouts   []store.Payout
}

// Gateway runs the x402 exchange for tip-votes.
type Gateway struct {
	store       store.Store
	votes       *clipvote.Engine
	facilitator Facilitator
	guard       ReplayGuard
	cfg         Config
	metrics     Recorder
	log         *slog.Logger
	now         func() time.Time
}

// NewGateway wires a gateway. A nil guard leaves replay protection to the
// unique proof hash in storage.
func NewGateway(st store.Store, votes *clipvote.Engine, f Facilitator, guard ReplayGuard, cfg Config, log *slog.Logger) *Gateway {
	if cfg.AssetDecimals == 0 {
		cfg.AssetDecimals = 6
	}
	if cfg.AssetName == "" {
		cfg.AssetName = "USDC"
	}
	if cfg.AssetVersion == "" {
		cfg.AssetVersion = "2"
	}
	if cfg.MinTipCents <= 0 {
		cfg.MinTipCents = 1
	}
	if cfg.MaxTimeoutSeconds <= 0 {
		cfg.MaxTimeoutSeconds = 300
	}
	if cfg.PlatformAddress == "" {
		cfg.PlatformAddress = cfg.PayTo
	}
	if guard == nil {
		guard = NewMemoryGuard()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		store:       st,
		votes:       votes,
		facilitator: f,
		guard:       guard,
		cfg:         cfg,
		metrics:     nopRecorder{},
		log:         log,
		now:         time.Now,
	}
}

// SetRecorder sets the metrics recorder.
func (g *Gateway) SetRecorder(r Recorder) { g.metrics = r }

// SetClock overrides time.Now.
func (g *Gateway) SetClock(now func() time.Time) { g.now = now }

// RequestTip checks that the tip can be accepted and returns the 402
// challenge describing how to pay for it.
func (g *Gateway) RequestTip(ctx context.Context, req TipRequest) (*Challenge, error) {
	if err := g.validate(req); err != nil {
		return nil, err
	}
	if err := g.checkOpen(ctx, req.ClipID); err != nil {
		return nil, err
	}
	reqs, err := g.requirements(req)
	if err != nil {
		return nil, err
	}
	return g.challenge(req, reqs, ""), nil
}

// SettleTip verifies the signed payment in header, then records the vote,
// the payment and its payouts and charges the payer in one transaction.
// Either all of it happens or none of it does.
func (g *Gateway) SettleTip(ctx context.Context, req TipRequest, header string) (*Receipt, error) {
	ctx, span := otel.Tracer("moltstudio/payment").Start(ctx, "payment.settle_tip")
	defer span.End()
	span.SetAttributes(
		attribute.String("clip.id", req.ClipID.String()),
		attribute.Int64("tip.cents", req.AmountCents),
	)

	receipt, err := g.settleTip(ctx, req, header)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("payment.id", receipt.Payment.ID.String()))
	return receipt, nil
}

func (g *Gateway) settleTip(ctx context.Context, req TipRequest, header string) (*Receipt, error) {
	if err := g.validate(req); err != nil {
		return nil, err
	}
	if err := g.checkOpen(ctx, req.ClipID); err != nil {
		return nil, err
	}
	reqs, err := g.requirements(req)
	if err != nil {
		return nil, err
	}
	decline := func(reason string) error {
		return &DeclinedError{Reason: reason, Challenge: g.challenge(req, reqs, reason)}
	}

	payload, err := DecodeHeader(header)
	if err != nil {
		g.log.Warn("payment header rejected", "clip_variant_id", req.ClipID, "error", err)
		return nil, decline("invalid_payment_header")
	}
	if payload.Scheme != reqs.Scheme || payload.Network != reqs.Network {
		return nil, decline("unsupported_payment_option")
	}

	proof := auth.HashKey(header)
	log := g.log.With("clip_variant_id", req.ClipID, "session_id", req.SessionID, "proof_hash", proof[:16])
	ttl := time.Duration(g.cfg.MaxTimeoutSeconds) * time.Second
	claimed, err := g.guard.Claim(ctx, proof, ttl)
	if err != nil {
		// the unique proof hash in storage still rejects replays
		log.Warn("replay guard unavailable", "error", err)
		claimed = true
	}
	if !claimed {
		return nil, ErrReplay
	}
	keep := false
	defer func() {
		if !keep {
			if err := g.guard.Release(context.WithoutCancel(ctx), proof); err != nil {
				log.Warn("failed to release payment proof", "error", err)
			}
		}
	}()

	verdict, err := g.facilitator.Verify(ctx, payload, reqs)
	if err != nil {
		return nil, err
	}
	if !verdict.IsValid {
		log.Info("payment declined at verification", "reason", verdict.InvalidReason)
		return nil, decline(verdict.InvalidReason)
	}

	var (
		receipt   Receipt
		chargedTx string
	)
	err = g.store.InTx(ctx, func(r store.Repository) error {
		clip, err := r.LockClipVariant(ctx, req.ClipID)
		if err != nil {
			return err
		}
		episode, err := r.GetEpisode(ctx, clip.EpisodeID)
		if err != nil {
			return err
		}
		if err := clipvote.CheckOpen(episode, clip, g.now()); err != nil {
			return fmt.Errorf("%w: %v", ErrClipClosed, err)
		}

		tally, err := g.votes.RecordVote(ctx, r, clip.ID, req.SessionID, req.AmountCents)
		if err != nil {
			return err
		}
		payment := store.Payment{
			ID:              uuid.New(),
			VoteID:          tally.Vote.ID,
			ClipVariantID:   clip.ID,
			SessionID:       req.SessionID,
			AmountCents:     req.AmountCents,
			AmountBaseUnits: reqs.Amount,
			Payer:           verdict.Payer,
			ProofHash:       proof,
			Network:         reqs.Network,
			Status:          store.PaymentStatusPending,
		}
		if err := r.InsertPayment(ctx, &payment); err != nil {
			if errors.Is(err, store.ErrConflict) {
				keep = true
				return ErrReplay
			}
			return err
		}
		to, err := g.recipients(ctx, r, episode)
		if err != nil {
			return err
		}
		payouts, err := payout.EnqueueSplit(ctx, r, payment.ID, req.AmountCents, to)
		if err != nil {
			return err
		}

		settled, err := g.facilitator.Settle(ctx, payload, reqs)
		if err != nil {
			return err
		}
		if !settled.Success {
			log.Info("payment declined at settlement", "reason", settled.ErrorReason)
			return decline(settled.ErrorReason)
		}
		chargedTx = settled.Transaction
		if err := r.MarkPaymentSettled(ctx, payment.ID, settled.Transaction); err != nil {
			return err
		}
		payment.Status = store.PaymentStatusSettled
		payment.SettlementRef = &settled.Transaction
		if payment.Payer == "" {
			payment.Payer = settled.Payer
		}

		receipt = Receipt{
			State:     StateSettled,
			FirstVote: tally.FirstVote,
			Vote:      tally.Vote,
			Clip:      tally.Clip,
			Payment:   payment,
			Payouts:   payouts,
		}
		return nil
	})
	if err != nil {
		if chargedTx != "" {
			log.Error("payment charged but not recorded", "transaction", chargedTx, "amount_cents", req.AmountCents, "error", err)
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("clip variant")
		}
		return nil, err
	}

	keep = true
	g.metrics.TipSettled(ctx, req.AmountCents)
	log.Info("tip settled",
		"payment_id", receipt.Payment.ID,
		"transaction", chargedTx,
		"amount_cents", req.AmountCents,
		"first_vote", receipt.FirstVote,
		"tip_total_cents", receipt.Clip.TipTotal,
	)
	return &receipt, nil
}

func (g *Gateway) validate(req TipRequest) error {
	if strings.TrimSpace(req.SessionID) == "" {
		return fmt.Errorf("%w: session_id is required", ErrValidation)
	}
	if req.AmountCents < g.cfg.MinTipCents {
		return fmt.Errorf("%w: tip must be at least %d cents", ErrValidation, g.cfg.MinTipCents)
	}
	return nil
}

func (g *Gateway) checkOpen(ctx context.Context, clipID uuid.UUID) error {
	return g.store.InTx(ctx, func(r store.Repository) error {
		clip, err := r.GetClipVariant(ctx, clipID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("clip variant")
		}
		if err != nil {
			return err
		}
		episode, err := r.GetEpisode(ctx, clip.EpisodeID)
		if err != nil {
			return err
		}
		if err := clipvote.CheckOpen(episode, clip, g.now()); err != nil {
			return fmt.Errorf("%w: %v", ErrClipClosed, err)
		}
		return nil
	})
}

func (g *Gateway) requirements(req TipRequest) (Requirements, error) {
	amount, err := payout.BaseUnits(req.AmountCents, g.cfg.AssetDecimals)
	if err != nil {
		return Requirements{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return Requirements{
		Scheme:            "exact",
		Network:           g.cfg.Network,
		Amount:            amount,
		Asset:             g.cfg.Asset,
		PayTo:             g.cfg.PayTo,
		Resource:          fmt.Sprintf("%s/clips/%s/tip", strings.TrimRight(g.cfg.PublicURL, "/"), req.ClipID),
		Description:       fmt.Sprintf("Tip-vote of %d cents", req.AmountCents),
		MimeType:          "application/json",
		MaxTimeoutSeconds: g.cfg.MaxTimeoutSeconds,
		Extra:             map[string]string{"name": g.cfg.AssetName, "version": g.cfg.AssetVersion},
	}, nil
}

func (g *Gateway) challenge(req TipRequest, reqs Requirements, reason string) *Challenge {
	return &Challenge{
		X402Version: Version,
		Error:       reason,
		Accepts:     []Requirements{reqs},
		PaymentDetails: Details{
			AmountCents: req.AmountCents,
			Splits: Splits{
				CreatorPercent:  payout.CreatorPercent,
				PlatformPercent: payout.PlatformPercent,
				AgentPercent:    payout.AgentPercent,
			},
		},
	}
}

func (g *Gateway) recipients(ctx context.Context, r store.Repository, episode *store.Episode) (payout.Recipients, error) {
	series, err := r.GetSeries(ctx, episode.SeriesID)
	if err != nil {
		return payout.Recipients{}, err
	}
	script, err := r.GetScript(ctx, series.ScriptID)
	if err != nil {
		return payout.Recipients{}, err
	}
	return payout.Recipients{
		Creator:  script.CreatorWallet,
		Platform: g.cfg.PlatformAddress,
		Agent:    script.AgentWallet,
	}, nil
}
