package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"moltstudio/internal/store"

	"github.com/google/uuid"
)

func (r *repository) GetVote(_ context.Context, sessionID string, clipID uuid.UUID) (*store.Vote, error) {
	for _, v := range r.t.votes {
		if v.SessionID == sessionID && v.ClipVariantID == clipID {
			return &v, nil
		}
	}
	return nil, fmt.Errorf("vote for session %q: %w", sessionID, store.ErrNotFound)
}

func (r *repository) InsertVote(ctx context.Context, v *store.Vote) error {
	if _, err := r.GetVote(ctx, v.SessionID, v.ClipVariantID); err == nil {
		return fmt.Errorf("%w: votes_session_id_clip_variant_id_key", store.ErrConflict)
	}
	r.t.votes[v.ID] = *v
	return nil
}

func (r *repository) AddToVote(_ context.Context, id uuid.UUID, cents int64, at time.Time) error {
	v, ok := r.t.votes[id]
	if !ok {
		return notFound("vote", id)
	}
	v.TipAmountCents += cents
	v.UpdatedAt = at
	r.t.votes[id] = v
	return nil
}

func (r *repository) InsertPayment(_ context.Context, p *store.Payment) error {
	for _, existing := range r.t.payments {
		if existing.ProofHash == p.ProofHash {
			return fmt.Errorf("%w: payments_proof_hash_key", store.ErrConflict)
		}
	}
	p.CreatedAt = r.stamp()
	r.t.payments[p.ID] = *p
	return nil
}

func (r *repository) MarkPaymentSettled(_ context.Context, id uuid.UUID, settlementRef string) error {
	p, ok := r.t.payments[id]
	if !ok {
		return notFound("payment", id)
	}
	p.Status = store.PaymentStatusSettled
	p.SettlementRef = ptr(settlementRef)
	r.t.payments[id] = p
	return nil
}

func (r *repository) InsertPayouts(_ context.Context, payouts []store.Payout) error {
	for i := range payouts {
		for _, existing := range r.t.payouts {
			if existing.PaymentID == payouts[i].PaymentID && existing.Role == payouts[i].Role {
				return fmt.Errorf("%w: payouts_payment_id_role_key", store.ErrConflict)
			}
		}
		payouts[i].CreatedAt = r.stamp()
		r.t.payouts[payouts[i].ID] = payouts[i]
	}
	return nil
}

func (r *repository) ListPayouts(_ context.Context, paymentID uuid.UUID) ([]store.Payout, error) {
	var out []store.Payout
	for _, p := range r.t.payouts {
		if p.PaymentID == paymentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Percent > out[j].Percent })
	return out, nil
}

func (r *repository) ClaimPendingPayouts(_ context.Context, limit int, now time.Time, lease time.Duration) ([]store.Payout, error) {
	if limit <= 0 {
		limit = 1
	}
	var out []store.Payout
	for _, p := range r.t.payouts {
		if p.Status != store.PayoutStatusPending {
			continue
		}
		if p.LockedUntil != nil && p.LockedUntil.After(now) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	out = limitSlice(out, limit)
	lockedUntil := now.Add(lease)
	for i := range out {
		out[i].LockedUntil = ptr(lockedUntil)
		out[i].AttemptCount++
		r.t.payouts[out[i].ID] = out[i]
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (r *repository) MarkPayoutSent(_ context.Context, id uuid.UUID, txHash string, at time.Time) error {
	p, ok := r.t.payouts[id]
	if !ok {
		return notFound("payout", id)
	}
	p.Status = store.PayoutStatusSent
	p.TxHash = ptr(txHash)
	p.SentAt = ptr(at)
	p.LockedUntil = nil
	p.LastError = nil
	r.t.payouts[id] = p
	return nil
}

func (r *repository) MarkPayoutFailed(_ context.Context, id uuid.UUID, errMsg string, final bool, retryAt time.Time) error {
	p, ok := r.t.payouts[id]
	if !ok {
		return notFound("payout", id)
	}
	p.Status = store.PayoutStatusPending
	if final {
		p.Status = store.PayoutStatusFailed
	}
	p.LastError = ptr(errMsg)
	p.LockedUntil = ptr(retryAt)
	r.t.payouts[id] = p
	return nil
}
