package postgres

import (
	"context"
	"fmt"
	"time"

	"moltstudio/internal/store"

	"github.com/google/uuid"
)

// GetVote returns the vote a session cast for a clip.
func (r *repository) GetVote(ctx context.Context, sessionID string, clipID uuid.UUID) (*store.Vote, error) {
	var v store.Vote
	err := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, clip_variant_id, tip_amount_cents, created_at, updated_at
		FROM votes
		WHERE session_id = $1 AND clip_variant_id = $2
	`, sessionID, clipID).Scan(&v.ID, &v.SessionID, &v.ClipVariantID, &v.TipAmountCents, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &v, nil
}

// InsertVote creates the first vote of a session for a clip.
func (r *repository) InsertVote(ctx context.Context, v *store.Vote) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO votes (id, session_id, clip_variant_id, tip_amount_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, v.ID, v.SessionID, v.ClipVariantID, v.TipAmountCents, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert vote: %w", translate(err))
	}
	return nil
}

// AddToVote accumulates another tip onto an existing vote.
func (r *repository) AddToVote(ctx context.Context, id uuid.UUID, cents int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE votes SET tip_amount_cents = tip_amount_cents + $1, updated_at = $2 WHERE id = $3
	`, cents, at, id)
	return expectRow(res, err)
}

// InsertPayment records a tip payment. The unique proof hash rejects replays.
func (r *repository) InsertPayment(ctx context.Context, p *store.Payment) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO payments (id, vote_id, clip_variant_id, session_id, amount_cents, amount_base_units,
		                      payer, proof_hash, network, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, p.ID, p.VoteID, p.ClipVariantID, p.SessionID, p.AmountCents, p.AmountBaseUnits,
		p.Payer, p.ProofHash, p.Network, p.Status).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", translate(err))
	}
	return nil
}

// MarkPaymentSettled records the facilitator settlement reference.
func (r *repository) MarkPaymentSettled(ctx context.Context, id uuid.UUID, settlementRef string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments SET status = $1, settlement_ref = $2 WHERE id = $3
	`, store.PaymentStatusSettled, settlementRef, id)
	return expectRow(res, err)
}
