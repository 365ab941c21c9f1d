package postgres

import (
	"context"
	"fmt"
	"time"

	"moltstudio/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const payoutColumns = `id, payment_id, role, percent, amount_cents, recipient, status, attempt_count,
	last_error, tx_hash, locked_until, created_at, sent_at`

func scanPayout(row rowScanner) (*store.Payout, error) {
	var p store.Payout
	err := row.Scan(&p.ID, &p.PaymentID, &p.Role, &p.Percent, &p.AmountCents, &p.Recipient,
		&p.Status, &p.AttemptCount, &p.LastError, &p.TxHash, &p.LockedUntil, &p.CreatedAt, &p.SentAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertPayouts records the shares of a payment.
func (r *repository) InsertPayouts(ctx context.Context, payouts []store.Payout) error {
	for i := range payouts {
		p := &payouts[i]
		err := r.db.QueryRowContext(ctx, `
			INSERT INTO payouts (id, payment_id, role, percent, amount_cents, recipient, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at
		`, p.ID, p.PaymentID, p.Role, p.Percent, p.AmountCents, p.Recipient, p.Status).Scan(&p.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert %s payout: %w", p.Role, translate(err))
		}
	}
	return nil
}

// ListPayouts returns the shares of a payment.
func (r *repository) ListPayouts(ctx context.Context, paymentID uuid.UUID) ([]store.Payout, error) {
	query := fmt.Sprintf(`SELECT %s FROM payouts WHERE payment_id = $1 ORDER BY percent DESC`, payoutColumns)
	return r.queryPayouts(ctx, query, paymentID)
}

// ClaimPendingPayouts leases pending payouts whose previous lease expired.
func (r *repository) ClaimPendingPayouts(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]store.Payout, error) {
	if limit <= 0 {
		limit = 1
	}
	query := fmt.Sprintf(`
		SELECT %s FROM payouts
		WHERE status = $2 AND (locked_until IS NULL OR locked_until <= $3)
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, payoutColumns)
	payouts, err := r.queryPayouts(ctx, query, limit, store.PayoutStatusPending, now)
	if err != nil {
		return nil, err
	}
	if len(payouts) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(payouts))
	for i := range payouts {
		ids[i] = payouts[i].ID
	}
	lockedUntil := now.Add(lease)
	_, err = r.db.ExecContext(ctx, `
		UPDATE payouts SET locked_until = $1, attempt_count = attempt_count + 1
		WHERE id = ANY($2)
	`, lockedUntil, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to lease payouts: %w", err)
	}

	for i := range payouts {
		payouts[i].LockedUntil = &lockedUntil
		payouts[i].AttemptCount++
	}
	return payouts, nil
}

// MarkPayoutSent records a successful transfer.
func (r *repository) MarkPayoutSent(ctx context.Context, id uuid.UUID, txHash string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payouts SET status = $1, tx_hash = $2, sent_at = $3, locked_until = NULL, last_error = NULL
		WHERE id = $4
	`, store.PayoutStatusSent, txHash, at, id)
	return expectRow(res, err)
}

// MarkPayoutFailed records a transfer error.
func (r *repository) MarkPayoutFailed(ctx context.Context, id uuid.UUID, errMsg string, final bool, retryAt time.Time) error {
	status := store.PayoutStatusPending
	if final {
		status = store.PayoutStatusFailed
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE payouts SET status = $1, last_error = $2, locked_until = $3 WHERE id = $4
	`, status, errMsg, retryAt, id)
	return expectRow(res, err)
}

func (r *repository) queryPayouts(ctx context.Context, query string, args ...interface{}) ([]store.Payout, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payouts: %w", err)
	}
	defer rows.Close()

	var payouts []store.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		payouts = append(payouts, *p)
	}
	return payouts, rows.Err()
}
