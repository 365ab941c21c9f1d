package postgres

import (
	"context"
	"fmt"
	"time"

	"moltstudio/internal/store"

	"github.com/google/uuid"
)

const periodColumns = `id, type, starts_at, ends_at, is_active, is_processed, processed_at, winner_script_id, created_at`

func scanPeriod(row rowScanner) (*store.VotingPeriod, error) {
	var p store.VotingPeriod
	err := row.Scan(&p.ID, &p.Type, &p.StartsAt, &p.EndsAt, &p.IsActive, &p.IsProcessed,
		&p.ProcessedAt, &p.WinnerScriptID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// LockOpenPeriod locks the open period. SKIP LOCKED makes a concurrent closer
// see no period instead of blocking and closing it twice.
func (r *repository) LockOpenPeriod(ctx context.Context) (*store.VotingPeriod, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM voting_periods
		WHERE is_active = TRUE AND is_processed = FALSE
		ORDER BY starts_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, periodColumns)
	p, err := scanPeriod(r.db.QueryRowContext(ctx, query))
	if err != nil {
		return nil, translate(err)
	}
	return p, nil
}

// GetOpenPeriod returns the open period without locking it.
func (r *repository) GetOpenPeriod(ctx context.Context) (*store.VotingPeriod, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM voting_periods
		WHERE is_active = TRUE AND is_processed = FALSE
		ORDER BY starts_at ASC
		LIMIT 1
	`, periodColumns)
	p, err := scanPeriod(r.db.QueryRowContext(ctx, query))
	if err != nil {
		return nil, translate(err)
	}
	return p, nil
}

// CreatePeriod inserts a new open period.
func (r *repository) CreatePeriod(ctx context.Context, p *store.VotingPeriod) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO voting_periods (id, type, starts_at, ends_at, is_active, is_processed)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, p.ID, p.Type, p.StartsAt, p.EndsAt, p.IsActive, p.IsProcessed).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create voting period: %w", translate(err))
	}
	return nil
}

// MarkPeriodProcessed closes the period and records the winner, if any.
func (r *repository) MarkPeriodProcessed(ctx context.Context, id uuid.UUID, winnerID *uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE voting_periods
		SET is_active = FALSE, is_processed = TRUE, processed_at = $1, winner_script_id = $2
		WHERE id = $3
	`, at, winnerID, id)
	return expectRow(res, err)
}
