package postgres

import (
	"context"
	"fmt"

	"moltstudio/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const scriptColumns = `id, author_agent_id, title, payload, pilot_status, score, upvotes, downvotes,
	voting_period_id, creator_wallet, agent_wallet, submitted_at, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanScript(row rowScanner) (*store.Script, error) {
	var s store.Script
	err := row.Scan(&s.ID, &s.AuthorAgentID, &s.Title, &s.Payload, &s.PilotStatus, &s.Score,
		&s.Upvotes, &s.Downvotes, &s.VotingPeriodID, &s.CreatorWallet, &s.AgentWallet,
		&s.SubmittedAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetScript retrieves a script by ID.
func (r *repository) GetScript(ctx context.Context, id uuid.UUID) (*store.Script, error) {
	query := fmt.Sprintf(`SELECT %s FROM scripts WHERE id = $1`, scriptColumns)
	s, err := scanScript(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translate(err)
	}
	return s, nil
}

// ListVotingScripts returns the ranked candidates of a period.
func (r *repository) ListVotingScripts(ctx context.Context, periodID uuid.UUID) ([]store.Script, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM scripts
		WHERE voting_period_id = $1 AND pilot_status = $2
		ORDER BY score DESC, upvotes DESC, submitted_at ASC NULLS LAST, id ASC
	`, scriptColumns)
	return r.queryScripts(ctx, query, periodID, store.PilotStatusVoting)
}

// SetPilotStatus moves a set of scripts to the given status.
func (r *repository) SetPilotStatus(ctx context.Context, ids []uuid.UUID, status store.PilotStatus) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE scripts SET pilot_status = $1 WHERE id = ANY($2)
	`, status, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to set pilot status: %w", err)
	}
	return nil
}

// AssignSubmittedScripts enrolls every submitted script into the period.
func (r *repository) AssignSubmittedScripts(ctx context.Context, periodID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scripts SET pilot_status = $1, voting_period_id = $2
		WHERE pilot_status = $3
	`, store.PilotStatusVoting, periodID, store.PilotStatusSubmitted)
	if err != nil {
		return 0, fmt.Errorf("failed to assign submitted scripts: %w", err)
	}
	return res.RowsAffected()
}

// ListSelectedWithoutSeries returns winners whose series was never created.
func (r *repository) ListSelectedWithoutSeries(ctx context.Context, limit int) ([]store.Script, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM scripts s
		WHERE s.pilot_status = $1
		  AND NOT EXISTS (SELECT 1 FROM series WHERE series.script_id = s.id)
		ORDER BY s.created_at ASC
		LIMIT $2
	`, scriptColumns)
	return r.queryScripts(ctx, query, store.PilotStatusSelected, limit)
}

func (r *repository) queryScripts(ctx context.Context, query string, args ...interface{}) ([]store.Script, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scripts: %w", err)
	}
	defer rows.Close()

	var scripts []store.Script
	for rows.Next() {
		s, err := scanScript(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan script: %w", err)
		}
		scripts = append(scripts, *s)
	}
	return scripts, rows.Err()
}
