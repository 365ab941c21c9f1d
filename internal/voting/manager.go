// Package voting closes script voting periods and hands winners to production.
package voting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"moltstudio/internal/apperr"
	"moltstudio/internal/clipvote"
	"moltstudio/internal/production"
	"moltstudio/internal/screenplay"
	"moltstudio/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultPeriodType is used when a period is opened without a type.
const DefaultPeriodType = "weekly"

// Config holds voting schedule settings.
type Config struct {
	PeriodDuration time.Duration
	RecoveryLimit  int
}

// CloseResult describes one close attempt.
type CloseResult struct {
	Closed   bool
	PeriodID uuid.UUID
	WinnerID *uuid.UUID
	Rejected int
	SeriesID *uuid.UUID
}

// TickResult summarizes one voting-tick invocation.
type TickResult struct {
	ClosedPeriodID    *uuid.UUID
	WinnerScriptID    *uuid.UUID
	SeriesIDs         []uuid.UUID
	ClipWindowsClosed int
}

// TriggerResult is the series a script is produced as.
type TriggerResult struct {
	Series  *store.Series
	Created bool
}

// Manager runs the script voting lifecycle.
type Manager struct {
	store store.Store
	orch  *production.Orchestrator
	clips *clipvote.Engine
	cfg   Config
	log   *slog.Logger
	now   func() time.Time
}

// NewManager wires a voting manager.
func NewManager(st store.Store, orch *production.Orchestrator, clips *clipvote.Engine, cfg Config, log *slog.Logger) *Manager {
	if cfg.PeriodDuration <= 0 {
		cfg.PeriodDuration = 7 * 24 * time.Hour
	}
	if cfg.RecoveryLimit <= 0 {
		cfg.RecoveryLimit = 20
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: st, orch: orch, clips: clips, cfg: cfg, log: log, now: time.Now}
}

// SetClock overrides time.Now.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// CloseActivePeriod closes the open period once its end time has passed and
// starts production of the winner. With no open period it does nothing.
func (m *Manager) CloseActivePeriod(ctx context.Context) (*CloseResult, error) {
	return m.closePeriod(ctx, false)
}

// ManuallyClosePeriod closes the open period regardless of its end time.
func (m *Manager) ManuallyClosePeriod(ctx context.Context) (*CloseResult, error) {
	return m.closePeriod(ctx, true)
}

func (m *Manager) closePeriod(ctx context.Context, force bool) (*CloseResult, error) {
	ctx, span := otel.Tracer("moltstudio/voting").Start(ctx, "voting.close_period")
	defer span.End()
	span.SetAttributes(attribute.Bool("voting.forced", force))

	res := &CloseResult{}
	err := m.store.InTx(ctx, func(r store.Repository) error {
		period, err := r.LockOpenPeriod(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		now := m.now()
		if !force && period.EndsAt.After(now) {
			return nil
		}

		scripts, err := r.ListVotingScripts(ctx, period.ID)
		if err != nil {
			return err
		}
		res.PeriodID = period.ID
		if len(scripts) > 0 {
			winner := scripts[0].ID
			res.WinnerID = &winner
			if err := r.SetPilotStatus(ctx, []uuid.UUID{winner}, store.PilotStatusSelected); err != nil {
				return err
			}
			losers := make([]uuid.UUID, 0, len(scripts)-1)
			for _, s := range scripts[1:] {
				losers = append(losers, s.ID)
			}
			if len(losers) > 0 {
				if err := r.SetPilotStatus(ctx, losers, store.PilotStatusRejected); err != nil {
					return err
				}
			}
			res.Rejected = len(losers)
		}

		// Must stay the last write: a crash before commit leaves the period open and retryable.
		if err := r.MarkPeriodProcessed(ctx, period.ID, res.WinnerID, now); err != nil {
			return err
		}
		res.Closed = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("close voting period: %w", err)
	}
	if !res.Closed {
		return res, nil
	}

	span.SetAttributes(attribute.String("voting.period_id", res.PeriodID.String()))
	if res.WinnerID == nil {
		m.log.Warn("voting period closed without candidates", "period_id", res.PeriodID)
		return res, nil
	}
	m.log.Info("voting period closed",
		"period_id", res.PeriodID,
		"winner_script_id", *res.WinnerID,
		"rejected", res.Rejected,
	)

	// A failed trigger is picked up by orphan recovery on the next tick.
	trig, err := m.TriggerProduction(ctx, *res.WinnerID)
	if err != nil {
		m.log.Error("production trigger failed after close", "script_id", *res.WinnerID, "error", err)
		return res, nil
	}
	res.SeriesID = &trig.Series.ID
	return res, nil
}

// TriggerProduction creates the series of a selected script. A script that
// already has a series gets that series back.
func (m *Manager) TriggerProduction(ctx context.Context, scriptID uuid.UUID) (*TriggerResult, error) {
	res := &TriggerResult{}
	err := m.store.InTx(ctx, func(r store.Repository) error {
		script, err := r.GetScript(ctx, scriptID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("script")
		}
		if err != nil {
			return err
		}
		if script.PilotStatus != store.PilotStatusSelected {
			return apperr.Conflict(fmt.Sprintf("script is %s, only selected scripts can be produced", script.PilotStatus))
		}
		res.Series, res.Created, err = m.orch.CreateSeriesForScript(ctx, r, script)
		return err
	})
	if err != nil {
		var ae *apperr.AppError
		if errors.As(err, &ae) {
			return nil, ae
		}
		if errors.Is(err, screenplay.ErrInvalid) {
			m.log.Error("script payload invalid", "script_id", scriptID, "error", err)
			return nil, apperr.Validation(screenplay.ErrInvalid.Error()).WithCause(err)
		}
		return nil, fmt.Errorf("trigger production: %w", err)
	}
	if res.Created {
		m.log.Info("production triggered", "script_id", scriptID, "series_id", res.Series.ID, "episodes", res.Series.EpisodeCount)
	}
	return res, nil
}

// ManuallyOpenPeriod opens a period and enrolls every submitted script in it.
// If a period is already open it is returned unchanged with created=false.
func (m *Manager) ManuallyOpenPeriod(ctx context.Context, periodType string, duration time.Duration) (*store.VotingPeriod, bool, error) {
	if periodType == "" {
		periodType = DefaultPeriodType
	}
	if duration <= 0 {
		duration = m.cfg.PeriodDuration
	}

	var (
		period  *store.VotingPeriod
		created bool
		joined  int64
	)
	err := m.store.InTx(ctx, func(r store.Repository) error {
		open, err := r.GetOpenPeriod(ctx)
		if err == nil {
			period = open
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := m.now()
		period = &store.VotingPeriod{
			ID:       uuid.New(),
			Type:     periodType,
			StartsAt: now,
			EndsAt:   now.Add(duration),
			IsActive: true,
		}
		if err := r.CreatePeriod(ctx, period); err != nil {
			return err
		}
		joined, err = r.AssignSubmittedScripts(ctx, period.ID)
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		// lost a race with a concurrent open
		return m.openPeriod(ctx)
	}
	if err != nil {
		return nil, false, fmt.Errorf("open voting period: %w", err)
	}
	if created {
		m.log.Info("voting period opened", "period_id", period.ID, "ends_at", period.EndsAt, "scripts", joined)
	}
	return period, created, nil
}

func (m *Manager) openPeriod(ctx context.Context) (*store.VotingPeriod, bool, error) {
	var period *store.VotingPeriod
	err := m.store.InTx(ctx, func(r store.Repository) error {
		var err error
		period, err = r.GetOpenPeriod(ctx)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("open voting period: %w", err)
	}
	return period, false, nil
}

// Tick advances the voting side of the pipeline: it closes an expired
// period, restarts production for winners that never got a series and picks
// winning clips for episodes whose voting window ended. Every step runs even
// when an earlier one fails.
func (m *Manager) Tick(ctx context.Context) (*TickResult, error) {
	res := &TickResult{SeriesIDs: []uuid.UUID{}}
	var errs []error

	closed, err := m.CloseActivePeriod(ctx)
	if err != nil {
		errs = append(errs, err)
	} else if closed.Closed {
		res.ClosedPeriodID = &closed.PeriodID
		res.WinnerScriptID = closed.WinnerID
		if closed.SeriesID != nil {
			res.SeriesIDs = append(res.SeriesIDs, *closed.SeriesID)
		}
	}

	var orphans []store.Script
	err = m.store.InTx(ctx, func(r store.Repository) error {
		var err error
		orphans, err = r.ListSelectedWithoutSeries(ctx, m.cfg.RecoveryLimit)
		return err
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("list orphan winners: %w", err))
	}
	for _, s := range orphans {
		trig, err := m.TriggerProduction(ctx, s.ID)
		if err != nil {
			m.log.Error("orphan winner recovery failed", "script_id", s.ID, "error", err)
			continue
		}
		if trig.Created {
			m.log.Warn("recovered winner without series", "script_id", s.ID, "series_id", trig.Series.ID)
			res.SeriesIDs = append(res.SeriesIDs, trig.Series.ID)
		}
	}

	if m.clips != nil {
		n, err := m.clips.CloseExpiredWindows(ctx, m.cfg.RecoveryLimit)
		res.ClipWindowsClosed = n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return res, errors.Join(errs...)
}
