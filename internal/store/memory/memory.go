// Package memory provides an in-memory store.Store for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"moltstudio/internal/store"

	"github.com/google/uuid"
)

// Store keeps every table in maps guarded by one mutex. A transaction holds
// the mutex for its whole duration and restores a snapshot on error.
type Store struct {
	mu   sync.Mutex
	data tables
	now  func() time.Time
}

type tables struct {
	scripts  map[uuid.UUID]store.Script
	periods  map[uuid.UUID]store.VotingPeriod
	series   map[uuid.UUID]store.Series
	episodes map[uuid.UUID]store.Episode
	clips    map[uuid.UUID]store.ClipVariant
	jobs     map[uuid.UUID]store.ProductionJob
	votes    map[uuid.UUID]store.Vote
	payments map[uuid.UUID]store.Payment
	payouts  map[uuid.UUID]store.Payout
}

func (t tables) clone() tables {
	return tables{
		scripts:  maps.Clone(t.scripts),
		periods:  maps.Clone(t.periods),
		series:   maps.Clone(t.series),
		episodes: maps.Clone(t.episodes),
		clips:    maps.Clone(t.clips),
		jobs:     maps.Clone(t.jobs),
		votes:    maps.Clone(t.votes),
		payments: maps.Clone(t.payments),
		payouts:  maps.Clone(t.payouts),
	}
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		data: tables{
			scripts:  map[uuid.UUID]store.Script{},
			periods:  map[uuid.UUID]store.VotingPeriod{},
			series:   map[uuid.UUID]store.Series{},
			episodes: map[uuid.UUID]store.Episode{},
			clips:    map[uuid.UUID]store.ClipVariant{},
			jobs:     map[uuid.UUID]store.ProductionJob{},
			votes:    map[uuid.UUID]store.Vote{},
			payments: map[uuid.UUID]store.Payment{},
			payouts:  map[uuid.UUID]store.Payout{},
		},
		now: time.Now,
	}
}

// InTx runs fn with exclusive access to the store.
func (s *Store) InTx(ctx context.Context, fn func(store.Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&repository{t: &s.data, now: s.now}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// SetClock replaces the clock used for created_at stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// PutScript seeds a script. It stands in for the social layer that owns script creation.
func (s *Store) PutScript(script store.Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if script.CreatedAt.IsZero() {
		script.CreatedAt = s.now()
	}
	s.data.scripts[script.ID] = script
}

// Script returns a copy of a stored script.
func (s *Store) Script(id uuid.UUID) (store.Script, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data.scripts[id]
	return v, ok
}

// Jobs returns every job ordered by creation.
func (s *Store) Jobs() []store.ProductionJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := values(s.data.jobs)
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs
}

// Payments returns every recorded payment.
func (s *Store) Payments() []store.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return values(s.data.payments)
}

func values[K comparable, V any](m map[K]V) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

type repository struct {
	t   *tables
	now func() time.Time
}

func (r *repository) stamp() time.Time {
	return r.now()
}

func notFound(kind string, id uuid.UUID) error {
	return fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
}

func ptr[T any](v T) *T { return &v }
