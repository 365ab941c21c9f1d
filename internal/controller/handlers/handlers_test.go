package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"moltstudio/internal/payment"
	"moltstudio/internal/payout"
	"moltstudio/internal/production"
	"moltstudio/internal/store"
	"moltstudio/internal/store/memory"
	"moltstudio/internal/voting"
	"moltstudio/internal/worker"

	"github.com/google/uuid"
)

// pingStore wraps the memory store with a configurable Ping result.
type pingStore struct {
	*memory.Store
	pingErr error
}

func (p *pingStore) Ping(ctx context.Context) error { return p.pingErr }

// mockTips implements TipService.
type mockTips struct {
	challenge  *payment.Challenge
	receipt    *payment.Receipt
	err        error
	gotReq     payment.TipRequest
	gotHeader  string
	settleCall bool
}

func (m *mockTips) RequestTip(ctx context.Context, req payment.TipRequest) (*payment.Challenge, error) {
	m.gotReq = req
	return m.challenge, m.err
}

func (m *mockTips) SettleTip(ctx context.Context, req payment.TipRequest, header string) (*payment.Receipt, error) {
	m.gotReq = req
	m.gotHeader = header
	m.settleCall = true
	return m.receipt, m.err
}

// mockClips implements LeaderboardService.
type mockClips struct {
	episode *store.Episode
	clips   []store.ClipVariant
	err     error
}

func (m *mockClips) Leaderboard(ctx context.Context, episodeID uuid.UUID) (*store.Episode, []store.ClipVariant, error) {
	return m.episode, m.clips, m.err
}

// mockVoting implements VotingService.
type mockVoting struct {
	tick        *voting.TickResult
	period      *store.VotingPeriod
	created     bool
	closeResult *voting.CloseResult
	trigger     *voting.TriggerResult
	err         error

	gotType     string
	gotDuration time.Duration
	gotScript   uuid.UUID
}

func (m *mockVoting) Tick(ctx context.Context) (*voting.TickResult, error) {
	return m.tick, m.err
}

func (m *mockVoting) ManuallyOpenPeriod(ctx context.Context, periodType string, duration time.Duration) (*store.VotingPeriod, bool, error) {
	m.gotType = periodType
	m.gotDuration = duration
	return m.period, m.created, m.err
}

func (m *mockVoting) ManuallyClosePeriod(ctx context.Context) (*voting.CloseResult, error) {
	return m.closeResult, m.err
}

func (m *mockVoting) TriggerProduction(ctx context.Context, scriptID uuid.UUID) (*voting.TriggerResult, error) {
	m.gotScript = scriptID
	return m.trigger, m.err
}

// mockProduction implements ProductionTicker.
type mockProduction struct {
	summary *worker.Summary
	err     error
}

func (m *mockProduction) RunOnce(ctx context.Context) (*worker.Summary, error) {
	return m.summary, m.err
}

// mockPayouts implements PayoutTicker.
type mockPayouts struct {
	res payout.Result
	err error
}

func (m *mockPayouts) Run(ctx context.Context) (payout.Result, error) {
	return m.res, m.err
}

// mockResets implements ResetService.
type mockResets struct {
	res    *production.ResetResult
	err    error
	gotID  uuid.UUID
	series bool
}

func (m *mockResets) ResetFailedEpisode(ctx context.Context, id uuid.UUID) (*production.ResetResult, error) {
	m.gotID = id
	return m.res, m.err
}

func (m *mockResets) ResetFailedSeries(ctx context.Context, id uuid.UUID) (*production.ResetResult, error) {
	m.gotID = id
	m.series = true
	return m.res, m.err
}

type fixture struct {
	store      *pingStore
	tips       *mockTips
	clips      *mockClips
	voting     *mockVoting
	production *mockProduction
	payouts    *mockPayouts
	resets     *mockResets
	h          *Handlers
}

func newFixture() *fixture {
	f := &fixture{
		store:      &pingStore{Store: memory.New()},
		tips:       &mockTips{},
		clips:      &mockClips{},
		voting:     &mockVoting{},
		production: &mockProduction{},
		payouts:    &mockPayouts{},
		resets:     &mockResets{},
	}
	f.h = New(Deps{
		Store:      f.store,
		Tips:       f.tips,
		Clips:      f.clips,
		Voting:     f.voting,
		Production: f.production,
		Payouts:    f.payouts,
		Resets:     f.resets,
		Log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func newRequest(method, target, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestRespondError_HidesInternalCause(t *testing.T) {
	f := newFixture()
	f.payouts.err = errors.New("pq: deadlock detected")

	rr := httptest.NewRecorder()
	f.h.PayoutTick(rr, newRequest(http.MethodPost, "/internal/ticks/payouts", ""))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	if strings.Contains(rr.Body.String(), "deadlock") {
		t.Errorf("response leaked internal error: %s", rr.Body.String())
	}
}
