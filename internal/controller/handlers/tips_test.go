package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"moltstudio/internal/apperr"
	"moltstudio/internal/payment"
	"moltstudio/internal/store"
	"moltstudio/pkg/api"

	"github.com/google/uuid"
)

func tipRequest(clipID, body, header string) *http.Request {
	req := newRequest(http.MethodPost, "/clips/"+clipID+"/tip", body)
	req.SetPathValue("id", clipID)
	if header != "" {
		req.Header.Set(payment.HeaderName, header)
	}
	return req
}

func TestTip_ChallengeWithoutPaymentHeader(t *testing.T) {
	f := newFixture()
	f.tips.challenge = &payment.Challenge{
		X402Version: payment.Version,
		Accepts: []payment.Requirements{{
			Scheme:  "exact",
			Network: "eip155:8453",
			Amount:  "250000",
			PayTo:   "0xplatform",
		}},
		PaymentDetails: payment.Details{AmountCents: 25},
	}
	clipID := uuid.New()

	rr := httptest.NewRecorder()
	f.h.Tip(rr, tipRequest(clipID.String(), `{"session_id":"sess-1","tip_amount_cents":25}`, ""))

	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusPaymentRequired)
	}
	if f.tips.settleCall {
		t.Error("SettleTip should not be called without a payment header")
	}
	if f.tips.gotReq.ClipID != clipID || f.tips.gotReq.SessionID != "sess-1" || f.tips.gotReq.AmountCents != 25 {
		t.Errorf("unexpected tip request: %+v", f.tips.gotReq)
	}

	var body map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["x402Version"] != float64(1) {
		t.Errorf("x402Version = %v, want 1", body["x402Version"])
	}
	accepts, ok := body["accepts"].([]any)
	if !ok || len(accepts) != 1 {
		t.Fatalf("expected one accepted payment option, got %v", body["accepts"])
	}
	if accepts[0].(map[string]any)["amount"] != "250000" {
		t.Errorf("amount = %v, want 250000", accepts[0].(map[string]any)["amount"])
	}
	if _, ok := body["payment_details"]; !ok {
		t.Error("expected payment_details in challenge")
	}
}

func TestTip_SettlesWithPaymentHeader(t *testing.T) {
	f := newFixture()
	clipID := uuid.New()
	ref := "0xtxhash"
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.tips.receipt = &payment.Receipt{
		State:     payment.StateSettled,
		FirstVote: true,
		Vote:      store.Vote{ID: uuid.New(), SessionID: "sess-1", ClipVariantID: clipID, TipAmountCents: 25, CreatedAt: now, UpdatedAt: now},
		Clip:      store.ClipVariant{ID: clipID, EpisodeID: uuid.New(), VariantNumber: 2, Status: store.ClipStatusCompleted, VoteCount: 3, TipTotal: 125},
		Payment:   store.Payment{ID: uuid.New(), Network: "eip155:8453", Payer: "0xpayer", SettlementRef: &ref},
	}

	rr := httptest.NewRecorder()
	f.h.Tip(rr, tipRequest(clipID.String(), `{"session_id":"sess-1","tip_amount_cents":25}`, "c2lnbmVk"))

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if f.tips.gotHeader != "c2lnbmVk" {
		t.Errorf("payment header not passed through, got %q", f.tips.gotHeader)
	}

	resp := decode[api.TipResponse](t, rr)
	if resp.ClipVariant.VoteCount != 3 || resp.ClipVariant.TipTotalCents != 125 {
		t.Errorf("unexpected clip in response: %+v", resp.ClipVariant)
	}
	if resp.Vote.TipAmountCents != 25 || !resp.FirstVote {
		t.Errorf("unexpected vote in response: %+v", resp)
	}

	raw, err := base64.StdEncoding.DecodeString(rr.Header().Get(PaymentResponseHeader))
	if err != nil {
		t.Fatalf("X-PAYMENT-RESPONSE is not base64: %v", err)
	}
	var settled map[string]any
	if err := json.Unmarshal(raw, &settled); err != nil {
		t.Fatal(err)
	}
	if settled["transaction"] != ref {
		t.Errorf("transaction = %v, want %s", settled["transaction"], ref)
	}
}

func TestTip_ErrorMapping(t *testing.T) {
	challenge := &payment.Challenge{X402Version: payment.Version, Error: "insufficient_funds"}

	tests := []struct {
		name       string
		header     string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"validation", "", fmt.Errorf("%w: tip must be at least 10 cents", payment.ErrValidation), http.StatusBadRequest, "at least 10 cents"},
		{"clip closed", "", fmt.Errorf("%w: voting window ended", payment.ErrClipClosed), http.StatusConflict, "not open for voting"},
		{"unknown clip", "", apperr.NotFound("clip variant"), http.StatusNotFound, "clip variant not found"},
		{"declined", "sig", &payment.DeclinedError{Reason: "insufficient_funds", Challenge: challenge}, http.StatusPaymentRequired, "insufficient_funds"},
		{"declined without challenge", "sig", &payment.DeclinedError{Reason: "invalid_payment_header"}, http.StatusPaymentRequired, "invalid_payment_header"},
		{"replay", "sig", payment.ErrReplay, http.StatusConflict, "already used"},
		{"facilitator down", "sig", fmt.Errorf("%w: /settle: dial tcp", payment.ErrFacilitator), http.StatusBadGateway, "facilitator unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.tips.err = tt.err

			rr := httptest.NewRecorder()
			f.h.Tip(rr, tipRequest(uuid.NewString(), `{"session_id":"s","tip_amount_cents":25}`, tt.header))

			if rr.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d", rr.Code, tt.wantStatus)
			}
			if body := rr.Body.String(); !strings.Contains(body, tt.wantBody) {
				t.Errorf("body %q does not contain %q", body, tt.wantBody)
			}
		})
	}
}

func TestTip_BadInput(t *testing.T) {
	f := newFixture()

	rr := httptest.NewRecorder()
	f.h.Tip(rr, tipRequest("not-a-uuid", `{"session_id":"s","tip_amount_cents":25}`, ""))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid id: got status %d, want %d", rr.Code, http.StatusBadRequest)
	}

	rr = httptest.NewRecorder()
	f.h.Tip(rr, tipRequest(uuid.NewString(), `{"session_id":`, ""))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid body: got status %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestLeaderboard(t *testing.T) {
	f := newFixture()
	episodeID := uuid.New()
	ends := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	f.clips.episode = &store.Episode{ID: episodeID, Status: store.EpisodeStatusProcessing, ClipVotingEndsAt: &ends}
	f.clips.clips = []store.ClipVariant{
		{ID: uuid.New(), EpisodeID: episodeID, VariantNumber: 3, TipTotal: 500, VoteCount: 2},
		{ID: uuid.New(), EpisodeID: episodeID, VariantNumber: 1, TipTotal: 100, VoteCount: 4},
	}

	req := newRequest(http.MethodGet, "/episodes/"+episodeID.String()+"/clips", "")
	req.SetPathValue("id", episodeID.String())
	rr := httptest.NewRecorder()
	f.h.Leaderboard(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}
	resp := decode[api.LeaderboardResponse](t, rr)
	if len(resp.Clips) != 2 || resp.Clips[0].VariantNumber != 3 {
		t.Errorf("expected store order to be preserved, got %+v", resp.Clips)
	}
	if resp.ClipVotingEndsAt == nil || !resp.ClipVotingEndsAt.Equal(ends) {
		t.Errorf("unexpected voting end: %v", resp.ClipVotingEndsAt)
	}
}

func TestLeaderboard_NotFound(t *testing.T) {
	f := newFixture()
	f.clips.err = apperr.NotFound("episode")

	id := uuid.NewString()
	req := newRequest(http.MethodGet, "/episodes/"+id+"/clips", "")
	req.SetPathValue("id", id)
	rr := httptest.NewRecorder()
	f.h.Leaderboard(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusNotFound)
	}
}
