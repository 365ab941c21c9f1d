package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"moltstudio/internal/apperr"
	"moltstudio/internal/payment"
	"moltstudio/pkg/api"
)

// PaymentResponseHeader carries the settlement receipt on a successful tip.
const PaymentResponseHeader = "X-PAYMENT-RESPONSE"

// Tip handles POST /clips/{id}/tip.
// Without an X-PAYMENT header it answers 402 with the payment requirements.
// With one it settles the payment and records the vote.
func (h *Handlers) Tip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	clipID, err := pathID(r, "clip")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var body api.TipRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.httpError(w, "Invalid request body", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	req := payment.TipRequest{
		ClipID:      clipID,
		SessionID:   body.SessionID,
		AmountCents: body.TipAmountCents,
	}

	header := r.Header.Get(payment.HeaderName)
	if header == "" {
		challenge, err := h.tips.RequestTip(ctx, req)
		if err != nil {
			h.respondTipError(w, r, err)
			return
		}
		h.respondJson(w, http.StatusPaymentRequired, challenge)
		return
	}

	receipt, err := h.tips.SettleTip(ctx, req, header)
	if err != nil {
		h.respondTipError(w, r, err)
		return
	}

	if receipt.Payment.SettlementRef != nil {
		settled, _ := json.Marshal(map[string]any{
			"success":     true,
			"transaction": *receipt.Payment.SettlementRef,
			"network":     receipt.Payment.Network,
			"payer":       receipt.Payment.Payer,
		})
		w.Header().Set(PaymentResponseHeader, base64.StdEncoding.EncodeToString(settled))
	}
	h.respondJson(w, http.StatusOK, api.TipResponse{
		Vote:        toVoteResponse(receipt.Vote),
		ClipVariant: toClipResponse(receipt.Clip),
		FirstVote:   receipt.FirstVote,
		PaymentID:   receipt.Payment.ID.String(),
	})
}

func (h *Handlers) respondTipError(w http.ResponseWriter, r *http.Request, err error) {
	var declined *payment.DeclinedError
	switch {
	case errors.As(err, &declined):
		if declined.Challenge != nil {
			h.respondJson(w, http.StatusPaymentRequired, declined.Challenge)
			return
		}
		h.respondError(w, r, apperr.PaymentRequired(declined.Reason))
	case errors.Is(err, payment.ErrValidation):
		h.respondError(w, r, apperr.Validation(err.Error()))
	case errors.Is(err, payment.ErrClipClosed):
		h.respondError(w, r, apperr.Conflict(err.Error()))
	case errors.Is(err, payment.ErrReplay):
		h.respondError(w, r, apperr.Conflict(err.Error()))
	case errors.Is(err, payment.ErrFacilitator):
		h.respondError(w, r, apperr.BadGateway("payment facilitator unavailable", err))
	default:
		h.respondError(w, r, err)
	}
}

// Leaderboard handles GET /episodes/{id}/clips.
func (h *Handlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	episodeID, err := pathID(r, "episode")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	episode, clips, err := h.clips.Leaderboard(r.Context(), episodeID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := api.LeaderboardResponse{
		EpisodeID:        episode.ID.String(),
		Status:           string(episode.Status),
		ClipVotingEndsAt: episode.ClipVotingEndsAt,
		Clips:            make([]api.ClipVariantResponse, 0, len(clips)),
	}
	for _, c := range clips {
		resp.Clips = append(resp.Clips, toClipResponse(c))
	}
	h.respondJson(w, http.StatusOK, resp)
}
