// Package payout splits settled tips into recipient shares and disburses them.
package payout

import (
	"context"
	"fmt"
	"math/big"

	"moltstudio/internal/store"

	"github.com/google/uuid"
)

// Share percentages of every settled tip.
const (
	CreatorPercent  = 69
	PlatformPercent = 30
	AgentPercent    = 1
)

// Shares is a tip divided between recipients, in cents.
type Shares struct {
	Creator  int64
	Platform int64
	Agent    int64
}

// Split divides cents by the fixed percentages. Creator and agent shares
// round down; the platform takes the remainder so the shares always sum to cents.
func Split(cents int64) Shares {
	creator := cents * CreatorPercent / 100
	agent := cents * AgentPercent / 100
	return Shares{
		Creator:  creator,
		Platform: cents - creator - agent,
		Agent:    agent,
	}
}

// Recipients are the wallet addresses paid for one clip.
type Recipients struct {
	Creator  string
	Platform string
	Agent    string
}

// EnqueueSplit records the pending payouts of a payment through r. It runs
// in the caller's transaction so payouts exist exactly when the payment does.
func EnqueueSplit(ctx context.Context, r store.Repository, paymentID uuid.UUID, cents int64, to Recipients) ([]store.Payout, error) {
	shares := Split(cents)
	rows := []store.Payout{
		{ID: uuid.New(), PaymentID: paymentID, Role: store.PayoutRoleCreator, Percent: CreatorPercent, AmountCents: shares.Creator, Recipient: to.Creator, Status: store.PayoutStatusPending},
		{ID: uuid.New(), PaymentID: paymentID, Role: store.PayoutRolePlatform, Percent: PlatformPercent, AmountCents: shares.Platform, Recipient: to.Platform, Status: store.PayoutStatusPending},
		{ID: uuid.New(), PaymentID: paymentID, Role: store.PayoutRoleAgent, Percent: AgentPercent, AmountCents: shares.Agent, Recipient: to.Agent, Status: store.PayoutStatusPending},
	}
	if err := r.InsertPayouts(ctx, rows); err != nil {
		return nil, fmt.Errorf("insert payouts: %w", err)
	}
	return rows, nil
}

// BaseUnits converts cents into the integer base units of an asset with the
// given number of decimals. A 6-decimal stablecoin has 10_000 units per cent.
func BaseUnits(cents int64, decimals int) (string, error) {
	if cents < 0 {
		return "", fmt.Errorf("negative amount %d", cents)
	}
	if decimals < 2 {
		return "", fmt.Errorf("asset with %d decimals cannot represent cents", decimals)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-2)), nil)
	return new(big.Int).Mul(big.NewInt(cents), scale).String(), nil
}
