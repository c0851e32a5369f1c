// Package risklimit enforces a per-user, per-market notional exposure
// cap at order admission time. It is a single-market guard, not
// cross-market portfolio margining: each market's exposure is checked
// independently.
package risklimit

import (
	"github.com/shopspring/decimal"

	"github.com/BakaOtaku/robet-ai/internal/apperr"
	"github.com/BakaOtaku/robet-ai/internal/model"
)

// Limiter enforces a maximum absolute notional exposure per user per
// market. Exposure is the USD locked by the order being admitted plus
// the position's locked short collateral on both token types (see
// Exposure); USD locked by the user's other resting BUY orders is not
// counted.
type Limiter struct {
	// MaxNotional is the maximum exposure a single user may carry in a
	// single market.
	MaxNotional decimal.Decimal
}

// NewLimiter creates a Limiter with the given per-market notional cap.
func NewLimiter(maxNotional decimal.Decimal) *Limiter {
	return &Limiter{MaxNotional: maxNotional}
}

// Exposure computes a position's notional exposure after a new lock:
// both sides' locked short collateral (forfeited if that side loses)
// plus the monetary amount this order's own admission just locked.
// This checks one order's incremental exposure rather than a full
// history of the user's resting orders in the market, which the
// position record alone cannot reconstruct.
func Exposure(p *model.Position, newlyLockedUSD decimal.Decimal) decimal.Decimal {
	return newlyLockedUSD.Add(p.LockedCollateralYes).Add(p.LockedCollateralNo)
}

// CheckLimit returns apperr.LimitExceeded if a user's post-lock exposure
// in a market would exceed MaxNotional.
func (l *Limiter) CheckLimit(userID, marketID string, p *model.Position, newlyLockedUSD decimal.Decimal) error {
	exposure := Exposure(p, newlyLockedUSD)
	if exposure.GreaterThan(l.MaxNotional) {
		return apperr.New(apperr.LimitExceeded, "user %s market %s exposure %s exceeds limit %s",
			userID, marketID, exposure, l.MaxNotional)
	}
	return nil
}
