// Package settlement implements the terminal transition of a market:
// cancel resting orders, release locked seller assets, pay winners, and
// forfeit losing-side collateral.
package settlement

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/BakaOtaku/robet-ai/internal/apperr"
	"github.com/BakaOtaku/robet-ai/internal/ledger"
	"github.com/BakaOtaku/robet-ai/internal/model"
)

// Settle transitions marketID to outcome. Fails AlreadySettled if the
// market has already been settled, with no side effects.
func Settle(ctx context.Context, lg ledger.Ledger, marketID string, outcome model.Outcome) error {
	if outcome != model.OutcomeYes && outcome != model.OutcomeNo {
		return apperr.New(apperr.MissingField, "outcome must be YES or NO")
	}

	return lg.Transact(ctx, marketID, func(ctx context.Context, tx ledger.Tx) error {
		market, err := tx.LoadMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if market.Settled {
			return apperr.New(apperr.AlreadySettled, "market %s already settled", marketID)
		}

		if err := cancelOpenOrders(ctx, tx, marketID); err != nil {
			return err
		}
		if err := disposeCollateral(ctx, tx, marketID, outcome); err != nil {
			return err
		}

		market.Outcome = outcome
		market.Settled = true
		return tx.SaveMarket(ctx, market)
	})
}

// cancelOpenOrders implements steps 1-2: cancel every resting order and
// refund the pre-locked funds behind cancelled BUY orders.
func cancelOpenOrders(ctx context.Context, tx ledger.Tx, marketID string) error {
	for _, tt := range [2]model.TokenType{model.Yes, model.No} {
		orders, err := tx.OpenOrders(ctx, marketID, tt)
		if err != nil {
			return err
		}
		for _, o := range orders {
			unfilled := o.Remaining()
			o.Status = model.StatusCancelled
			if err := tx.SaveOrder(ctx, o); err != nil {
				return err
			}

			if o.Side == model.Buy && unfilled > 0 {
				bal, err := tx.LoadBalance(ctx, o.UserID, o.ChainID)
				if err != nil {
					return err
				}
				bal.AvailableUSD = bal.AvailableUSD.Add(o.Price.Mul(decimal.NewFromInt(unfilled)))
				if err := tx.SaveBalance(ctx, bal); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// disposeCollateral implements steps 3-5: release locked seller
// inventory, pay winners (including the collateral behind the winning
// short side), forfeit losing-side collateral, and zero every field.
func disposeCollateral(ctx context.Context, tx ledger.Tx, marketID string, outcome model.Outcome) error {
	positions, err := tx.AllPositions(ctx, marketID)
	if err != nil {
		return err
	}

	for _, p := range positions {
		p.YesTokens += p.LockedYesTokens
		p.NoTokens += p.LockedNoTokens
		p.LockedYesTokens = 0
		p.LockedNoTokens = 0

		bal, err := tx.LoadBalance(ctx, p.UserID, p.ChainID)
		if err != nil {
			return err
		}

		if outcome == model.OutcomeYes {
			bal.AvailableUSD = bal.AvailableUSD.
				Add(decimal.NewFromInt(p.YesTokens)).
				Add(p.LockedCollateralNo)
		} else {
			bal.AvailableUSD = bal.AvailableUSD.
				Add(decimal.NewFromInt(p.NoTokens)).
				Add(p.LockedCollateralYes)
		}
		if err := tx.SaveBalance(ctx, bal); err != nil {
			return err
		}

		p.YesTokens = 0
		p.NoTokens = 0
		p.LockedCollateralYes = decimal.Zero
		p.LockedCollateralNo = decimal.Zero
		if err := tx.SavePosition(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
