package matching

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/BakaOtaku/robet-ai/internal/apperr"
	"github.com/BakaOtaku/robet-ai/internal/ledger"
	"github.com/BakaOtaku/robet-ai/internal/model"
)

// ApplyFill applies one fill between buyOrder and sellOrder under tx,
// performing short-sale minting when the seller's locked inventory
// doesn't cover the fill. It never mutates order status or
// filledQuantity — that is the matching engine's responsibility — and
// never touches lockedCollateralYes/No, which survive until settlement.
func ApplyFill(ctx context.Context, tx ledger.Tx, marketID string, tokenType model.TokenType, buyOrder, sellOrder *model.Order, qty int64, execPrice decimal.Decimal) (*model.Trade, error) {
	buyerBal, err := tx.LoadBalance(ctx, buyOrder.UserID, buyOrder.ChainID)
	if err != nil {
		return nil, err
	}
	sellerBal, err := tx.LoadBalance(ctx, sellOrder.UserID, sellOrder.ChainID)
	if err != nil {
		return nil, err
	}
	buyerPos, err := tx.LoadPosition(ctx, buyOrder.UserID, buyOrder.ChainID, marketID)
	if err != nil {
		return nil, err
	}
	sellerPos, err := tx.LoadPosition(ctx, sellOrder.UserID, sellOrder.ChainID, marketID)
	if err != nil {
		return nil, err
	}

	qtyDec := decimal.NewFromInt(qty)
	payment := execPrice.Mul(qtyDec)
	sellerBal.AvailableUSD = sellerBal.AvailableUSD.Add(payment)

	if buyOrder.Price.GreaterThan(execPrice) {
		refund := buyOrder.Price.Sub(execPrice).Mul(qtyDec)
		buyerBal.AvailableUSD = buyerBal.AvailableUSD.Add(refund)
	}

	locked := sellerPos.LockedTokens(tokenType)
	if locked >= qty {
		sellerPos.SetLockedTokens(tokenType, locked-qty)
		buyerPos.SetTokens(tokenType, buyerPos.Tokens(tokenType)+qty)
	} else {
		fromInventory := locked
		short := qty - fromInventory

		sellerPos.SetLockedTokens(tokenType, 0)
		buyerPos.SetTokens(tokenType, buyerPos.Tokens(tokenType)+fromInventory)

		if sellerPos.LockedCollateral(tokenType).LessThan(decimal.NewFromInt(short)) {
			return nil, apperr.New(apperr.LedgerInconsistency,
				"seller %s has insufficient locked %s collateral for short of %d units", sellOrder.UserID, tokenType, short)
		}
		buyerPos.SetTokens(tokenType, buyerPos.Tokens(tokenType)+short)
		sellerPos.SetTokens(tokenType.Opposite(), sellerPos.Tokens(tokenType.Opposite())+short)
	}

	if err := tx.SaveBalance(ctx, buyerBal); err != nil {
		return nil, err
	}
	if err := tx.SaveBalance(ctx, sellerBal); err != nil {
		return nil, err
	}
	if err := tx.SavePosition(ctx, buyerPos); err != nil {
		return nil, err
	}
	if err := tx.SavePosition(ctx, sellerPos); err != nil {
		return nil, err
	}

	return &model.Trade{
		ID:          uuid.New().String(),
		MarketID:    marketID,
		BuyOrderID:  buyOrder.ID,
		SellOrderID: sellOrder.ID,
		TokenType:   tokenType,
		Price:       execPrice,
		Quantity:    qty,
		Timestamp:   time.Now().UTC(),
	}, nil
}
