// Package admission is the entry point for new limit orders: it
// verifies the order's signature, validates parameters, locks the
// required funds/tokens/collateral, persists the order, and invokes the
// matching engine synchronously with the new order as taker.
package admission

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/BakaOtaku/robet-ai/internal/apperr"
	"github.com/BakaOtaku/robet-ai/internal/ledger"
	"github.com/BakaOtaku/robet-ai/internal/matching"
	"github.com/BakaOtaku/robet-ai/internal/model"
	"github.com/BakaOtaku/robet-ai/internal/risklimit"
	"github.com/BakaOtaku/robet-ai/internal/sigverify"
)

// Request is the input to Submit. PriceText must carry the exact textual
// form of the price the client signed, for signature reconstruction;
// Price is the parsed value used for validation and locking. The signed
// message renders Quantity as a plain base-10 integer.
type Request struct {
	MarketID      string
	UserID        string
	ChainID       string
	WalletAddress string
	Side          model.Side
	TokenType     model.TokenType

	Price     decimal.Decimal
	PriceText string
	Quantity  int64

	Signature      string
	SessionPubKey  string
	SessionAddress string
}

// Admitter wires together the collaborators order admission needs.
type Admitter struct {
	ledger   ledger.Ledger
	verifier *sigverify.Verifier
	limiter  *risklimit.Limiter
}

// NewAdmitter constructs an Admitter. limiter may be nil to disable the
// risk-limit check.
func NewAdmitter(lg ledger.Ledger, verifier *sigverify.Verifier, limiter *risklimit.Limiter) *Admitter {
	return &Admitter{ledger: lg, verifier: verifier, limiter: limiter}
}

// Submit admits req as a new order and runs the matching engine against
// it, returning the persisted order in its post-matching state and any
// trades produced.
func (a *Admitter) Submit(ctx context.Context, req Request) (*model.Order, []*model.Trade, error) {
	quantityText := decimalFromInt(req.Quantity)
	if err := a.verifier.Verify(sigverify.OrderPayload{
		MarketID:       req.MarketID,
		UserID:         req.UserID,
		Side:           string(req.Side),
		Price:          req.PriceText,
		Quantity:       quantityText,
		TokenType:      string(req.TokenType),
		ChainID:        req.ChainID,
		WalletAddress:  req.WalletAddress,
		Signature:      req.Signature,
		SessionPubKey:  req.SessionPubKey,
		SessionAddress: req.SessionAddress,
	}); err != nil {
		return nil, nil, err
	}

	if req.Price.LessThan(decimal.Zero) || req.Price.GreaterThan(decimal.NewFromInt(1)) {
		return nil, nil, apperr.New(apperr.InvalidPrice, "price %s must be within [0,1]", req.Price)
	}
	if req.Quantity <= 0 {
		return nil, nil, apperr.New(apperr.InvalidQuantity, "quantity must be a positive integer")
	}

	var order *model.Order
	var trades []*model.Trade

	err := a.ledger.Transact(ctx, req.MarketID, func(ctx context.Context, tx ledger.Tx) error {
		market, err := tx.LoadMarket(ctx, req.MarketID)
		if err != nil {
			return err
		}
		if market.Settled {
			return apperr.New(apperr.MarketClosed, "market %s is settled", req.MarketID)
		}

		pos, err := tx.LoadPosition(ctx, req.UserID, req.ChainID, req.MarketID)
		if err != nil {
			return err
		}

		// newlyLockedUSD is the amount to add to the limit check on top of
		// pos's locked collateral. BUY locks availableUSD, which pos never
		// reflects, so it must be added explicitly. SELL's short collateral
		// is written straight into pos.LockedCollateralYes/No by lockSell,
		// so it's already part of pos and must not be added again.
		newlyLockedUSD := decimal.Zero
		switch req.Side {
		case model.Buy:
			newlyLockedUSD, err = lockBuy(ctx, tx, req)
		case model.Sell:
			_, err = lockSell(ctx, tx, req, pos)
		}
		if err != nil {
			return err
		}

		if a.limiter != nil {
			if err := a.limiter.CheckLimit(req.UserID, req.MarketID, pos, newlyLockedUSD); err != nil {
				return err
			}
		}

		resting, err := tx.OpenOrders(ctx, req.MarketID, req.TokenType)
		if err != nil {
			return err
		}

		order = &model.Order{
			ID:             uuid.New().String(),
			MarketID:       req.MarketID,
			UserID:         req.UserID,
			ChainID:        req.ChainID,
			WalletAddress:  req.WalletAddress,
			Side:           req.Side,
			TokenType:      req.TokenType,
			Price:          req.Price,
			Quantity:       req.Quantity,
			FilledQuantity: 0,
			Status:         model.StatusOpen,
			CreatedAt:      time.Now().UTC(),
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}

		book := matching.NewBook()
		book.LoadOpenOrders(resting)

		produced, err := matching.MatchTaker(ctx, tx, book, order)
		if err != nil {
			return err
		}
		trades = produced
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return order, trades, nil
}

// lockBuy decrements availableUSD by price*quantity and returns the
// amount newly locked, failing InsufficientFunds if unavailable.
func lockBuy(ctx context.Context, tx ledger.Tx, req Request) (decimal.Decimal, error) {
	bal, err := tx.LoadBalance(ctx, req.UserID, req.ChainID)
	if err != nil {
		return decimal.Zero, err
	}
	cost := req.Price.Mul(decimal.NewFromInt(req.Quantity))
	if bal.AvailableUSD.LessThan(cost) {
		return decimal.Zero, apperr.New(apperr.InsufficientFunds,
			"user %s has %s available, needs %s to lock", req.UserID, bal.AvailableUSD, cost)
	}
	bal.AvailableUSD = bal.AvailableUSD.Sub(cost)
	if err := tx.SaveBalance(ctx, bal); err != nil {
		return decimal.Zero, err
	}
	return cost, nil
}

// lockSell moves min(quantity, owned) from free to locked token
// inventory, and collateralizes any shortfall as a short sale, failing
// InsufficientFunds if the user cannot cover the collateral.
func lockSell(ctx context.Context, tx ledger.Tx, req Request, pos *model.Position) (decimal.Decimal, error) {
	owned := pos.Tokens(req.TokenType)
	fromInventory := req.Quantity
	if owned < fromInventory {
		fromInventory = owned
	}
	pos.SetTokens(req.TokenType, owned-fromInventory)
	pos.SetLockedTokens(req.TokenType, pos.LockedTokens(req.TokenType)+fromInventory)

	short := req.Quantity - fromInventory
	newlyLockedUSD := decimal.Zero
	if short > 0 {
		bal, err := tx.LoadBalance(ctx, req.UserID, req.ChainID)
		if err != nil {
			return decimal.Zero, err
		}
		collateral := decimal.NewFromInt(short)
		if bal.AvailableUSD.LessThan(collateral) {
			return decimal.Zero, apperr.New(apperr.InsufficientFunds,
				"user %s has %s available, needs %s collateral for short sale", req.UserID, bal.AvailableUSD, collateral)
		}
		bal.AvailableUSD = bal.AvailableUSD.Sub(collateral)
		pos.SetLockedCollateral(req.TokenType, pos.LockedCollateral(req.TokenType).Add(collateral))
		if err := tx.SaveBalance(ctx, bal); err != nil {
			return decimal.Zero, err
		}
		newlyLockedUSD = collateral
	}

	if err := tx.SavePosition(ctx, pos); err != nil {
		return decimal.Zero, err
	}
	return newlyLockedUSD, nil
}

func decimalFromInt(q int64) string {
	return decimal.NewFromInt(q).String()
}
