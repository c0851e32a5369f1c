package admission

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BakaOtaku/robet-ai/internal/apperr"
	"github.com/BakaOtaku/robet-ai/internal/ledger"
	"github.com/BakaOtaku/robet-ai/internal/model"
	"github.com/BakaOtaku/robet-ai/internal/risklimit"
	"github.com/BakaOtaku/robet-ai/internal/sigverify"
)

const marketID = "m1"

func newTestAdmitter(t *testing.T, lg ledger.Ledger) *Admitter {
	t.Helper()
	verifier := sigverify.NewVerifier(map[string]sigverify.ChainConfig{
		"devnet": {Scheme: sigverify.SchemeTrustWithoutVerify},
	})
	limiter := risklimit.NewLimiter(decimal.NewFromInt(100000))
	return NewAdmitter(lg, verifier, limiter)
}

func newOpenMarket(t *testing.T, lg ledger.Ledger) {
	t.Helper()
	err := lg.Transact(context.Background(), marketID, func(ctx context.Context, tx ledger.Tx) error {
		return tx.SaveMarket(ctx, &model.Market{ID: marketID, CreatedAt: time.Now().UTC()})
	})
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
}

func baseRequest() Request {
	return Request{
		MarketID:      marketID,
		UserID:        "buyer",
		ChainID:       "devnet",
		WalletAddress: "wallet",
		Side:          model.Buy,
		TokenType:     model.Yes,
		Price:         decimal.NewFromFloat(0.5),
		PriceText:     "0.5",
		Quantity:      10,
		Signature:     "unsigned",
	}
}

func TestSubmit_BuyLocksAvailableUSD(t *testing.T) {
	lg := ledger.NewMemoryLedger()
	newOpenMarket(t, lg)
	ctx := context.Background()

	err := lg.Transact(ctx, marketID, func(ctx context.Context, tx ledger.Tx) error {
		bal, err := tx.LoadBalance(ctx, "buyer", "devnet")
		if err != nil {
			return err
		}
		bal.AvailableUSD = decimal.NewFromInt(10)
		return tx.SaveBalance(ctx, bal)
	})
	if err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	admitter := newTestAdmitter(t, lg)
	order, trades, err := admitter.Submit(ctx, baseRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(trades) != 0 {
		t.Fatalf("expected no trades (empty book), got %d", len(trades))
	}
	if order.Status != model.StatusOpen {
		t.Fatalf("expected OPEN, got %s", order.Status)
	}

	bal, _ := lg.GetBalance(ctx, "buyer", "devnet")
	if !bal.AvailableUSD.Equal(decimal.NewFromInt(5)) { // 10 - 0.5*10
		t.Fatalf("expected 5 remaining after locking 5, got %s", bal.AvailableUSD)
	}
}

func TestSubmit_BuyInsufficientFunds(t *testing.T) {
	lg := ledger.NewMemoryLedger()
	newOpenMarket(t, lg)
	admitter := newTestAdmitter(t, lg)

	req := baseRequest()
	req.Quantity = 1000 // cost 500, far more than the zero balance on record
	_, _, err := admitter.Submit(context.Background(), req)
	if !apperr.Is(err, apperr.InsufficientFunds) {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
}

func TestSubmit_SellLocksInventoryThenShortsCollateral(t *testing.T) {
	lg := ledger.NewMemoryLedger()
	newOpenMarket(t, lg)
	ctx := context.Background()

	err := lg.Transact(ctx, marketID, func(ctx context.Context, tx ledger.Tx) error {
		pos, err := tx.LoadPosition(ctx, "seller", "devnet", marketID)
		if err != nil {
			return err
		}
		pos.YesTokens = 4 // owns 4, will sell 10 -> short 6
		if err := tx.SavePosition(ctx, pos); err != nil {
			return err
		}
		bal, err := tx.LoadBalance(ctx, "seller", "devnet")
		if err != nil {
			return err
		}
		bal.AvailableUSD = decimal.NewFromInt(10)
		return tx.SaveBalance(ctx, bal)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	admitter := newTestAdmitter(t, lg)
	req := baseRequest()
	req.UserID = "seller"
	req.Side = model.Sell
	req.Quantity = 10

	order, _, err := admitter.Submit(ctx, req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if order.Status != model.StatusOpen {
		t.Fatalf("expected OPEN, got %s", order.Status)
	}

	pos, _ := lg.GetPosition(ctx, "seller", "devnet", marketID)
	if pos.YesTokens != 0 || pos.LockedYesTokens != 4 {
		t.Fatalf("expected all 4 owned tokens locked, got free=%d locked=%d", pos.YesTokens, pos.LockedYesTokens)
	}
	if !pos.LockedCollateralYes.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("expected 6 short units collateralized, got %s", pos.LockedCollateralYes)
	}

	bal, _ := lg.GetBalance(ctx, "seller", "devnet")
	if !bal.AvailableUSD.Equal(decimal.NewFromInt(4)) { // 10 - 6 collateral
		t.Fatalf("expected 4 remaining after collateral lock, got %s", bal.AvailableUSD)
	}
}

func TestSubmit_SellRiskLimitChecksCollateralOnce(t *testing.T) {
	lg := ledger.NewMemoryLedger()
	newOpenMarket(t, lg)
	ctx := context.Background()

	err := lg.Transact(ctx, marketID, func(ctx context.Context, tx ledger.Tx) error {
		bal, err := tx.LoadBalance(ctx, "seller", "devnet")
		if err != nil {
			return err
		}
		bal.AvailableUSD = decimal.NewFromInt(10)
		return tx.SaveBalance(ctx, bal)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Selling 10 units with no owned inventory shorts all 10, collateralizing
	// exactly 10. A cap of 10 must admit this order: if the limiter were
	// double-counting the newly-locked collateral (once via newlyLockedUSD,
	// once via pos.LockedCollateralYes), the computed exposure would be 20
	// and this would be wrongly rejected.
	verifier := sigverify.NewVerifier(map[string]sigverify.ChainConfig{
		"devnet": {Scheme: sigverify.SchemeTrustWithoutVerify},
	})
	limiter := risklimit.NewLimiter(decimal.NewFromInt(10))
	admitter := NewAdmitter(lg, verifier, limiter)

	req := baseRequest()
	req.UserID = "seller"
	req.Side = model.Sell
	req.Quantity = 10

	order, _, err := admitter.Submit(ctx, req)
	if err != nil {
		t.Fatalf("expected admission within cap, got %v", err)
	}
	if order.Status != model.StatusOpen {
		t.Fatalf("expected OPEN, got %s", order.Status)
	}
}

func TestSubmit_RejectsOutOfRangePrice(t *testing.T) {
	lg := ledger.NewMemoryLedger()
	newOpenMarket(t, lg)
	admitter := newTestAdmitter(t, lg)

	req := baseRequest()
	req.Price = decimal.NewFromFloat(1.5)
	_, _, err := admitter.Submit(context.Background(), req)
	if !apperr.Is(err, apperr.InvalidPrice) {
		t.Fatalf("expected InvalidPrice, got %v", err)
	}
}

func TestSubmit_RejectsNonPositiveQuantity(t *testing.T) {
	lg := ledger.NewMemoryLedger()
	newOpenMarket(t, lg)
	admitter := newTestAdmitter(t, lg)

	req := baseRequest()
	req.Quantity = 0
	_, _, err := admitter.Submit(context.Background(), req)
	if !apperr.Is(err, apperr.InvalidQuantity) {
		t.Fatalf("expected InvalidQuantity, got %v", err)
	}
}

func TestSubmit_RejectsClosedMarket(t *testing.T) {
	lg := ledger.NewMemoryLedger()
	ctx := context.Background()
	err := lg.Transact(ctx, marketID, func(ctx context.Context, tx ledger.Tx) error {
		return tx.SaveMarket(ctx, &model.Market{ID: marketID, Settled: true, Outcome: model.OutcomeYes})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	admitter := newTestAdmitter(t, lg)
	_, _, err = admitter.Submit(ctx, baseRequest())
	if !apperr.Is(err, apperr.MarketClosed) {
		t.Fatalf("expected MarketClosed, got %v", err)
	}
}

func TestSubmit_MatchesAgainstRestingOrderAsTaker(t *testing.T) {
	lg := ledger.NewMemoryLedger()
	newOpenMarket(t, lg)
	ctx := context.Background()

	// Seed a resting SELL order with locked inventory the taker BUY can cross.
	err := lg.Transact(ctx, marketID, func(ctx context.Context, tx ledger.Tx) error {
		pos, err := tx.LoadPosition(ctx, "seller", "devnet", marketID)
		if err != nil {
			return err
		}
		pos.LockedYesTokens = 10
		if err := tx.SavePosition(ctx, pos); err != nil {
			return err
		}
		return tx.InsertOrder(ctx, &model.Order{
			ID: "resting1", MarketID: marketID, UserID: "seller", ChainID: "devnet",
			Side: model.Sell, TokenType: model.Yes, Price: decimal.NewFromFloat(0.4), Quantity: 10, Status: model.StatusOpen,
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Buyer has enough to lock 10*0.5=5.
	err = lg.Transact(ctx, marketID, func(ctx context.Context, tx ledger.Tx) error {
		bal, err := tx.LoadBalance(ctx, "buyer", "devnet")
		if err != nil {
			return err
		}
		bal.AvailableUSD = decimal.NewFromInt(5)
		return tx.SaveBalance(ctx, bal)
	})
	if err != nil {
		t.Fatalf("seed buyer balance: %v", err)
	}

	admitter := newTestAdmitter(t, lg)
	order, trades, err := admitter.Submit(ctx, baseRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if order.Status != model.StatusFilled || order.FilledQuantity != 10 {
		t.Fatalf("expected taker FILLED with 10, got %s/%d", order.Status, order.FilledQuantity)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if !trades[0].Price.Equal(decimal.NewFromFloat(0.4)) {
		t.Fatalf("expected execution at maker price 0.4, got %s", trades[0].Price)
	}

	buyerPos, _ := lg.GetPosition(ctx, "buyer", "devnet", marketID)
	if buyerPos.YesTokens != 10 {
		t.Fatalf("expected buyer to receive 10 YES tokens, got %d", buyerPos.YesTokens)
	}
}
