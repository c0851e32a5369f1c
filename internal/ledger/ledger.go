// Package ledger is the authoritative store of user balances,
// per-market positions, orders, and trades. It exposes atomic
// read-modify-write transactions scoped to one market: either every
// mutation in a Transact call commits, or none does.
//
// Implementations: PostgresLedger (source of truth), CachedLedger (a
// read-through wrapper around any Ledger), MemoryLedger (tests).
package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/BakaOtaku/robet-ai/internal/model"
)

// Tx is the set of mutation primitives available inside one Transact
// call. All reads inside a Tx observe a consistent snapshot; all writes
// commit together or not at all.
type Tx interface {
	// LoadMarket returns the market, or apperr.MarketNotFound.
	LoadMarket(ctx context.Context, marketID string) (*model.Market, error)
	SaveMarket(ctx context.Context, m *model.Market) error

	// LoadPosition returns the user's position in marketID, creating a
	// zero record on first reference.
	LoadPosition(ctx context.Context, userID, chainID, marketID string) (*model.Position, error)
	SavePosition(ctx context.Context, p *model.Position) error

	// LoadBalance returns the user's monetary balance, creating a zero
	// record on first reference.
	LoadBalance(ctx context.Context, userID, chainID string) (*model.UserBalance, error)
	SaveBalance(ctx context.Context, b *model.UserBalance) error

	// LoadOrder returns apperr.OrderNotFound if absent.
	LoadOrder(ctx context.Context, orderID string) (*model.Order, error)
	InsertOrder(ctx context.Context, o *model.Order) error
	SaveOrder(ctx context.Context, o *model.Order) error

	InsertTrade(ctx context.Context, t *model.Trade) error

	// OpenOrders returns every OPEN/PARTIAL order for (marketID, tokenType),
	// across both sides, in no particular order — callers impose their
	// own price-time priority.
	OpenOrders(ctx context.Context, marketID string, tokenType model.TokenType) ([]*model.Order, error)

	// AllPositions returns every user position recorded in marketID.
	// Used by settlement, which must visit every holder.
	AllPositions(ctx context.Context, marketID string) ([]*model.Position, error)
}

// Ledger is the persistence boundary. Transact serializes every call
// for a given marketID against every other call for that same
// marketID (the "single logical writer per market" model); calls for
// different markets may run concurrently.
type Ledger interface {
	Transact(ctx context.Context, marketID string, fn func(ctx context.Context, tx Tx) error) error

	// CreditDeposit is the deposit-ingress entry point (spec §6). It is
	// idempotent on (userID, chainID, externalBlockHeight): calls with
	// externalBlockHeight <= the stored value are no-ops.
	CreditDeposit(ctx context.Context, userID, chainID string, amountUSD decimal.Decimal, externalTxRef string, externalBlockHeight int64) error

	GetMarket(ctx context.Context, marketID string) (*model.Market, error)
	ListMarkets(ctx context.Context) ([]*model.Market, error)
	ListOpenOrders(ctx context.Context, marketID string) ([]*model.Order, error)
	ListTrades(ctx context.Context, marketID string, tokenType *model.TokenType) ([]*model.Trade, error)
	GetPosition(ctx context.Context, userID, chainID, marketID string) (*model.Position, error)
	GetBalance(ctx context.Context, userID, chainID string) (*model.UserBalance, error)
}
