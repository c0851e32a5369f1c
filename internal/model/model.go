// Package model defines the core domain types shared across the exchange.
// Monetary and price values use shopspring/decimal — never float64 for
// money. Token quantities are integer share counts.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is which direction an order trades.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// TokenType is which binary outcome an order or position concerns.
type TokenType string

const (
	Yes TokenType = "YES"
	No  TokenType = "NO"
)

// Opposite returns the other token type.
func (t TokenType) Opposite() TokenType {
	if t == Yes {
		return No
	}
	return Yes
}

// OrderStatus tracks an order's lifecycle.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "OPEN"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// Outcome is a market's resolution state.
type Outcome string

const (
	Unresolved Outcome = ""
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Market is a binary prediction market. Created by market creation,
// mutated only once by settlement, never destroyed.
type Market struct {
	ID             string    `json:"id" db:"id"`
	Question       string    `json:"question" db:"question"`
	Creator        string    `json:"creator" db:"creator"`
	ResolutionTime time.Time `json:"resolution_time" db:"resolution_time"`
	Outcome        Outcome   `json:"outcome" db:"outcome"`
	Settled        bool      `json:"settled" db:"settled"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Order is a signed limit order for one token type in one market.
// FilledQuantity and Status are mutated by the matching engine and by
// settlement; Order records are never destroyed.
type Order struct {
	ID             string          `json:"id" db:"id"`
	MarketID       string          `json:"market_id" db:"market_id"`
	UserID         string          `json:"user_id" db:"user_id"`
	ChainID        string          `json:"chain_id" db:"chain_id"`
	WalletAddress  string          `json:"wallet_address" db:"wallet_address"`
	Side           Side            `json:"side" db:"side"`
	TokenType      TokenType       `json:"token_type" db:"token_type"`
	Price          decimal.Decimal `json:"price" db:"price"`
	Quantity       int64           `json:"quantity" db:"quantity"`
	FilledQuantity int64           `json:"filled_quantity" db:"filled_quantity"`
	Status         OrderStatus     `json:"status" db:"status"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Remaining returns the unfilled quantity of the order.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.FilledQuantity
}

// Trade is an immutable record of one fill between two orders.
type Trade struct {
	ID          string          `json:"id" db:"id"`
	MarketID    string          `json:"market_id" db:"market_id"`
	BuyOrderID  string          `json:"buy_order_id" db:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id" db:"sell_order_id"`
	TokenType   TokenType       `json:"token_type" db:"token_type"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Quantity    int64           `json:"quantity" db:"quantity"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
}

// Position is one user's holdings and locked assets in one market.
type Position struct {
	UserID              string          `json:"user_id" db:"user_id"`
	ChainID             string          `json:"chain_id" db:"chain_id"`
	MarketID            string          `json:"market_id" db:"market_id"`
	YesTokens           int64           `json:"yes_tokens" db:"yes_tokens"`
	NoTokens            int64           `json:"no_tokens" db:"no_tokens"`
	LockedYesTokens     int64           `json:"locked_yes_tokens" db:"locked_yes_tokens"`
	LockedNoTokens      int64           `json:"locked_no_tokens" db:"locked_no_tokens"`
	LockedCollateralYes decimal.Decimal `json:"locked_collateral_yes" db:"locked_collateral_yes"`
	LockedCollateralNo  decimal.Decimal `json:"locked_collateral_no" db:"locked_collateral_no"`
}

// ZeroPosition returns a fresh, all-zero position record for a user/market.
func ZeroPosition(userID, chainID, marketID string) *Position {
	return &Position{
		UserID:              userID,
		ChainID:             chainID,
		MarketID:            marketID,
		LockedCollateralYes: decimal.Zero,
		LockedCollateralNo:  decimal.Zero,
	}
}

// Tokens returns the free inventory for tokenType.
func (p *Position) Tokens(t TokenType) int64 {
	if t == Yes {
		return p.YesTokens
	}
	return p.NoTokens
}

// SetTokens sets the free inventory for tokenType.
func (p *Position) SetTokens(t TokenType, v int64) {
	if t == Yes {
		p.YesTokens = v
	} else {
		p.NoTokens = v
	}
}

// LockedTokens returns the locked inventory for tokenType.
func (p *Position) LockedTokens(t TokenType) int64 {
	if t == Yes {
		return p.LockedYesTokens
	}
	return p.LockedNoTokens
}

// SetLockedTokens sets the locked inventory for tokenType.
func (p *Position) SetLockedTokens(t TokenType, v int64) {
	if t == Yes {
		p.LockedYesTokens = v
	} else {
		p.LockedNoTokens = v
	}
}

// LockedCollateral returns the locked collateral backing short sales of tokenType.
func (p *Position) LockedCollateral(t TokenType) decimal.Decimal {
	if t == Yes {
		return p.LockedCollateralYes
	}
	return p.LockedCollateralNo
}

// SetLockedCollateral sets the locked collateral backing short sales of tokenType.
func (p *Position) SetLockedCollateral(t TokenType, v decimal.Decimal) {
	if t == Yes {
		p.LockedCollateralYes = v
	} else {
		p.LockedCollateralNo = v
	}
}

// UserBalance is the monetary side of a user ledger entry, keyed by
// (userID, chainID). Per-market positions are stored separately.
type UserBalance struct {
	UserID            string          `json:"user_id" db:"user_id"`
	ChainID           string          `json:"chain_id" db:"chain_id"`
	AvailableUSD      decimal.Decimal `json:"available_usd" db:"available_usd"`
	LastExternalBlock int64           `json:"last_external_block" db:"last_external_block"`
}

// ZeroBalance returns a fresh, all-zero balance record.
func ZeroBalance(userID, chainID string) *UserBalance {
	return &UserBalance{UserID: userID, ChainID: chainID, AvailableUSD: decimal.Zero}
}
