package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/BakaOtaku/robet-ai/internal/model"
)

// CachedLedger wraps a primary Ledger (PostgresLedger) with a Redis
// read-through cache for hot read paths (market metadata, positions,
// balances). Writes always go through Transact/CreditDeposit to the
// primary and invalidate the affected cache keys; Tx reads/writes inside
// Transact are never cached, since they must observe the transaction's
// own consistent snapshot.
type CachedLedger struct {
	primary Ledger
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedLedger wraps primary with a Redis read-through cache.
func NewCachedLedger(primary Ledger, rdb *redis.Client, ttl time.Duration) *CachedLedger {
	return &CachedLedger{primary: primary, rdb: rdb, ttl: ttl}
}

// Transact runs fn against the primary store through an invalidatingTx,
// which records the market/position/balance keys the closure actually
// wrote, then deletes exactly those keys from the cache once the
// transaction commits. This mirrors the teacher's CachedStore, which
// invalidates the specific key each write method touches rather than
// clearing the whole cache; a generic Transact has no other way to
// know which entities an opaque fn mutated.
func (c *CachedLedger) Transact(ctx context.Context, marketID string, fn func(ctx context.Context, tx Tx) error) error {
	itx := &invalidatingTx{touched: map[string]struct{}{marketKey(marketID): {}}}
	err := c.primary.Transact(ctx, marketID, func(ctx context.Context, tx Tx) error {
		itx.Tx = tx
		return fn(ctx, itx)
	})
	if err != nil {
		return err
	}
	if len(itx.touched) > 0 {
		keys := make([]string, 0, len(itx.touched))
		for k := range itx.touched {
			keys = append(keys, k)
		}
		c.rdb.Del(ctx, keys...)
	}
	return nil
}

// invalidatingTx wraps the primary's Tx for one Transact call, recording
// the cache key for every entity a write touches.
type invalidatingTx struct {
	Tx
	touched map[string]struct{}
}

func (t *invalidatingTx) SaveMarket(ctx context.Context, m *model.Market) error {
	t.touched[marketKey(m.ID)] = struct{}{}
	return t.Tx.SaveMarket(ctx, m)
}

func (t *invalidatingTx) SavePosition(ctx context.Context, p *model.Position) error {
	t.touched[positionKey(p.UserID, p.ChainID, p.MarketID)] = struct{}{}
	return t.Tx.SavePosition(ctx, p)
}

func (t *invalidatingTx) SaveBalance(ctx context.Context, b *model.UserBalance) error {
	t.touched[balanceKey(b.UserID, b.ChainID)] = struct{}{}
	return t.Tx.SaveBalance(ctx, b)
}

func (c *CachedLedger) CreditDeposit(ctx context.Context, userID, chainID string, amountUSD decimal.Decimal, externalTxRef string, externalBlockHeight int64) error {
	if err := c.primary.CreditDeposit(ctx, userID, chainID, amountUSD, externalTxRef, externalBlockHeight); err != nil {
		return err
	}
	c.rdb.Del(ctx, balanceKey(userID, chainID))
	return nil
}

func (c *CachedLedger) GetMarket(ctx context.Context, marketID string) (*model.Market, error) {
	if data, err := c.rdb.Get(ctx, marketKey(marketID)).Bytes(); err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}
	m, err := c.primary.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	c.cacheJSON(ctx, marketKey(marketID), m)
	return m, nil
}

func (c *CachedLedger) ListMarkets(ctx context.Context) ([]*model.Market, error) {
	return c.primary.ListMarkets(ctx)
}

func (c *CachedLedger) ListOpenOrders(ctx context.Context, marketID string) ([]*model.Order, error) {
	return c.primary.ListOpenOrders(ctx, marketID)
}

func (c *CachedLedger) ListTrades(ctx context.Context, marketID string, tokenType *model.TokenType) ([]*model.Trade, error) {
	return c.primary.ListTrades(ctx, marketID, tokenType)
}

func (c *CachedLedger) GetPosition(ctx context.Context, userID, chainID, marketID string) (*model.Position, error) {
	key := positionKey(userID, chainID, marketID)
	if data, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}
	p, err := c.primary.GetPosition(ctx, userID, chainID, marketID)
	if err != nil {
		return nil, err
	}
	c.cacheJSON(ctx, key, p)
	return p, nil
}

func (c *CachedLedger) GetBalance(ctx context.Context, userID, chainID string) (*model.UserBalance, error) {
	key := balanceKey(userID, chainID)
	if data, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var b model.UserBalance
		if json.Unmarshal(data, &b) == nil {
			return &b, nil
		}
	}
	b, err := c.primary.GetBalance(ctx, userID, chainID)
	if err != nil {
		return nil, err
	}
	c.cacheJSON(ctx, key, b)
	return b, nil
}

func (c *CachedLedger) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		c.rdb.Set(ctx, key, data, c.ttl)
	}
}

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }
func positionKey(userID, chainID, marketID string) string {
	return fmt.Sprintf("position:%s:%s:%s", userID, chainID, marketID)
}
func balanceKey(userID, chainID string) string { return fmt.Sprintf("balance:%s:%s", userID, chainID) }
