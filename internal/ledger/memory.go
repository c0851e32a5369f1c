package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/BakaOtaku/robet-ai/internal/apperr"
	"github.com/BakaOtaku/robet-ai/internal/model"
)

func posKey(userID, chainID, marketID string) string {
	return userID + "\x00" + chainID + "\x00" + marketID
}

func balKey(userID, chainID string) string {
	return userID + "\x00" + chainID
}

// MemoryLedger implements Ledger with in-memory maps. Used for tests and
// development. Not suitable for production: no persistence.
type MemoryLedger struct {
	locks *marketLocks

	mu        sync.Mutex
	markets   map[string]*model.Market
	positions map[string]*model.Position
	balances  map[string]*model.UserBalance
	orders    map[string]*model.Order
	trades    []*model.Trade
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		locks:     newMarketLocks(),
		markets:   make(map[string]*model.Market),
		positions: make(map[string]*model.Position),
		balances:  make(map[string]*model.UserBalance),
		orders:    make(map[string]*model.Order),
	}
}

func (l *MemoryLedger) Transact(ctx context.Context, marketID string, fn func(ctx context.Context, tx Tx) error) error {
	lock := l.locks.lock(marketID)
	lock.Lock()
	defer lock.Unlock()
	return fn(ctx, &memoryTx{l: l})
}

func (l *MemoryLedger) CreditDeposit(ctx context.Context, userID, chainID string, amountUSD decimal.Decimal, externalTxRef string, externalBlockHeight int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.balances[balKey(userID, chainID)]
	if !ok {
		b = model.ZeroBalance(userID, chainID)
		l.balances[balKey(userID, chainID)] = b
	}
	if externalBlockHeight <= b.LastExternalBlock {
		return nil
	}
	b.AvailableUSD = b.AvailableUSD.Add(amountUSD)
	b.LastExternalBlock = externalBlockHeight
	return nil
}

func (l *MemoryLedger) GetMarket(ctx context.Context, marketID string) (*model.Market, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.markets[marketID]
	if !ok {
		return nil, apperr.New(apperr.MarketNotFound, "market %s", marketID)
	}
	cp := *m
	return &cp, nil
}

func (l *MemoryLedger) ListMarkets(ctx context.Context) ([]*model.Market, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*model.Market, 0, len(l.markets))
	for _, m := range l.markets {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (l *MemoryLedger) ListOpenOrders(ctx context.Context, marketID string) ([]*model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*model.Order
	for _, o := range l.orders {
		if o.MarketID != marketID {
			continue
		}
		if o.Status == model.StatusOpen || o.Status == model.StatusPartial {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (l *MemoryLedger) ListTrades(ctx context.Context, marketID string, tokenType *model.TokenType) ([]*model.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*model.Trade
	for _, t := range l.trades {
		if t.MarketID != marketID {
			continue
		}
		if tokenType != nil && t.TokenType != *tokenType {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (l *MemoryLedger) GetPosition(ctx context.Context, userID, chainID, marketID string) (*model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[posKey(userID, chainID, marketID)]
	if !ok {
		return model.ZeroPosition(userID, chainID, marketID), nil
	}
	cp := *p
	return &cp, nil
}

func (l *MemoryLedger) GetBalance(ctx context.Context, userID, chainID string) (*model.UserBalance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[balKey(userID, chainID)]
	if !ok {
		return model.ZeroBalance(userID, chainID), nil
	}
	cp := *b
	return &cp, nil
}

// memoryTx implements Tx against a MemoryLedger's maps. Callers must hold
// the relevant market lock for the duration of the Tx (enforced by
// MemoryLedger.Transact).
type memoryTx struct {
	l *MemoryLedger
}

func (tx *memoryTx) LoadMarket(ctx context.Context, marketID string) (*model.Market, error) {
	tx.l.mu.Lock()
	defer tx.l.mu.Unlock()
	m, ok := tx.l.markets[marketID]
	if !ok {
		return nil, apperr.New(apperr.MarketNotFound, "market %s", marketID)
	}
	cp := *m
	return &cp, nil
}

func (tx *memoryTx) SaveMarket(ctx context.Context, m *model.Market) error {
	tx.l.mu.Lock()
	defer tx.l.mu.Unlock()
	cp := *m
	tx.l.markets[m.ID] = &cp
	return nil
}

func (tx *memoryTx) LoadPosition(ctx context.Context, userID, chainID, marketID string) (*model.Position, error) {
	tx.l.mu.Lock()
	defer tx.l.mu.Unlock()
	key := posKey(userID, chainID, marketID)
	p, ok := tx.l.positions[key]
	if !ok {
		p = model.ZeroPosition(userID, chainID, marketID)
		tx.l.positions[key] = p
	}
	cp := *p
	return &cp, nil
}

func (tx *memoryTx) SavePosition(ctx context.Context, p *model.Position) error {
	tx.l.mu.Lock()
	defer tx.l.mu.Unlock()
	cp := *p
	tx.l.positions[posKey(p.UserID, p.ChainID, p.MarketID)] = &cp
	return nil
}

func (tx *memoryTx) LoadBalance(ctx context.Context, userID, chainID string) (*model.UserBalance, error) {
	tx.l.mu.Lock()
	defer tx.l.mu.Unlock()
	key := balKey(userID, chainID)
	b, ok := tx.l.balances[key]
	if !ok {
		b = model.ZeroBalance(userID, chainID)
		tx.l.balances[key] = b
	}
	cp := *b
	return &cp, nil
}

func (tx *memoryTx) SaveBalance(ctx context.Context, b *model.UserBalance) error {
	tx.l.mu.Lock()
	defer tx.l.mu.Unlock()
	cp := *b
	tx.l.balances[balKey(b.UserID, b.ChainID)] = &cp
	return nil
}

func (tx *memoryTx) LoadOrder(ctx context.Context, orderID string) (*model.Order, error) {
	tx.l.mu.Lock()
	defer tx.l.mu.Unlock()
	o, ok := tx.l.orders[orderID]
	if !ok {
		return nil, apperr.New(apperr.OrderNotFound, "order %s", orderID)
	}
	cp := *o
	return &cp, nil
}

func (tx *memoryTx) InsertOrder(ctx context.Context, o *model.Order) error {
	tx.l.mu.Lock()
	defer tx.l.mu.Unlock()
	cp := *o
	tx.l.orders[o.ID] = &cp
	return nil
}

func (tx *memoryTx) SaveOrder(ctx context.Context, o *model.Order) error {
	return tx.InsertOrder(ctx, o)
}

func (tx *memoryTx) InsertTrade(ctx context.Context, t *model.Trade) error {
	tx.l.mu.Lock()
	defer tx.l.mu.Unlock()
	cp := *t
	tx.l.trades = append(tx.l.trades, &cp)
	return nil
}

func (tx *memoryTx) OpenOrders(ctx context.Context, marketID string, tokenType model.TokenType) ([]*model.Order, error) {
	tx.l.mu.Lock()
	defer tx.l.mu.Unlock()
	var out []*model.Order
	for _, o := range tx.l.orders {
		if o.MarketID != marketID || o.TokenType != tokenType {
			continue
		}
		if o.Status == model.StatusOpen || o.Status == model.StatusPartial {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (tx *memoryTx) AllPositions(ctx context.Context, marketID string) ([]*model.Position, error) {
	tx.l.mu.Lock()
	defer tx.l.mu.Unlock()
	var out []*model.Position
	for _, p := range tx.l.positions {
		if p.MarketID == marketID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}
