package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/BakaOtaku/robet-ai/internal/apperr"
	"github.com/BakaOtaku/robet-ai/internal/model"
)

// PostgresLedger implements Ledger using PostgreSQL as the source of
// truth. All monetary and price values are stored as NUMERIC for exact
// decimal precision. Transact wraps each call in a real SQL transaction
// and additionally serializes same-market callers through an in-process
// mutex registry, matching the single-logical-writer-per-market model.
type PostgresLedger struct {
	pool  *pgxpool.Pool
	locks *marketLocks
}

// NewPostgresLedger creates a new PostgreSQL-backed ledger.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool, locks: newMarketLocks()}
}

func (l *PostgresLedger) Transact(ctx context.Context, marketID string, fn func(ctx context.Context, tx Tx) error) error {
	lock := l.locks.lock(marketID)
	lock.Lock()
	defer lock.Unlock()

	sqlTx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, err)
	}
	defer sqlTx.Rollback(ctx)

	if err := fn(ctx, &postgresTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.Unavailable, err)
	}
	return nil
}

func (l *PostgresLedger) CreditDeposit(ctx context.Context, userID, chainID string, amountUSD decimal.Decimal, externalTxRef string, externalBlockHeight int64) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO user_balances (user_id, chain_id, available_usd, last_external_block)
		 VALUES ($1, $2, $3::NUMERIC, $4)
		 ON CONFLICT (user_id, chain_id) DO UPDATE
		   SET available_usd = user_balances.available_usd + $3::NUMERIC,
		       last_external_block = $4
		 WHERE $4 > user_balances.last_external_block`,
		userID, chainID, amountUSD.String(), externalBlockHeight,
	)
	if err != nil {
		return fmt.Errorf("credit deposit %s (%s): %w", externalTxRef, userID, err)
	}
	return nil
}

func (l *PostgresLedger) GetMarket(ctx context.Context, marketID string) (*model.Market, error) {
	return scanMarket(l.pool.QueryRow(ctx,
		`SELECT id, question, creator, resolution_time, outcome, settled, created_at
		 FROM markets WHERE id = $1`, marketID))
}

func (l *PostgresLedger) ListMarkets(ctx context.Context) ([]*model.Market, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, question, creator, resolution_time, outcome, settled, created_at
		 FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Market
	for rows.Next() {
		m, err := scanMarketRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (l *PostgresLedger) ListOpenOrders(ctx context.Context, marketID string) ([]*model.Order, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, market_id, user_id, chain_id, wallet_address, side, token_type,
		        price::TEXT, quantity, filled_quantity, status, created_at
		 FROM orders WHERE market_id = $1 AND status IN ('OPEN', 'PARTIAL')`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (l *PostgresLedger) ListTrades(ctx context.Context, marketID string, tokenType *model.TokenType) ([]*model.Trade, error) {
	var rows pgx.Rows
	var err error
	if tokenType != nil {
		rows, err = l.pool.Query(ctx,
			`SELECT id, market_id, buy_order_id, sell_order_id, token_type, price::TEXT, quantity, timestamp
			 FROM trades WHERE market_id = $1 AND token_type = $2 ORDER BY timestamp`, marketID, string(*tokenType))
	} else {
		rows, err = l.pool.Query(ctx,
			`SELECT id, market_id, buy_order_id, sell_order_id, token_type, price::TEXT, quantity, timestamp
			 FROM trades WHERE market_id = $1 ORDER BY timestamp`, marketID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (l *PostgresLedger) GetPosition(ctx context.Context, userID, chainID, marketID string) (*model.Position, error) {
	p, err := scanPosition(l.pool.QueryRow(ctx,
		`SELECT user_id, chain_id, market_id, yes_tokens, no_tokens,
		        locked_yes_tokens, locked_no_tokens,
		        locked_collateral_yes::TEXT, locked_collateral_no::TEXT
		 FROM positions WHERE user_id = $1 AND chain_id = $2 AND market_id = $3`,
		userID, chainID, marketID))
	if apperr.Is(err, apperr.NotFound) {
		return model.ZeroPosition(userID, chainID, marketID), nil
	}
	return p, err
}

func (l *PostgresLedger) GetBalance(ctx context.Context, userID, chainID string) (*model.UserBalance, error) {
	b, err := scanBalance(l.pool.QueryRow(ctx,
		`SELECT user_id, chain_id, available_usd::TEXT, last_external_block
		 FROM user_balances WHERE user_id = $1 AND chain_id = $2`, userID, chainID))
	if apperr.Is(err, apperr.NotFound) {
		return model.ZeroBalance(userID, chainID), nil
	}
	return b, err
}

// postgresTx implements Tx against one pgx.Tx. All reads/writes inside it
// observe and mutate that single SQL transaction's snapshot.
type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LoadMarket(ctx context.Context, marketID string) (*model.Market, error) {
	return scanMarket(t.tx.QueryRow(ctx,
		`SELECT id, question, creator, resolution_time, outcome, settled, created_at
		 FROM markets WHERE id = $1 FOR UPDATE`, marketID))
}

func (t *postgresTx) SaveMarket(ctx context.Context, m *model.Market) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO markets (id, question, creator, resolution_time, outcome, settled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET outcome = $5, settled = $6`,
		m.ID, m.Question, m.Creator, m.ResolutionTime, string(m.Outcome), m.Settled, m.CreatedAt)
	return err
}

func (t *postgresTx) LoadPosition(ctx context.Context, userID, chainID, marketID string) (*model.Position, error) {
	p, err := scanPosition(t.tx.QueryRow(ctx,
		`SELECT user_id, chain_id, market_id, yes_tokens, no_tokens,
		        locked_yes_tokens, locked_no_tokens,
		        locked_collateral_yes::TEXT, locked_collateral_no::TEXT
		 FROM positions WHERE user_id = $1 AND chain_id = $2 AND market_id = $3 FOR UPDATE`,
		userID, chainID, marketID))
	if apperr.Is(err, apperr.NotFound) {
		return model.ZeroPosition(userID, chainID, marketID), nil
	}
	return p, err
}

func (t *postgresTx) SavePosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (user_id, chain_id, market_id, yes_tokens, no_tokens,
		        locked_yes_tokens, locked_no_tokens, locked_collateral_yes, locked_collateral_no)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC)
		 ON CONFLICT (user_id, chain_id, market_id) DO UPDATE SET
		   yes_tokens = $4, no_tokens = $5,
		   locked_yes_tokens = $6, locked_no_tokens = $7,
		   locked_collateral_yes = $8::NUMERIC, locked_collateral_no = $9::NUMERIC`,
		p.UserID, p.ChainID, p.MarketID, p.YesTokens, p.NoTokens,
		p.LockedYesTokens, p.LockedNoTokens,
		p.LockedCollateralYes.String(), p.LockedCollateralNo.String())
	return err
}

func (t *postgresTx) LoadBalance(ctx context.Context, userID, chainID string) (*model.UserBalance, error) {
	b, err := scanBalance(t.tx.QueryRow(ctx,
		`SELECT user_id, chain_id, available_usd::TEXT, last_external_block
		 FROM user_balances WHERE user_id = $1 AND chain_id = $2 FOR UPDATE`, userID, chainID))
	if apperr.Is(err, apperr.NotFound) {
		return model.ZeroBalance(userID, chainID), nil
	}
	return b, err
}

func (t *postgresTx) SaveBalance(ctx context.Context, b *model.UserBalance) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO user_balances (user_id, chain_id, available_usd, last_external_block)
		 VALUES ($1, $2, $3::NUMERIC, $4)
		 ON CONFLICT (user_id, chain_id) DO UPDATE SET
		   available_usd = $3::NUMERIC, last_external_block = $4`,
		b.UserID, b.ChainID, b.AvailableUSD.String(), b.LastExternalBlock)
	return err
}

func (t *postgresTx) LoadOrder(ctx context.Context, orderID string) (*model.Order, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT id, market_id, user_id, chain_id, wallet_address, side, token_type,
		        price::TEXT, quantity, filled_quantity, status, created_at
		 FROM orders WHERE id = $1 FOR UPDATE`, orderID)
	o, err := scanOrderRow(row)
	if err != nil {
		return nil, apperr.Wrap(apperr.OrderNotFound, err)
	}
	return o, nil
}

func (t *postgresTx) InsertOrder(ctx context.Context, o *model.Order) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO orders (id, market_id, user_id, chain_id, wallet_address, side, token_type,
		        price, quantity, filled_quantity, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9, $10, $11, $12)`,
		o.ID, o.MarketID, o.UserID, o.ChainID, o.WalletAddress, string(o.Side), string(o.TokenType),
		o.Price.String(), o.Quantity, o.FilledQuantity, string(o.Status), o.CreatedAt)
	return err
}

func (t *postgresTx) SaveOrder(ctx context.Context, o *model.Order) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE orders SET filled_quantity = $2, status = $3 WHERE id = $1`,
		o.ID, o.FilledQuantity, string(o.Status))
	return err
}

func (t *postgresTx) InsertTrade(ctx context.Context, tr *model.Trade) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO trades (id, market_id, buy_order_id, sell_order_id, token_type, price, quantity, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8)`,
		tr.ID, tr.MarketID, tr.BuyOrderID, tr.SellOrderID, string(tr.TokenType),
		tr.Price.String(), tr.Quantity, tr.Timestamp)
	return err
}

func (t *postgresTx) OpenOrders(ctx context.Context, marketID string, tokenType model.TokenType) ([]*model.Order, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, market_id, user_id, chain_id, wallet_address, side, token_type,
		        price::TEXT, quantity, filled_quantity, status, created_at
		 FROM orders
		 WHERE market_id = $1 AND token_type = $2 AND status IN ('OPEN', 'PARTIAL')
		 FOR UPDATE`, marketID, string(tokenType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (t *postgresTx) AllPositions(ctx context.Context, marketID string) ([]*model.Position, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT user_id, chain_id, market_id, yes_tokens, no_tokens,
		        locked_yes_tokens, locked_no_tokens,
		        locked_collateral_yes::TEXT, locked_collateral_no::TEXT
		 FROM positions WHERE market_id = $1 FOR UPDATE`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- scan helpers, grounded on the teacher's store/postgres.go idiom of
// scanning NUMERIC columns as TEXT and decimal.NewFromString-ing them. ---

type pgxRow interface {
	Scan(dest ...any) error
}

func scanMarket(row pgxRow) (*model.Market, error) {
	m, err := scanMarketRow(row)
	if err != nil {
		return nil, apperr.Wrap(apperr.MarketNotFound, err)
	}
	return m, nil
}

func scanMarketRow(row pgxRow) (*model.Market, error) {
	var m model.Market
	var outcome string
	if err := row.Scan(&m.ID, &m.Question, &m.Creator, &m.ResolutionTime, &outcome, &m.Settled, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Outcome = model.Outcome(outcome)
	return &m, nil
}

func scanOrderRow(row pgxRow) (*model.Order, error) {
	var o model.Order
	var side, tokenType, status, priceS string
	if err := row.Scan(&o.ID, &o.MarketID, &o.UserID, &o.ChainID, &o.WalletAddress,
		&side, &tokenType, &priceS, &o.Quantity, &o.FilledQuantity, &status, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.Side = model.Side(side)
	o.TokenType = model.TokenType(tokenType)
	o.Status = model.OrderStatus(status)
	o.Price, _ = decimal.NewFromString(priceS)
	return &o, nil
}

func scanOrders(rows pgx.Rows) ([]*model.Order, error) {
	var out []*model.Order
	for rows.Next() {
		o, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanTrades(rows pgx.Rows) ([]*model.Trade, error) {
	var out []*model.Trade
	for rows.Next() {
		var t model.Trade
		var tokenType, priceS string
		if err := rows.Scan(&t.ID, &t.MarketID, &t.BuyOrderID, &t.SellOrderID, &tokenType, &priceS, &t.Quantity, &t.Timestamp); err != nil {
			return nil, err
		}
		t.TokenType = model.TokenType(tokenType)
		t.Price, _ = decimal.NewFromString(priceS)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func scanPosition(row pgxRow) (*model.Position, error) {
	p, err := scanPositionRow(row)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, err)
	}
	return p, nil
}

func scanPositionRow(row pgxRow) (*model.Position, error) {
	var p model.Position
	var lockedYesS, lockedNoS string
	if err := row.Scan(&p.UserID, &p.ChainID, &p.MarketID, &p.YesTokens, &p.NoTokens,
		&p.LockedYesTokens, &p.LockedNoTokens, &lockedYesS, &lockedNoS); err != nil {
		return nil, err
	}
	p.LockedCollateralYes, _ = decimal.NewFromString(lockedYesS)
	p.LockedCollateralNo, _ = decimal.NewFromString(lockedNoS)
	return &p, nil
}

func scanBalance(row pgxRow) (*model.UserBalance, error) {
	var b model.UserBalance
	var amountS string
	if err := row.Scan(&b.UserID, &b.ChainID, &amountS, &b.LastExternalBlock); err != nil {
		return nil, apperr.Wrap(apperr.NotFound, err)
	}
	b.AvailableUSD, _ = decimal.NewFromString(amountS)
	return &b, nil
}
