package matching

import (
	"context"
	"log/slog"

	"github.com/BakaOtaku/robet-ai/internal/apperr"
	"github.com/BakaOtaku/robet-ai/internal/ledger"
	"github.com/BakaOtaku/robet-ai/internal/model"
)

// MatchTaker walks book against taker in price-time priority, invoking
// ApplyFill per crossing pair, until taker is exhausted or no further
// candidate qualifies. It mutates taker and any resting makers in
// place, persists every touched order and trade via tx, and returns the
// trades produced.
//
// If ApplyFill reports LedgerInconsistency, the loop aborts the current
// fill and terminates: the taker is left in whatever PARTIAL/OPEN state
// it has reached, and the incident is logged for reconciliation.
func MatchTaker(ctx context.Context, tx ledger.Tx, book *Book, taker *model.Order) ([]*model.Trade, error) {
	var trades []*model.Trade

	for {
		if taker.Remaining() <= 0 {
			taker.Status = model.StatusFilled
			break
		}

		maker := book.BestOpposing(taker)
		if maker == nil {
			if taker.FilledQuantity > 0 {
				taker.Status = model.StatusPartial
			} else {
				taker.Status = model.StatusOpen
			}
			break
		}

		avail := maker.Remaining()
		if avail <= 0 {
			maker.Status = model.StatusFilled
			book.Remove(maker)
			continue
		}

		fillQty := min(taker.Remaining(), avail)
		execPrice := maker.Price

		var buyOrder, sellOrder *model.Order
		if taker.Side == model.Buy {
			buyOrder, sellOrder = taker, maker
		} else {
			buyOrder, sellOrder = maker, taker
		}

		trade, err := ApplyFill(ctx, tx, taker.MarketID, taker.TokenType, buyOrder, sellOrder, fillQty, execPrice)
		if err != nil {
			if apperr.Is(err, apperr.LedgerInconsistency) {
				slog.Error("ledger inconsistency during match, aborting fill",
					"market_id", taker.MarketID, "taker_id", taker.ID, "maker_id", maker.ID, "err", err)
				if taker.FilledQuantity > 0 {
					taker.Status = model.StatusPartial
				} else {
					taker.Status = model.StatusOpen
				}
				break
			}
			return trades, err
		}

		taker.FilledQuantity += fillQty
		maker.FilledQuantity += fillQty

		if maker.Remaining() <= 0 {
			maker.Status = model.StatusFilled
			book.Remove(maker)
		} else {
			maker.Status = model.StatusPartial
		}
		if err := tx.SaveOrder(ctx, maker); err != nil {
			return trades, err
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return trades, err
		}
		trades = append(trades, trade)
	}

	if err := tx.SaveOrder(ctx, taker); err != nil {
		return trades, err
	}
	return trades, nil
}
