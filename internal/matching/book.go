// Package matching implements the price-time priority order book, the
// matching engine's taker loop, and the per-fill trade executor.
package matching

import (
	"github.com/tidwall/btree"

	"github.com/BakaOtaku/robet-ai/internal/model"
)

// Book holds the resting OPEN/PARTIAL orders for one (marketId,
// tokenType) pair, split into two price-time-ordered trees.
type Book struct {
	bids *btree.BTreeG[*model.Order] // BUY, best = highest price, then earliest time
	asks *btree.BTreeG[*model.Order] // SELL, best = lowest price, then earliest time
}

func bidLess(a, b *model.Order) bool {
	if !a.Price.Equal(b.Price) {
		return a.Price.GreaterThan(b.Price)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func askLess(a, b *model.Order) bool {
	if !a.Price.Equal(b.Price) {
		return a.Price.LessThan(b.Price)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{
		bids: btree.NewBTreeG[*model.Order](bidLess),
		asks: btree.NewBTreeG[*model.Order](askLess),
	}
}

// LoadOpenOrders seeds the book from a set of persisted OPEN/PARTIAL orders.
func (b *Book) LoadOpenOrders(orders []*model.Order) {
	for _, o := range orders {
		b.Add(o)
	}
}

// Add inserts o into the appropriate side of the book.
func (b *Book) Add(o *model.Order) {
	if o.Side == model.Buy {
		b.bids.Set(o)
	} else {
		b.asks.Set(o)
	}
}

// Remove deletes o from the appropriate side of the book.
func (b *Book) Remove(o *model.Order) {
	if o.Side == model.Buy {
		b.bids.Delete(o)
	} else {
		b.asks.Delete(o)
	}
}

// BestOpposing returns the best resting order opposing taker under
// price-time priority, excluding taker's own user and orders with no
// remaining quantity. Returns nil if no candidate qualifies.
func (b *Book) BestOpposing(taker *model.Order) *model.Order {
	tree := b.asks
	if taker.Side == model.Sell {
		tree = b.bids
	}

	var best *model.Order
	tree.Scan(func(o *model.Order) bool {
		if o.Remaining() <= 0 || o.UserID == taker.UserID {
			return true // not a candidate, keep scanning
		}
		if taker.Side == model.Buy && o.Price.GreaterThan(taker.Price) {
			return false // asks ascending: nothing further qualifies
		}
		if taker.Side == model.Sell && o.Price.LessThan(taker.Price) {
			return false // bids descending: nothing further qualifies
		}
		best = o
		return false
	})
	return best
}

// Snapshot returns aggregated price levels for bids and asks, best
// price first, for the read-only book endpoint.
type Level struct {
	Price    string `json:"price"`
	Quantity int64  `json:"quantity"`
}

func (b *Book) Snapshot(depth int) (bids, asks []Level) {
	levels := func(tree *btree.BTreeG[*model.Order]) []Level {
		byPrice := make(map[string]int64)
		var order []string
		tree.Scan(func(o *model.Order) bool {
			if o.Remaining() <= 0 {
				return true
			}
			key := o.Price.String()
			if _, ok := byPrice[key]; !ok {
				order = append(order, key)
			}
			byPrice[key] += o.Remaining()
			return true
		})
		out := make([]Level, 0, len(order))
		for _, p := range order {
			if depth > 0 && len(out) >= depth {
				break
			}
			out = append(out, Level{Price: p, Quantity: byPrice[p]})
		}
		return out
	}
	return levels(b.bids), levels(b.asks)
}
