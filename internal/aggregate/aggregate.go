// Package aggregate computes derived statistics over book snapshots.
package aggregate

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/depthlab/bookfeed/internal/model"
)

// ErrEmptyBook is returned when either side of the book has no levels.
var ErrEmptyBook = errors.New("empty book")

// DefaultDepth is the number of levels per side used for the depth
// imbalance when no explicit depth is configured.
const DefaultDepth = 10

var two = decimal.NewFromInt(2)

// Compute derives spread, mid price, and depth imbalance from a snapshot.
// It is a pure function of its inputs: O(depth), no caching, no state.
func Compute(b *model.Book, depth int) (model.Aggregates, error) {
	if depth <= 0 {
		depth = DefaultDepth
	}

	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return model.Aggregates{}, ErrEmptyBook
	}

	bidQty := sumQuantities(b.Bids, depth)
	askQty := sumQuantities(b.Asks, depth)
	total := bidQty.Add(askQty)

	imbalance := decimal.Zero
	if !total.IsZero() {
		imbalance = bidQty.Sub(askQty).Div(total)
	}

	return model.Aggregates{
		Spread:    ask.Price.Sub(bid.Price),
		Mid:       ask.Price.Add(bid.Price).Div(two),
		Imbalance: imbalance,
	}, nil
}

func sumQuantities(levels []model.PriceLevel, depth int) decimal.Decimal {
	if len(levels) > depth {
		levels = levels[:depth]
	}
	sum := decimal.Zero
	for _, lvl := range levels {
		sum = sum.Add(lvl.Quantity)
	}
	return sum
}
