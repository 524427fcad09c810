package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Key identifies one order book.
type Key struct {
	Venue  string
	Symbol string
}

// String returns "venue:symbol" for logging and metric labels.
func (k Key) String() string {
	return k.Venue + ":" + k.Symbol
}

// Side is an order book side.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// TakerSide is the aggressor side of a trade or quote event.
type TakerSide string

const (
	TakerBuy  TakerSide = "buy"
	TakerSell TakerSide = "sell"
)

// PriceLevel is one price point of an L2 book. Quantity is always
// positive; a level whose quantity reaches zero is removed, never stored.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Book is a point-in-time L2 order book. Bids are ordered descending by
// price, asks ascending; prices within a side are unique.
//
// A Book handed out by the store is an immutable snapshot: the writer
// builds the next state from a copy and publishes it atomically, so
// holders must never mutate it.
type Book struct {
	Venue       string
	Symbol      string
	Bids        []PriceLevel
	Asks        []PriceLevel
	Sequence    int64
	LastUpdated time.Time
}

// BestBid returns the highest bid level.
func (b *Book) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask level.
func (b *Book) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// Crossed reports whether best bid >= best ask. A crossed book is an
// ingestion fault and must trigger resynchronization.
func (b *Book) Crossed() bool {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return false
	}
	return bid.Price.GreaterThanOrEqual(ask.Price)
}

// Clone returns a deep copy safe for independent mutation.
func (b *Book) Clone() *Book {
	c := *b
	c.Bids = make([]PriceLevel, len(b.Bids))
	copy(c.Bids, b.Bids)
	c.Asks = make([]PriceLevel, len(b.Asks))
	copy(c.Asks, b.Asks)
	return &c
}

// SyncStatus is the synchronization state of one (venue, symbol) feed.
type SyncStatus string

const (
	// StatusUnsynced: entry created, no snapshot requested yet.
	StatusUnsynced SyncStatus = "unsynced"

	// StatusSyncing: snapshot requested, deltas buffered until it lands.
	StatusSyncing SyncStatus = "syncing"

	// StatusLive: snapshot applied, deltas applied in sequence.
	StatusLive SyncStatus = "live"

	// StatusStale: no message within the staleness timeout; the held
	// snapshot may no longer reflect the venue.
	StatusStale SyncStatus = "stale"
)

// SyncState is the externally visible ingestion state for one key.
type SyncState struct {
	Status       SyncStatus
	LastSequence int64
	LastUpdate   time.Time
}

// Aggregates are derived book statistics, computed on demand from a
// snapshot.
type Aggregates struct {
	Spread    decimal.Decimal
	Mid       decimal.Decimal
	Imbalance decimal.Decimal
}

// MarketEvent is a single trade or quote observation feeding the rolling
// feature windows.
type MarketEvent struct {
	Timestamp time.Time
	Venue     string
	Symbol    string
	Side      TakerSide
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Trade     bool // true for trades, false for quotes
	TradeID   uuid.UUID
}

// FeatureSet is the rolling microstructure feature output for a symbol.
// Stale means no event has landed within the lookback horizon; values are
// then zero but the set is still served so callers can tell "no recent
// activity" from "unknown symbol".
type FeatureSet struct {
	OrderFlowImbalance float64
	TradeIntensity     float64
	VolatilityProxy    float64
	AsOf               time.Time
	Stale              bool
}
