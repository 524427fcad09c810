package feed

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/depthlab/bookfeed/internal/model"
)

// Message is the closed variant set crossing the ingestion boundary.
// Exactly SnapshotMsg, DeltaMsg, TradeMsg, and QuoteMsg implement it.
type Message interface {
	Key() model.Key
	isMessage()
}

// SnapshotMsg replaces the whole book for a key.
type SnapshotMsg struct {
	Venue      string
	Symbol     string
	Bids       []model.PriceLevel
	Asks       []model.PriceLevel
	Sequence   int64
	ReceivedAt time.Time
}

// DeltaMsg changes one price level.
type DeltaMsg struct {
	Venue      string
	Symbol     string
	Side       model.Side
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Sequence   int64
	ExchangeTS time.Time
	ReceivedAt time.Time
}

// TradeMsg is an executed trade.
type TradeMsg struct {
	Venue      string
	Symbol     string
	TradeID    uuid.UUID
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Side       model.TakerSide
	ExchangeTS time.Time
	ReceivedAt time.Time
}

// QuoteMsg is a top-of-book quote event.
type QuoteMsg struct {
	Venue      string
	Symbol     string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Side       model.TakerSide
	ExchangeTS time.Time
	ReceivedAt time.Time
}

func (m SnapshotMsg) Key() model.Key { return model.Key{Venue: m.Venue, Symbol: m.Symbol} }
func (m DeltaMsg) Key() model.Key    { return model.Key{Venue: m.Venue, Symbol: m.Symbol} }
func (m TradeMsg) Key() model.Key    { return model.Key{Venue: m.Venue, Symbol: m.Symbol} }
func (m QuoteMsg) Key() model.Key    { return model.Key{Venue: m.Venue, Symbol: m.Symbol} }

func (SnapshotMsg) isMessage() {}
func (DeltaMsg) isMessage()    {}
func (TradeMsg) isMessage()    {}
func (QuoteMsg) isMessage()    {}

// Event converts a trade message into a feature-window event. Venues
// that omit the exchange timestamp get the local receive time, so the
// event still lands inside the rolling window.
func (m TradeMsg) Event() model.MarketEvent {
	return model.MarketEvent{
		Timestamp: eventTime(m.ExchangeTS, m.ReceivedAt),
		Venue:     m.Venue,
		Symbol:    m.Symbol,
		Side:      m.Side,
		Price:     m.Price,
		Quantity:  m.Quantity,
		Trade:     true,
		TradeID:   m.TradeID,
	}
}

// Event converts a quote message into a feature-window event.
func (m QuoteMsg) Event() model.MarketEvent {
	return model.MarketEvent{
		Timestamp: eventTime(m.ExchangeTS, m.ReceivedAt),
		Venue:     m.Venue,
		Symbol:    m.Symbol,
		Side:      m.Side,
		Price:     m.Price,
		Quantity:  m.Quantity,
	}
}

func eventTime(exchangeTS, receivedAt time.Time) time.Time {
	if exchangeTS.IsZero() {
		return receivedAt
	}
	return exchangeTS
}

// Wire types for JSON parsing

// messageEnvelope is used for fast type extraction.
type messageEnvelope struct {
	Type string `json:"type"`
}

// snapshotWire is the wire format for snapshot messages.
// Levels arrive as [price, quantity] string pairs.
type snapshotWire struct {
	Type   string     `json:"type"`
	Venue  string     `json:"venue"`
	Symbol string     `json:"symbol"`
	Seq    int64      `json:"seq"`
	Bids   [][]string `json:"bids"`
	Asks   [][]string `json:"asks"`
}

// deltaWire is the wire format for delta messages.
type deltaWire struct {
	Type   string `json:"type"`
	Venue  string `json:"venue"`
	Symbol string `json:"symbol"`
	Seq    int64  `json:"seq"`
	Side   string `json:"side"` // "bid" or "ask"
	Price  string `json:"price"`
	Qty    string `json:"qty"`
	Ts     int64  `json:"ts"` // Microseconds
}

// tradeWire is the wire format for trade messages.
type tradeWire struct {
	Type    string `json:"type"`
	Venue   string `json:"venue"`
	Symbol  string `json:"symbol"`
	TradeID string `json:"trade_id"`
	Price   string `json:"price"`
	Qty     string `json:"qty"`
	Side    string `json:"side"` // "buy" or "sell"
	Ts      int64  `json:"ts"`
}

// quoteWire is the wire format for quote messages.
type quoteWire struct {
	Type   string `json:"type"`
	Venue  string `json:"venue"`
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Qty    string `json:"qty"`
	Side   string `json:"side"`
	Ts     int64  `json:"ts"`
}
