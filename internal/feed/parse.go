package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/depthlab/bookfeed/internal/model"
)

// Errors
var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMalformed   = errors.New("malformed message")
)

// Parse converts one raw wire message into its typed variant. Control
// frames and unrecognized types return ErrUnknownType; structurally or
// numerically invalid payloads return ErrMalformed.
func Parse(data []byte, receivedAt time.Time) (Message, error) {
	var envelope messageEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch envelope.Type {
	case "snapshot":
		return parseSnapshot(data, receivedAt)
	case "delta":
		return parseDelta(data, receivedAt)
	case "trade":
		return parseTrade(data, receivedAt)
	case "quote":
		return parseQuote(data, receivedAt)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, envelope.Type)
	}
}

func parseSnapshot(data []byte, receivedAt time.Time) (Message, error) {
	var wire snapshotWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := checkKey(wire.Venue, wire.Symbol); err != nil {
		return nil, err
	}

	bids, err := parseLevels(wire.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := parseLevels(wire.Asks)
	if err != nil {
		return nil, err
	}

	return SnapshotMsg{
		Venue:      wire.Venue,
		Symbol:     wire.Symbol,
		Bids:       bids,
		Asks:       asks,
		Sequence:   wire.Seq,
		ReceivedAt: receivedAt,
	}, nil
}

func parseDelta(data []byte, receivedAt time.Time) (Message, error) {
	var wire deltaWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := checkKey(wire.Venue, wire.Symbol); err != nil {
		return nil, err
	}

	side, err := parseBookSide(wire.Side)
	if err != nil {
		return nil, err
	}
	price, err := parseDecimal(wire.Price)
	if err != nil {
		return nil, err
	}
	qty, err := parseDecimal(wire.Qty)
	if err != nil {
		return nil, err
	}

	return DeltaMsg{
		Venue:      wire.Venue,
		Symbol:     wire.Symbol,
		Side:       side,
		Price:      price,
		Quantity:   qty,
		Sequence:   wire.Seq,
		ExchangeTS: fromMicros(wire.Ts),
		ReceivedAt: receivedAt,
	}, nil
}

func parseTrade(data []byte, receivedAt time.Time) (Message, error) {
	var wire tradeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := checkKey(wire.Venue, wire.Symbol); err != nil {
		return nil, err
	}

	side, err := parseTakerSide(wire.Side)
	if err != nil {
		return nil, err
	}
	price, err := parseDecimal(wire.Price)
	if err != nil {
		return nil, err
	}
	qty, err := parseDecimal(wire.Qty)
	if err != nil {
		return nil, err
	}

	// Trade IDs are venue-issued; a missing one gets a local UUID so
	// downstream dedup keys stay non-empty.
	tradeID := uuid.New()
	if wire.TradeID != "" {
		parsed, err := uuid.Parse(wire.TradeID)
		if err != nil {
			return nil, fmt.Errorf("%w: trade_id %q", ErrMalformed, wire.TradeID)
		}
		tradeID = parsed
	}

	return TradeMsg{
		Venue:      wire.Venue,
		Symbol:     wire.Symbol,
		TradeID:    tradeID,
		Price:      price,
		Quantity:   qty,
		Side:       side,
		ExchangeTS: fromMicros(wire.Ts),
		ReceivedAt: receivedAt,
	}, nil
}

func parseQuote(data []byte, receivedAt time.Time) (Message, error) {
	var wire quoteWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := checkKey(wire.Venue, wire.Symbol); err != nil {
		return nil, err
	}

	side, err := parseTakerSide(wire.Side)
	if err != nil {
		return nil, err
	}
	price, err := parseDecimal(wire.Price)
	if err != nil {
		return nil, err
	}
	qty, err := parseDecimal(wire.Qty)
	if err != nil {
		return nil, err
	}

	return QuoteMsg{
		Venue:      wire.Venue,
		Symbol:     wire.Symbol,
		Price:      price,
		Quantity:   qty,
		Side:       side,
		ExchangeTS: fromMicros(wire.Ts),
		ReceivedAt: receivedAt,
	}, nil
}

func parseLevels(raw [][]string) ([]model.PriceLevel, error) {
	levels := make([]model.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("%w: level %v", ErrMalformed, pair)
		}
		price, err := parseDecimal(pair[0])
		if err != nil {
			return nil, err
		}
		qty, err := parseDecimal(pair[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, model.PriceLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: number %q", ErrMalformed, s)
	}
	return d, nil
}

func parseBookSide(s string) (model.Side, error) {
	switch model.Side(s) {
	case model.SideBid, model.SideAsk:
		return model.Side(s), nil
	}
	return "", fmt.Errorf("%w: side %q", ErrMalformed, s)
}

func parseTakerSide(s string) (model.TakerSide, error) {
	switch model.TakerSide(s) {
	case model.TakerBuy, model.TakerSell:
		return model.TakerSide(s), nil
	}
	return "", fmt.Errorf("%w: side %q", ErrMalformed, s)
}

func checkKey(venue, symbol string) error {
	if venue == "" || symbol == "" {
		return fmt.Errorf("%w: missing venue or symbol", ErrMalformed)
	}
	return nil
}

func fromMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}
