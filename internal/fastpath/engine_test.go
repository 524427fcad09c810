package fastpath

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/depthlab/bookfeed/internal/model"
)

func trade(ts time.Time, side model.TakerSide, price, qty string) model.MarketEvent {
	return model.MarketEvent{
		Timestamp: ts,
		Venue:     "binance",
		Symbol:    "BTC-USD",
		Side:      side,
		Price:     decimal.RequireFromString(price),
		Quantity:  decimal.RequireFromString(qty),
		Trade:     true,
	}
}

func quote(ts time.Time, side model.TakerSide, price, qty string) model.MarketEvent {
	ev := trade(ts, side, price, qty)
	ev.Trade = false
	return ev
}

func newTestEngine(horizon time.Duration, now time.Time) *Engine {
	e := NewEngine(Config{Horizon: horizon}, WithClock(func() time.Time { return now }))
	e.Ensure("binance", "BTC-USD")
	return e
}

func TestEngine_UnknownSymbol(t *testing.T) {
	e := NewEngine(Config{})
	if _, err := e.Features("binance", "BTC-USD"); !errors.Is(err, ErrNoWindow) {
		t.Errorf("expected ErrNoWindow, got %v", err)
	}
}

func TestEngine_NoEventsIsStale(t *testing.T) {
	e := newTestEngine(30*time.Second, time.Now())

	fs, err := e.Features("binance", "BTC-USD")
	if err != nil {
		t.Fatalf("Features: %v", err)
	}
	if !fs.Stale {
		t.Errorf("expected stale feature set")
	}
	if fs.OrderFlowImbalance != 0 || fs.TradeIntensity != 0 || fs.VolatilityProxy != 0 {
		t.Errorf("expected zero-valued set, got %+v", fs)
	}
}

func TestEngine_TwoTrades(t *testing.T) {
	now := time.Now()
	e := newTestEngine(30*time.Second, now)

	e.Record(trade(now.Add(-2*time.Second), model.TakerBuy, "100", "1"))
	e.Record(trade(now.Add(-1*time.Second), model.TakerSell, "99.5", "1"))

	fs, err := e.Features("binance", "BTC-USD")
	if err != nil {
		t.Fatalf("Features: %v", err)
	}
	if fs.Stale {
		t.Fatalf("unexpected stale flag")
	}
	if fs.OrderFlowImbalance != 0 {
		t.Errorf("imbalance = %v, want 0 (net zero volume)", fs.OrderFlowImbalance)
	}
	wantIntensity := 2.0 / 30.0
	if math.Abs(fs.TradeIntensity-wantIntensity) > 1e-12 {
		t.Errorf("intensity = %v, want %v", fs.TradeIntensity, wantIntensity)
	}
	r := math.Log(99.5 / 100.0)
	if math.Abs(fs.VolatilityProxy-r*r) > 1e-12 {
		t.Errorf("volatility = %v, want %v", fs.VolatilityProxy, r*r)
	}
	if !fs.AsOf.Equal(now.Add(-1 * time.Second)) {
		t.Errorf("asOf = %v", fs.AsOf)
	}
}

func TestEngine_QuotesCountTowardImbalanceOnly(t *testing.T) {
	now := time.Now()
	e := newTestEngine(30*time.Second, now)

	e.Record(quote(now.Add(-1*time.Second), model.TakerBuy, "100", "3"))
	e.Record(quote(now.Add(-1*time.Second), model.TakerSell, "100", "1"))

	fs, err := e.Features("binance", "BTC-USD")
	if err != nil {
		t.Fatalf("Features: %v", err)
	}
	if math.Abs(fs.OrderFlowImbalance-0.5) > 1e-12 {
		t.Errorf("imbalance = %v, want 0.5", fs.OrderFlowImbalance)
	}
	if fs.TradeIntensity != 0 || fs.VolatilityProxy != 0 {
		t.Errorf("quotes leaked into trade statistics: %+v", fs)
	}
}

func TestEngine_Eviction(t *testing.T) {
	now := time.Now()
	e := newTestEngine(10*time.Second, now)

	// Outside the horizon at query time.
	e.Record(trade(now.Add(-15*time.Second), model.TakerBuy, "100", "5"))
	// Inside.
	e.Record(trade(now.Add(-1*time.Second), model.TakerBuy, "101", "1"))

	fs, err := e.Features("binance", "BTC-USD")
	if err != nil {
		t.Fatalf("Features: %v", err)
	}
	if fs.OrderFlowImbalance != 1 {
		t.Errorf("imbalance = %v, want 1 (old sell-side trade evicted)", fs.OrderFlowImbalance)
	}
	wantIntensity := 1.0 / 10.0
	if math.Abs(fs.TradeIntensity-wantIntensity) > 1e-12 {
		t.Errorf("intensity = %v, want %v", fs.TradeIntensity, wantIntensity)
	}
}

func TestEngine_AllEvictedIsStale(t *testing.T) {
	now := time.Now()
	e := newTestEngine(10*time.Second, now)

	last := now.Add(-20 * time.Second)
	e.Record(trade(last, model.TakerBuy, "100", "1"))

	fs, err := e.Features("binance", "BTC-USD")
	if err != nil {
		t.Fatalf("Features: %v", err)
	}
	if !fs.Stale {
		t.Errorf("expected stale after full eviction")
	}
	if !fs.AsOf.Equal(last) {
		t.Errorf("asOf should keep the last contributing event, got %v", fs.AsOf)
	}
}

func TestEngine_TradePriceResetAfterQuietPeriod(t *testing.T) {
	now := time.Now()
	e := newTestEngine(10*time.Second, now)

	// A trade far before the lookback, then one inside it. The old
	// price is outside the horizon, so the fresh trade must not yield
	// a log-return against it.
	e.Record(trade(now.Add(-time.Hour), model.TakerBuy, "100", "1"))
	e.Record(trade(now, model.TakerBuy, "99.5", "1"))

	fs, err := e.Features("binance", "BTC-USD")
	if err != nil {
		t.Fatalf("Features: %v", err)
	}
	if fs.Stale {
		t.Fatalf("expected live feature set, got %+v", fs)
	}
	if fs.VolatilityProxy != 0 {
		t.Errorf("VolatilityProxy = %v, want 0 with no prior in-window trade", fs.VolatilityProxy)
	}

	// A second in-window trade reintroduces a return.
	e.Record(trade(now, model.TakerSell, "100", "1"))
	fs, err = e.Features("binance", "BTC-USD")
	if err != nil {
		t.Fatalf("Features: %v", err)
	}
	want := math.Pow(math.Log(100/99.5), 2)
	if math.Abs(fs.VolatilityProxy-want) > 1e-12 {
		t.Errorf("VolatilityProxy = %v, want %v", fs.VolatilityProxy, want)
	}
}

func TestEngine_AggregateScopeSharesWindow(t *testing.T) {
	now := time.Now()
	e := NewEngine(Config{Horizon: 30 * time.Second}, WithClock(func() time.Time { return now }))
	e.Ensure("binance", "BTC-USD")
	e.Ensure("kraken", "BTC-USD")

	if e.Windows() != 1 {
		t.Fatalf("aggregate scope created %d windows", e.Windows())
	}

	ev := trade(now, model.TakerBuy, "100", "1")
	ev.Venue = "kraken"
	e.Record(ev)

	fs, err := e.Features("binance", "BTC-USD")
	if err != nil {
		t.Fatalf("Features: %v", err)
	}
	if fs.OrderFlowImbalance != 1 {
		t.Errorf("cross-venue event not visible: %+v", fs)
	}

	// Window survives until the last venue unsubscribes.
	e.Remove("binance", "BTC-USD")
	if _, err := e.Features("kraken", "BTC-USD"); err != nil {
		t.Errorf("window removed too early: %v", err)
	}
	e.Remove("kraken", "BTC-USD")
	if _, err := e.Features("kraken", "BTC-USD"); !errors.Is(err, ErrNoWindow) {
		t.Errorf("expected ErrNoWindow after last unsubscribe, got %v", err)
	}
}

func TestEngine_PerVenueScope(t *testing.T) {
	now := time.Now()
	e := NewEngine(Config{Horizon: 30 * time.Second, PerVenue: true},
		WithClock(func() time.Time { return now }))
	e.Ensure("binance", "BTC-USD")
	e.Ensure("kraken", "BTC-USD")

	if e.Windows() != 2 {
		t.Fatalf("per-venue scope created %d windows", e.Windows())
	}

	e.Record(trade(now, model.TakerBuy, "100", "1"))

	fs, _ := e.Features("kraken", "BTC-USD")
	if !fs.Stale {
		t.Errorf("binance event leaked into kraken window")
	}
}
