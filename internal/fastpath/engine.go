package fastpath

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/depthlab/bookfeed/internal/model"
)

// ErrNoWindow is returned for symbols without an active feature window.
var ErrNoWindow = errors.New("no feature window")

// DefaultHorizon is the rolling lookback when none is configured.
const DefaultHorizon = 30 * time.Second

// Config holds Fast Path engine configuration.
type Config struct {
	// Horizon is the rolling lookback; events older than it are evicted.
	Horizon time.Duration

	// PerVenue keys windows by (venue, symbol) instead of aggregating
	// all venues' events under the bare symbol.
	PerVenue bool
}

// event is one window entry. Values are float64: the hot path trades
// exactness for bounded latency, and the feature definitions are ratios
// anyway.
type event struct {
	ts    time.Time
	buy   bool
	vol   float64
	trade bool

	// Squared log-return against the previous trade in the window,
	// precomputed at append time so eviction can subtract it in O(1).
	sqRet float64
}

// window is the rolling state for one key. Running sums are updated
// incrementally on append and eviction; Features never rescans.
type window struct {
	mu     sync.Mutex
	refs   int
	events []event
	head   int

	buyVol     float64
	sellVol    float64
	tradeCount int
	sumSqRet   float64

	lastTradePrice float64
	lastEvent      time.Time
}

// Engine owns the feature windows.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	windows map[string]*window
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine.
func NewEngine(cfg Config, opts ...EngineOption) *Engine {
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultHorizon
	}
	e := &Engine{
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ensure creates (or ref-counts) the window for the key. Called once per
// subscription; in aggregate scope several venue subscriptions share one
// window.
func (e *Engine) Ensure(venue, symbol string) {
	k := e.key(venue, symbol)

	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.windows[k]
	if !ok {
		w = &window{}
		e.windows[k] = w
	}
	w.refs++
}

// Remove drops one reference; the window is deleted when the last
// subscription for its key goes away.
func (e *Engine) Remove(venue, symbol string) {
	k := e.key(venue, symbol)

	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.windows[k]
	if !ok {
		return
	}
	w.refs--
	if w.refs <= 0 {
		delete(e.windows, k)
	}
}

// Record appends one trade/quote event and evicts anything that has
// fallen out of the horizon. Events for unknown keys are dropped.
func (e *Engine) Record(ev model.MarketEvent) {
	w, ok := e.lookup(ev.Venue, ev.Symbol)
	if !ok {
		return
	}

	vol := ev.Quantity.InexactFloat64()
	price := ev.Price.InexactFloat64()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(ev.Timestamp.Add(-e.cfg.Horizon))

	entry := event{
		ts:    ev.Timestamp,
		buy:   ev.Side == model.TakerBuy,
		vol:   vol,
		trade: ev.Trade,
	}
	if ev.Trade {
		if w.lastTradePrice > 0 && price > 0 {
			r := math.Log(price / w.lastTradePrice)
			entry.sqRet = r * r
		}
		if price > 0 {
			w.lastTradePrice = price
		}
	}
	w.append(entry)
}

// Features returns the current feature set for the symbol (venue is
// ignored in aggregate scope). A window with no events inside the
// horizon yields a zero-valued set flagged stale.
func (e *Engine) Features(venue, symbol string) (model.FeatureSet, error) {
	w, ok := e.lookup(venue, symbol)
	if !ok {
		return model.FeatureSet{}, ErrNoWindow
	}

	now := e.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now.Add(-e.cfg.Horizon))

	if w.len() == 0 {
		return model.FeatureSet{AsOf: w.lastEvent, Stale: true}, nil
	}

	fs := model.FeatureSet{
		TradeIntensity:  float64(w.tradeCount) / e.cfg.Horizon.Seconds(),
		VolatilityProxy: w.sumSqRet,
		AsOf:            w.lastEvent,
	}
	if total := w.buyVol + w.sellVol; total > 0 {
		fs.OrderFlowImbalance = (w.buyVol - w.sellVol) / total
	}
	return fs, nil
}

// Windows returns the number of active windows.
func (e *Engine) Windows() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.windows)
}

func (e *Engine) key(venue, symbol string) string {
	if e.cfg.PerVenue {
		return venue + ":" + symbol
	}
	return symbol
}

func (e *Engine) lookup(venue, symbol string) (*window, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.windows[e.key(venue, symbol)]
	return w, ok
}

func (w *window) len() int {
	return len(w.events) - w.head
}

func (w *window) append(ev event) {
	// Reclaim evicted prefix space once it dominates the slice.
	if w.head > 0 && w.head*2 >= len(w.events) {
		n := copy(w.events, w.events[w.head:])
		w.events = w.events[:n]
		w.head = 0
	}
	w.events = append(w.events, ev)

	if ev.buy {
		w.buyVol += ev.vol
	} else {
		w.sellVol += ev.vol
	}
	if ev.trade {
		w.tradeCount++
		w.sumSqRet += ev.sqRet
	}
	if ev.ts.After(w.lastEvent) {
		w.lastEvent = ev.ts
	}
}

// evict drops events at or before the cutoff, subtracting their
// contributions from the running sums.
func (w *window) evict(cutoff time.Time) {
	for w.head < len(w.events) {
		ev := w.events[w.head]
		if ev.ts.After(cutoff) {
			break
		}
		if ev.buy {
			w.buyVol -= ev.vol
		} else {
			w.sellVol -= ev.vol
		}
		if ev.trade {
			w.tradeCount--
			w.sumSqRet -= ev.sqRet
		}
		w.events[w.head] = event{}
		w.head++
	}
	if w.head == len(w.events) {
		w.events = w.events[:0]
		w.head = 0
		// Float drift accumulates over subtractions; an empty window
		// is the safe point to zero the sums exactly. The reference
		// price goes too: a return against a price older than the
		// lookback is not a within-window return.
		w.buyVol, w.sellVol, w.sumSqRet = 0, 0, 0
		w.tradeCount = 0
		w.lastTradePrice = 0
	}
}
