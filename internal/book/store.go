package book

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/depthlab/bookfeed/internal/model"
)

// Errors
var (
	ErrNotFound        = errors.New("book not found")
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	ErrInvalidDelta    = errors.New("invalid delta")
	ErrSequenceGap     = errors.New("sequence gap")
	ErrCrossedBook     = errors.New("crossed book")
)

// Store holds the live books. Each book has a single writer (its feed
// ingestor); the registry map is the only structure shared between
// writers and readers, and each book itself is published through an
// atomic pointer swap.
type Store struct {
	mu     sync.RWMutex
	books  map[model.Key]*bookState
	logger *slog.Logger

	// Depth cap applied after snapshot application; 0 means uncapped.
	maxDepth int
}

// bookState is the per-key holder. snap always points at a complete,
// internally consistent book; it is replaced, never mutated in place.
type bookState struct {
	snap    atomic.Pointer[model.Book]
	crossed atomic.Bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxDepth caps the number of levels retained per side.
func WithMaxDepth(n int) StoreOption {
	return func(s *Store) { s.maxDepth = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates an empty Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		books:  make(map[model.Key]*bookState),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register installs an empty book for the key. Idempotent.
func (s *Store) Register(key model.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.books[key]; ok {
		return
	}
	st := &bookState{}
	st.snap.Store(&model.Book{Venue: key.Venue, Symbol: key.Symbol})
	s.books[key] = st
}

// Unregister removes the key. In-flight readers holding a snapshot keep
// it; they just see NotFound on their next lookup.
func (s *Store) Unregister(key model.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.books, key)
}

// Snapshot returns a deep copy of the current book for the key.
func (s *Store) Snapshot(key model.Key) (*model.Book, error) {
	st, ok := s.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return st.snap.Load().Clone(), nil
}

// Sequence returns the last applied sequence number for the key.
func (s *Store) Sequence(key model.Key) (int64, error) {
	st, ok := s.lookup(key)
	if !ok {
		return 0, ErrNotFound
	}
	return st.snap.Load().Sequence, nil
}

// Crossed reports whether the last delta left the (unpublished) book
// crossed. Cleared by the next snapshot application.
func (s *Store) Crossed(key model.Key) bool {
	st, ok := s.lookup(key)
	return ok && st.crossed.Load()
}

// ApplySnapshot replaces the entire book state for the key.
//
// Levels are validated (no negative quantities, no duplicate prices per
// side) and sorted; zero-quantity levels are dropped. A snapshot that is
// itself crossed is rejected as internally inconsistent.
func (s *Store) ApplySnapshot(key model.Key, bids, asks []model.PriceLevel, seq int64, at time.Time) error {
	st, ok := s.lookup(key)
	if !ok {
		return ErrNotFound
	}

	b, err := normalizeSide(bids, true)
	if err != nil {
		return err
	}
	a, err := normalizeSide(asks, false)
	if err != nil {
		return err
	}
	if s.maxDepth > 0 {
		if len(b) > s.maxDepth {
			b = b[:s.maxDepth]
		}
		if len(a) > s.maxDepth {
			a = a[:s.maxDepth]
		}
	}

	next := &model.Book{
		Venue:       key.Venue,
		Symbol:      key.Symbol,
		Bids:        b,
		Asks:        a,
		Sequence:    seq,
		LastUpdated: at,
	}
	if next.Crossed() {
		return ErrInvalidSnapshot
	}

	st.crossed.Store(false)
	st.snap.Store(next)
	return nil
}

// ApplyDelta applies one sequenced level change. The delta must carry
// sequence == current+1; otherwise ErrSequenceGap is returned and the
// book is untouched. A quantity of zero removes the level.
//
// If the delta would cross the book, the previous snapshot stays
// published, the crossed flag is set, and ErrCrossedBook is returned so
// the caller can force a resynchronization.
func (s *Store) ApplyDelta(key model.Key, side model.Side, price, qty decimal.Decimal, seq int64, at time.Time) error {
	st, ok := s.lookup(key)
	if !ok {
		return ErrNotFound
	}
	if qty.IsNegative() {
		return ErrInvalidDelta
	}

	cur := st.snap.Load()
	if seq != cur.Sequence+1 {
		return ErrSequenceGap
	}

	next := cur.Clone()
	next.Sequence = seq
	next.LastUpdated = at

	switch side {
	case model.SideBid:
		next.Bids = applyLevel(next.Bids, price, qty, true)
	case model.SideAsk:
		next.Asks = applyLevel(next.Asks, price, qty, false)
	default:
		return ErrInvalidDelta
	}

	if next.Crossed() {
		st.crossed.Store(true)
		return ErrCrossedBook
	}

	st.snap.Store(next)
	return nil
}

// Len returns the number of registered books.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books)
}

func (s *Store) lookup(key model.Key) (*bookState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.books[key]
	return st, ok
}

// applyLevel inserts, updates, or removes the price level in a side kept
// sorted (bids descending, asks ascending). The input slice is owned by
// the caller's clone and mutated freely.
func applyLevel(levels []model.PriceLevel, price, qty decimal.Decimal, descending bool) []model.PriceLevel {
	i := sort.Search(len(levels), func(i int) bool {
		cmp := levels[i].Price.Cmp(price)
		if descending {
			return cmp <= 0
		}
		return cmp >= 0
	})

	exists := i < len(levels) && levels[i].Price.Equal(price)

	switch {
	case qty.IsZero() && exists:
		return append(levels[:i], levels[i+1:]...)
	case qty.IsZero():
		// Removing an absent level is a no-op, not an error: venues
		// replay removals around snapshot boundaries.
		return levels
	case exists:
		levels[i].Quantity = qty
		return levels
	default:
		levels = append(levels, model.PriceLevel{})
		copy(levels[i+1:], levels[i:])
		levels[i] = model.PriceLevel{Price: price, Quantity: qty}
		return levels
	}
}

// normalizeSide validates, filters, and sorts one side of a snapshot.
func normalizeSide(levels []model.PriceLevel, descending bool) ([]model.PriceLevel, error) {
	out := make([]model.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Quantity.IsNegative() {
			return nil, ErrInvalidSnapshot
		}
		if lvl.Quantity.IsZero() {
			continue
		}
		out = append(out, lvl)
	}

	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})

	for i := 1; i < len(out); i++ {
		if out[i].Price.Equal(out[i-1].Price) {
			return nil, ErrInvalidSnapshot
		}
	}
	return out, nil
}
