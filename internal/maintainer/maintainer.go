package maintainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/depthlab/bookfeed/internal/aggregate"
	"github.com/depthlab/bookfeed/internal/book"
	"github.com/depthlab/bookfeed/internal/fastpath"
	"github.com/depthlab/bookfeed/internal/feed"
	"github.com/depthlab/bookfeed/internal/ingest"
	"github.com/depthlab/bookfeed/internal/metrics"
	"github.com/depthlab/bookfeed/internal/model"
)

// Errors
var (
	ErrNotFound        = errors.New("unknown venue/symbol")
	ErrEmptyBook       = aggregate.ErrEmptyBook
	ErrNotStarted      = errors.New("maintainer not started")
	ErrFeedUnreachable = errors.New("feed unreachable")
)

const stopGracePeriod = 5 * time.Second

// FeedSubscriber propagates subscription changes to the venue streams.
type FeedSubscriber interface {
	Subscribe(venue, symbol string) error
	Unsubscribe(venue, symbol string) error
}

// Config holds Book Maintainer configuration.
type Config struct {
	Ingest         ingest.Config
	AggregateDepth int // Levels per side for depth imbalance
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Ingest:         ingest.DefaultConfig(),
		AggregateDepth: aggregate.DefaultDepth,
	}
}

// Maintainer is the query façade and registry owner. External
// collaborators read through it; only feed ingestors mutate book state.
type Maintainer interface {
	// Start prepares the maintainer; ingestors launch per subscription.
	Start(ctx context.Context) error

	// Stop cancels every ingestor and waits for them to drain.
	Stop(ctx context.Context) error

	// Subscribe lazily creates the registry entry for the key and
	// starts its ingestor. Idempotent.
	Subscribe(venue, symbol string) error

	// Unsubscribe cancels the key's ingestor and removes its entry.
	Unsubscribe(venue, symbol string) error

	// GetBook returns the latest book snapshot.
	GetBook(venue, symbol string) (*model.Book, error)

	// GetAggregates computes spread, mid, and imbalance on demand.
	GetAggregates(venue, symbol string) (model.Aggregates, error)

	// GetFeatures returns the rolling microstructure feature set.
	GetFeatures(venue, symbol string) (model.FeatureSet, error)

	// SyncState reports the ingestion state for the key.
	SyncState(venue, symbol string) (model.SyncState, error)

	// HandleMessage routes one parsed feed message (feed.Handler).
	HandleMessage(msg feed.Message)

	// Stats returns registry-wide counters.
	Stats() Stats
}

// Stats contains registry-wide statistics.
type Stats struct {
	Subscriptions int
	Ingest        map[string]ingest.Stats
}

type entry struct {
	ingestor *ingest.Ingestor
}

type maintainer struct {
	cfg      Config
	store    *book.Store
	features *fastpath.Engine
	source   ingest.SnapshotSource
	feeds    FeedSubscriber
	logger   *slog.Logger

	mu      sync.RWMutex
	entries map[model.Key]*entry

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Book Maintainer. feeds may be nil when stream
// subscription is managed elsewhere (tests, replay).
func New(cfg Config, store *book.Store, features *fastpath.Engine, source ingest.SnapshotSource, feeds FeedSubscriber, logger *slog.Logger) Maintainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &maintainer{
		cfg:      cfg,
		store:    store,
		features: features,
		source:   source,
		feeds:    feeds,
		logger:   logger,
		entries:  make(map[model.Key]*entry),
	}
}

func (m *maintainer) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx != nil {
		return nil
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.logger.Info("book maintainer started")
	return nil
}

func (m *maintainer) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	ingestors := make([]*ingest.Ingestor, 0, len(m.entries))
	for _, e := range m.entries {
		ingestors = append(ingestors, e.ingestor)
	}
	m.mu.Unlock()

	for _, ing := range ingestors {
		if err := ing.Stop(ctx); err != nil {
			return err
		}
	}
	m.logger.Info("book maintainer stopped")
	return nil
}

// Subscribe atomically installs book, sync state, and feature window
// for the key, then starts its single-writer ingestor.
func (m *maintainer) Subscribe(venue, symbol string) error {
	key := model.Key{Venue: venue, Symbol: symbol}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		return ErrNotStarted
	}
	if _, ok := m.entries[key]; ok {
		return nil
	}

	if m.feeds != nil {
		if err := m.feeds.Subscribe(venue, symbol); err != nil {
			return fmt.Errorf("%w: %v", ErrFeedUnreachable, err)
		}
	}

	m.store.Register(key)
	m.features.Ensure(venue, symbol)

	ing := ingest.New(key, m.cfg.Ingest, m.store, m.source, m.logger)
	if err := ing.Start(m.ctx); err != nil {
		m.store.Unregister(key)
		m.features.Remove(venue, symbol)
		return err
	}

	m.entries[key] = &entry{ingestor: ing}
	metrics.ActiveSubscriptions.Set(float64(len(m.entries)))
	m.logger.Info("subscribed", "venue", venue, "symbol", symbol)
	return nil
}

// Unsubscribe cancels the ingestor and removes the entry. In-flight
// queries complete against the last published snapshot.
func (m *maintainer) Unsubscribe(venue, symbol string) error {
	key := model.Key{Venue: venue, Symbol: symbol}

	m.mu.Lock()
	e, ok := m.entries[key]
	if ok {
		delete(m.entries, key)
		metrics.ActiveSubscriptions.Set(float64(len(m.entries)))
	}
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopGracePeriod)
	defer cancel()
	if err := e.ingestor.Stop(stopCtx); err != nil {
		m.logger.Warn("ingestor stop timed out", "venue", venue, "symbol", symbol)
	}

	m.store.Unregister(key)
	m.features.Remove(venue, symbol)

	if m.feeds != nil {
		if err := m.feeds.Unsubscribe(venue, symbol); err != nil {
			m.logger.Warn("feed unsubscribe failed", "venue", venue, "symbol", symbol, "error", err)
		}
	}

	m.logger.Info("unsubscribed", "venue", venue, "symbol", symbol)
	return nil
}

func (m *maintainer) GetBook(venue, symbol string) (*model.Book, error) {
	b, err := m.store.Snapshot(model.Key{Venue: venue, Symbol: symbol})
	if errors.Is(err, book.ErrNotFound) {
		return nil, ErrNotFound
	}
	return b, err
}

func (m *maintainer) GetAggregates(venue, symbol string) (model.Aggregates, error) {
	b, err := m.GetBook(venue, symbol)
	if err != nil {
		return model.Aggregates{}, err
	}
	return aggregate.Compute(b, m.cfg.AggregateDepth)
}

func (m *maintainer) GetFeatures(venue, symbol string) (model.FeatureSet, error) {
	fs, err := m.features.Features(venue, symbol)
	if errors.Is(err, fastpath.ErrNoWindow) {
		return model.FeatureSet{}, ErrNotFound
	}
	return fs, err
}

func (m *maintainer) SyncState(venue, symbol string) (model.SyncState, error) {
	e, ok := m.lookup(model.Key{Venue: venue, Symbol: symbol})
	if !ok {
		return model.SyncState{}, ErrNotFound
	}
	return e.ingestor.State(), nil
}

// HandleMessage routes one parsed message: book messages to the key's
// ingestor, trades and quotes to the feature windows. Messages for
// unsubscribed keys are dropped.
func (m *maintainer) HandleMessage(msg feed.Message) {
	switch t := msg.(type) {
	case feed.SnapshotMsg, feed.DeltaMsg:
		e, ok := m.lookup(msg.Key())
		if !ok {
			return
		}
		e.ingestor.Submit(msg)

	case feed.TradeMsg:
		m.features.Record(t.Event())
		metrics.FeatureEvents.WithLabelValues(t.Venue, "trade").Inc()

	case feed.QuoteMsg:
		m.features.Record(t.Event())
		metrics.FeatureEvents.WithLabelValues(t.Venue, "quote").Inc()
	}
}

func (m *maintainer) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		Subscriptions: len(m.entries),
		Ingest:        make(map[string]ingest.Stats, len(m.entries)),
	}
	for key, e := range m.entries {
		s.Ingest[key.String()] = e.ingestor.Stats()
	}
	return s
}

func (m *maintainer) lookup(key model.Key) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok
}
