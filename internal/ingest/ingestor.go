package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/depthlab/bookfeed/internal/book"
	"github.com/depthlab/bookfeed/internal/feed"
	"github.com/depthlab/bookfeed/internal/metrics"
	"github.com/depthlab/bookfeed/internal/model"
)

// Snapshot is a fetched point-in-time book used for resynchronization.
type Snapshot struct {
	Bids     []model.PriceLevel
	Asks     []model.PriceLevel
	Sequence int64
}

// SnapshotSource fetches a fresh snapshot for a key. Implemented over
// the venue REST connector; tests substitute mocks.
type SnapshotSource interface {
	RequestSnapshot(ctx context.Context, key model.Key) (Snapshot, error)
}

// Config holds ingestor configuration.
type Config struct {
	InboxSize         int           // Message inbox capacity
	DeltaBufferSize   int           // Deltas buffered while syncing
	StalenessTimeout  time.Duration // No-message window before stale
	ResyncTimeout     time.Duration // Per-request snapshot timeout
	ResyncMaxAttempts int           // Fetch attempts before giving up
	ResyncBaseDelay   time.Duration // Initial retry wait
	ResyncMaxDelay    time.Duration // Cap on retry wait
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		InboxSize:         4096,
		DeltaBufferSize:   1024,
		StalenessTimeout:  30 * time.Second,
		ResyncTimeout:     10 * time.Second,
		ResyncMaxAttempts: 5,
		ResyncBaseDelay:   500 * time.Millisecond,
		ResyncMaxDelay:    30 * time.Second,
	}
}

// Stats is a point-in-time view of one ingestor.
type Stats struct {
	State            model.SyncState
	DeltasApplied    int64
	SnapshotsApplied int64
	Duplicates       int64
	Gaps             int64
	Crossed          int64
	Resyncs          int64
	Buffer           feed.RingStats
}

// Ingestor owns one (venue, symbol) book's write path.
type Ingestor struct {
	key    model.Key
	cfg    Config
	store  *book.Store
	source SnapshotSource
	logger *slog.Logger

	inbox   chan feed.Message
	pending *feed.Ring[feed.DeltaMsg]

	// Snapshot fetch results; one fetch in flight at a time.
	snapCh   chan snapResult
	fetching bool

	// Externally visible state
	stateMu sync.RWMutex
	state   model.SyncState
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type snapResult struct {
	snap Snapshot
	err  error
}

// New creates an ingestor for one key. Start must be called before any
// message is submitted.
func New(key model.Key, cfg Config, store *book.Store, source SnapshotSource, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		key:     key,
		cfg:     cfg,
		store:   store,
		source:  source,
		logger:  logger.With("venue", key.Venue, "symbol", key.Symbol),
		inbox:   make(chan feed.Message, cfg.InboxSize),
		pending: feed.NewRing[feed.DeltaMsg](cfg.DeltaBufferSize),
		snapCh:  make(chan snapResult, 1),
		state:   model.SyncState{Status: model.StatusUnsynced},
	}
}

// Start activates the ingestor: it requests an initial snapshot and
// begins processing its inbox in arrival order.
func (in *Ingestor) Start(ctx context.Context) error {
	in.ctx, in.cancel = context.WithCancel(ctx)

	in.wg.Add(1)
	go in.run()
	return nil
}

// Stop cancels the ingestor task and waits for it to finish.
func (in *Ingestor) Stop(ctx context.Context) error {
	if in.cancel != nil {
		in.cancel()
	}

	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit hands a message to the ingestor. Non-blocking: when the inbox
// is full the oldest queued message is dropped, the same shedding rule
// the pending-delta buffer uses.
func (in *Ingestor) Submit(msg feed.Message) {
	select {
	case in.inbox <- msg:
	default:
		select {
		case <-in.inbox:
			in.logger.Warn("inbox full, dropped oldest message")
		default:
		}
		select {
		case in.inbox <- msg:
		default:
		}
	}
}

// State returns the current sync state.
func (in *Ingestor) State() model.SyncState {
	in.stateMu.RLock()
	defer in.stateMu.RUnlock()
	return in.state
}

// Stats returns ingestion counters.
func (in *Ingestor) Stats() Stats {
	in.stateMu.RLock()
	s := in.stats
	s.State = in.state
	in.stateMu.RUnlock()
	s.Buffer = in.pending.Stats()
	return s
}

// run is the single writer task for this key. All book mutation happens
// here, strictly in message arrival order.
func (in *Ingestor) run() {
	defer in.wg.Done()

	in.requestResync("activation")

	staleTimer := time.NewTimer(in.cfg.StalenessTimeout)
	defer staleTimer.Stop()

	for {
		select {
		case <-in.ctx.Done():
			return

		case msg := <-in.inbox:
			if !staleTimer.Stop() {
				select {
				case <-staleTimer.C:
				default:
				}
			}
			staleTimer.Reset(in.cfg.StalenessTimeout)
			in.handleMessage(msg)

		case res := <-in.snapCh:
			in.fetching = false
			in.handleSnapshotResult(res)

		case <-staleTimer.C:
			in.markStale()
			staleTimer.Reset(in.cfg.StalenessTimeout)
		}
	}
}

func (in *Ingestor) handleMessage(msg feed.Message) {
	// A message arriving while stale after exhausted resync attempts
	// re-arms the recovery machinery.
	if in.status() == model.StatusStale && !in.fetching {
		in.requestResync("message after stale")
	}

	switch m := msg.(type) {
	case feed.SnapshotMsg:
		in.applySnapshot(Snapshot{Bids: m.Bids, Asks: m.Asks, Sequence: m.Sequence}, m.ReceivedAt)
	case feed.DeltaMsg:
		in.handleDelta(m)
	default:
		// Trades and quotes are routed to the fast path upstream.
	}
}

func (in *Ingestor) handleDelta(m feed.DeltaMsg) {
	if in.status() != model.StatusLive {
		in.pending.Push(m)
		return
	}

	last := in.lastSequence()
	switch {
	case m.Sequence <= last:
		// Duplicate or replay of an already applied delta.
		in.bump(func(s *Stats) { s.Duplicates++ })
		return

	case m.Sequence > last+1:
		in.bump(func(s *Stats) { s.Gaps++ })
		metrics.SequenceGaps.WithLabelValues(in.key.Venue).Inc()
		in.logger.Warn("sequence gap",
			"expected", last+1,
			"got", m.Sequence,
		)
		in.pending.Reset()
		in.pending.Push(m)
		in.requestResync("sequence gap")
		return
	}

	err := in.store.ApplyDelta(in.key, m.Side, m.Price, m.Quantity, m.Sequence, m.ReceivedAt)
	switch {
	case err == nil:
		in.setLive(m.Sequence, m.ReceivedAt)
		in.bump(func(s *Stats) { s.DeltasApplied++ })
		metrics.DeltasApplied.WithLabelValues(in.key.Venue).Inc()

	case errors.Is(err, book.ErrCrossedBook):
		in.bump(func(s *Stats) { s.Crossed++ })
		metrics.CrossedBooks.WithLabelValues(in.key.Venue).Inc()
		in.logger.Warn("crossed book, forcing resync", "seq", m.Sequence)
		in.pending.Reset()
		in.requestResync("crossed book")

	case errors.Is(err, book.ErrInvalidDelta):
		// Malformed content that slipped past the parser: drop, keep state.
		in.logger.Warn("dropping invalid delta", "seq", m.Sequence, "error", err)

	case errors.Is(err, book.ErrSequenceGap):
		in.pending.Reset()
		in.pending.Push(m)
		in.requestResync("sequence gap")

	default:
		in.logger.Error("delta application failed", "seq", m.Sequence, "error", err)
	}
}

// applySnapshot installs a full book and replays buffered deltas.
func (in *Ingestor) applySnapshot(snap Snapshot, at time.Time) {
	// A fetched snapshot can race a newer stream-delivered one; never
	// regress a live book.
	if in.status() == model.StatusLive && snap.Sequence <= in.lastSequence() {
		return
	}

	err := in.store.ApplySnapshot(in.key, snap.Bids, snap.Asks, snap.Sequence, at)
	if err != nil {
		// An internally inconsistent snapshot is the unexpected case:
		// log it and hold in syncing until a valid one arrives.
		in.logger.Error("invalid snapshot, holding syncing", "seq", snap.Sequence, "error", err)
		in.setStatus(model.StatusSyncing)
		if !in.fetching {
			in.requestResync("invalid snapshot")
		}
		return
	}

	in.setLive(snap.Sequence, at)
	in.bump(func(s *Stats) { s.SnapshotsApplied++ })
	metrics.SnapshotsApplied.WithLabelValues(in.key.Venue).Inc()
	in.logger.Info("snapshot applied", "seq", snap.Sequence)

	in.replayPending(snap.Sequence)
}

// replayPending applies deltas buffered while syncing, in sequence
// order, discarding those the snapshot already covers.
func (in *Ingestor) replayPending(snapSeq int64) {
	buffered := in.pending.Drain()
	if len(buffered) == 0 {
		return
	}
	sort.Slice(buffered, func(i, j int) bool {
		return buffered[i].Sequence < buffered[j].Sequence
	})

	for _, m := range buffered {
		if m.Sequence <= snapSeq {
			continue
		}
		if in.status() != model.StatusLive {
			// A replay gap triggered another resync; re-buffer the rest.
			in.pending.Push(m)
			continue
		}
		in.handleDelta(m)
	}
}

// requestResync launches a bounded snapshot fetch with backoff. Only
// one fetch runs at a time; results come back through snapCh.
func (in *Ingestor) requestResync(reason string) {
	if in.fetching {
		return
	}
	in.fetching = true
	in.setStatus(model.StatusSyncing)
	in.bump(func(s *Stats) { s.Resyncs++ })
	metrics.Resyncs.WithLabelValues(in.key.Venue).Inc()
	in.logger.Info("requesting snapshot", "reason", reason)

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()

		b := &backoff.Backoff{
			Min:    in.cfg.ResyncBaseDelay,
			Max:    in.cfg.ResyncMaxDelay,
			Jitter: true,
		}

		var lastErr error
		for attempt := 0; attempt < in.cfg.ResyncMaxAttempts; attempt++ {
			if attempt > 0 {
				select {
				case <-in.ctx.Done():
					return
				case <-time.After(b.Duration()):
				}
			}

			reqCtx, cancel := context.WithTimeout(in.ctx, in.cfg.ResyncTimeout)
			snap, err := in.source.RequestSnapshot(reqCtx, in.key)
			cancel()

			if err == nil {
				select {
				case in.snapCh <- snapResult{snap: snap}:
				case <-in.ctx.Done():
				}
				return
			}
			lastErr = err
			in.logger.Warn("snapshot request failed",
				"attempt", attempt+1,
				"error", err,
			)
		}

		select {
		case in.snapCh <- snapResult{err: lastErr}:
		case <-in.ctx.Done():
		}
	}()
}

func (in *Ingestor) handleSnapshotResult(res snapResult) {
	if res.err != nil {
		// Attempts exhausted: stale until a future message re-arms us.
		in.logger.Error("resync attempts exhausted, marking stale", "error", res.err)
		in.markStale()
		return
	}
	in.applySnapshot(res.snap, time.Now())
}

func (in *Ingestor) markStale() {
	if in.status() == model.StatusStale {
		return
	}
	in.setStatus(model.StatusStale)
	metrics.StaleBooks.WithLabelValues(in.key.Venue).Inc()
	in.logger.Warn("feed stale")
}

func (in *Ingestor) status() model.SyncStatus {
	in.stateMu.RLock()
	defer in.stateMu.RUnlock()
	return in.state.Status
}

func (in *Ingestor) lastSequence() int64 {
	in.stateMu.RLock()
	defer in.stateMu.RUnlock()
	return in.state.LastSequence
}

func (in *Ingestor) setStatus(st model.SyncStatus) {
	in.stateMu.Lock()
	defer in.stateMu.Unlock()
	if in.state.Status == model.StatusStale && st != model.StatusStale {
		metrics.StaleBooks.WithLabelValues(in.key.Venue).Dec()
	}
	in.state.Status = st
}

func (in *Ingestor) setLive(seq int64, at time.Time) {
	in.stateMu.Lock()
	defer in.stateMu.Unlock()
	if in.state.Status == model.StatusStale {
		metrics.StaleBooks.WithLabelValues(in.key.Venue).Dec()
	}
	in.state.Status = model.StatusLive
	in.state.LastSequence = seq
	in.state.LastUpdate = at
}

func (in *Ingestor) bump(f func(*Stats)) {
	in.stateMu.Lock()
	f(&in.stats)
	in.stateMu.Unlock()
}
