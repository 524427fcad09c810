package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/depthlab/bookfeed/internal/book"
	"github.com/depthlab/bookfeed/internal/feed"
	"github.com/depthlab/bookfeed/internal/model"
)

var testKey = model.Key{Venue: "binance", Symbol: "BTC-USD"}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func lvl(price, qty string) model.PriceLevel {
	return model.PriceLevel{Price: d(price), Quantity: d(qty)}
}

func snap(seq int64) Snapshot {
	return Snapshot{
		Bids:     []model.PriceLevel{lvl("100", "5"), lvl("99", "2")},
		Asks:     []model.PriceLevel{lvl("101", "3"), lvl("102", "4")},
		Sequence: seq,
	}
}

func delta(seq int64, side model.Side, price, qty string) feed.DeltaMsg {
	return feed.DeltaMsg{
		Venue:      testKey.Venue,
		Symbol:     testKey.Symbol,
		Side:       side,
		Price:      d(price),
		Quantity:   d(qty),
		Sequence:   seq,
		ReceivedAt: time.Now(),
	}
}

// mockSource serves queued snapshots, optionally gated so tests can
// hold the ingestor in syncing.
type mockSource struct {
	mu       sync.Mutex
	snapshot Snapshot
	err      error
	gate     chan struct{}
	requests int
}

func (m *mockSource) RequestSnapshot(ctx context.Context, key model.Key) (Snapshot, error) {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	if m.err != nil {
		return Snapshot{}, m.err
	}
	return m.snapshot, nil
}

func (m *mockSource) set(s Snapshot, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = s
	m.err = err
}

func (m *mockSource) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.StalenessTimeout = time.Hour // Opt in per test.
	cfg.ResyncMaxAttempts = 3
	cfg.ResyncBaseDelay = time.Millisecond
	cfg.ResyncMaxDelay = 5 * time.Millisecond
	cfg.ResyncTimeout = time.Second
	return cfg
}

func startIngestor(t *testing.T, cfg Config, source SnapshotSource) (*Ingestor, *book.Store) {
	t.Helper()
	store := book.NewStore()
	store.Register(testKey)

	in := New(testKey, cfg, store, source, nil)
	if err := in.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		in.Stop(ctx)
	})
	return in, store
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestIngestor_ActivationSnapshot(t *testing.T) {
	source := &mockSource{snapshot: snap(10)}
	in, store := startIngestor(t, fastConfig(), source)

	waitFor(t, "live state", func() bool {
		return in.State().Status == model.StatusLive
	})

	b, err := store.Snapshot(testKey)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if b.Sequence != 10 {
		t.Errorf("sequence = %d, want 10", b.Sequence)
	}
	if in.State().LastSequence != 10 {
		t.Errorf("state sequence = %d, want 10", in.State().LastSequence)
	}
}

func TestIngestor_LiveDeltas(t *testing.T) {
	source := &mockSource{snapshot: snap(10)}
	in, store := startIngestor(t, fastConfig(), source)

	waitFor(t, "live state", func() bool {
		return in.State().Status == model.StatusLive
	})

	in.Submit(delta(11, model.SideBid, "100.5", "1"))
	in.Submit(delta(12, model.SideBid, "100.5", "0"))

	waitFor(t, "deltas applied", func() bool {
		return in.State().LastSequence == 12
	})

	b, _ := store.Snapshot(testKey)
	if len(b.Bids) != 2 {
		t.Errorf("expected inserted level removed again, got %v", b.Bids)
	}
	if got := in.Stats().DeltasApplied; got != 2 {
		t.Errorf("DeltasApplied = %d, want 2", got)
	}
}

func TestIngestor_BuffersAndReplaysWhileSyncing(t *testing.T) {
	gate := make(chan struct{})
	source := &mockSource{snapshot: snap(10), gate: gate}
	in, store := startIngestor(t, fastConfig(), source)

	waitFor(t, "syncing state", func() bool {
		return in.State().Status == model.StatusSyncing
	})

	// Buffered while the snapshot request is in flight. Sequence 9 is
	// covered by the snapshot and must be discarded on replay.
	in.Submit(delta(9, model.SideBid, "95", "9"))
	in.Submit(delta(12, model.SideAsk, "103", "7"))
	in.Submit(delta(11, model.SideBid, "99.5", "1"))

	waitFor(t, "deltas buffered", func() bool {
		return in.Stats().Buffer.Count == 3
	})
	close(gate)

	waitFor(t, "replay complete", func() bool {
		return in.State().Status == model.StatusLive && in.State().LastSequence == 12
	})

	b, _ := store.Snapshot(testKey)
	if len(b.Bids) != 3 {
		t.Fatalf("replay missed bid insert: %v", b.Bids)
	}
	for _, l := range b.Bids {
		if l.Price.Equal(d("95")) {
			t.Errorf("stale buffered delta applied: %v", b.Bids)
		}
	}
	if len(b.Asks) != 3 {
		t.Errorf("replay missed ask insert: %v", b.Asks)
	}
}

func TestIngestor_GapForcesResync(t *testing.T) {
	source := &mockSource{snapshot: snap(10)}
	in, store := startIngestor(t, fastConfig(), source)

	waitFor(t, "live state", func() bool {
		return in.State().Status == model.StatusLive
	})

	// Expected sequence is 11; 15 is a gap.
	source.set(snap(20), nil)
	in.Submit(delta(15, model.SideBid, "100", "6"))

	waitFor(t, "resynced", func() bool {
		return in.State().Status == model.StatusLive && in.State().LastSequence == 20
	})

	b, _ := store.Snapshot(testKey)
	if b.Sequence != 20 {
		t.Errorf("book sequence = %d, want 20", b.Sequence)
	}
	if got := in.Stats().Gaps; got != 1 {
		t.Errorf("Gaps = %d, want 1", got)
	}
}

func TestIngestor_BookHoldsLastValidDuringResync(t *testing.T) {
	gate := make(chan struct{})
	source := &mockSource{snapshot: snap(10)}
	in, store := startIngestor(t, fastConfig(), source)

	waitFor(t, "live state", func() bool {
		return in.State().Status == model.StatusLive
	})

	// Hold the next fetch open and trigger a gap.
	source.mu.Lock()
	source.gate = gate
	source.snapshot = snap(30)
	source.mu.Unlock()

	in.Submit(delta(15, model.SideBid, "100", "6"))
	waitFor(t, "syncing state", func() bool {
		return in.State().Status == model.StatusSyncing
	})

	// The last valid book stays visible while syncing.
	b, err := store.Snapshot(testKey)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if b.Sequence != 10 {
		t.Errorf("book regressed during resync: seq %d", b.Sequence)
	}

	close(gate)
	waitFor(t, "resynced", func() bool {
		return in.State().LastSequence == 30
	})
}

func TestIngestor_CrossedBookForcesResync(t *testing.T) {
	source := &mockSource{snapshot: snap(10)}
	in, _ := startIngestor(t, fastConfig(), source)

	waitFor(t, "live state", func() bool {
		return in.State().Status == model.StatusLive
	})

	source.set(snap(40), nil)
	// A bid through the ask crosses the book.
	in.Submit(delta(11, model.SideBid, "102.5", "1"))

	waitFor(t, "resynced after cross", func() bool {
		return in.State().LastSequence == 40
	})
	if got := in.Stats().Crossed; got != 1 {
		t.Errorf("Crossed = %d, want 1", got)
	}
}

func TestIngestor_DuplicateDeltaDropped(t *testing.T) {
	source := &mockSource{snapshot: snap(10)}
	in, store := startIngestor(t, fastConfig(), source)

	waitFor(t, "live state", func() bool {
		return in.State().Status == model.StatusLive
	})

	in.Submit(delta(10, model.SideBid, "100", "99"))

	waitFor(t, "duplicate counted", func() bool {
		return in.Stats().Duplicates == 1
	})

	b, _ := store.Snapshot(testKey)
	if !b.Bids[0].Quantity.Equal(d("5")) {
		t.Errorf("duplicate delta mutated the book")
	}
	if in.State().Status != model.StatusLive {
		t.Errorf("duplicate changed state to %s", in.State().Status)
	}
}

func TestIngestor_StaleAfterSilence(t *testing.T) {
	cfg := fastConfig()
	cfg.StalenessTimeout = 20 * time.Millisecond

	source := &mockSource{snapshot: snap(10)}
	in, store := startIngestor(t, cfg, source)

	waitFor(t, "stale state", func() bool {
		return in.State().Status == model.StatusStale
	})

	// The held snapshot stays readable while stale.
	if _, err := store.Snapshot(testKey); err != nil {
		t.Errorf("Snapshot while stale: %v", err)
	}
}

func TestIngestor_ResyncExhaustionThenRecovery(t *testing.T) {
	source := &mockSource{err: errors.New("venue down")}
	in, _ := startIngestor(t, fastConfig(), source)

	waitFor(t, "stale after exhausted attempts", func() bool {
		return in.State().Status == model.StatusStale
	})
	if got := source.count(); got < 3 {
		t.Errorf("requests = %d, want all attempts used", got)
	}

	// A future message re-arms recovery.
	source.set(snap(50), nil)
	in.Submit(delta(51, model.SideBid, "100", "1"))

	waitFor(t, "recovered", func() bool {
		return in.State().Status == model.StatusLive && in.State().LastSequence >= 50
	})
}
