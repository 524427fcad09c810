package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/depthlab/bookfeed/internal/connector"
	"github.com/depthlab/bookfeed/internal/metrics"
)

// Handler consumes parsed feed messages. The book maintainer implements
// this; dispatch is synchronous so per-key ordering is preserved from
// the wire all the way to book application.
type Handler interface {
	HandleMessage(msg Message)
}

// Router parses raw venue messages and hands them to the Handler.
type Router struct {
	logger  *slog.Logger
	input   <-chan connector.RawMessage
	handler Handler

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Stats
	mu          sync.RWMutex
	received    int64
	routed      int64
	parseErrors int64
	unknown     int64
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	UnknownMessages  int64
}

// NewRouter creates a Router reading from input.
func NewRouter(input <-chan connector.RawMessage, handler Handler, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:  logger,
		input:   input,
		handler: handler,
	}
}

// Start begins routing messages.
func (r *Router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("feed router started")
	return nil
}

// Stop gracefully shuts down the router.
func (r *Router) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("feed router stopped")
	case <-ctx.Done():
		r.logger.Warn("feed router stop timed out")
	}
	return nil
}

// Stats returns current statistics.
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RouterStats{
		MessagesReceived: r.received,
		MessagesRouted:   r.routed,
		ParseErrors:      r.parseErrors,
		UnknownMessages:  r.unknown,
	}
}

func (r *Router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case raw, ok := <-r.input:
			if !ok {
				r.logger.Info("feed input channel closed")
				return
			}
			r.route(raw)
		}
	}
}

// route parses and dispatches a single message. Malformed input is
// dropped and counted; it never reaches book logic.
func (r *Router) route(raw connector.RawMessage) {
	r.bump(&r.received)
	metrics.FeedMessagesReceived.WithLabelValues(raw.Venue).Inc()

	msg, err := Parse(raw.Data, raw.ReceivedAt)
	switch {
	case errors.Is(err, ErrUnknownType):
		// Control frames (subscribe acks etc.) land here.
		r.logger.Debug("skipping message", "venue", raw.Venue, "reason", err)
		r.bump(&r.unknown)
		return
	case err != nil:
		r.logger.Warn("dropping malformed message", "venue", raw.Venue, "error", err)
		r.bump(&r.parseErrors)
		metrics.FeedParseErrors.WithLabelValues(raw.Venue).Inc()
		return
	}

	r.handler.HandleMessage(msg)
	r.bump(&r.routed)
}

func (r *Router) bump(counter *int64) {
	r.mu.Lock()
	*counter++
	r.mu.Unlock()
}
