package connector

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

// Stream is one venue's WebSocket connection. It reconnects on failure
// and replays the tracked subscription set after each reconnect.
type Stream struct {
	cfg    StreamConfig
	logger *slog.Logger

	// Output to the feed router
	messages chan RawMessage

	// Tracked subscriptions, replayed on reconnect
	subMu   sync.Mutex
	symbols map[string]struct{}

	// Current connection
	connMu  sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewStream creates a Stream for one venue.
func NewStream(cfg StreamConfig, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		cfg:      cfg,
		logger:   logger.With("venue", cfg.Venue),
		messages: make(chan RawMessage, cfg.BufferSize),
		symbols:  make(map[string]struct{}),
	}
}

// Start launches the connect/read/reconnect loop.
func (s *Stream) Start(ctx context.Context) error {
	s.connMu.Lock()
	if s.closed {
		s.connMu.Unlock()
		return ErrAlreadyClosed
	}
	s.connMu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.runLoop()

	s.logger.Info("venue stream started", "url", s.cfg.URL)
	return nil
}

// Stop closes the connection and waits for goroutines to finish.
func (s *Stream) Stop(ctx context.Context) error {
	s.connMu.Lock()
	s.closed = true
	conn := s.conn
	s.connMu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("venue stream stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages returns the raw message channel.
func (s *Stream) Messages() <-chan RawMessage {
	return s.messages
}

// Subscribe adds a symbol to the tracked set and, when connected, sends
// the subscribe command immediately.
func (s *Stream) Subscribe(symbol string) error {
	s.subMu.Lock()
	s.symbols[symbol] = struct{}{}
	s.subMu.Unlock()

	if !s.IsConnected() {
		// The runLoop replays the set once the connection is up.
		return ErrFeedUnreachable
	}
	return s.sendCommand(subscribeCommand{Op: "subscribe", Symbols: []string{symbol}})
}

// Unsubscribe removes a symbol from the tracked set.
func (s *Stream) Unsubscribe(symbol string) error {
	s.subMu.Lock()
	delete(s.symbols, symbol)
	s.subMu.Unlock()

	if !s.IsConnected() {
		return nil
	}
	return s.sendCommand(subscribeCommand{Op: "unsubscribe", Symbols: []string{symbol}})
}

// IsConnected reports whether a live connection is up.
func (s *Stream) IsConnected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn != nil
}

// runLoop dials, reads until failure, and reconnects with backoff.
func (s *Stream) runLoop() {
	defer s.wg.Done()

	b := &backoff.Backoff{
		Min:    s.cfg.ReconnectBaseDelay,
		Max:    s.cfg.ReconnectMaxDelay,
		Jitter: true,
	}

	for {
		if s.ctx.Err() != nil {
			return
		}

		conn, err := s.dial()
		if err != nil {
			wait := b.Duration()
			s.logger.Warn("dial failed", "error", err, "retry_in", wait)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		b.Reset()

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()

		if err := s.resubscribe(); err != nil {
			s.logger.Warn("resubscribe failed", "error", err)
		}

		pingDone := make(chan struct{})
		s.wg.Add(1)
		go s.pingLoop(conn, pingDone)

		s.readUntilError(conn)
		close(pingDone)

		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		conn.Close()
	}
}

func (s *Stream) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(s.ctx, s.cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	return conn, nil
}

// readUntilError pumps messages into the output channel until the
// connection dies. A full buffer drops the message rather than stalling
// the read loop.
func (s *Stream) readUntilError(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Warn("read failed, reconnecting", "error", err)
			}
			return
		}

		msg := RawMessage{Data: data, Venue: s.cfg.Venue, ReceivedAt: receivedAt}
		select {
		case s.messages <- msg:
		case <-s.ctx.Done():
			return
		default:
			s.logger.Warn("message buffer full, dropping message")
		}
	}
}

func (s *Stream) pingLoop(conn *websocket.Conn, done chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				s.logger.Debug("ping failed", "error", err)
			}
		}
	}
}

func (s *Stream) resubscribe() error {
	s.subMu.Lock()
	symbols := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		symbols = append(symbols, sym)
	}
	s.subMu.Unlock()

	if len(symbols) == 0 {
		return nil
	}
	return s.sendCommand(subscribeCommand{Op: "subscribe", Symbols: symbols})
}

func (s *Stream) sendCommand(cmd subscribeCommand) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
