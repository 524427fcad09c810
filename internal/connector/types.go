package connector

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrFeedUnreachable = errors.New("feed unreachable")
)

// RawMessage is a message from a venue stream to the feed router.
type RawMessage struct {
	Data       []byte    // Raw message bytes from the WebSocket
	Venue      string    // Venue this stream belongs to
	ReceivedAt time.Time // Local timestamp when the read returned
}

// subscribeCommand is the wire form of a subscription change.
type subscribeCommand struct {
	Op      string   `json:"op"` // "subscribe" or "unsubscribe"
	Symbols []string `json:"symbols"`
}

// StreamConfig configures one venue stream.
type StreamConfig struct {
	Venue              string        // Venue name used to tag messages
	URL                string        // WebSocket URL
	PingInterval       time.Duration // Keepalive ping cadence
	WriteTimeout       time.Duration // Write deadline for sends
	ReconnectBaseDelay time.Duration // Initial reconnect wait
	ReconnectMaxDelay  time.Duration // Cap on reconnect wait
	BufferSize         int           // Output message channel capacity
}

// DefaultStreamConfig returns sensible defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		PingInterval:       15 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		BufferSize:         100000,
	}
}
