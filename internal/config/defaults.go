package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAggregateDepth     = 10
	DefaultPingInterval       = 15 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultStreamBufferSize   = 100000
	DefaultInboxSize          = 4096
	DefaultDeltaBufferSize    = 1024
	DefaultStalenessTimeout   = 30 * time.Second
	DefaultResyncTimeout      = 10 * time.Second
	DefaultResyncMaxAttempts  = 5
	DefaultResyncBaseDelay    = 500 * time.Millisecond
	DefaultResyncMaxDelay     = 30 * time.Second
	DefaultFeatureHorizon     = 30 * time.Second
	DefaultListenAddr         = ":8080"
	DefaultServerReadTimeout  = 10 * time.Second
	DefaultServerWriteTimeout = 10 * time.Second
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
)

func (c *Config) applyDefaults() {
	// Books defaults
	if c.Books.AggregateDepth == 0 {
		c.Books.AggregateDepth = DefaultAggregateDepth
	}

	// Stream defaults
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultStreamBufferSize
	}

	// Ingest defaults
	if c.Ingest.InboxSize == 0 {
		c.Ingest.InboxSize = DefaultInboxSize
	}
	if c.Ingest.DeltaBufferSize == 0 {
		c.Ingest.DeltaBufferSize = DefaultDeltaBufferSize
	}
	if c.Ingest.StalenessTimeout == 0 {
		c.Ingest.StalenessTimeout = DefaultStalenessTimeout
	}
	if c.Ingest.ResyncTimeout == 0 {
		c.Ingest.ResyncTimeout = DefaultResyncTimeout
	}
	if c.Ingest.ResyncMaxAttempts == 0 {
		c.Ingest.ResyncMaxAttempts = DefaultResyncMaxAttempts
	}
	if c.Ingest.ResyncBaseDelay == 0 {
		c.Ingest.ResyncBaseDelay = DefaultResyncBaseDelay
	}
	if c.Ingest.ResyncMaxDelay == 0 {
		c.Ingest.ResyncMaxDelay = DefaultResyncMaxDelay
	}

	// Features defaults
	if c.Features.Horizon == 0 {
		c.Features.Horizon = DefaultFeatureHorizon
	}

	// Server defaults
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultServerWriteTimeout
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
