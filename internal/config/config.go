package config

import "time"

// Config is the root configuration for a bookfeed instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Venues   []VenueConfig  `yaml:"venues"`
	Books    BooksConfig    `yaml:"books"`
	Stream   StreamConfig   `yaml:"stream"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Features FeaturesConfig `yaml:"features"`
	Server   ServerConfig   `yaml:"server"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this engine instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// VenueConfig holds one venue's feed endpoints.
type VenueConfig struct {
	Name    string   `yaml:"name"`
	WSURL   string   `yaml:"ws_url"`
	RestURL string   `yaml:"rest_url"`
	Symbols []string `yaml:"symbols"` // Subscribed at startup
}

// BooksConfig holds order book settings.
type BooksConfig struct {
	MaxDepth       int `yaml:"max_depth"`       // 0 keeps full venue depth
	AggregateDepth int `yaml:"aggregate_depth"` // Top-K levels for imbalance
}

// StreamConfig holds WebSocket stream settings shared by all venues.
type StreamConfig struct {
	PingInterval       time.Duration `yaml:"ping_interval"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	BufferSize         int           `yaml:"buffer_size"`
}

// IngestConfig holds per-book ingestion settings.
type IngestConfig struct {
	InboxSize         int           `yaml:"inbox_size"`
	DeltaBufferSize   int           `yaml:"delta_buffer_size"`
	StalenessTimeout  time.Duration `yaml:"staleness_timeout"`
	ResyncTimeout     time.Duration `yaml:"resync_timeout"`
	ResyncMaxAttempts int           `yaml:"resync_max_attempts"`
	ResyncBaseDelay   time.Duration `yaml:"resync_base_delay"`
	ResyncMaxDelay    time.Duration `yaml:"resync_max_delay"`
}

// FeaturesConfig holds fast-path feature window settings.
type FeaturesConfig struct {
	Horizon  time.Duration `yaml:"horizon"`
	PerVenue bool          `yaml:"per_venue"` // Windows keyed by venue+symbol instead of symbol
}

// ServerConfig holds the HTTP query API settings.
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
