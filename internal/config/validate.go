package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if len(c.Venues) == 0 {
		return errors.New("at least one venue is required")
	}
	seen := make(map[string]struct{}, len(c.Venues))
	for i, v := range c.Venues {
		if err := v.validate(fmt.Sprintf("venues[%d]", i)); err != nil {
			return err
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("venues[%d]: duplicate venue name %q", i, v.Name)
		}
		seen[v.Name] = struct{}{}
	}

	if c.Books.MaxDepth < 0 {
		return errors.New("books.max_depth must be >= 0")
	}
	if c.Books.AggregateDepth < 1 {
		return errors.New("books.aggregate_depth must be >= 1")
	}

	if c.Ingest.InboxSize < 1 {
		return errors.New("ingest.inbox_size must be >= 1")
	}
	if c.Ingest.DeltaBufferSize < 1 {
		return errors.New("ingest.delta_buffer_size must be >= 1")
	}
	if c.Ingest.ResyncMaxAttempts < 1 {
		return errors.New("ingest.resync_max_attempts must be >= 1")
	}
	if c.Ingest.ResyncBaseDelay > c.Ingest.ResyncMaxDelay {
		return fmt.Errorf("ingest.resync_base_delay (%s) cannot exceed resync_max_delay (%s)",
			c.Ingest.ResyncBaseDelay, c.Ingest.ResyncMaxDelay)
	}

	if c.Features.Horizon <= 0 {
		return errors.New("features.horizon must be positive")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (v *VenueConfig) validate(prefix string) error {
	if v.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if v.WSURL == "" {
		return fmt.Errorf("%s.ws_url is required", prefix)
	}
	if v.RestURL == "" {
		return fmt.Errorf("%s.rest_url is required", prefix)
	}
	return nil
}
