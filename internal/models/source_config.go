package models

import (
	"fmt"
	"time"
)

// Source name constants
const (
	SourceDramaland  = "dramaland"  // primary JSON API
	SourceDramapedia = "dramapedia" // web fallback, scraped
	SourceMock       = "mock"       // deterministic fixture source
)

// SourceConfig is the static descriptor for one source adapter. Owned by
// configuration; read-only to the aggregator.
type SourceConfig struct {
	// Name is filled from the config map key when sources are built
	Name     string `toml:"-" json:"name"`
	Enabled  bool   `toml:"enabled" json:"enabled"`
	Priority int    `toml:"priority" json:"priority"` // lower = tried first

	// RateLimit is requests per second; 0 means unlimited
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	Burst     int     `toml:"burst" json:"burst"` // 0 = derived from rate

	MaxRetries int           `toml:"max_retries" json:"max_retries"`
	RetryDelay time.Duration `toml:"retry_delay" json:"retry_delay"` // initial backoff
	Timeout    time.Duration `toml:"timeout" json:"timeout"`         // per network call

	// DetailWorkers bounds concurrent detail fetches for this source
	DetailWorkers int `toml:"detail_workers" json:"detail_workers"`

	// Variant-specific settings
	BaseURL        string `toml:"base_url" json:"base_url,omitempty"`
	APIKey         string `toml:"api_key" json:"-"`
	RenderFallback bool   `toml:"render_fallback" json:"render_fallback,omitempty"` // headless render when static HTML yields nothing
}

// Validate checks the descriptor for values that would misbehave at runtime
func (s *SourceConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("source name is required")
	}
	if s.Priority < 0 {
		return fmt.Errorf("source %s: priority must be non-negative", s.Name)
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("source %s: rate limit must be non-negative", s.Name)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("source %s: max retries must be non-negative", s.Name)
	}
	if s.RetryDelay < 0 {
		return fmt.Errorf("source %s: retry delay must be non-negative", s.Name)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("source %s: timeout must be positive", s.Name)
	}
	return nil
}

// Redacted returns a copy safe for API responses (API key stripped)
func (s SourceConfig) Redacted() SourceConfig {
	s.APIKey = ""
	return s
}
