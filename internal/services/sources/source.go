// Package sources implements the drama metadata source adapters. Each
// adapter wraps one rate limiter and acquires it before every network
// operation; adapters hold no other shared state.
package sources

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// DefaultTimeout is the default HTTP timeout for source requests
	DefaultTimeout = 30 * time.Second
)

// newHTTPClient builds the http.Client shared pattern for source adapters
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
	}
}

// BuildSources constructs the enabled source adapters from configuration,
// sorted by priority ascending. Adding a source variant means one
// constructor case here plus a config block; the aggregator is untouched.
func BuildSources(cfg *common.Config, logger arbor.ILogger) ([]interfaces.DramaSource, error) {
	var built []interfaces.DramaSource

	for name, sc := range cfg.Sources {
		if !sc.Enabled {
			logger.Debug().Str("source", name).Msg("Source disabled, skipping")
			continue
		}
		sc.Name = name

		switch name {
		case models.SourceDramaland:
			built = append(built, NewAPISource(sc, logger))
		case models.SourceDramapedia:
			built = append(built, NewWebSource(sc, logger))
		case models.SourceMock:
			built = append(built, NewMockSource(sc, logger))
		default:
			return nil, fmt.Errorf("unknown source %q in configuration", name)
		}
	}

	sort.Slice(built, func(i, j int) bool {
		return built[i].Priority() < built[j].Priority()
	})

	return built, nil
}
