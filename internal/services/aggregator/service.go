// Package aggregator fans a collection request out across the configured
// source adapters, applies per-source retry and timeout policy, and merges
// the raw yields into deduplicated canonical records with completeness
// scores.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/sources"
	"github.com/ternarybob/colligo/internal/services/workers"
)

// ErrAllSourcesFailed is returned when every selected source failed. Partial
// failure never surfaces as an error; it is reported in the error list.
var ErrAllSourcesFailed = errors.New("all sources failed")

// Service implements AggregatorService over a fixed set of source adapters
type Service struct {
	sources []interfaces.DramaSource
	configs map[string]models.SourceConfig
	logger  arbor.ILogger

	mu     sync.RWMutex
	status map[string]bool // availability observed on the last run
}

// UpdateSources swaps the adapter set and descriptors after a config reload.
// A fan-out already in flight finishes against the old set.
func (s *Service) UpdateSources(srcs []interfaces.DramaSource, configs map[string]models.SourceConfig) {
	s.mu.Lock()
	s.sources = srcs
	s.configs = configs
	s.mu.Unlock()
}

// sourceConfig returns one source's descriptor under the read lock
func (s *Service) sourceConfig(name string) models.SourceConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configs[name]
}

var _ interfaces.AggregatorService = (*Service)(nil)

// NewService creates the aggregator over the given adapters. Adapter
// settings (retries, timeouts, detail workers) come from the matching
// source descriptor in configs.
func NewService(srcs []interfaces.DramaSource, configs map[string]models.SourceConfig, logger arbor.ILogger) *Service {
	return &Service{
		sources: srcs,
		configs: configs,
		logger:  logger,
		status:  make(map[string]bool),
	}
}

// sourceYield is one source's outcome from the fan-out
type sourceYield struct {
	source     string
	records    []models.RawRecord
	detailErrs []models.SourceError
	err        error
}

// Collect runs the full fan-out, merge and scoring pipeline. It returns the
// canonical records sorted by completeness descending plus the per-source
// error list. Only total source failure returns a non-nil error.
func (s *Service) Collect(ctx context.Context, requestedCount int, enabledSources []string) ([]models.DramaRecord, []models.SourceError, error) {
	if requestedCount <= 0 {
		return nil, nil, fmt.Errorf("requested count must be positive, got %d", requestedCount)
	}

	selected := s.selectSources(enabledSources)
	if len(selected) == 0 {
		return nil, nil, fmt.Errorf("no enabled sources selected: %w", ErrAllSourcesFailed)
	}

	s.logger.Info().
		Int("requested", requestedCount).
		Int("sources", len(selected)).
		Msg("Starting collection fan-out")

	// Fan out one fetch per source; results land in fixed slots so later
	// processing is deterministic regardless of completion order
	yields := make([]sourceYield, len(selected))
	var wg sync.WaitGroup
	for i, src := range selected {
		wg.Add(1)
		go func(i int, src interfaces.DramaSource) {
			defer wg.Done()
			records, detailErrs, err := s.fetchFromSource(ctx, src, requestedCount)
			yields[i] = sourceYield{source: src.Name(), records: records, detailErrs: detailErrs, err: err}
		}(i, src)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	// Process yields in priority order so merge precedence and first-seen
	// ordering are reproducible
	var sourceErrors []models.SourceError
	reachable := 0
	d := newDeduper()
	for i, y := range yields {
		if y.err != nil {
			if errors.Is(y.err, sources.ErrSourceExhausted) {
				s.logger.Debug().Str("source", y.source).Msg("Source exhausted, nothing to collect")
				s.setStatus(y.source, true)
				reachable++
				continue
			}
			s.logger.Warn().Str("source", y.source).Err(y.err).Msg("Source failed, continuing down fallback chain")
			sourceErrors = append(sourceErrors, models.SourceError{
				Source:    y.source,
				Message:   y.err.Error(),
				Timestamp: time.Now(),
			})
			s.setStatus(y.source, false)
			continue
		}

		s.setStatus(y.source, true)
		reachable++
		// Failed detail fetches are non-fatal but still reported
		sourceErrors = append(sourceErrors, y.detailErrs...)
		priority := selected[i].Priority()
		for _, record := range y.records {
			d.add(record, priority)
		}
	}

	if reachable == 0 {
		return nil, sourceErrors, fmt.Errorf("%d sources, %d errors: %w", len(selected), len(sourceErrors), ErrAllSourcesFailed)
	}

	merged := make([]models.DramaRecord, 0, len(d.groups))
	for _, g := range d.groups {
		merged = append(merged, g.merge())
	}
	result := rankAndTruncate(merged, requestedCount)

	s.logger.Info().
		Int("requested", requestedCount).
		Int("merged", len(merged)).
		Int("returned", len(result)).
		Int("source_errors", len(sourceErrors)).
		Msg("Collection fan-out complete")

	return result, sourceErrors, nil
}

// SourceStatus reports per-source availability observed on the last run
func (s *Service) SourceStatus() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(s.status))
	for name, ok := range s.status {
		out[name] = ok
	}
	return out
}

func (s *Service) setStatus(name string, ok bool) {
	s.mu.Lock()
	s.status[name] = ok
	s.mu.Unlock()
}

// selectSources filters the adapter set by name and sorts by priority
func (s *Service) selectSources(enabledSources []string) []interfaces.DramaSource {
	s.mu.RLock()
	srcs := s.sources
	s.mu.RUnlock()

	var selected []interfaces.DramaSource
	if len(enabledSources) == 0 {
		selected = append(selected, srcs...)
	} else {
		want := make(map[string]bool, len(enabledSources))
		for _, name := range enabledSources {
			want[name] = true
		}
		for _, src := range srcs {
			if want[src.Name()] {
				selected = append(selected, src)
			}
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Priority() < selected[j].Priority()
	})
	return selected
}

// fetchFromSource runs the retried list fetch plus detail enrichment for
// one source
func (s *Service) fetchFromSource(ctx context.Context, src interfaces.DramaSource, count int) ([]models.RawRecord, []models.SourceError, error) {
	cfg := s.sourceConfig(src.Name())
	policy := sources.NewRetryPolicy(cfg.MaxRetries, cfg.RetryDelay)

	var list []models.RawRecord
	err := policy.Execute(ctx, s.logger, func() error {
		callCtx, cancel := s.callContext(ctx, cfg)
		defer cancel()

		var fetchErr error
		list, fetchErr = src.FetchList(callCtx, count)
		return fetchErr
	})
	if err != nil {
		return nil, nil, err
	}

	detailErrs := s.enrich(ctx, src, cfg, list)
	return list, detailErrs, nil
}

// enrich fills partial list records via detail fetches, bounded by the
// source's detail worker count. Enrichment is best effort: a failed detail
// fetch keeps the partial record and is reported as a non-fatal source
// error.
func (s *Service) enrich(ctx context.Context, src interfaces.DramaSource, cfg models.SourceConfig, records []models.RawRecord) []models.SourceError {
	var pending []int
	for i := range records {
		if records[i].SourceID == "" {
			continue
		}
		if records[i].PopulatedFieldCount() >= models.ExpectedFieldCount {
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return nil
	}

	s.logger.Debug().
		Str("source", src.Name()).
		Int("pending", len(pending)).
		Int("workers", cfg.DetailWorkers).
		Msg("Enriching partial records with detail fetches")

	pool := workers.NewPool(ctx, cfg.DetailWorkers, s.logger)
	pool.Start()
	for _, idx := range pending {
		idx := idx
		err := pool.Submit(func(taskCtx context.Context) error {
			policy := sources.NewRetryPolicy(cfg.MaxRetries, cfg.RetryDelay)

			var detail models.RawRecord
			err := policy.Execute(taskCtx, s.logger, func() error {
				callCtx, cancel := s.callContext(taskCtx, cfg)
				defer cancel()

				var fetchErr error
				detail, fetchErr = src.FetchDetail(callCtx, records[idx].SourceID)
				return fetchErr
			})
			if err != nil {
				return fmt.Errorf("%s detail %s: %w", src.Name(), records[idx].SourceID, err)
			}

			records[idx] = mergeDetail(records[idx], detail)
			return nil
		})
		if err != nil {
			// Pool cancelled; remaining records stay partial
			s.logger.Debug().Str("source", src.Name()).Err(err).Msg("Detail fetch not queued")
			break
		}
	}
	pool.Wait()

	errs := pool.Errors()
	if len(errs) == 0 {
		return nil
	}

	s.logger.Warn().
		Str("source", src.Name()).
		Int("failed", len(errs)).
		Int("attempted", len(pending)).
		Msg("Some detail fetches failed, keeping partial records")

	detailErrs := make([]models.SourceError, 0, len(errs))
	for _, err := range errs {
		detailErrs = append(detailErrs, models.SourceError{
			Source:    src.Name(),
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
	}
	return detailErrs
}

// callContext bounds a single adapter call with the source's timeout
func (s *Service) callContext(ctx context.Context, cfg models.SourceConfig) (context.Context, context.CancelFunc) {
	if cfg.Timeout > 0 {
		return context.WithTimeout(ctx, cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// mergeDetail folds a detail response over its list record. Both come from
// the same source; the detail page wins wherever it is populated.
func mergeDetail(base, detail models.RawRecord) models.RawRecord {
	out := detail
	out.Source = base.Source
	if out.SourceID == "" {
		out.SourceID = base.SourceID
	}
	if out.Title == "" {
		out.Title = base.Title
	}
	if out.OriginalTitle == "" {
		out.OriginalTitle = base.OriginalTitle
	}
	if out.Year == 0 {
		out.Year = base.Year
	}
	if out.Rating == 0 {
		out.Rating = base.Rating
	}
	if out.EpisodeCount == 0 {
		out.EpisodeCount = base.EpisodeCount
	}
	if len(out.Genres) == 0 {
		out.Genres = base.Genres
	}
	if len(out.Directors) == 0 {
		out.Directors = base.Directors
	}
	if len(out.Cast) == 0 {
		out.Cast = base.Cast
	}
	if out.Synopsis == "" {
		out.Synopsis = base.Synopsis
	}
	if len(out.Tags) == 0 {
		out.Tags = base.Tags
	}
	if out.CoverURL == "" {
		out.CoverURL = base.CoverURL
	}
	if out.DetailURL == "" {
		out.DetailURL = base.DetailURL
	}
	return out
}
