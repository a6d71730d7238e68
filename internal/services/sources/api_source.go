package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/ratelimit"
)

// APISource is the primary adapter: a JSON REST API with an API-key header.
// List responses carry partial records; FetchDetail fills the rest.
type APISource struct {
	name       string
	priority   int
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	logger     arbor.ILogger
}

// Compile-time assertion
var _ interfaces.DramaSource = (*APISource)(nil)

// APISourceOption configures the APISource
type APISourceOption func(*APISource)

// WithHTTPClient sets a custom HTTP client (used by tests)
func WithHTTPClient(httpClient *http.Client) APISourceOption {
	return func(s *APISource) {
		s.httpClient = httpClient
	}
}

// WithLimiter replaces the rate limiter built from configuration
func WithLimiter(limiter *ratelimit.Limiter) APISourceOption {
	return func(s *APISource) {
		s.limiter = limiter
	}
}

// NewAPISource creates the primary API adapter from its descriptor
func NewAPISource(cfg models.SourceConfig, logger arbor.ILogger, opts ...APISourceOption) *APISource {
	s := &APISource{
		name:       cfg.Name,
		priority:   cfg.Priority,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: newHTTPClient(cfg.Timeout),
		limiter:    limiterFromConfig(cfg),
		logger:     logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// limiterFromConfig maps the descriptor's rate to a limiter. Rate 0 in a
// source descriptor means unlimited, not the limiter's degenerate
// block-forever bucket.
func limiterFromConfig(cfg models.SourceConfig) *ratelimit.Limiter {
	if cfg.RateLimit <= 0 {
		return ratelimit.NewUnlimited()
	}
	return ratelimit.New(cfg.RateLimit, cfg.Burst)
}

// Name returns the source identifier
func (s *APISource) Name() string { return s.name }

// Priority returns the merge precedence rank
func (s *APISource) Priority() int { return s.priority }

// apiDrama is the wire shape of one record in the dramaland API
type apiDrama struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	OriginalTitle string   `json:"original_title"`
	Year          int      `json:"year"`
	Rating        float64  `json:"rating"`
	Episodes      int      `json:"episodes"`
	Genres        []string `json:"genres"`
	Directors     []string `json:"directors"`
	Cast          []string `json:"cast"`
	Synopsis      string   `json:"synopsis"`
	Tags          []string `json:"tags"`
	CoverURL      string   `json:"cover_url"`
}

type apiListResponse struct {
	Items []apiDrama `json:"items"`
	Total int        `json:"total"`
}

// FetchList returns up to count partial records from the list endpoint
func (s *APISource) FetchList(ctx context.Context, count int) ([]models.RawRecord, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(count))

	var list apiListResponse
	if err := s.get(ctx, "/api/v1/dramas", params, &list); err != nil {
		return nil, err
	}

	if len(list.Items) == 0 {
		return nil, fmt.Errorf("%s has no records: %w", s.name, ErrSourceExhausted)
	}

	records := make([]models.RawRecord, 0, len(list.Items))
	for _, item := range list.Items {
		records = append(records, s.toRawRecord(item))
	}

	s.logger.Debug().
		Str("source", s.name).
		Int("requested", count).
		Int("returned", len(records)).
		Msg("Fetched drama list")

	return records, nil
}

// FetchDetail returns the full record for one source-local id
func (s *APISource) FetchDetail(ctx context.Context, sourceID string) (models.RawRecord, error) {
	var item apiDrama
	if err := s.get(ctx, "/api/v1/dramas/"+url.PathEscape(sourceID), nil, &item); err != nil {
		return models.RawRecord{}, err
	}
	if item.ID == "" {
		return models.RawRecord{}, fmt.Errorf("%s has no record %s: %w", s.name, sourceID, ErrSourceExhausted)
	}
	return s.toRawRecord(item), nil
}

func (s *APISource) toRawRecord(item apiDrama) models.RawRecord {
	return models.RawRecord{
		Source:        s.name,
		SourceID:      item.ID,
		Title:         item.Title,
		OriginalTitle: item.OriginalTitle,
		Year:          item.Year,
		Rating:        item.Rating,
		EpisodeCount:  item.Episodes,
		Genres:        item.Genres,
		Directors:     item.Directors,
		Cast:          item.Cast,
		Synopsis:      item.Synopsis,
		Tags:          item.Tags,
		CoverURL:      item.CoverURL,
		DetailURL:     s.baseURL + "/api/v1/dramas/" + url.PathEscape(item.ID),
	}
}

// get performs a rate-limited GET against the API
func (s *APISource) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	// Every network operation waits on the source's limiter first
	if err := s.limiter.Acquire(ctx); err != nil {
		return classifyTransport(s.name, err)
	}

	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL = fmt.Sprintf("%s?%s", reqURL, params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	s.logger.Debug().Str("source", s.name).Str("url", reqURL).Msg("API request")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return classifyTransport(s.name, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(s.name, resp.StatusCode, path); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		// A payload the adapter cannot parse will not improve on retry
		return fmt.Errorf("%s returned malformed payload on %s: %v: %w", s.name, path, err, ErrSourceRejected)
	}

	return nil
}
