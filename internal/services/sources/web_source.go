package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/ratelimit"
)

// WebSource is the web-fallback adapter: it scrapes the dramapedia listing
// and detail pages. When the static page yields no items and the render
// fallback is enabled, the page is re-fetched through headless Chrome before
// parsing.
type WebSource struct {
	name           string
	priority       int
	baseURL        string
	renderFallback bool
	httpClient     *http.Client
	limiter        *ratelimit.Limiter
	converter      *md.Converter
	logger         arbor.ILogger

	// renderPage is swappable so tests do not need a browser
	renderPage func(ctx context.Context, pageURL string) (string, error)
}

// Compile-time assertion
var _ interfaces.DramaSource = (*WebSource)(nil)

// WebSourceOption configures the WebSource
type WebSourceOption func(*WebSource)

// WithWebHTTPClient sets a custom HTTP client (used by tests)
func WithWebHTTPClient(httpClient *http.Client) WebSourceOption {
	return func(s *WebSource) {
		s.httpClient = httpClient
	}
}

// NewWebSource creates the scraping adapter from its descriptor
func NewWebSource(cfg models.SourceConfig, logger arbor.ILogger, opts ...WebSourceOption) *WebSource {
	s := &WebSource{
		name:           cfg.Name,
		priority:       cfg.Priority,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		renderFallback: cfg.RenderFallback,
		httpClient:     newHTTPClient(cfg.Timeout),
		limiter:        limiterFromConfig(cfg),
		converter:      md.NewConverter(cfg.BaseURL, true, nil),
		logger:         logger,
	}
	s.renderPage = renderWithBrowser

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the source identifier
func (s *WebSource) Name() string { return s.name }

// Priority returns the merge precedence rank
func (s *WebSource) Priority() int { return s.priority }

// FetchList scrapes the listing page for up to count records
func (s *WebSource) FetchList(ctx context.Context, count int) ([]models.RawRecord, error) {
	pageURL := fmt.Sprintf("%s/dramas?limit=%d", s.baseURL, count)

	doc, err := s.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	records := s.parseList(doc, count)

	if len(records) == 0 && s.renderFallback {
		s.logger.Debug().
			Str("source", s.name).
			Str("url", pageURL).
			Msg("Static page yielded no items, rendering with browser")

		html, renderErr := s.renderPage(ctx, pageURL)
		if renderErr != nil {
			return nil, fmt.Errorf("%s render fallback failed: %v: %w", s.name, renderErr, ErrSourceUnavailable)
		}
		rendered, parseErr := goquery.NewDocumentFromReader(strings.NewReader(html))
		if parseErr != nil {
			return nil, fmt.Errorf("%s rendered page unparseable: %v: %w", s.name, parseErr, ErrSourceRejected)
		}
		records = s.parseList(rendered, count)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%s listing is empty: %w", s.name, ErrSourceExhausted)
	}

	s.logger.Debug().
		Str("source", s.name).
		Int("requested", count).
		Int("returned", len(records)).
		Msg("Scraped drama list")

	return records, nil
}

// FetchDetail scrapes one detail page into a full record
func (s *WebSource) FetchDetail(ctx context.Context, sourceID string) (models.RawRecord, error) {
	pageURL := fmt.Sprintf("%s/dramas/%s", s.baseURL, url.PathEscape(sourceID))

	doc, err := s.fetchDocument(ctx, pageURL)
	if err != nil {
		return models.RawRecord{}, err
	}

	record := models.RawRecord{
		Source:    s.name,
		SourceID:  sourceID,
		DetailURL: pageURL,
	}

	record.Title = strings.TrimSpace(doc.Find("h1.title").First().Text())
	if record.Title == "" {
		return models.RawRecord{}, fmt.Errorf("%s has no page for %s: %w", s.name, sourceID, ErrSourceExhausted)
	}
	record.OriginalTitle = strings.TrimSpace(doc.Find("span.original-title").First().Text())
	record.Year = parseIntText(doc.Find("span.year").First().Text())
	record.Rating = parseFloatText(doc.Find("span.rating").First().Text())
	record.EpisodeCount = parseIntText(doc.Find("span.episodes").First().Text())
	record.Genres = selectionTexts(doc.Find("ul.genres li"))
	record.Directors = selectionTexts(doc.Find("ul.directors li"))
	record.Cast = selectionTexts(doc.Find("ul.cast li"))
	record.Tags = selectionTexts(doc.Find("ul.tags li"))
	if cover, ok := doc.Find("img.cover").First().Attr("src"); ok {
		record.CoverURL = s.absoluteURL(cover)
	}

	// The synopsis block is rich HTML; keep it as markdown text
	if synopsis := doc.Find("div.synopsis").First(); synopsis.Length() > 0 {
		if html, err := synopsis.Html(); err == nil {
			record.Synopsis = s.htmlToText(html)
		}
	}

	return record, nil
}

// parseList extracts partial records from the listing markup
func (s *WebSource) parseList(doc *goquery.Document, count int) []models.RawRecord {
	var records []models.RawRecord

	doc.Find("ul.drama-list li.drama-item").EachWithBreak(func(_ int, item *goquery.Selection) bool {
		titleLink := item.Find("a.title").First()
		title := strings.TrimSpace(titleLink.Text())
		href, _ := titleLink.Attr("href")
		id := idFromPath(href)
		if title == "" || id == "" {
			return true
		}

		record := models.RawRecord{
			Source:    s.name,
			SourceID:  id,
			Title:     title,
			Year:      parseIntText(item.Find("span.year").First().Text()),
			Rating:    parseFloatText(item.Find("span.rating").First().Text()),
			DetailURL: s.absoluteURL(href),
		}
		if cover, ok := item.Find("img.cover").First().Attr("src"); ok {
			record.CoverURL = s.absoluteURL(cover)
		}

		records = append(records, record)
		return len(records) < count
	})

	return records
}

// fetchDocument performs a rate-limited GET and parses the response body
func (s *WebSource) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, classifyTransport(s.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	s.logger.Debug().Str("source", s.name).Str("url", pageURL).Msg("Scrape request")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(s.name, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(s.name, resp.StatusCode, pageURL); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s returned unparseable HTML: %v: %w", s.name, err, ErrSourceRejected)
	}

	return doc, nil
}

// htmlToText converts a synopsis HTML fragment to markdown, falling back to
// the raw text when conversion fails or comes back empty
func (s *WebSource) htmlToText(html string) string {
	converted, err := s.converter.ConvertString(html)
	if err != nil || strings.TrimSpace(converted) == "" {
		doc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(html))
		if parseErr != nil {
			return strings.TrimSpace(html)
		}
		return strings.TrimSpace(doc.Text())
	}
	return strings.TrimSpace(converted)
}

func (s *WebSource) absoluteURL(href string) string {
	if href == "" || strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return s.baseURL + "/" + strings.TrimLeft(href, "/")
}

// idFromPath extracts the source-local id from a detail link
func idFromPath(href string) string {
	trimmed := strings.TrimRight(href, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}

func selectionTexts(sel *goquery.Selection) []string {
	var texts []string
	sel.Each(func(_ int, item *goquery.Selection) {
		if text := strings.TrimSpace(item.Text()); text != "" {
			texts = append(texts, text)
		}
	})
	return texts
}

func parseIntText(text string) int {
	value, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0
	}
	return value
}

func parseFloatText(text string) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0
	}
	return value
}
