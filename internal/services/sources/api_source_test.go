package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/models"
)

func newTestAPISource(server *httptest.Server, opts ...APISourceOption) *APISource {
	cfg := models.SourceConfig{
		Name:     models.SourceDramaland,
		Priority: 1,
		BaseURL:  server.URL,
		APIKey:   "test-key",
		Timeout:  5 * time.Second,
	}
	return NewAPISource(cfg, arbor.NewLogger(), opts...)
}

func TestAPISourceFetchList(t *testing.T) {
	var gotPath, gotLimit, gotAPIKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLimit = r.URL.Query().Get("limit")
		gotAPIKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"items": [
				{"id": "35267208", "title": "霸道总裁爱上我", "year": 2024, "rating": 8.2, "episodes": 24, "genres": ["都市", "爱情"]},
				{"id": "35267209", "title": "古装甜宠：王爷的小娇妻", "year": 2024, "rating": 7.8, "episodes": 30}
			],
			"total": 2
		}`))
	}))
	defer server.Close()

	source := newTestAPISource(server)
	records, err := source.FetchList(context.Background(), 3)
	if err != nil {
		t.Fatalf("FetchList() error = %v", err)
	}

	if gotPath != "/api/v1/dramas" {
		t.Errorf("Expected path /api/v1/dramas, got %s", gotPath)
	}
	if gotLimit != "3" {
		t.Errorf("Expected limit=3, got %s", gotLimit)
	}
	if gotAPIKey != "test-key" {
		t.Errorf("Expected X-API-Key header, got %q", gotAPIKey)
	}

	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	first := records[0]
	if first.Source != models.SourceDramaland {
		t.Errorf("Expected source %s, got %s", models.SourceDramaland, first.Source)
	}
	if first.SourceID != "35267208" {
		t.Errorf("Expected source id 35267208, got %s", first.SourceID)
	}
	if first.Title != "霸道总裁爱上我" {
		t.Errorf("Unexpected title %s", first.Title)
	}
	if first.Year != 2024 || first.Rating != 8.2 || first.EpisodeCount != 24 {
		t.Errorf("Unexpected numeric fields: year=%d rating=%f episodes=%d", first.Year, first.Rating, first.EpisodeCount)
	}
	if len(first.Genres) != 2 {
		t.Errorf("Expected 2 genres, got %v", first.Genres)
	}
	if first.DetailURL == "" {
		t.Error("Expected detail URL to be set")
	}
}

func TestAPISourceFetchDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/dramas/35267210" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "35267210",
			"title": "重生之娱乐圈女王",
			"original_title": "重生之娛樂圈女王",
			"year": 2024,
			"rating": 8.5,
			"episodes": 36,
			"genres": ["都市", "励志"],
			"directors": ["刘强"],
			"cast": ["林诗雨", "顾北辰"],
			"synopsis": "影后重生回到出道前夜。",
			"tags": ["重生"],
			"cover_url": "https://cdn.example.com/35267210.jpg"
		}`))
	}))
	defer server.Close()

	source := newTestAPISource(server)
	record, err := source.FetchDetail(context.Background(), "35267210")
	if err != nil {
		t.Fatalf("FetchDetail() error = %v", err)
	}

	if record.Title != "重生之娱乐圈女王" {
		t.Errorf("Unexpected title %s", record.Title)
	}
	if record.OriginalTitle != "重生之娛樂圈女王" {
		t.Errorf("Unexpected original title %s", record.OriginalTitle)
	}
	if record.Synopsis == "" || record.CoverURL == "" {
		t.Error("Expected synopsis and cover URL to be populated")
	}
	if got := record.PopulatedFieldCount(); got != 10 {
		t.Errorf("Expected 10 populated fields, got %d", got)
	}
}

func TestAPISourceEmptyListExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items": [], "total": 0}`))
	}))
	defer server.Close()

	source := newTestAPISource(server)
	_, err := source.FetchList(context.Background(), 5)
	if !errors.Is(err, ErrSourceExhausted) {
		t.Fatalf("FetchList() error = %v, want ErrSourceExhausted", err)
	}
}

func TestAPISourceStatusClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"request timeout", http.StatusRequestTimeout, ErrSourceUnavailable},
		{"rate limited", http.StatusTooManyRequests, ErrSourceUnavailable},
		{"server error", http.StatusInternalServerError, ErrSourceUnavailable},
		{"bad gateway", http.StatusBadGateway, ErrSourceUnavailable},
		{"bad request", http.StatusBadRequest, ErrSourceRejected},
		{"unauthorized", http.StatusUnauthorized, ErrSourceRejected},
		{"forbidden", http.StatusForbidden, ErrSourceRejected},
		{"not found", http.StatusNotFound, ErrSourceRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			source := newTestAPISource(server)
			_, err := source.FetchList(context.Background(), 5)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("FetchList() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAPISourceMalformedPayloadRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items": [{"id": `))
	}))
	defer server.Close()

	source := newTestAPISource(server)
	_, err := source.FetchList(context.Background(), 5)
	if !errors.Is(err, ErrSourceRejected) {
		t.Fatalf("FetchList() error = %v, want ErrSourceRejected", err)
	}
}

func TestAPISourceTimeoutUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	source := newTestAPISource(server, WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	_, err := source.FetchList(context.Background(), 5)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("FetchList() error = %v, want ErrSourceUnavailable", err)
	}
}

func TestAPISourceContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items": [], "total": 0}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := newTestAPISource(server)
	_, err := source.FetchList(ctx, 5)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("FetchList() error = %v, want context.Canceled", err)
	}
}
