package sources

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/ratelimit"
)

// MockSource serves a fixed catalog from memory. It backs development and
// tests, and doubles as the always-available fallback at the bottom of the
// priority chain.
type MockSource struct {
	name     string
	priority int
	limiter  *ratelimit.Limiter
	logger   arbor.ILogger
	catalog  []models.RawRecord
}

var _ interfaces.DramaSource = (*MockSource)(nil)

// NewMockSource creates the in-memory adapter from its descriptor
func NewMockSource(cfg models.SourceConfig, logger arbor.ILogger) *MockSource {
	return &MockSource{
		name:     cfg.Name,
		priority: cfg.Priority,
		limiter:  limiterFromConfig(cfg),
		logger:   logger,
		catalog:  mockCatalog(cfg.Name),
	}
}

// Name returns the source identifier
func (s *MockSource) Name() string { return s.name }

// Priority returns the merge precedence rank
func (s *MockSource) Priority() int { return s.priority }

// FetchList returns up to count catalog records
func (s *MockSource) FetchList(ctx context.Context, count int) ([]models.RawRecord, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, classifyTransport(s.name, err)
	}

	if count > len(s.catalog) {
		count = len(s.catalog)
	}
	records := make([]models.RawRecord, count)
	for i := 0; i < count; i++ {
		records[i] = cloneRawRecord(s.catalog[i])
	}

	s.logger.Debug().
		Str("source", s.name).
		Int("returned", len(records)).
		Msg("Served mock drama list")

	return records, nil
}

// FetchDetail returns the catalog record with the given id
func (s *MockSource) FetchDetail(ctx context.Context, sourceID string) (models.RawRecord, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return models.RawRecord{}, classifyTransport(s.name, err)
	}

	for _, record := range s.catalog {
		if record.SourceID == sourceID {
			return cloneRawRecord(record), nil
		}
	}

	return models.RawRecord{}, fmt.Errorf("%s has no record %s: %w", s.name, sourceID, ErrSourceExhausted)
}

func cloneRawRecord(r models.RawRecord) models.RawRecord {
	clone := r
	clone.Genres = append([]string(nil), r.Genres...)
	clone.Directors = append([]string(nil), r.Directors...)
	clone.Cast = append([]string(nil), r.Cast...)
	clone.Tags = append([]string(nil), r.Tags...)
	return clone
}

// mockCatalog builds the fixed five-title catalog stamped with the
// configured source name
func mockCatalog(source string) []models.RawRecord {
	return []models.RawRecord{
		{
			Source:       source,
			SourceID:     "35267208",
			Title:        "霸道总裁爱上我",
			Year:         2024,
			Rating:       8.2,
			EpisodeCount: 24,
			Genres:       []string{"都市", "爱情"},
			Directors:    []string{"张伟"},
			Cast:         []string{"李晨曦", "王子睿"},
			Synopsis:     "平凡女孩意外卷入商业帝国的继承风波，冷面总裁的心防逐渐瓦解。",
			Tags:         []string{"甜宠", "逆袭"},
			CoverURL:     "https://mock.colligo.local/covers/35267208.jpg",
			DetailURL:    "https://mock.colligo.local/dramas/35267208",
		},
		{
			Source:       source,
			SourceID:     "35267209",
			Title:        "古装甜宠：王爷的小娇妻",
			Year:         2024,
			Rating:       7.8,
			EpisodeCount: 30,
			Genres:       []string{"古装", "爱情"},
			Directors:    []string{"陈静"},
			Cast:         []string{"苏婉儿", "赵临渊"},
			Synopsis:     "现代医学生穿越成将军府庶女，与腹黑王爷斗智斗勇终成眷属。",
			Tags:         []string{"穿越", "甜宠"},
			CoverURL:     "https://mock.colligo.local/covers/35267209.jpg",
			DetailURL:    "https://mock.colligo.local/dramas/35267209",
		},
		{
			Source:       source,
			SourceID:     "35267210",
			Title:        "重生之娱乐圈女王",
			Year:         2024,
			Rating:       8.5,
			EpisodeCount: 36,
			Genres:       []string{"都市", "励志"},
			Directors:    []string{"刘强"},
			Cast:         []string{"林诗雨", "顾北辰"},
			Synopsis:     "影后重生回到出道前夜，带着记忆重走星途，揭开当年陷害真相。",
			Tags:         []string{"重生", "娱乐圈"},
			CoverURL:     "https://mock.colligo.local/covers/35267210.jpg",
			DetailURL:    "https://mock.colligo.local/dramas/35267210",
		},
		{
			Source:       source,
			SourceID:     "35267211",
			Title:        "校园恋爱物语",
			Year:         2024,
			Rating:       7.6,
			EpisodeCount: 20,
			Genres:       []string{"校园", "青春"},
			Directors:    []string{"周明"},
			Cast:         []string{"夏小橙", "江逾白"},
			Synopsis:     "转学生与学霸同桌从互怼到互助，青涩心动在毕业季悄然萌芽。",
			Tags:         []string{"青春", "治愈"},
			CoverURL:     "https://mock.colligo.local/covers/35267211.jpg",
			DetailURL:    "https://mock.colligo.local/dramas/35267211",
		},
		{
			Source:       source,
			SourceID:     "35267212",
			Title:        "军婚甜宠：首长老公太霸道",
			Year:         2024,
			Rating:       8.0,
			EpisodeCount: 28,
			Genres:       []string{"军旅", "爱情"},
			Directors:    []string{"吴芳"},
			Cast:         []string{"叶甜甜", "霍景深"},
			Synopsis:     "军医世家千金闪婚神秘首长，先婚后爱的日常甜中带飒。",
			Tags:         []string{"军婚", "甜宠"},
			CoverURL:     "https://mock.colligo.local/covers/35267212.jpg",
			DetailURL:    "https://mock.colligo.local/dramas/35267212",
		},
	}
}
