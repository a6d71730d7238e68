package sources

import (
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

func TestBuildSourcesSortedByPriority(t *testing.T) {
	cfg := common.NewDefaultConfig()

	built, err := BuildSources(cfg, arbor.NewLogger())
	if err != nil {
		t.Fatalf("BuildSources() error = %v", err)
	}
	if len(built) != 3 {
		t.Fatalf("Expected 3 sources, got %d", len(built))
	}

	wantOrder := []string{models.SourceDramaland, models.SourceDramapedia, models.SourceMock}
	for i, source := range built {
		if source.Name() != wantOrder[i] {
			t.Errorf("Position %d: expected %s, got %s", i, wantOrder[i], source.Name())
		}
	}
	for i := 1; i < len(built); i++ {
		if built[i-1].Priority() > built[i].Priority() {
			t.Errorf("Sources out of priority order: %d before %d", built[i-1].Priority(), built[i].Priority())
		}
	}
}

func TestBuildSourcesSkipsDisabled(t *testing.T) {
	cfg := common.NewDefaultConfig()
	sc := cfg.Sources[models.SourceDramapedia]
	sc.Enabled = false
	cfg.Sources[models.SourceDramapedia] = sc

	built, err := BuildSources(cfg, arbor.NewLogger())
	if err != nil {
		t.Fatalf("BuildSources() error = %v", err)
	}
	if len(built) != 2 {
		t.Fatalf("Expected 2 sources, got %d", len(built))
	}
	for _, source := range built {
		if source.Name() == models.SourceDramapedia {
			t.Error("Disabled source should not be built")
		}
	}
}

func TestBuildSourcesUnknownName(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Sources["imaginary"] = models.SourceConfig{Enabled: true, Priority: 9}

	if _, err := BuildSources(cfg, arbor.NewLogger()); err == nil {
		t.Fatal("Expected error for unknown source name")
	}
}
