package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Orchestrator.MaxConcurrentJobs != 1 {
		t.Errorf("expected max_concurrent_jobs 1, got %d", cfg.Orchestrator.MaxConcurrentJobs)
	}
	if cfg.Orchestrator.CollectionIntervalHours != 6 {
		t.Errorf("expected collection_interval_hours 6, got %d", cfg.Orchestrator.CollectionIntervalHours)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}

	dramaland, ok := cfg.Sources[models.SourceDramaland]
	if !ok {
		t.Fatal("default config missing dramaland source")
	}
	if dramaland.Priority != 1 {
		t.Errorf("expected dramaland priority 1, got %d", dramaland.Priority)
	}
	mock, ok := cfg.Sources[models.SourceMock]
	if !ok {
		t.Fatal("default config missing mock source")
	}
	if mock.RateLimit != 0 {
		t.Errorf("mock source should be unlimited, got rate %f", mock.RateLimit)
	}
}

func TestLoadFromFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "colligo.toml")
	content := `
environment = "production"

[server]
port = 9090

[orchestrator]
collection_interval_hours = 12
quality_threshold = 0.8

[sources.dramaland]
enabled = false
priority = 1
rate_limit = 5.0
max_retries = 1
retry_delay = "500ms"
timeout = "10s"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFiles(path)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	if !cfg.IsProduction() {
		t.Error("expected production environment")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Orchestrator.CollectionIntervalHours != 12 {
		t.Errorf("expected interval 12, got %d", cfg.Orchestrator.CollectionIntervalHours)
	}
	if cfg.Orchestrator.QualityThreshold != 0.8 {
		t.Errorf("expected threshold 0.8, got %f", cfg.Orchestrator.QualityThreshold)
	}

	// Defaults survive for keys the file does not set
	if cfg.Server.Host != "localhost" {
		t.Errorf("expected default host, got %s", cfg.Server.Host)
	}

	dramaland := cfg.Sources[models.SourceDramaland]
	if dramaland.Enabled {
		t.Error("dramaland should be disabled by the file")
	}
	if dramaland.RateLimit != 5.0 {
		t.Errorf("expected rate 5.0, got %f", dramaland.RateLimit)
	}
	if dramaland.RetryDelay != 500*time.Millisecond {
		t.Errorf("expected retry delay 500ms, got %v", dramaland.RetryDelay)
	}
	if dramaland.Name != models.SourceDramaland {
		t.Errorf("source name should be filled from map key, got %q", dramaland.Name)
	}
}

func TestLoadFromFilesMissingFile(t *testing.T) {
	_, err := LoadFromFiles("/nonexistent/colligo.toml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COLLIGO_SERVER_PORT", "7070")
	t.Setenv("COLLIGO_LOG_LEVEL", "debug")
	t.Setenv("COLLIGO_MAINTENANCE_HOUR", "5")
	t.Setenv("COLLIGO_QUALITY_THRESHOLD", "0.75")

	cfg, err := LoadFromFiles()
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected env log level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Orchestrator.MaintenanceHour != 5 {
		t.Errorf("expected maintenance hour 5, got %d", cfg.Orchestrator.MaintenanceHour)
	}
	if cfg.Orchestrator.QualityThreshold != 0.75 {
		t.Errorf("expected threshold 0.75, got %f", cfg.Orchestrator.QualityThreshold)
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := NewDefaultConfig()
	ApplyFlagOverrides(cfg, 6060, "0.0.0.0")

	if cfg.Server.Port != 6060 {
		t.Errorf("expected flag port 6060, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected flag host 0.0.0.0, got %s", cfg.Server.Host)
	}

	// Zero values leave the config untouched
	ApplyFlagOverrides(cfg, 0, "")
	if cfg.Server.Port != 6060 || cfg.Server.Host != "0.0.0.0" {
		t.Error("zero flag values must not override")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"zero max jobs", func(c *Config) { c.Orchestrator.MaxConcurrentJobs = 0 }},
		{"zero interval", func(c *Config) { c.Orchestrator.CollectionIntervalHours = 0 }},
		{"maintenance hour out of range", func(c *Config) { c.Orchestrator.MaintenanceHour = 24 }},
		{"threshold above one", func(c *Config) { c.Orchestrator.QualityThreshold = 1.5 }},
		{"unknown export format", func(c *Config) { c.Export.Formats = []string{"xml"} }},
		{"negative source priority", func(c *Config) {
			sc := c.Sources[models.SourceDramaland]
			sc.Priority = -1
			c.Sources[models.SourceDramaland] = sc
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "colligo.toml")
	if err := os.WriteFile(path, []byte("[orchestrator]\ndefault_count = 10\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFiles(path)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}
	if cfg.Orchestrator.DefaultCount != 10 {
		t.Fatalf("expected default_count 10, got %d", cfg.Orchestrator.DefaultCount)
	}

	if err := os.WriteFile(path, []byte("[orchestrator]\ndefault_count = 25\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config file: %v", err)
	}

	reloaded, err := cfg.Reload()
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if reloaded.Orchestrator.DefaultCount != 25 {
		t.Errorf("expected reloaded default_count 25, got %d", reloaded.Orchestrator.DefaultCount)
	}
}
