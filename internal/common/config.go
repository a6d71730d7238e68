package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/colligo/internal/models"
)

// Config represents the application configuration
type Config struct {
	Environment  string                         `toml:"environment"` // "development" or "production"
	Server       ServerConfig                   `toml:"server"`
	Logging      LoggingConfig                  `toml:"logging"`
	Storage      StorageConfig                  `toml:"storage"`
	Orchestrator OrchestratorConfig             `toml:"orchestrator"`
	Export       ExportConfig                   `toml:"export"`
	Sources      map[string]models.SourceConfig `toml:"sources"`

	// loadedPaths remembers the files this config was built from so the
	// reload endpoint can re-read them
	loadedPaths []string
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// OrchestratorConfig contains the job pipeline and scheduling settings
type OrchestratorConfig struct {
	MaxConcurrentJobs       int           `toml:"max_concurrent_jobs"`       // non-terminal jobs allowed at once
	CollectionIntervalHours int           `toml:"collection_interval_hours"` // scheduled trigger period
	MaintenanceHour         int           `toml:"maintenance_hour"`          // local hour-of-day; -1 disables the window
	AutoRetryFailedJobs     bool          `toml:"auto_retry_failed_jobs"`    // retry a failed scheduled run once
	RetryBackoff            time.Duration `toml:"retry_backoff"`             // delay before the scheduled retry
	JobHistoryLimit         int           `toml:"job_history_limit"`         // in-memory history ring size
	HistoryRetentionDays    int           `toml:"history_retention_days"`    // persisted jobs older than this are pruned
	DefaultCount            int           `toml:"default_count"`             // requested_count when the trigger does not specify one
	QualityThreshold        float64       `toml:"quality_threshold"`         // records scoring below are dropped or flagged
	DropBelowThreshold      bool          `toml:"drop_below_threshold"`      // drop instead of flag
}

// ExportConfig contains exporter settings
type ExportConfig struct {
	OutputDir  string   `toml:"output_dir"`
	Formats    []string `toml:"formats"`   // default formats for scheduled jobs
	FontPath   string   `toml:"font_path"` // TTF for PDF output; CJK titles need one
	PrettyJSON bool     `toml:"pretty_json"`
}

// NewDefaultConfig creates a configuration with default values.
// Only user-facing settings should be exposed in colligo.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentJobs:       1,
			CollectionIntervalHours: 6,
			MaintenanceHour:         3,
			AutoRetryFailedJobs:     true,
			RetryBackoff:            time.Minute,
			JobHistoryLimit:         50,
			HistoryRetentionDays:    7,
			DefaultCount:            20,
			QualityThreshold:        0.6,
			DropBelowThreshold:      false,
		},
		Export: ExportConfig{
			OutputDir:  "./exports",
			Formats:    []string{"json", "csv"},
			PrettyJSON: true,
		},
		Sources: map[string]models.SourceConfig{
			models.SourceDramaland: {
				Enabled:       true,
				Priority:      1,
				RateLimit:     2,
				Burst:         2,
				MaxRetries:    3,
				RetryDelay:    2 * time.Second,
				Timeout:       30 * time.Second,
				DetailWorkers: 4,
				BaseURL:       "https://api.dramaland.example.com",
			},
			models.SourceDramapedia: {
				Enabled:       true,
				Priority:      2,
				RateLimit:     3,
				Burst:         3,
				MaxRetries:    2,
				RetryDelay:    time.Second,
				Timeout:       30 * time.Second,
				DetailWorkers: 2,
				BaseURL:       "https://www.dramapedia.example.com",
			},
			models.SourceMock: {
				Enabled:    true,
				Priority:   3,
				RateLimit:  0, // unlimited
				MaxRetries: 0,
				Timeout:    5 * time.Second,
			},
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env -> CLI. Later files override
// earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
		config.loadedPaths = append(config.loadedPaths, path)
	}

	applyEnvOverrides(config)

	// Source names come from the map keys
	for name, sc := range config.Sources {
		sc.Name = name
		config.Sources[name] = sc
	}

	return config, nil
}

// Reload re-reads the files this config was loaded from, reapplying env
// overrides. Returns a fresh config; the caller swaps it in.
func (c *Config) Reload() (*Config, error) {
	reloaded, err := LoadFromFiles(c.loadedPaths...)
	if err != nil {
		return nil, err
	}
	// Flag overrides are not replayed on reload; keep the effective
	// server address so a reload cannot re-bind the listener.
	reloaded.Server = c.Server
	return reloaded, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("COLLIGO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("COLLIGO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("COLLIGO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Logging configuration
	if level := os.Getenv("COLLIGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("COLLIGO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("COLLIGO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Storage configuration
	if badgerPath := os.Getenv("COLLIGO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Orchestrator configuration
	if maxJobs := os.Getenv("COLLIGO_MAX_CONCURRENT_JOBS"); maxJobs != "" {
		if mj, err := strconv.Atoi(maxJobs); err == nil {
			config.Orchestrator.MaxConcurrentJobs = mj
		}
	}
	if interval := os.Getenv("COLLIGO_COLLECTION_INTERVAL_HOURS"); interval != "" {
		if ih, err := strconv.Atoi(interval); err == nil {
			config.Orchestrator.CollectionIntervalHours = ih
		}
	}
	if maintenance := os.Getenv("COLLIGO_MAINTENANCE_HOUR"); maintenance != "" {
		if mh, err := strconv.Atoi(maintenance); err == nil {
			config.Orchestrator.MaintenanceHour = mh
		}
	}
	if autoRetry := os.Getenv("COLLIGO_AUTO_RETRY_FAILED_JOBS"); autoRetry != "" {
		if ar, err := strconv.ParseBool(autoRetry); err == nil {
			config.Orchestrator.AutoRetryFailedJobs = ar
		}
	}
	if threshold := os.Getenv("COLLIGO_QUALITY_THRESHOLD"); threshold != "" {
		if qt, err := strconv.ParseFloat(threshold, 64); err == nil {
			config.Orchestrator.QualityThreshold = qt
		}
	}

	// Export configuration
	if outputDir := os.Getenv("COLLIGO_EXPORT_DIR"); outputDir != "" {
		config.Export.OutputDir = outputDir
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks the configuration for values that cannot work at runtime
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	o := c.Orchestrator
	if o.MaxConcurrentJobs < 1 {
		return fmt.Errorf("max_concurrent_jobs must be at least 1, got %d", o.MaxConcurrentJobs)
	}
	if o.CollectionIntervalHours < 1 {
		return fmt.Errorf("collection_interval_hours must be at least 1, got %d", o.CollectionIntervalHours)
	}
	if o.MaintenanceHour < -1 || o.MaintenanceHour > 23 {
		return fmt.Errorf("maintenance_hour must be -1 (disabled) or 0-23, got %d", o.MaintenanceHour)
	}
	if o.JobHistoryLimit < 1 {
		return fmt.Errorf("job_history_limit must be at least 1, got %d", o.JobHistoryLimit)
	}
	if o.DefaultCount < 1 {
		return fmt.Errorf("default_count must be at least 1, got %d", o.DefaultCount)
	}
	if o.QualityThreshold < 0 || o.QualityThreshold > 1 {
		return fmt.Errorf("quality_threshold must be within [0,1], got %f", o.QualityThreshold)
	}
	if err := models.ValidateExportFormats(c.Export.Formats); err != nil {
		return err
	}
	for name, sc := range c.Sources {
		sc.Name = name
		if err := sc.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// RedactedSources returns the source map with secrets stripped for API views
func (c *Config) RedactedSources() map[string]models.SourceConfig {
	redacted := make(map[string]models.SourceConfig, len(c.Sources))
	for name, sc := range c.Sources {
		redacted[name] = sc.Redacted()
	}
	return redacted
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}
