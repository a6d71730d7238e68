package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Scheduler fires periodic collection jobs through the orchestrator. A
// scheduled trigger behaves exactly like a manual one, except a failed
// scheduled run can be retried once per cycle, and the maintenance window
// suppresses new scheduled triggers while history gets pruned.
type Scheduler struct {
	orchestrator interfaces.OrchestratorService
	events       interfaces.EventService
	logger       arbor.ILogger

	cfgMu     sync.RWMutex
	cfg       common.OrchestratorConfig
	exportCfg common.ExportConfig

	cron *cron.Cron

	mu      sync.Mutex
	running bool

	ctx    context.Context
	cancel context.CancelFunc

	// now and sleep are replaceable in tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// poll is how often waitForJob re-checks a running job
	poll time.Duration
}

// NewScheduler creates the scheduler; Start registers the cron entries
func NewScheduler(cfg *common.Config, orchestrator interfaces.OrchestratorService, events interfaces.EventService, logger arbor.ILogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		orchestrator: orchestrator,
		cfg:          cfg.Orchestrator,
		exportCfg:    cfg.Export,
		events:       events,
		logger:       logger,
		cron:         cron.New(),
		ctx:          ctx,
		cancel:       cancel,
		now:          time.Now,
		sleep:        sleepWithContext,
		poll:         500 * time.Millisecond,
	}
}

// UpdateConfig swaps the orchestrator knobs consulted by scheduled runs
// (default count, quality threshold, auto-retry, maintenance window). The
// cron entries registered at Start keep their original specs until the
// service restarts.
func (s *Scheduler) UpdateConfig(cfg common.OrchestratorConfig) {
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()

	s.logger.Info().
		Int("default_count", cfg.DefaultCount).
		Bool("auto_retry", cfg.AutoRetryFailedJobs).
		Int("maintenance_hour", cfg.MaintenanceHour).
		Msg("Scheduler configuration updated")
}

// config snapshots the knobs under the read lock
func (s *Scheduler) config() common.OrchestratorConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// Start registers the collection interval and the maintenance window with
// cron and begins firing
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	cfg := s.config()
	collectSpec := fmt.Sprintf("@every %dh", cfg.CollectionIntervalHours)
	if _, err := s.cron.AddFunc(collectSpec, s.runCollectionCycle); err != nil {
		return fmt.Errorf("failed to register collection schedule: %w", err)
	}

	if cfg.MaintenanceHour >= 0 {
		maintenanceSpec := fmt.Sprintf("0 %d * * *", cfg.MaintenanceHour)
		if _, err := s.cron.AddFunc(maintenanceSpec, s.runMaintenance); err != nil {
			return fmt.Errorf("failed to register maintenance schedule: %w", err)
		}
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("collection_schedule", collectSpec).
		Int("maintenance_hour", cfg.MaintenanceHour).
		Msg("Scheduler started")
	return nil
}

// Stop halts the cron loop and abandons any in-cycle wait
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.running = false

	s.logger.Info().Msg("Scheduler stopped")
}

// IsRunning reports whether the cron loop is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// runCollectionCycle fires one scheduled collection. Panics are recovered
// so a bad cycle cannot kill the cron loop.
func (s *Scheduler) runCollectionCycle() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Panic recovered in scheduled collection cycle")
		}
	}()

	cfg := s.config()
	if s.inMaintenanceWindow() {
		s.logger.Info().
			Int("maintenance_hour", cfg.MaintenanceHour).
			Msg("Scheduled trigger suppressed during maintenance window")
		return
	}

	state, err := s.runOnce()
	if err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			// Another job holds the gate; skip this cycle rather than queue
			s.logger.Info().Msg("Scheduled trigger skipped, a job is already running")
			return
		}
		s.logger.Error().Err(err).Msg("Scheduled collection failed to start")
		return
	}

	if state == models.JobStateError && cfg.AutoRetryFailedJobs {
		s.logger.Warn().
			Dur("backoff", cfg.RetryBackoff).
			Msg("Scheduled collection failed, retrying once")
		if err := s.sleep(s.ctx, cfg.RetryBackoff); err != nil {
			return
		}
		if state, err = s.runOnce(); err != nil {
			s.logger.Error().Err(err).Msg("Scheduled retry failed to start")
			return
		}
		if state == models.JobStateError {
			s.logger.Error().Msg("Scheduled retry failed, giving up for this cycle")
		}
	}
}

// runOnce starts one scheduled job and waits for its terminal state
func (s *Scheduler) runOnce() (models.JobState, error) {
	cfg := s.config()
	jobID, err := s.orchestrator.Start(s.ctx, interfaces.StartOptions{
		Trigger:          models.TriggerScheduled,
		RequestedCount:   cfg.DefaultCount,
		ExportEnabled:    len(s.exportCfg.Formats) > 0,
		ExportFormats:    s.exportCfg.Formats,
		QualityThreshold: cfg.QualityThreshold,
	})
	if err != nil {
		return "", err
	}
	return s.waitForJob(jobID)
}

// waitForJob polls until the job reaches a terminal state or the scheduler
// shuts down
func (s *Scheduler) waitForJob(jobID string) (models.JobState, error) {
	for {
		job, err := s.orchestrator.Get(s.ctx, jobID)
		if err != nil {
			return "", fmt.Errorf("failed to read job %s: %w", jobID, err)
		}
		if job.IsTerminal() {
			return job.State, nil
		}
		if err := s.sleep(s.ctx, s.poll); err != nil {
			return job.State, err
		}
	}
}

// inMaintenanceWindow reports whether the local hour matches the configured
// maintenance hour
func (s *Scheduler) inMaintenanceWindow() bool {
	cfg := s.config()
	if cfg.MaintenanceHour < 0 {
		return false
	}
	return s.now().Hour() == cfg.MaintenanceHour
}

// runMaintenance prunes job history past the retention horizon
func (s *Scheduler) runMaintenance() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Panic recovered in maintenance run")
		}
	}()

	deleted, err := s.orchestrator.PruneHistory(s.ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Maintenance history prune failed")
		return
	}

	s.logger.Info().
		Int("deleted", deleted).
		Int("retention_days", s.config().HistoryRetentionDays).
		Msg("Maintenance run complete")

	if s.events != nil {
		event := models.JobEvent{
			Type:      models.EventMaintenanceRun,
			Message:   fmt.Sprintf("pruned %d jobs", deleted),
			Timestamp: s.now().UTC(),
		}
		if err := s.events.Publish(s.ctx, event); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to publish maintenance event")
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
