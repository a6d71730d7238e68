// Package orchestrator owns the collection job state machine. It drives a
// job through collecting, processing, storing and exporting, enforces the
// concurrency gate, and keeps the bounded job history. All job mutation
// happens behind the service's mutex; readers only ever receive snapshots.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

var (
	// ErrAlreadyRunning is returned by Start when the concurrency gate is
	// saturated. No job is created.
	ErrAlreadyRunning = errors.New("a collection job is already running")

	// ErrNoJobRunning is returned by Stop when there is nothing to cancel
	ErrNoJobRunning = errors.New("no collection job is running")

	// ErrJobCancelled is the cancellation marker recorded on a job that was
	// stopped before it could finish
	ErrJobCancelled = errors.New("job cancelled")
)

// errorSource labels job error entries the orchestrator itself produces
const errorSource = "orchestrator"

// Service implements OrchestratorService
type Service struct {
	cfg       common.OrchestratorConfig
	exportCfg common.ExportConfig

	aggregator interfaces.AggregatorService
	validator  interfaces.ValidationService
	storage    interfaces.StorageManager
	exporter   interfaces.ExportService
	events     interfaces.EventService
	logger     arbor.ILogger

	mu      sync.RWMutex
	active  map[string]*models.CollectionJob // non-terminal jobs by id
	cancels map[string]context.CancelFunc
	history []*models.CollectionJob // terminal jobs, most recent first

	wg sync.WaitGroup

	// now is replaceable in tests
	now func() time.Time
}

var _ interfaces.OrchestratorService = (*Service)(nil)

// NewService wires the orchestrator over its collaborators and hydrates the
// history ring from the store so job history survives restarts.
func NewService(
	cfg *common.Config,
	aggregator interfaces.AggregatorService,
	validator interfaces.ValidationService,
	storage interfaces.StorageManager,
	exporter interfaces.ExportService,
	events interfaces.EventService,
	logger arbor.ILogger,
) *Service {
	s := &Service{
		cfg:        cfg.Orchestrator,
		exportCfg:  cfg.Export,
		aggregator: aggregator,
		validator:  validator,
		storage:    storage,
		exporter:   exporter,
		events:     events,
		logger:     logger,
		active:     make(map[string]*models.CollectionJob),
		cancels:    make(map[string]context.CancelFunc),
		now:        time.Now,
	}
	s.hydrateHistory()
	return s
}

// UpdateConfig applies reloaded orchestrator settings. Running jobs keep the
// parameters they started with; defaults, the gate width and retention take
// effect from the next job.
func (s *Service) UpdateConfig(cfg common.OrchestratorConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.trimHistoryLocked()
	s.mu.Unlock()
}

// config returns the current settings under the read lock
func (s *Service) config() common.OrchestratorConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// hydrateHistory loads persisted terminal jobs into the in-memory ring. A
// job persisted mid-run by a previous process is marked failed: it cannot
// still be running here.
func (s *Service) hydrateHistory() {
	if s.storage == nil {
		return
	}

	ctx := context.Background()
	jobs, err := s.storage.JobStorage().ListJobs(ctx, s.cfg.JobHistoryLimit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to hydrate job history from store")
		return
	}

	orphaned := 0
	for _, job := range jobs {
		if !job.IsTerminal() {
			job.State = models.JobStateError
			job.EndTime = s.now().UTC()
			job.AppendError(errorSource, "service restarted while job was running")
			if err := s.storage.JobStorage().SaveJob(ctx, job); err != nil {
				s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist orphaned job")
			}
			orphaned++
		}
		s.history = append(s.history, job)
	}
	s.trimHistoryLocked()

	s.logger.Info().
		Int("jobs", len(s.history)).
		Int("orphaned", orphaned).
		Msg("Job history hydrated from store")
}

// Start creates a job and launches the pipeline on its own goroutine. The
// returned id is valid immediately for Current, Get and Stop.
func (s *Service) Start(ctx context.Context, opts interfaces.StartOptions) (string, error) {
	opts = s.applyDefaults(opts)

	if err := models.ValidateExportFormats(opts.ExportFormats); err != nil {
		return "", err
	}

	s.mu.Lock()
	if len(s.active) >= s.cfg.MaxConcurrentJobs {
		s.mu.Unlock()
		return "", fmt.Errorf("%d of %d job slots in use: %w", len(s.active), s.cfg.MaxConcurrentJobs, ErrAlreadyRunning)
	}

	job := &models.CollectionJob{
		ID:               common.NewJobID(),
		State:            models.JobStateIdle,
		Trigger:          opts.Trigger,
		RequestedCount:   opts.RequestedCount,
		ExportEnabled:    opts.ExportEnabled,
		ExportFormats:    opts.ExportFormats,
		QualityThreshold: opts.QualityThreshold,
		StartTime:        s.now().UTC(),
	}

	// The pipeline outlives the request that triggered it, so its context is
	// detached from the caller's. Stop cancels it cooperatively.
	jobCtx, cancel := context.WithCancel(context.Background())
	s.active[job.ID] = job
	s.cancels[job.ID] = cancel
	s.mu.Unlock()

	s.persist(job)
	s.publish(models.EventJobStarted, job, "job started")

	s.logger.Info().
		Str("job_id", job.ID).
		Str("trigger", string(job.Trigger)).
		Int("requested", job.RequestedCount).
		Bool("export", job.ExportEnabled).
		Msg("Collection job started")

	s.wg.Add(1)
	common.SafeGo(s.logger, "job-pipeline", func() {
		s.runPipeline(jobCtx, job.ID)
	})

	return job.ID, nil
}

// applyDefaults fills unset start options from configuration
func (s *Service) applyDefaults(opts interfaces.StartOptions) interfaces.StartOptions {
	cfg := s.config()
	if opts.Trigger == "" {
		opts.Trigger = models.TriggerManual
	}
	if opts.RequestedCount <= 0 {
		opts.RequestedCount = cfg.DefaultCount
	}
	if opts.QualityThreshold <= 0 {
		opts.QualityThreshold = cfg.QualityThreshold
	}
	if opts.ExportEnabled && len(opts.ExportFormats) == 0 {
		opts.ExportFormats = s.exportCfg.Formats
	}
	return opts
}

// Current returns a snapshot of the running job, or nil when idle. With a
// gate wider than one, the most recently started job is reported.
func (s *Service) Current() *models.CollectionJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.CollectionJob
	for _, job := range s.active {
		if latest == nil || job.StartTime.After(latest.StartTime) {
			latest = job
		}
	}
	return latest.Clone()
}

// Get returns a job snapshot by id, reading memory first and falling back
// to the store for jobs evicted from the ring.
func (s *Service) Get(ctx context.Context, jobID string) (*models.CollectionJob, error) {
	s.mu.RLock()
	if job, ok := s.active[jobID]; ok {
		defer s.mu.RUnlock()
		return job.Clone(), nil
	}
	for _, job := range s.history {
		if job.ID == jobID {
			defer s.mu.RUnlock()
			return job.Clone(), nil
		}
	}
	s.mu.RUnlock()

	if s.storage == nil {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	job, err := s.storage.JobStorage().GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// History returns up to limit job snapshots, most recent first. Running
// jobs lead, followed by the terminal ring.
func (s *Service) History(limit int) []*models.CollectionJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.CollectionJob, 0, len(s.active)+len(s.history))
	for _, job := range s.active {
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	for _, job := range s.history {
		out = append(out, job.Clone())
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Stop requests cooperative cancellation of the in-flight job. The running
// stage observes the cancelled context between stages and between retries;
// in-flight network calls finish or time out naturally.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.active) == 0 {
		return ErrNoJobRunning
	}
	for id, cancel := range s.cancels {
		s.logger.Info().Str("job_id", id).Msg("Cancellation requested")
		cancel()
	}
	return nil
}

// Stats summarizes the known job history for the status endpoint
func (s *Service) Stats() models.JobStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.JobStats{Running: len(s.active)}
	stats.Total = len(s.active) + len(s.history)
	for _, job := range s.history {
		switch job.State {
		case models.JobStateCompleted:
			stats.Completed++
		case models.JobStateError:
			stats.Failed++
		}
	}
	return stats
}

// PruneHistory removes terminal jobs older than the retention horizon from
// both the store and the in-memory ring, returning the number deleted from
// the store.
func (s *Service) PruneHistory(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.config().HistoryRetentionDays)

	s.mu.Lock()
	kept := s.history[:0]
	for _, job := range s.history {
		if job.EndTime.IsZero() || !job.EndTime.Before(cutoff) {
			kept = append(kept, job)
		}
	}
	s.history = kept
	s.mu.Unlock()

	if s.storage == nil {
		return 0, nil
	}
	deleted, err := s.storage.JobStorage().DeleteJobsBefore(ctx, cutoff)
	if err != nil {
		return deleted, fmt.Errorf("failed to prune job history: %w", err)
	}
	return deleted, nil
}

// Shutdown cancels running jobs and waits for their pipelines to exit or
// the context to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	if err := s.Stop(); err != nil && !errors.Is(err, ErrNoJobRunning) {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Orchestrator shutdown complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown timed out: %w", ctx.Err())
	}
}

// runPipeline drives one job through the stage sequence. Each stage checks
// the cancellation flag before starting; a cancelled or failed stage moves
// the job to error and later stages never run.
func (s *Service) runPipeline(ctx context.Context, jobID string) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job_id", jobID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Panic recovered in job pipeline")
			s.fail(jobID, errorSource, fmt.Errorf("pipeline panic: %v", r))
		}
	}()

	records, ok := s.stageCollect(ctx, jobID)
	if !ok {
		return
	}
	records, ok = s.stageProcess(ctx, jobID, records)
	if !ok {
		return
	}
	if !s.stageStore(ctx, jobID, records) {
		return
	}
	if !s.stageExport(ctx, jobID, records) {
		return
	}
	s.complete(jobID)
}

// stageCollect runs the aggregator fan-out. Per-source errors are absorbed
// into the job's error list; only total source failure fails the job.
func (s *Service) stageCollect(ctx context.Context, jobID string) ([]models.DramaRecord, bool) {
	if s.cancelled(ctx, jobID) {
		return nil, false
	}
	job := s.transition(jobID, models.JobStateCollecting)
	if job == nil {
		return nil, false
	}

	records, sourceErrors, err := s.aggregator.Collect(ctx, job.RequestedCount, nil)

	s.update(jobID, func(j *models.CollectionJob) {
		j.Errors = append(j.Errors, sourceErrors...)
		j.TotalCollected = len(records)
		if j.Result == nil {
			j.Result = &models.JobResult{SourceCounts: make(map[string]int)}
		}
		for i := range records {
			for _, src := range records[i].Sources {
				j.Result.SourceCounts[src]++
			}
		}
	})

	if err != nil {
		if ctx.Err() != nil {
			s.fail(jobID, errorSource, ErrJobCancelled)
			return nil, false
		}
		s.fail(jobID, "aggregator", err)
		return nil, false
	}

	s.progress(jobID, fmt.Sprintf("collected %d records", len(records)))
	return records, true
}

// stageProcess validates records and applies the quality threshold
func (s *Service) stageProcess(ctx context.Context, jobID string, records []models.DramaRecord) ([]models.DramaRecord, bool) {
	if s.cancelled(ctx, jobID) {
		return nil, false
	}
	job := s.transition(jobID, models.JobStateProcessing)
	if job == nil {
		return nil, false
	}

	kept := records[:0]
	dropped := 0
	for i := range records {
		record := &records[i]
		score, issues := s.validator.Validate(record)
		record.QualityScore = score
		record.QualityIssues = issues

		if score < job.QualityThreshold {
			if s.config().DropBelowThreshold {
				dropped++
				s.logger.Debug().
					Str("job_id", jobID).
					Str("key", record.Key).
					Float64("score", score).
					Msg("Dropping record below quality threshold")
				continue
			}
			record.Flagged = true
		}
		kept = append(kept, *record)
	}

	s.update(jobID, func(j *models.CollectionJob) {
		j.TotalProcessed = len(kept)
		if j.Result != nil {
			j.Result.DroppedCount = dropped
		}
	})

	s.progress(jobID, fmt.Sprintf("processed %d records, dropped %d", len(kept), dropped))
	return kept, true
}

// stageStore upserts the surviving records. Store failure is fatal, but
// anything written before the failure stays written.
func (s *Service) stageStore(ctx context.Context, jobID string, records []models.DramaRecord) bool {
	if s.cancelled(ctx, jobID) {
		return false
	}
	if s.transition(jobID, models.JobStateStoring) == nil {
		return false
	}

	written, err := s.storage.DramaStorage().UpsertDramas(ctx, records)

	s.update(jobID, func(j *models.CollectionJob) {
		j.TotalStored = written
	})

	if err != nil {
		s.fail(jobID, "store", err)
		return false
	}

	s.progress(jobID, fmt.Sprintf("stored %d records", written))
	return true
}

// stageExport writes export files when the job requested them
func (s *Service) stageExport(ctx context.Context, jobID string, records []models.DramaRecord) bool {
	job := s.snapshot(jobID)
	if job == nil || !job.ExportEnabled {
		return job != nil
	}
	if s.cancelled(ctx, jobID) {
		return false
	}
	if s.transition(jobID, models.JobStateExporting) == nil {
		return false
	}

	results, err := s.exporter.Export(ctx, records, job.ExportFormats, models.ExportOptions{
		OutputDir:  s.exportCfg.OutputDir,
		FontPath:   s.exportCfg.FontPath,
		PrettyJSON: s.exportCfg.PrettyJSON,
	})
	if err != nil {
		s.fail(jobID, "export", err)
		return false
	}

	s.update(jobID, func(j *models.CollectionJob) {
		if j.Result == nil {
			j.Result = &models.JobResult{}
		}
		j.Result.ExportFiles = results
	})

	s.progress(jobID, fmt.Sprintf("exported %d files", len(results)))
	return true
}

// cancelled reports whether the job's context was cancelled, moving the job
// to error with the cancellation marker when it was.
func (s *Service) cancelled(ctx context.Context, jobID string) bool {
	if ctx.Err() == nil {
		return false
	}
	s.fail(jobID, errorSource, ErrJobCancelled)
	return true
}

// transition moves a job to the given state and publishes the change.
// Returns a snapshot, or nil when the job no longer exists.
func (s *Service) transition(jobID string, state models.JobState) *models.CollectionJob {
	var snapshot *models.CollectionJob
	s.update(jobID, func(j *models.CollectionJob) {
		j.State = state
		snapshot = j.Clone()
	})
	if snapshot == nil {
		return nil
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("state", string(state)).
		Msg("Job state changed")
	s.publish(models.EventJobStateChanged, snapshot, string(state))
	return snapshot
}

// complete finalizes a successful job
func (s *Service) complete(jobID string) {
	job := s.finalize(jobID, models.JobStateCompleted, nil)
	if job == nil {
		return
	}
	s.logger.Info().
		Str("job_id", jobID).
		Int("collected", job.TotalCollected).
		Int("processed", job.TotalProcessed).
		Int("stored", job.TotalStored).
		Dur("duration", job.Duration()).
		Msg("Collection job completed")
	s.publish(models.EventJobCompleted, job, "job completed")
}

// fail finalizes a failed job, recording the cause against the source
func (s *Service) fail(jobID, source string, cause error) {
	job := s.finalize(jobID, models.JobStateError, func(j *models.CollectionJob) {
		j.AppendError(source, cause.Error())
	})
	if job == nil {
		return
	}
	s.logger.Warn().
		Str("job_id", jobID).
		Str("source", source).
		Err(cause).
		Msg("Collection job failed")
	s.publish(models.EventJobFailed, job, cause.Error())
}

// finalize moves a job from active to the history ring in its terminal
// state. A job is immutable once it leaves here.
func (s *Service) finalize(jobID string, state models.JobState, mutate func(*models.CollectionJob)) *models.CollectionJob {
	s.mu.Lock()
	job, ok := s.active[jobID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.active, jobID)
	if cancel, ok := s.cancels[jobID]; ok {
		cancel()
		delete(s.cancels, jobID)
	}

	job.State = state
	job.EndTime = s.now().UTC()
	if mutate != nil {
		mutate(job)
	}
	if job.Result != nil {
		job.Result.Duration = job.EndTime.Sub(job.StartTime)
	}

	s.history = append([]*models.CollectionJob{job}, s.history...)
	s.trimHistoryLocked()
	snapshot := job.Clone()
	s.mu.Unlock()

	s.persist(snapshot)
	return snapshot
}

// update applies a mutation to an active job under the lock and persists
// the result. No-op when the job is already terminal.
func (s *Service) update(jobID string, mutate func(*models.CollectionJob)) {
	s.mu.Lock()
	job, ok := s.active[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	mutate(job)
	snapshot := job.Clone()
	s.mu.Unlock()

	s.persist(snapshot)
}

// snapshot returns a copy of an active job, or nil
func (s *Service) snapshot(jobID string) *models.CollectionJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if job, ok := s.active[jobID]; ok {
		return job.Clone()
	}
	return nil
}

func (s *Service) trimHistoryLocked() {
	if s.cfg.JobHistoryLimit > 0 && len(s.history) > s.cfg.JobHistoryLimit {
		s.history = s.history[:s.cfg.JobHistoryLimit]
	}
}

func (s *Service) persist(job *models.CollectionJob) {
	if s.storage == nil {
		return
	}
	if err := s.storage.JobStorage().SaveJob(context.Background(), job); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist job")
	}
}

// progress publishes a progress tick with the job's current counters
func (s *Service) progress(jobID, message string) {
	job := s.snapshot(jobID)
	if job == nil {
		return
	}
	s.publish(models.EventJobProgress, job, message)
}

func (s *Service) publish(eventType models.EventType, job *models.CollectionJob, message string) {
	if s.events == nil {
		return
	}
	event := models.JobEvent{
		Type:      eventType,
		JobID:     job.ID,
		State:     job.State,
		Message:   message,
		Collected: job.TotalCollected,
		Processed: job.TotalProcessed,
		Stored:    job.TotalStored,
		Timestamp: s.now().UTC(),
	}
	if err := s.events.Publish(context.Background(), event); err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish job event")
	}
}
