package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// fakeOrchestrator scripts job outcomes per Start call for scheduler tests
type fakeOrchestrator struct {
	mu       sync.Mutex
	starts   int
	outcomes []models.JobState // state for job N; past the end means completed
	startErr error
	jobs     map[string]*models.CollectionJob
	lastOpts interfaces.StartOptions
	pruned   int
}

func newFakeOrchestrator(outcomes ...models.JobState) *fakeOrchestrator {
	return &fakeOrchestrator{
		outcomes: outcomes,
		jobs:     make(map[string]*models.CollectionJob),
	}
}

func (f *fakeOrchestrator) Start(_ context.Context, opts interfaces.StartOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.lastOpts = opts

	state := models.JobStateCompleted
	if f.starts < len(f.outcomes) {
		state = f.outcomes[f.starts]
	}
	id := fmt.Sprintf("job_%d", f.starts)
	f.starts++

	f.jobs[id] = &models.CollectionJob{
		ID:        id,
		State:     state,
		Trigger:   opts.Trigger,
		StartTime: time.Now(),
		EndTime:   time.Now(),
	}
	return id, nil
}

func (f *fakeOrchestrator) Current() *models.CollectionJob { return nil }

func (f *fakeOrchestrator) Get(_ context.Context, jobID string) (*models.CollectionJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[jobID]; ok {
		return job.Clone(), nil
	}
	return nil, fmt.Errorf("job %s not found", jobID)
}

func (f *fakeOrchestrator) History(int) []*models.CollectionJob { return nil }
func (f *fakeOrchestrator) Stop() error                         { return nil }
func (f *fakeOrchestrator) Stats() models.JobStats              { return models.JobStats{} }

func (f *fakeOrchestrator) PruneHistory(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned++
	return 3, nil
}

func (f *fakeOrchestrator) Shutdown(context.Context) error { return nil }

func (f *fakeOrchestrator) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeOrchestrator) pruneCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pruned
}

func (f *fakeOrchestrator) lastStartOpts() interfaces.StartOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOpts
}

func newTestScheduler(cfg *common.Config, orch interfaces.OrchestratorService) *Scheduler {
	s := NewScheduler(cfg, orch, nil, arbor.NewLogger())
	// No real time in tests: instant sleeps, tight polling
	s.sleep = func(context.Context, time.Duration) error { return nil }
	s.poll = 0
	return s
}

func fixedClock(hour int) func() time.Time {
	return func() time.Time {
		return time.Date(2026, 8, 23, hour, 30, 0, 0, time.Local)
	}
}

func TestScheduledCycleRunsJob(t *testing.T) {
	cfg := testConfig()
	cfg.Orchestrator.MaintenanceHour = 3

	orch := newFakeOrchestrator(models.JobStateCompleted)
	sched := newTestScheduler(cfg, orch)
	sched.now = fixedClock(12)

	sched.runCollectionCycle()

	if orch.startCount() != 1 {
		t.Fatalf("starts = %d, want 1", orch.startCount())
	}
	job, _ := orch.Get(context.Background(), "job_0")
	if job.Trigger != models.TriggerScheduled {
		t.Errorf("trigger = %s, want scheduled", job.Trigger)
	}
}

func TestMaintenanceWindowSuppressesScheduledTrigger(t *testing.T) {
	cfg := testConfig()
	cfg.Orchestrator.MaintenanceHour = 3

	orch := newFakeOrchestrator()
	sched := newTestScheduler(cfg, orch)
	sched.now = fixedClock(3)

	sched.runCollectionCycle()

	if orch.startCount() != 0 {
		t.Fatalf("starts = %d, want 0 during the maintenance window", orch.startCount())
	}
}

func TestMaintenanceWindowDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Orchestrator.MaintenanceHour = -1

	orch := newFakeOrchestrator(models.JobStateCompleted)
	sched := newTestScheduler(cfg, orch)
	sched.now = fixedClock(3)

	sched.runCollectionCycle()

	if orch.startCount() != 1 {
		t.Fatalf("starts = %d, want 1 with the window disabled", orch.startCount())
	}
}

func TestAutoRetryAfterFailedScheduledRun(t *testing.T) {
	cfg := testConfig()
	cfg.Orchestrator.AutoRetryFailedJobs = true
	cfg.Orchestrator.RetryBackoff = time.Minute

	orch := newFakeOrchestrator(models.JobStateError, models.JobStateCompleted)
	sched := newTestScheduler(cfg, orch)
	sched.now = fixedClock(12)

	sched.runCollectionCycle()

	if orch.startCount() != 2 {
		t.Fatalf("starts = %d, want 2 (original + one retry)", orch.startCount())
	}
}

func TestAutoRetryGivesUpAfterOneAttempt(t *testing.T) {
	cfg := testConfig()
	cfg.Orchestrator.AutoRetryFailedJobs = true

	orch := newFakeOrchestrator(models.JobStateError, models.JobStateError)
	sched := newTestScheduler(cfg, orch)
	sched.now = fixedClock(12)

	sched.runCollectionCycle()

	if orch.startCount() != 2 {
		t.Fatalf("starts = %d, want exactly 2", orch.startCount())
	}
}

func TestNoRetryWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Orchestrator.AutoRetryFailedJobs = false

	orch := newFakeOrchestrator(models.JobStateError)
	sched := newTestScheduler(cfg, orch)
	sched.now = fixedClock(12)

	sched.runCollectionCycle()

	if orch.startCount() != 1 {
		t.Fatalf("starts = %d, want 1 with auto-retry disabled", orch.startCount())
	}
}

func TestCycleSkippedWhenGateSaturated(t *testing.T) {
	cfg := testConfig()
	cfg.Orchestrator.AutoRetryFailedJobs = true

	orch := newFakeOrchestrator()
	orch.startErr = fmt.Errorf("1 of 1 job slots in use: %w", ErrAlreadyRunning)
	sched := newTestScheduler(cfg, orch)
	sched.now = fixedClock(12)

	sched.runCollectionCycle()

	// One rejected attempt, no retry: the gate holder is already collecting
	if orch.startCount() != 0 {
		t.Fatalf("starts = %d, want 0 recorded jobs", orch.startCount())
	}
}

func TestUpdateConfigAppliesToNextScheduledRun(t *testing.T) {
	cfg := testConfig()
	cfg.Orchestrator.DefaultCount = 20
	cfg.Orchestrator.QualityThreshold = 0.6
	cfg.Orchestrator.MaintenanceHour = 3

	orch := newFakeOrchestrator(models.JobStateCompleted, models.JobStateCompleted)
	sched := newTestScheduler(cfg, orch)
	sched.now = fixedClock(12)

	sched.runCollectionCycle()
	if got := orch.lastStartOpts(); got.RequestedCount != 20 {
		t.Fatalf("requested = %d, want 20 before the update", got.RequestedCount)
	}

	updated := cfg.Orchestrator
	updated.DefaultCount = 5
	updated.QualityThreshold = 0.9
	updated.MaintenanceHour = 12
	sched.UpdateConfig(updated)

	// The moved maintenance window now covers the clock hour
	sched.runCollectionCycle()
	if orch.startCount() != 1 {
		t.Fatalf("starts = %d, want 1 with the updated window at noon", orch.startCount())
	}

	updated.MaintenanceHour = 3
	sched.UpdateConfig(updated)
	sched.runCollectionCycle()

	got := orch.lastStartOpts()
	if got.RequestedCount != 5 {
		t.Errorf("requested = %d, want updated 5", got.RequestedCount)
	}
	if got.QualityThreshold != 0.9 {
		t.Errorf("quality threshold = %f, want updated 0.9", got.QualityThreshold)
	}
}

func TestMaintenanceRunPrunesHistory(t *testing.T) {
	cfg := testConfig()
	orch := newFakeOrchestrator()
	sched := newTestScheduler(cfg, orch)

	sched.runMaintenance()

	if orch.pruneCount() != 1 {
		t.Fatalf("prunes = %d, want 1", orch.pruneCount())
	}
}

func TestSchedulerStartStop(t *testing.T) {
	cfg := testConfig()
	orch := newFakeOrchestrator()
	sched := newTestScheduler(cfg, orch)

	if err := sched.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !sched.IsRunning() {
		t.Error("scheduler should report running")
	}
	if err := sched.Start(); err == nil {
		t.Error("second Start should fail")
	}

	sched.Stop()
	if sched.IsRunning() {
		t.Error("scheduler should report stopped")
	}
}

func TestSchedulerRejectsBadInterval(t *testing.T) {
	cfg := testConfig()
	cfg.Orchestrator.CollectionIntervalHours = 6
	cfg.Orchestrator.MaintenanceHour = 25 // invalid cron hour

	sched := newTestScheduler(cfg, newFakeOrchestrator())
	if err := sched.Start(); err == nil {
		t.Fatal("Start should reject an out-of-range maintenance hour")
	}
}
