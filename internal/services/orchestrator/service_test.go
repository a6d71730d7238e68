package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// fakeAggregator is a scriptable AggregatorService. When block is set, a
// Collect call parks until the context is cancelled or release is closed.
type fakeAggregator struct {
	mu      sync.Mutex
	calls   int
	records []models.DramaRecord
	srcErrs []models.SourceError
	err     error

	block   bool
	release chan struct{}
}

func (f *fakeAggregator) Collect(ctx context.Context, requestedCount int, _ []string) ([]models.DramaRecord, []models.SourceError, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.block {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-f.release:
		}
	}
	if f.err != nil {
		return nil, f.srcErrs, f.err
	}
	records := f.records
	if requestedCount < len(records) {
		records = records[:requestedCount]
	}
	return append([]models.DramaRecord(nil), records...), f.srcErrs, nil
}

func (f *fakeAggregator) SourceStatus() map[string]bool { return nil }

func (f *fakeAggregator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeValidator scores records by a per-key table, defaulting to 1.0
type fakeValidator struct {
	scores map[string]float64
}

func (f *fakeValidator) Validate(record *models.DramaRecord) (float64, []string) {
	if score, ok := f.scores[record.Key]; ok {
		return score, []string{"synopsis too short"}
	}
	return 1.0, nil
}

// memStorage is an in-memory StorageManager for pipeline tests
type memStorage struct {
	mu        sync.Mutex
	dramas    map[string]models.DramaRecord
	jobs      map[string]*models.CollectionJob
	upsertErr error
}

func newMemStorage() *memStorage {
	return &memStorage{
		dramas: make(map[string]models.DramaRecord),
		jobs:   make(map[string]*models.CollectionJob),
	}
}

func (m *memStorage) DramaStorage() interfaces.DramaStorage { return m }
func (m *memStorage) JobStorage() interfaces.JobStorage     { return m }
func (m *memStorage) Close() error                          { return nil }

func (m *memStorage) UpsertDramas(_ context.Context, records []models.DramaRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return 0, m.upsertErr
	}
	for _, r := range records {
		m.dramas[r.Key] = r
	}
	return len(records), nil
}

func (m *memStorage) GetDrama(_ context.Context, key string) (*models.DramaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.dramas[key]; ok {
		return &r, nil
	}
	return nil, fmt.Errorf("drama %s not found", key)
}

func (m *memStorage) ListDramas(_ context.Context, _, _ int) ([]models.DramaRecord, error) {
	return nil, nil
}

func (m *memStorage) CountDramas(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dramas), nil
}

func (m *memStorage) SaveJob(_ context.Context, job *models.CollectionJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *memStorage) GetJob(_ context.Context, id string) (*models.CollectionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		return job.Clone(), nil
	}
	return nil, fmt.Errorf("job %s not found", id)
}

func (m *memStorage) ListJobs(_ context.Context, _ int) ([]*models.CollectionJob, error) {
	return nil, nil
}

func (m *memStorage) DeleteJobsBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for id, job := range m.jobs {
		if job.IsTerminal() && !job.EndTime.IsZero() && job.EndTime.Before(cutoff) {
			delete(m.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

// fakeExporter records the formats it was asked for
type fakeExporter struct {
	mu      sync.Mutex
	formats []string
	err     error
}

func (f *fakeExporter) Export(_ context.Context, records []models.DramaRecord, formats []string, _ models.ExportOptions) ([]models.ExportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.formats = append([]string(nil), formats...)
	results := make([]models.ExportResult, len(formats))
	for i, format := range formats {
		results[i] = models.ExportResult{Path: "out." + format, Format: format, Size: 1, RecordCount: len(records)}
	}
	return results, nil
}

func testConfig() *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Orchestrator.MaxConcurrentJobs = 1
	cfg.Orchestrator.JobHistoryLimit = 5
	cfg.Orchestrator.HistoryRetentionDays = 7
	cfg.Orchestrator.DefaultCount = 10
	cfg.Orchestrator.QualityThreshold = 0.6
	cfg.Export.Formats = []string{"json"}
	return cfg
}

func canonical(key, title string, score float64, srcs ...string) models.DramaRecord {
	return models.DramaRecord{
		Key:               key,
		Title:             title,
		Year:              2024,
		Sources:           srcs,
		CompletenessScore: score,
	}
}

func newTestService(t *testing.T, cfg *common.Config, agg interfaces.AggregatorService, val interfaces.ValidationService, storage interfaces.StorageManager, exp interfaces.ExportService) *Service {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	svc := NewService(cfg, agg, val, storage, exp, nil, arbor.NewLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

// waitTerminal polls until the job leaves its non-terminal states
func waitTerminal(t *testing.T, svc *Service, jobID string) *models.CollectionJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", jobID, err)
		}
		if job.IsTerminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state", jobID)
	return nil
}

func TestStartRunsFullPipeline(t *testing.T) {
	agg := &fakeAggregator{records: []models.DramaRecord{
		canonical("霸道总裁|2024", "霸道总裁", 0.9, "dramaland", "mock"),
		canonical("重生之门|2023", "重生之门", 0.7, "dramaland"),
	}}
	storage := newMemStorage()
	svc := newTestService(t, nil, agg, &fakeValidator{}, storage, &fakeExporter{})

	jobID, err := svc.Start(context.Background(), interfaces.StartOptions{
		Trigger:        models.TriggerManual,
		RequestedCount: 5,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !strings.HasPrefix(jobID, "job_") {
		t.Errorf("expected job_ prefixed id, got %q", jobID)
	}

	job := waitTerminal(t, svc, jobID)
	if job.State != models.JobStateCompleted {
		t.Fatalf("expected completed, got %s (errors: %v)", job.State, job.Errors)
	}
	if job.TotalCollected != 2 || job.TotalProcessed != 2 || job.TotalStored != 2 {
		t.Errorf("counters = %d/%d/%d, want 2/2/2", job.TotalCollected, job.TotalProcessed, job.TotalStored)
	}
	if job.EndTime.IsZero() {
		t.Error("terminal job must have an end time")
	}
	if len(job.Errors) != 0 {
		t.Errorf("unexpected job errors: %v", job.Errors)
	}
	if job.Result == nil || job.Result.SourceCounts["dramaland"] != 2 {
		t.Errorf("expected source counts with dramaland=2, got %+v", job.Result)
	}

	if count, _ := storage.CountDramas(context.Background()); count != 2 {
		t.Errorf("stored %d dramas, want 2", count)
	}
	if svc.Current() != nil {
		t.Error("Current should be nil after completion")
	}
}

func TestStartRejectsWhenGateSaturated(t *testing.T) {
	agg := &fakeAggregator{block: true, release: make(chan struct{})}
	svc := newTestService(t, nil, agg, &fakeValidator{}, newMemStorage(), &fakeExporter{})

	jobID, err := svc.Start(context.Background(), interfaces.StartOptions{RequestedCount: 3})
	if err != nil {
		t.Fatalf("first Start failed: %v", err)
	}

	if _, err := svc.Start(context.Background(), interfaces.StartOptions{RequestedCount: 3}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}

	close(agg.release)
	job := waitTerminal(t, svc, jobID)
	if job.State != models.JobStateCompleted && job.State != models.JobStateError {
		t.Fatalf("unexpected state %s", job.State)
	}

	// Gate is free again once the first job is terminal
	if _, err := svc.Start(context.Background(), interfaces.StartOptions{RequestedCount: 1}); err != nil {
		t.Fatalf("Start after completion failed: %v", err)
	}
}

func TestTotalSourceFailureFailsJob(t *testing.T) {
	agg := &fakeAggregator{
		err: errors.New("3 sources, 3 errors: all sources failed"),
		srcErrs: []models.SourceError{
			{Source: "dramaland", Message: "listing timed out", Timestamp: time.Now()},
		},
	}
	svc := newTestService(t, nil, agg, &fakeValidator{}, newMemStorage(), &fakeExporter{})

	jobID, err := svc.Start(context.Background(), interfaces.StartOptions{RequestedCount: 5})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	job := waitTerminal(t, svc, jobID)
	if job.State != models.JobStateError {
		t.Fatalf("expected error state, got %s", job.State)
	}
	// Per-source errors and the fatal cause are both recorded
	if len(job.Errors) != 2 {
		t.Fatalf("expected 2 error entries, got %v", job.Errors)
	}
	if job.Errors[0].Source != "dramaland" || job.Errors[1].Source != "aggregator" {
		t.Errorf("unexpected error attribution: %v", job.Errors)
	}
}

func TestPartialSourceFailureStillCompletes(t *testing.T) {
	agg := &fakeAggregator{
		records: []models.DramaRecord{canonical("成全|2024", "成全", 0.8, "mock")},
		srcErrs: []models.SourceError{
			{Source: "dramaland", Message: "source unavailable after 3 attempts", Timestamp: time.Now()},
		},
	}
	svc := newTestService(t, nil, agg, &fakeValidator{}, newMemStorage(), &fakeExporter{})

	jobID, _ := svc.Start(context.Background(), interfaces.StartOptions{RequestedCount: 5})
	job := waitTerminal(t, svc, jobID)

	if job.State != models.JobStateCompleted {
		t.Fatalf("expected completed, got %s", job.State)
	}
	if len(job.Errors) != 1 || job.Errors[0].Source != "dramaland" {
		t.Errorf("expected one absorbed dramaland error, got %v", job.Errors)
	}
	if job.TotalStored != 1 {
		t.Errorf("stored = %d, want 1", job.TotalStored)
	}
}

func TestQualityThresholdDropsRecords(t *testing.T) {
	cfg := testConfig()
	cfg.Orchestrator.DropBelowThreshold = true

	agg := &fakeAggregator{records: []models.DramaRecord{
		canonical("good|2024", "good", 0.9, "mock"),
		canonical("bad|2024", "bad", 0.3, "mock"),
	}}
	storage := newMemStorage()
	svc := newTestService(t, cfg, agg, &fakeValidator{scores: map[string]float64{"bad|2024": 0.2}}, storage, &fakeExporter{})

	jobID, _ := svc.Start(context.Background(), interfaces.StartOptions{
		RequestedCount:   5,
		QualityThreshold: 0.6,
	})
	job := waitTerminal(t, svc, jobID)

	if job.State != models.JobStateCompleted {
		t.Fatalf("expected completed, got %s", job.State)
	}
	if job.TotalCollected != 2 || job.TotalProcessed != 1 || job.TotalStored != 1 {
		t.Errorf("counters = %d/%d/%d, want 2/1/1", job.TotalCollected, job.TotalProcessed, job.TotalStored)
	}
	if job.Result == nil || job.Result.DroppedCount != 1 {
		t.Errorf("expected 1 dropped record, got %+v", job.Result)
	}
	if _, err := storage.GetDrama(context.Background(), "bad|2024"); err == nil {
		t.Error("dropped record must not reach the store")
	}
}

func TestQualityThresholdFlagsWhenDropDisabled(t *testing.T) {
	agg := &fakeAggregator{records: []models.DramaRecord{
		canonical("borderline|2024", "borderline", 0.5, "mock"),
	}}
	storage := newMemStorage()
	svc := newTestService(t, nil, agg, &fakeValidator{scores: map[string]float64{"borderline|2024": 0.4}}, storage, &fakeExporter{})

	jobID, _ := svc.Start(context.Background(), interfaces.StartOptions{
		RequestedCount:   5,
		QualityThreshold: 0.6,
	})
	job := waitTerminal(t, svc, jobID)

	if job.TotalStored != 1 {
		t.Fatalf("flagged record must still be stored, got %d", job.TotalStored)
	}
	stored, err := storage.GetDrama(context.Background(), "borderline|2024")
	if err != nil {
		t.Fatalf("GetDrama failed: %v", err)
	}
	if !stored.Flagged {
		t.Error("record below threshold should be flagged")
	}
	if stored.QualityScore != 0.4 {
		t.Errorf("quality score = %v, want 0.4", stored.QualityScore)
	}
}

func TestStopCancelsCollectingJob(t *testing.T) {
	agg := &fakeAggregator{block: true, release: make(chan struct{})}
	svc := newTestService(t, nil, agg, &fakeValidator{}, newMemStorage(), &fakeExporter{})

	jobID, err := svc.Start(context.Background(), interfaces.StartOptions{RequestedCount: 5})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Let the pipeline reach collecting before cancelling
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if current := svc.Current(); current != nil && current.State == models.JobStateCollecting {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	job := waitTerminal(t, svc, jobID)
	if job.State != models.JobStateError {
		t.Fatalf("expected error state after Stop, got %s", job.State)
	}
	found := false
	for _, e := range job.Errors {
		if e.Source == "orchestrator" && strings.Contains(e.Message, "cancelled") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a cancellation marker, got %v", job.Errors)
	}
}

func TestStopWithoutRunningJob(t *testing.T) {
	svc := newTestService(t, nil, &fakeAggregator{}, &fakeValidator{}, newMemStorage(), &fakeExporter{})
	if err := svc.Stop(); !errors.Is(err, ErrNoJobRunning) {
		t.Fatalf("Stop = %v, want ErrNoJobRunning", err)
	}
}

func TestStoreFailureFailsJob(t *testing.T) {
	agg := &fakeAggregator{records: []models.DramaRecord{canonical("k|2024", "k", 0.8, "mock")}}
	storage := newMemStorage()
	storage.upsertErr = errors.New("store unavailable")
	svc := newTestService(t, nil, agg, &fakeValidator{}, storage, &fakeExporter{})

	jobID, _ := svc.Start(context.Background(), interfaces.StartOptions{RequestedCount: 5})
	job := waitTerminal(t, svc, jobID)

	if job.State != models.JobStateError {
		t.Fatalf("expected error state, got %s", job.State)
	}
	if len(job.Errors) == 0 || job.Errors[len(job.Errors)-1].Source != "store" {
		t.Errorf("expected a store error entry, got %v", job.Errors)
	}
}

func TestExportStageRecordsFiles(t *testing.T) {
	agg := &fakeAggregator{records: []models.DramaRecord{canonical("k|2024", "k", 0.8, "mock")}}
	exporter := &fakeExporter{}
	svc := newTestService(t, nil, agg, &fakeValidator{}, newMemStorage(), exporter)

	jobID, _ := svc.Start(context.Background(), interfaces.StartOptions{
		RequestedCount: 5,
		ExportEnabled:  true,
		ExportFormats:  []string{"json", "csv"},
	})
	job := waitTerminal(t, svc, jobID)

	if job.State != models.JobStateCompleted {
		t.Fatalf("expected completed, got %s (errors: %v)", job.State, job.Errors)
	}
	if job.Result == nil || len(job.Result.ExportFiles) != 2 {
		t.Fatalf("expected 2 export files, got %+v", job.Result)
	}
	if job.Result.ExportFiles[0].Format != "json" || job.Result.ExportFiles[1].Format != "csv" {
		t.Errorf("unexpected export formats: %+v", job.Result.ExportFiles)
	}
}

func TestExportFailureFailsJob(t *testing.T) {
	agg := &fakeAggregator{records: []models.DramaRecord{canonical("k|2024", "k", 0.8, "mock")}}
	exporter := &fakeExporter{err: errors.New("disk full")}
	storage := newMemStorage()
	svc := newTestService(t, nil, agg, &fakeValidator{}, storage, exporter)

	jobID, _ := svc.Start(context.Background(), interfaces.StartOptions{
		RequestedCount: 5,
		ExportEnabled:  true,
		ExportFormats:  []string{"json"},
	})
	job := waitTerminal(t, svc, jobID)

	if job.State != models.JobStateError {
		t.Fatalf("expected error state, got %s", job.State)
	}
	// Records stored before the export failure stay stored
	if count, _ := storage.CountDramas(context.Background()); count != 1 {
		t.Errorf("stored count = %d, want 1 (no rollback)", count)
	}
	if job.TotalStored != 1 {
		t.Errorf("TotalStored = %d, want 1", job.TotalStored)
	}
}

func TestHistoryOrderAndLimit(t *testing.T) {
	agg := &fakeAggregator{records: []models.DramaRecord{canonical("k|2024", "k", 0.8, "mock")}}
	svc := newTestService(t, nil, agg, &fakeValidator{}, newMemStorage(), &fakeExporter{})

	var ids []string
	for i := 0; i < 3; i++ {
		jobID, err := svc.Start(context.Background(), interfaces.StartOptions{RequestedCount: 1})
		if err != nil {
			t.Fatalf("Start %d failed: %v", i, err)
		}
		waitTerminal(t, svc, jobID)
		ids = append(ids, jobID)
	}

	history := svc.History(0)
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	// Most recent first
	if history[0].ID != ids[2] || history[2].ID != ids[0] {
		t.Errorf("history out of order: %s %s %s", history[0].ID, history[1].ID, history[2].ID)
	}

	limited := svc.History(2)
	if len(limited) != 2 {
		t.Errorf("History(2) length = %d, want 2", len(limited))
	}

	stats := svc.Stats()
	if stats.Total != 3 || stats.Completed != 3 || stats.Failed != 0 || stats.Running != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestHistorySnapshotsAreCopies(t *testing.T) {
	agg := &fakeAggregator{records: []models.DramaRecord{canonical("k|2024", "k", 0.8, "mock")}}
	svc := newTestService(t, nil, agg, &fakeValidator{}, newMemStorage(), &fakeExporter{})

	jobID, _ := svc.Start(context.Background(), interfaces.StartOptions{RequestedCount: 1})
	waitTerminal(t, svc, jobID)

	snapshot := svc.History(1)[0]
	snapshot.State = models.JobStateIdle
	snapshot.Errors = append(snapshot.Errors, models.SourceError{Source: "tamper"})

	fresh, err := svc.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fresh.State != models.JobStateCompleted || len(fresh.Errors) != 0 {
		t.Error("mutating a snapshot must not affect orchestrator state")
	}
}

func TestPruneHistory(t *testing.T) {
	cfg := testConfig()
	cfg.Orchestrator.HistoryRetentionDays = 7

	storage := newMemStorage()
	old := &models.CollectionJob{
		ID:        "job_old",
		State:     models.JobStateCompleted,
		StartTime: time.Now().AddDate(0, 0, -10),
		EndTime:   time.Now().AddDate(0, 0, -10),
	}
	if err := storage.SaveJob(context.Background(), old); err != nil {
		t.Fatal(err)
	}

	svc := newTestService(t, cfg, &fakeAggregator{}, &fakeValidator{}, storage, &fakeExporter{})

	deleted, err := svc.PruneHistory(context.Background())
	if err != nil {
		t.Fatalf("PruneHistory failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := storage.GetJob(context.Background(), "job_old"); err == nil {
		t.Error("pruned job should be gone from the store")
	}
}
