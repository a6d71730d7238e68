package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// StatusHandler serves the application status endpoint
type StatusHandler struct {
	orchestrator interfaces.OrchestratorService
	scheduler    SchedulerStatus
	storage      interfaces.DramaStorage
	logger       arbor.ILogger
	startTime    time.Time
}

// NewStatusHandler creates a status handler
func NewStatusHandler(orch interfaces.OrchestratorService, scheduler SchedulerStatus, storage interfaces.DramaStorage, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		orchestrator: orch,
		scheduler:    scheduler,
		storage:      storage,
		logger:       logger,
		startTime:    time.Now(),
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	recordCount, err := h.storage.CountDramas(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Record count unavailable for status")
		recordCount = -1
	}

	current := h.orchestrator.Current()
	status := map[string]interface{}{
		"version":           common.GetFullVersion(),
		"uptime":            time.Since(h.startTime).Round(time.Second).String(),
		"scheduler_running": h.scheduler.IsRunning(),
		"job_running":       current != nil,
		"job_stats":         h.orchestrator.Stats(),
		"record_count":      recordCount,
		"goroutines":        common.GetGoroutineCount(),
	}
	if current != nil {
		status["current_job"] = current
	}

	WriteJSON(w, http.StatusOK, status)
}
