package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/orchestrator"
)

// JobHandler exposes the orchestrator over the REST API
type JobHandler struct {
	orchestrator interfaces.OrchestratorService
	logger       arbor.ILogger
}

// NewJobHandler creates a job handler
func NewJobHandler(orch interfaces.OrchestratorService, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		orchestrator: orch,
		logger:       logger,
	}
}

// startJobRequest is the POST /api/jobs/start body; every field is optional
// and falls back to the configured defaults
type startJobRequest struct {
	Count            int      `json:"count"`
	Export           bool     `json:"export"`
	Formats          []string `json:"formats"`
	QualityThreshold float64  `json:"quality_threshold"`
}

// StartJobHandler handles POST /api/jobs/start. Returns 202 with the job id,
// or 409 when the concurrency gate is saturated.
func (h *JobHandler) StartJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req startJobRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}
	if err := models.ValidateExportFormats(req.Formats); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := h.orchestrator.Start(r.Context(), interfaces.StartOptions{
		Trigger:          models.TriggerManual,
		RequestedCount:   req.Count,
		ExportEnabled:    req.Export,
		ExportFormats:    req.Formats,
		QualityThreshold: req.QualityThreshold,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrAlreadyRunning) {
			WriteError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Failed to start collection job")
		WriteError(w, http.StatusInternalServerError, "Failed to start job")
		return
	}

	h.logger.Info().Str("job_id", jobID).Msg("Collection job started via API")
	WriteAccepted(w, "Collection job started", jobID)
}

// StopJobHandler handles POST /api/jobs/stop. Cancellation is cooperative,
// so the response is 202 and the job reaches its terminal state asynchronously.
func (h *JobHandler) StopJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.orchestrator.Stop(); err != nil {
		if errors.Is(err, orchestrator.ErrNoJobRunning) {
			WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Failed to stop collection job")
		WriteError(w, http.StatusInternalServerError, "Failed to stop job")
		return
	}

	WriteAccepted(w, "Cancellation requested", "")
}

// CurrentJobHandler handles GET /api/jobs/current
func (h *JobHandler) CurrentJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job := h.orchestrator.Current()
	if job == nil {
		WriteJSON(w, http.StatusOK, map[string]interface{}{"running": false})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"running": true,
		"job":     job,
	})
}

// ListJobsHandler handles GET /api/jobs?limit=
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit := QueryInt(r, "limit", 20)
	jobs := h.orchestrator.History(limit)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(jobs),
		"jobs":  jobs,
	})
}

// GetJobHandler handles GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		WriteError(w, http.StatusBadRequest, "Job ID required")
		return
	}

	job, err := h.orchestrator.Get(r.Context(), jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Job not found: "+jobID)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}
