package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ExportHandler runs on-demand exports of the stored catalog, independent of
// any collection job
type ExportHandler struct {
	storage  interfaces.DramaStorage
	exporter interfaces.ExportService
	cfg      ConfigProvider
	logger   arbor.ILogger
}

// NewExportHandler creates an export handler
func NewExportHandler(storage interfaces.DramaStorage, exporter interfaces.ExportService, cfg ConfigProvider, logger arbor.ILogger) *ExportHandler {
	return &ExportHandler{
		storage:  storage,
		exporter: exporter,
		cfg:      cfg,
		logger:   logger,
	}
}

// exportRequest is the POST /api/export body
type exportRequest struct {
	Formats []string `json:"formats"`
}

// ExportHandler handles POST /api/export: exports every stored record in the
// requested formats (configured defaults when none given).
func (h *ExportHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req exportRequest
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

	exportCfg := h.cfg.Config().Export
	formats := req.Formats
	if len(formats) == 0 {
		formats = exportCfg.Formats
	}

	records, err := h.loadAll(r)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load records for export")
		WriteError(w, http.StatusInternalServerError, "Failed to load records")
		return
	}

	results, err := h.exporter.Export(r.Context(), records, formats, models.ExportOptions{
		OutputDir:  exportCfg.OutputDir,
		FontPath:   exportCfg.FontPath,
		PrettyJSON: exportCfg.PrettyJSON,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("On-demand export failed")
		WriteError(w, http.StatusInternalServerError, "Export failed: "+err.Error())
		return
	}

	h.logger.Info().Int("records", len(records)).Int("files", len(results)).Msg("On-demand export completed")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"record_count": len(records),
		"files":        results,
	})
}

func (h *ExportHandler) loadAll(r *http.Request) ([]models.DramaRecord, error) {
	total, err := h.storage.CountDramas(r.Context())
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}
	return h.storage.ListDramas(r.Context(), total, 0)
}
