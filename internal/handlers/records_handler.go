package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/storage/badger"
)

// RecordsHandler serves stored drama records
type RecordsHandler struct {
	storage interfaces.DramaStorage
	logger  arbor.ILogger
}

// NewRecordsHandler creates a records handler
func NewRecordsHandler(storage interfaces.DramaStorage, logger arbor.ILogger) *RecordsHandler {
	return &RecordsHandler{
		storage: storage,
		logger:  logger,
	}
}

// ListRecordsHandler handles GET /api/records?limit=&offset=
func (h *RecordsHandler) ListRecordsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit := QueryInt(r, "limit", 50)
	offset := QueryInt(r, "offset", 0)

	records, err := h.storage.ListDramas(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list drama records")
		WriteError(w, http.StatusInternalServerError, "Failed to list records")
		return
	}
	total, err := h.storage.CountDramas(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count drama records")
		WriteError(w, http.StatusInternalServerError, "Failed to count records")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"total":   total,
		"limit":   limit,
		"offset":  offset,
		"count":   len(records),
		"records": records,
	})
}

// GetRecordHandler handles GET /api/records/{key}. Keys contain a pipe
// ("title|year"), so callers URL-encode them.
func (h *RecordsHandler) GetRecordHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/api/records/")
	if key == "" {
		WriteError(w, http.StatusBadRequest, "Record key required")
		return
	}

	record, err := h.storage.GetDrama(r.Context(), key)
	if err != nil {
		if errors.Is(err, badger.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Record not found: "+key)
			return
		}
		h.logger.Error().Err(err).Str("key", key).Msg("Failed to load drama record")
		WriteError(w, http.StatusInternalServerError, "Failed to load record")
		return
	}
	WriteJSON(w, http.StatusOK, record)
}
