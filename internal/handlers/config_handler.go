package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
)

// ConfigHandler serves the redacted configuration view and the reload endpoint
type ConfigHandler struct {
	provider ConfigProvider
	logger   arbor.ILogger
}

// NewConfigHandler creates a config handler
func NewConfigHandler(provider ConfigProvider, logger arbor.ILogger) *ConfigHandler {
	return &ConfigHandler{
		provider: provider,
		logger:   logger,
	}
}

// GetConfigHandler handles GET /api/config. Source API keys are redacted.
func (h *ConfigHandler) GetConfigHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	cfg := h.provider.Config()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"environment":  cfg.Environment,
		"server":       cfg.Server,
		"logging":      cfg.Logging,
		"orchestrator": cfg.Orchestrator,
		"export":       cfg.Export,
		"sources":      cfg.RedactedSources(),
	})
}

// ReloadConfigHandler handles POST /api/config/reload. Re-reads the config
// files and swaps in the reloadable subset; the server address is pinned.
func (h *ConfigHandler) ReloadConfigHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	cfg, err := h.provider.ReloadConfig()
	if err != nil {
		h.logger.Error().Err(err).Msg("Config reload failed")
		WriteError(w, http.StatusInternalServerError, "Reload failed: "+err.Error())
		return
	}

	h.logger.Info().Msg("Configuration reloaded")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "reloaded",
		"orchestrator": cfg.Orchestrator,
		"sources":      cfg.RedactedSources(),
	})
}
