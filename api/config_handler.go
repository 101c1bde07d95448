package api

import (
	"net/http"

	"github.com/seenimoa/openedgar/internal/config"
)

// ConfigResponse is the JSON envelope returned by GET /api/v1/config.
type ConfigResponse struct {
	Config *config.Config `json:"config"`
}

// handleGetConfig returns the configuration the running process was
// started with. The monitor is read-only: edits go through the config
// file and a restart, never through the API.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil {
		writeError(w, http.StatusNotFound, "no configuration loaded")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    ConfigResponse{Config: s.cfg},
	})
}
