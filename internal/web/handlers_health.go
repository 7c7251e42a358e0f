package web

import (
	"net/http"
	"time"

	"github.com/JonMunkholm/sitebook/internal/core"
)

// StatusResponse reports server state for operators.
type StatusResponse struct {
	Status        string                   `json:"status"`
	UptimeSeconds int64                    `json:"uptimeSeconds"`
	Tables        int                      `json:"tables"`
	Imports       core.ImportLimiterStatus `json:"imports"`
	Archive       bool                     `json:"archive"`
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports import slot usage and configuration.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Tables:        len(s.registry.ListTables()),
		Imports:       s.limiter.Status(),
		Archive:       s.archiver != nil,
	})
}
