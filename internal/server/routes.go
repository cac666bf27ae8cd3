package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/beacon/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Audits
	mux.HandleFunc("/v1/audit", s.app.AuditHandler.SubmitHandler)           // POST - submit audit
	mux.HandleFunc("/v1/audit/", s.handleAuditRoutes)                       // GET/DELETE /{id}, GET /{id}/ws
	mux.HandleFunc("/v1/audits/running", s.app.AuditHandler.RunningHandler) // GET - active job ids
	mux.HandleFunc("/v1/audits/stats", s.app.AuditHandler.StatsHandler)     // GET - execution metrics

	// API routes - Cache
	mux.HandleFunc("/v1/cache", s.app.CacheHandler.ClearHandler)           // DELETE - drop cache
	mux.HandleFunc("/v1/cache/stats", s.app.CacheHandler.StatsHandler)     // GET - entry counts
	mux.HandleFunc("/v1/cache/cleanup", s.app.CacheHandler.CleanupHandler) // POST - remove expired

	// API routes - System
	mux.HandleFunc("/v1/health", s.app.HealthHandler.HealthHandler) // GET - readiness

	return mux
}

// handleAuditRoutes dispatches /v1/audit/{id} and /v1/audit/{id}/ws
func (s *Server) handleAuditRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/audit/")
	if path == "" || strings.Contains(strings.TrimSuffix(path, "/ws"), "/") {
		handlers.WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	if jobID := strings.TrimSuffix(path, "/ws"); jobID != path {
		if !handlers.RequireMethod(w, r, http.MethodGet) {
			return
		}
		s.app.WSHandler.HandleProgress(w, r, jobID)
		return
	}

	switch r.Method {
	case http.MethodGet:
		// The progress stream shares the job path, selected by the upgrade header
		if websocket.IsWebSocketUpgrade(r) {
			s.app.WSHandler.HandleProgress(w, r, path)
			return
		}
		s.app.AuditHandler.StatusHandler(w, r, path)
	case http.MethodDelete:
		s.app.AuditHandler.CancelHandler(w, r, path)
	default:
		handlers.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
