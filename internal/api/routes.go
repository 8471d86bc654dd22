package api

import (
	"net/http"
)

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /data", s.handleData)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /etl/run", s.handleTriggerRun)
	mux.HandleFunc("GET /etl/run", s.handleTriggerRun)

	mux.HandleFunc("/", s.handleNotFound)
}

// handleNotFound is the catch-all for unknown paths.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, s.logger, http.StatusNotFound, "not found", "unknown endpoint: "+r.URL.Path)
}
