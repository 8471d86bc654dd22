package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// handleHealth reports service health: database reachability, uptime and the
// most recent ingestion run. Degraded storage yields 503 so load balancers
// rotate the instance out.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	response := HealthResponse{
		Status:        "healthy",
		Database:      "up",
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}

	status := http.StatusOK

	if s.deps.Health != nil {
		if err := s.deps.Health.HealthCheck(ctx); err != nil {
			s.logger.Error("health check failed", slog.String("error", err.Error()))

			response.Status = "degraded"
			response.Database = "down"
			status = http.StatusServiceUnavailable
		}
	}

	if s.deps.Runs != nil && response.Database == "up" {
		lastRun, err := s.deps.Runs.LastRun(ctx)
		if err != nil {
			s.logger.Error("failed to load last run", slog.String("error", err.Error()))
		} else if lastRun != nil {
			run := toRunResponse(lastRun)
			response.LastRun = &run
		}
	}

	writeJSON(w, r, s.logger, status, response)
}
