package api

import (
	"log/slog"
	"net/http"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/api/middleware"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
)

const recentRunLimit = 20

// handleStats reports pipeline statistics: total canonical records plus
// aggregate counters over the most recent runs.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	_, total, err := s.deps.Canonical.List(r.Context(), ingestion.ListFilter{Limit: 1})
	if err != nil {
		s.logger.Error("failed to count records",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)

		writeError(w, r, s.logger, http.StatusInternalServerError, "storage error",
			"failed to read record statistics")

		return
	}

	runs, err := s.deps.Runs.ListRecent(r.Context(), recentRunLimit)
	if err != nil {
		s.logger.Error("failed to list runs",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)

		writeError(w, r, s.logger, http.StatusInternalServerError, "storage error",
			"failed to read run history")

		return
	}

	response := StatsResponse{
		RequestID:    requestID,
		TotalRecords: total,
		RecentRuns:   make([]RunResponse, 0, len(runs)),
	}

	for _, run := range runs {
		response.TotalProcessed += run.Processed
		response.TotalInserted += run.Inserted
		response.TotalFailed += run.Failed
		response.RecentRuns = append(response.RecentRuns, toRunResponse(run))
	}

	writeJSON(w, r, s.logger, http.StatusOK, response)
}
