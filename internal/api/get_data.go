package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/api/middleware"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// handleData serves paginated canonical records with optional source
// filtering: GET /data?limit=10&offset=0&source=jsonplaceholder.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	limit, err := parseBoundedInt(r.URL.Query().Get("limit"), defaultPageLimit, 1, maxPageLimit)
	if err != nil {
		writeError(w, r, s.logger, http.StatusBadRequest, "invalid limit",
			"limit must be an integer between 1 and 100")

		return
	}

	offset, err := parseBoundedInt(r.URL.Query().Get("offset"), 0, 0, 1<<31-1)
	if err != nil {
		writeError(w, r, s.logger, http.StatusBadRequest, "invalid offset",
			"offset must be a non-negative integer")

		return
	}

	sourceName := r.URL.Query().Get("source")

	records, total, err := s.deps.Canonical.List(r.Context(), ingestion.ListFilter{
		Source: sourceName,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("failed to list records",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)

		writeError(w, r, s.logger, http.StatusInternalServerError, "storage error",
			"failed to read canonical records")

		return
	}

	data := make([]RecordResponse, 0, len(records))
	for _, record := range records {
		data = append(data, toRecordResponse(record))
	}

	writeJSON(w, r, s.logger, http.StatusOK, DataResponse{
		RequestID:  middleware.GetRequestID(r.Context()),
		TotalCount: total,
		Count:      len(data),
		Limit:      limit,
		Offset:     offset,
		Source:     sourceName,
		LatencyMs:  time.Since(start).Milliseconds(),
		Data:       data,
	})
}

// parseBoundedInt parses an optional query parameter, applying a default and
// enforcing [minValue, maxValue].
func parseBoundedInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}

	if value < minValue {
		return 0, strconv.ErrRange
	}

	if value > maxValue {
		value = maxValue
	}

	return value, nil
}
