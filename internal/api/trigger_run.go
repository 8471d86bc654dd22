package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/api/middleware"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/source"
)

// triggerRunTimeout bounds a background run started over HTTP. Decoupled
// from the request context: the run keeps going after the 202 response.
const triggerRunTimeout = 30 * time.Minute

// handleTriggerRun starts ingestion in the background and responds 202.
// An optional ?source=name restricts the trigger to one configured source;
// without it every enabled source runs.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Trigger == nil {
		writeError(w, r, s.logger, http.StatusServiceUnavailable, "trigger disabled",
			"no ingestion coordinator is configured")

		return
	}

	targets := source.EnabledSources(s.deps.Sources)

	if name := r.URL.Query().Get("source"); name != "" {
		match, ok := findSource(targets, name)
		if !ok {
			writeError(w, r, s.logger, http.StatusNotFound, "unknown source",
				"no enabled source named "+name)

			return
		}

		targets = []source.Config{match}
	}

	if len(targets) == 0 {
		writeError(w, r, s.logger, http.StatusConflict, "no sources",
			"no enabled sources are configured")

		return
	}

	requestID := middleware.GetRequestID(r.Context())
	names := make([]string, 0, len(targets))

	for _, cfg := range targets {
		names = append(names, cfg.Name)
	}

	go s.runInBackground(requestID, targets)

	writeJSON(w, r, s.logger, http.StatusAccepted, TriggerResponse{
		RequestID: requestID,
		Message:   "ingestion started",
		Sources:   names,
	})
}

// runInBackground executes the triggered runs detached from the HTTP
// request lifecycle.
func (s *Server) runInBackground(requestID string, targets []source.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), triggerRunTimeout)
	defer cancel()

	for _, cfg := range targets {
		run, err := s.deps.Trigger.RunIngestion(ctx, cfg)

		switch {
		case errors.Is(err, ingestion.ErrRunInProgress):
			s.logger.Info("triggered run skipped, source already running",
				slog.String("request_id", requestID),
				slog.String("source", cfg.Name),
			)
		case err != nil:
			s.logger.Error("triggered run failed",
				slog.String("request_id", requestID),
				slog.String("source", cfg.Name),
				slog.String("error", err.Error()),
			)
		default:
			s.logger.Info("triggered run finished",
				slog.String("request_id", requestID),
				slog.String("source", cfg.Name),
				slog.String("run_id", run.RunID),
				slog.String("status", string(run.Status)),
			)
		}
	}
}

func findSource(sources []source.Config, name string) (source.Config, bool) {
	for _, cfg := range sources {
		if cfg.Name == name {
			return cfg, true
		}
	}

	return source.Config{}, false
}
