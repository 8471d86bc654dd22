package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/api/middleware"
)

// ErrorResponse is the JSON error envelope shared by every endpoint.
type ErrorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a consistent JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, status int, title, detail string) {
	requestID := middleware.GetRequestID(r.Context())

	response := ErrorResponse{
		Error:     title,
		Detail:    detail,
		Status:    status,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("failed to encode error response",
			slog.String("request_id", requestID),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
}

// writeJSON writes a JSON success response.
func writeJSON(w http.ResponseWriter, r *http.Request, logger *slog.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
}
