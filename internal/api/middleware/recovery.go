package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recovery creates a middleware that turns panics into 500 responses instead
// of dropped connections.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					requestID := GetRequestID(r.Context())

					logger.Error("http request panic recovered",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("request_id", requestID),
						slog.Any("panic", err),
						slog.String("stack_trace", string(debug.Stack())),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)

					response := map[string]string{
						"error":      "internal server error",
						"request_id": requestID,
					}

					if err := json.NewEncoder(w).Encode(response); err != nil {
						logger.Error("failed to encode panic response",
							slog.String("request_id", requestID),
							slog.Any("error", err),
						)
					}
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
