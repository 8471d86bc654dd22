package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/api/middleware"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/source"
)

// HealthChecker verifies the storage backend is reachable. Satisfied by
// storage.Connection.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RunTrigger starts an ingestion run for one source. Satisfied by
// ingestion.Coordinator.
type RunTrigger interface {
	RunIngestion(ctx context.Context, cfg source.Config) (*ingestion.RunRecord, error)
}

// Dependencies holds the runtime collaborators of the server, injected
// separately from configuration. A nil Trigger disables /etl/run; a nil
// HealthChecker reports the database as up (in-memory mode).
type Dependencies struct {
	Canonical ingestion.CanonicalStore
	Runs      ingestion.RunStore
	Health    HealthChecker
	Trigger   RunTrigger
	Sources   []source.Config
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	config     *ServerConfig
	deps       Dependencies
	startTime  time.Time
}

// NewServer creates the HTTP server with the full middleware stack.
func NewServer(cfg *ServerConfig, deps Dependencies) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	server := &Server{
		logger: logger,
		config: cfg,
		deps:   deps,
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	if deps.Trigger == nil {
		logger.Warn("no run trigger configured, POST /etl/run is disabled")
	}

	// Order matters: request ID first so every later layer can tag its
	// logs, recovery before logging so panics still produce a log line.
	handler := middleware.Apply(mux,
		middleware.WithRequestID(),
		middleware.WithRecovery(logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start runs the server and blocks until a shutdown signal or server error.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// Handler exposes the fully wrapped handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("server shutdown completed")

	return nil
}
