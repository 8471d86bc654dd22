// Package scheduler triggers periodic ingestion runs for every enabled
// source.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/config"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/source"
)

const defaultInterval = 6 * time.Hour

// ErrNoRunner is returned when the scheduler is constructed without a
// coordinator.
var ErrNoRunner = errors.New("scheduler requires an ingestion runner")

// Runner runs one ingestion cycle for a source. Satisfied by
// ingestion.Coordinator.
type Runner interface {
	RunIngestion(ctx context.Context, cfg source.Config) (*ingestion.RunRecord, error)
}

// Config holds scheduler settings.
type Config struct {
	// Interval between scheduled cycles.
	Interval time.Duration

	// RunOnStart triggers a full cycle immediately instead of waiting for
	// the first tick.
	RunOnStart bool
}

// LoadConfig reads scheduler settings from environment variables.
func LoadConfig() *Config {
	return &Config{
		Interval:   config.GetEnvDuration("ETL_SCHEDULE_INTERVAL", defaultInterval),
		RunOnStart: config.GetEnvBool("ETL_RUN_ON_START", true),
	}
}

// Scheduler runs every enabled source on a fixed interval.
//
// Sources within one cycle run sequentially; one source's failure is logged
// and never blocks the others. The coordinator's own per-source guard covers
// overlap with manually triggered runs.
type Scheduler struct {
	runner   Runner
	sources  []source.Config
	interval time.Duration
	runFirst bool
	logger   *slog.Logger
}

// New creates a scheduler over the given sources.
func New(runner Runner, sources []source.Config, cfg *Config, logger *slog.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, ErrNoRunner
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Scheduler{
		runner:   runner,
		sources:  source.EnabledSources(sources),
		interval: interval,
		runFirst: cfg.RunOnStart,
		logger:   logger,
	}, nil
}

// Run blocks until the context is cancelled, triggering a full ingestion
// cycle every interval.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		slog.Duration("interval", s.interval),
		slog.Int("sources", len(s.sources)),
	)

	if s.runFirst {
		s.runCycle(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")

			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle runs every enabled source once, sequentially.
func (s *Scheduler) runCycle(ctx context.Context) {
	for _, cfg := range s.sources {
		if ctx.Err() != nil {
			return
		}

		run, err := s.runner.RunIngestion(ctx, cfg)

		switch {
		case errors.Is(err, ingestion.ErrRunInProgress):
			s.logger.Info("skipping scheduled run, source already running",
				slog.String("source", cfg.Name),
			)
		case err != nil:
			s.logger.Error("scheduled run failed",
				slog.String("source", cfg.Name),
				slog.String("error", err.Error()),
			)
		default:
			s.logger.Info("scheduled run finished",
				slog.String("source", cfg.Name),
				slog.String("run_id", run.RunID),
				slog.String("status", string(run.Status)),
			)
		}
	}
}
