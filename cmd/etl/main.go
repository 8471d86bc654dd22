// Package main provides the one-shot ETL runner. It executes a single
// ingestion cycle across the configured sources and exits, which makes it
// suitable for cron jobs and manual backfills.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/config"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/events"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/source"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/storage"
)

const (
	version = "1.0.0"
	name    = "etl"

	// runTimeout bounds a full cycle across all sources.
	runTimeout = 60 * time.Minute
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	sourceFlag := flag.String("source", "", "run a single source by name instead of all enabled sources")
	sourcesPath := flag.String("sources", "", "path to the sources YAML file (overrides SOURCES_PATH)")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("ETL_LOG_LEVEL", slog.LevelInfo),
	}))

	path := *sourcesPath
	if path == "" {
		path = config.GetEnvStr("SOURCES_PATH", "sources.yaml")
	}

	sources, err := source.LoadSources(path)
	if err != nil {
		logger.Error("failed to load sources", slog.String("path", path), slog.String("error", err.Error()))
		os.Exit(1)
	}

	targets, err := selectSources(sources, *sourceFlag)
	if err != nil {
		logger.Error("no sources to run", slog.String("error", err.Error()))
		os.Exit(1)
	}

	storageConfig := storage.LoadConfig()

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("failed to connect to database",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	defer func() { _ = conn.Close() }()

	coordinator, cleanup, err := buildCoordinator(conn, logger)
	if err != nil {
		logger.Error("failed to initialize coordinator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	failed := 0

	for _, cfg := range targets {
		run, err := coordinator.RunIngestion(ctx, cfg)
		if err != nil {
			failed++

			logger.Error("ingestion run failed",
				slog.String("source", cfg.Name),
				slog.String("error", err.Error()),
			)

			continue
		}

		logger.Info("ingestion run completed",
			slog.String("source", cfg.Name),
			slog.String("run_id", run.RunID),
			slog.Int("processed", run.Processed),
			slog.Int("inserted", run.Inserted),
			slog.Int("updated", run.Updated),
			slog.Int("failed", run.Failed),
		)
	}

	if failed > 0 {
		logger.Error("ingestion cycle finished with failures",
			slog.Int("failed", failed),
			slog.Int("total", len(targets)),
		)
		closeAndExit(conn, cleanup)
	}

	logger.Info("ingestion cycle finished", slog.Int("sources", len(targets)))
}

// selectSources resolves which sources to run. A named source must exist and
// be enabled; otherwise all enabled sources run.
func selectSources(sources []source.Config, name string) ([]source.Config, error) {
	if name != "" {
		for _, cfg := range sources {
			if cfg.Name != name {
				continue
			}

			if !cfg.Enabled {
				return nil, &sourceError{name: name, reason: "source is disabled"}
			}

			return []source.Config{cfg}, nil
		}

		return nil, &sourceError{name: name, reason: "source not found"}
	}

	enabled := source.EnabledSources(sources)
	if len(enabled) == 0 {
		return nil, &sourceError{reason: "no enabled sources configured"}
	}

	return enabled, nil
}

type sourceError struct {
	name   string
	reason string
}

func (e *sourceError) Error() string {
	if e.name == "" {
		return e.reason
	}

	return e.reason + ": " + e.name
}

// buildCoordinator wires the persistent stores and optional event publisher
// into an ingestion coordinator. The returned cleanup closes the publisher.
func buildCoordinator(conn *storage.Connection, logger *slog.Logger) (*ingestion.Coordinator, func(), error) {
	rawStore, err := storage.NewPersistentRawStore(conn)
	if err != nil {
		return nil, nil, err
	}

	canonicalStore, err := storage.NewPersistentCanonicalStore(conn)
	if err != nil {
		return nil, nil, err
	}

	checkpointStore, err := storage.NewPersistentCheckpointStore(conn)
	if err != nil {
		return nil, nil, err
	}

	runStore, err := storage.NewPersistentRunStore(conn)
	if err != nil {
		return nil, nil, err
	}

	opts := []ingestion.CoordinatorOption{}
	cleanup := func() {}

	eventsConfig := events.LoadConfig()
	if eventsConfig.Enabled() {
		publisher, err := events.NewKafkaPublisher(eventsConfig, logger)
		if err != nil {
			return nil, nil, err
		}

		cleanup = func() { _ = publisher.Close() }

		opts = append(opts, ingestion.WithPublisher(publisher))
	}

	coordinator, err := ingestion.NewCoordinator(
		rawStore, canonicalStore, checkpointStore, runStore, logger, opts...,
	)
	if err != nil {
		cleanup()

		return nil, nil, err
	}

	return coordinator, cleanup, nil
}

// closeAndExit runs cleanup before exiting because deferred calls never run
// after os.Exit.
func closeAndExit(conn *storage.Connection, cleanup func()) {
	cleanup()

	_ = conn.Close()

	os.Exit(1)
}
