// Package main provides the ETL API server: the read API plus the periodic
// ingestion scheduler.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/api"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/config"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/events"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/scheduler"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/source"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/storage"
)

const (
	version = "1.0.0"
	name    = "etl-server"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	sourcesPath := flag.String("sources", "", "path to the sources YAML file (overrides SOURCES_PATH)")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	_ = godotenv.Load()

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("starting ETL service",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("address", serverConfig.Address()),
	)

	path := *sourcesPath
	if path == "" {
		path = config.GetEnvStr("SOURCES_PATH", "sources.yaml")
	}

	sources, err := source.LoadSources(path)
	if err != nil {
		logger.Error("failed to load sources", slog.String("path", path), slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("loaded source configuration",
		slog.String("path", path),
		slog.Int("sources", len(sources)),
		slog.Int("enabled", len(source.EnabledSources(sources))),
	)

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

	logger.Info("database connected",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("max_idle_conns", storageConfig.MaxIdleConns),
	)

	rawStore, err := storage.NewPersistentRawStore(conn)
	if err != nil {
		exitOnInitError(logger, conn, "raw store", err)
	}

	canonicalStore, err := storage.NewPersistentCanonicalStore(conn)
	if err != nil {
		exitOnInitError(logger, conn, "canonical store", err)
	}

	checkpointStore, err := storage.NewPersistentCheckpointStore(conn)
	if err != nil {
		exitOnInitError(logger, conn, "checkpoint store", err)
	}

	runStore, err := storage.NewPersistentRunStore(conn)
	if err != nil {
		exitOnInitError(logger, conn, "run store", err)
	}

	opts := []ingestion.CoordinatorOption{}

	eventsConfig := events.LoadConfig()
	if eventsConfig.Enabled() {
		publisher, err := events.NewKafkaPublisher(eventsConfig, logger)
		if err != nil {
			exitOnInitError(logger, conn, "event publisher", err)
		}

		defer func() { _ = publisher.Close() }()

		logger.Info("event publishing enabled",
			slog.Any("brokers", eventsConfig.Brokers),
			slog.String("duplicate_topic", eventsConfig.DuplicateTopic),
			slog.String("run_topic", eventsConfig.RunTopic),
		)

		opts = append(opts, ingestion.WithPublisher(publisher))
	} else {
		logger.Warn("event publishing disabled, set KAFKA_BROKERS to enable")
	}

	coordinator, err := ingestion.NewCoordinator(
		rawStore, canonicalStore, checkpointStore, runStore, logger, opts...,
	)
	if err != nil {
		exitOnInitError(logger, conn, "coordinator", err)
	}

	schedulerConfig := scheduler.LoadConfig()

	sched, err := scheduler.New(coordinator, sources, schedulerConfig, logger)
	if err != nil {
		exitOnInitError(logger, conn, "scheduler", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sched.Run(ctx)

	server := api.NewServer(serverConfig, api.Dependencies{
		Canonical: canonicalStore,
		Runs:      runStore,
		Health:    conn,
		Trigger:   coordinator,
		Sources:   sources,
	})

	if err := server.Start(); err != nil {
		logger.Error("server failed", slog.String("error", err.Error()))
		cancel()
		os.Exit(1)
	}

	logger.Info("ETL service stopped")
}

// exitOnInitError logs a fatal initialization failure and exits. The
// connection is closed explicitly because deferred calls never run after
// os.Exit.
func exitOnInitError(logger *slog.Logger, conn *storage.Connection, component string, err error) {
	logger.Error("failed to initialize "+component, slog.String("error", err.Error()))

	_ = conn.Close()

	os.Exit(1)
}
