package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // PostgreSQL driver

	migrate "github.com/golang-migrate/migrate/v4"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/migrations"
)

type (
	// MigrationRunner defines the operations of the migration CLI.
	MigrationRunner interface {
		// Up applies all pending migrations.
		Up() error

		// Down rolls back the most recent migration.
		Down() error

		// Status prints the current migration version and dirty flag.
		Status() error

		// Drop drops every object in the database (destructive).
		Drop() error

		// Close closes the underlying connections.
		Close() error
	}

	// migrationRunner implements MigrationRunner over golang-migrate with
	// the embedded migration filesystem.
	migrationRunner struct {
		migrate *migrate.Migrate
		db      *sql.DB
	}

	// migrateLogger adapts the standard logger to migrate.Logger.
	migrateLogger struct{}
)

var _ migrate.Logger = (*migrateLogger)(nil)

func (l *migrateLogger) Printf(format string, v ...any) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// NewMigrationRunner creates a runner bound to the embedded migrations.
func NewMigrationRunner(cfg *Config) (MigrationRunner, error) {
	log.Printf("Initializing migration runner with config: %s", cfg.String())

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: cfg.MigrationTable,
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{}

	return &migrationRunner{migrate: m, db: db}, nil
}

// Up applies all pending migrations.
func (r *migrationRunner) Up() error {
	err := r.migrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No new migrations to apply")
	} else {
		log.Println("All migrations applied")
	}

	return nil
}

// Down rolls back the most recent migration.
func (r *migrationRunner) Down() error {
	err := r.migrate.Steps(-1)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}

	log.Println("Rolled back one migration")

	return nil
}

// Status prints the current version and dirty flag.
func (r *migrationRunner) Status() error {
	version, dirty, err := r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Println("No migrations applied yet")

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	log.Printf("Current version: %d (dirty: %t)", version, dirty)

	return nil
}

// Drop removes every object in the database.
func (r *migrationRunner) Drop() error {
	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop failed: %w", err)
	}

	log.Println("All tables dropped")

	return nil
}

// Close releases the migrate instance and database connection.
func (r *migrationRunner) Close() error {
	sourceErr, dbErr := r.migrate.Close()
	if sourceErr != nil {
		return sourceErr
	}

	return dbErr
}
