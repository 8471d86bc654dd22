package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
)

// Sentinel errors shared across the storage implementations.
var (
	// ErrNoDatabaseConnection is returned when a store is constructed
	// without a connection.
	ErrNoDatabaseConnection = errors.New("database connection is required")

	// ErrRunNotFound is returned when finalizing a run that was never
	// created.
	ErrRunNotFound = errors.New("run record not found")
)

const pingTimeout = 5 * time.Second

// Connection wraps *sql.DB with pool configuration applied from Config.
type Connection struct {
	db *sql.DB
}

// NewConnection opens a PostgreSQL connection pool and verifies it with a
// ping.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{db: db}, nil
}

// Close closes the underlying connection pool.
func (c *Connection) Close() error {
	return c.db.Close()
}

// HealthCheck verifies the database is reachable.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ingestion.ErrStorageUnavailable, err)
	}

	return nil
}

// ExecContext executes a statement on the pool.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the pool.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the pool.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, opts)
}

// DB exposes the raw pool for components that need it directly, such as the
// migration runner.
func (c *Connection) DB() *sql.DB {
	return c.db
}

// isConnectionError reports whether an error indicates a failed or lost
// database connection rather than a statement-level problem.
//
// PostgreSQL Class 08 covers connection exceptions:
//
//	08000 - connection_exception
//	08001 - sqlclient_unable_to_establish_sqlconnection
//	08003 - connection_does_not_exist
//	08006 - connection_failure
func isConnectionError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn)
}

// isUniqueViolation reports whether an error is a PostgreSQL unique
// constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// classify wraps connection-class errors with ingestion.ErrStorageUnavailable
// so the run coordinator can tell transient failures from permanent ones.
func classify(err error, operation string) error {
	if err == nil {
		return nil
	}

	if isConnectionError(err) {
		return fmt.Errorf("%s: %w: %w", operation, ingestion.ErrStorageUnavailable, err)
	}

	return fmt.Errorf("%s: %w", operation, err)
}
