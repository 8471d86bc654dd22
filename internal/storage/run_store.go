package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
)

// Compile-time interface assertion.
var _ ingestion.RunStore = (*PersistentRunStore)(nil)

// PersistentRunStore implements ingestion.RunStore with a PostgreSQL
// backend. Run history is append-only; only finalization touches an
// existing row.
type PersistentRunStore struct {
	conn *Connection
}

// NewPersistentRunStore creates a PostgreSQL-backed run store.
func NewPersistentRunStore(conn *Connection) (*PersistentRunStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PersistentRunStore{conn: conn}, nil
}

// Create records a new in-progress run.
func (s *PersistentRunStore) Create(ctx context.Context, run *ingestion.RunRecord) error {
	query := `
		INSERT INTO etl_runs (run_id, source, start_time, status)
		VALUES ($1, $2, $3, $4)`

	_, err := s.conn.ExecContext(ctx, query, run.RunID, run.Source, run.StartTime, run.Status)

	return classify(err, "run create")
}

// Finalize stores the terminal state and counters of a run.
func (s *PersistentRunStore) Finalize(ctx context.Context, run *ingestion.RunRecord) error {
	query := `
		UPDATE etl_runs SET
			end_time = $2,
			duration_ms = $3,
			records_processed = $4,
			records_inserted = $5,
			records_updated = $6,
			records_failed = $7,
			status = $8,
			error_message = NULLIF($9, '')
		WHERE run_id = $1`

	result, err := s.conn.ExecContext(ctx, query,
		run.RunID, run.EndTime, run.DurationMs,
		run.Processed, run.Inserted, run.Updated, run.Failed,
		run.Status, run.ErrorMessage,
	)
	if err != nil {
		return classify(err, "run finalize")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("run finalize: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.RunID)
	}

	return nil
}

// ListRecent returns up to limit runs, newest first.
func (s *PersistentRunStore) ListRecent(ctx context.Context, limit int) ([]*ingestion.RunRecord, error) {
	query := selectRunColumns + `
		ORDER BY start_time DESC, id DESC
		LIMIT NULLIF($1, 0)`

	rows, err := s.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, classify(err, "run list")
	}
	defer func() { _ = rows.Close() }()

	var runs []*ingestion.RunRecord

	for rows.Next() {
		run, err := scanRunRecord(rows)
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(err, "run list")
	}

	return runs, nil
}

// LastRun returns the most recently started run, or nil when none exists.
func (s *PersistentRunStore) LastRun(ctx context.Context) (*ingestion.RunRecord, error) {
	query := selectRunColumns + `
		ORDER BY start_time DESC, id DESC
		LIMIT 1`

	run, err := scanRunRecord(s.conn.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, classify(err, "last run lookup")
	}

	return run, nil
}

const selectRunColumns = `
	SELECT run_id, source, start_time, end_time, duration_ms,
		records_processed, records_inserted, records_updated, records_failed,
		status, error_message
	FROM etl_runs`

func scanRunRecord(row rowScanner) (*ingestion.RunRecord, error) {
	var (
		run          ingestion.RunRecord
		endTime      sql.NullTime
		errorMessage sql.NullString
	)

	err := row.Scan(
		&run.RunID, &run.Source, &run.StartTime, &endTime, &run.DurationMs,
		&run.Processed, &run.Inserted, &run.Updated, &run.Failed,
		&run.Status, &errorMessage,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan run record: %w", err)
	}

	if endTime.Valid {
		run.EndTime = endTime.Time
	}

	run.ErrorMessage = errorMessage.String

	return &run, nil
}
