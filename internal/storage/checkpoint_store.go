package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
)

// Compile-time interface assertion.
var _ ingestion.CheckpointStore = (*PersistentCheckpointStore)(nil)

// PersistentCheckpointStore implements ingestion.CheckpointStore with a
// PostgreSQL backend. One row per source, upserted on every run outcome.
type PersistentCheckpointStore struct {
	conn *Connection
}

// NewPersistentCheckpointStore creates a PostgreSQL-backed checkpoint store.
func NewPersistentCheckpointStore(conn *Connection) (*PersistentCheckpointStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PersistentCheckpointStore{conn: conn}, nil
}

// Get returns the checkpoint for a source, or nil when the source has never
// recorded one.
func (s *PersistentCheckpointStore) Get(ctx context.Context, sourceName string) (*ingestion.Checkpoint, error) {
	query := `
		SELECT source, last_processed_id, last_processed_at, status
		FROM etl_checkpoints
		WHERE source = $1`

	var (
		checkpoint ingestion.Checkpoint
		cursor     sql.NullString
	)

	err := s.conn.QueryRowContext(ctx, query, sourceName).Scan(
		&checkpoint.Source, &cursor, &checkpoint.LastProcessedAt, &checkpoint.Status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, classify(err, "checkpoint get")
	}

	checkpoint.LastProcessedID = cursor.String

	return &checkpoint, nil
}

// Advance upserts the checkpoint for a source. An empty cursor preserves the
// stored cursor via COALESCE, recording only the status and timestamp; this
// is how a failed run leaves the resume position at the last committed one.
func (s *PersistentCheckpointStore) Advance(ctx context.Context, sourceName, cursor string, status ingestion.CheckpointStatus) error {
	query := `
		INSERT INTO etl_checkpoints (source, last_processed_id, last_processed_at, status)
		VALUES ($1, NULLIF($2, ''), NOW(), $3)
		ON CONFLICT (source) DO UPDATE SET
			last_processed_id = COALESCE(NULLIF($2, ''), etl_checkpoints.last_processed_id),
			last_processed_at = NOW(),
			status = $3`

	_, err := s.conn.ExecContext(ctx, query, sourceName, cursor, status)

	return classify(err, "checkpoint advance")
}
