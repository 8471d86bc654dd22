package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/source"
)

// Compile-time interface assertion.
var _ ingestion.RawStore = (*PersistentRawStore)(nil)

// PersistentRawStore implements ingestion.RawStore with a PostgreSQL backend.
//
// Payloads are stored as JSONB so the raw layer stays queryable for audit
// without the pipeline depending on it.
type PersistentRawStore struct {
	conn *Connection
}

// NewPersistentRawStore creates a PostgreSQL-backed raw record store.
func NewPersistentRawStore(conn *Connection) (*PersistentRawStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PersistentRawStore{conn: conn}, nil
}

// Put upserts a raw record keyed by (source, external_id). A re-fetch with an
// unchanged payload keeps the processed flag so the record is not
// renormalized; a changed payload resets it to false.
func (s *PersistentRawStore) Put(ctx context.Context, record *ingestion.RawRecord) error {
	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal raw payload: %w", err)
	}

	query := `
		INSERT INTO raw_records (source, external_id, payload, fetched_at, processed)
		VALUES ($1, $2, $3, $4, FALSE)
		ON CONFLICT (source, external_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			fetched_at = EXCLUDED.fetched_at,
			processed = CASE
				WHEN raw_records.payload = EXCLUDED.payload THEN raw_records.processed
				ELSE FALSE
			END`

	_, err = s.conn.ExecContext(ctx, query, record.Source, record.ExternalID, payload, record.FetchedAt)

	return classify(err, "raw record put")
}

// ListUnprocessed returns up to limit unprocessed records for a source,
// oldest fetch first.
func (s *PersistentRawStore) ListUnprocessed(ctx context.Context, sourceName string, limit int) ([]*ingestion.RawRecord, error) {
	query := `
		SELECT source, external_id, payload, fetched_at, processed
		FROM raw_records
		WHERE source = $1 AND processed = FALSE
		ORDER BY fetched_at ASC, id ASC
		LIMIT $2`

	rows, err := s.conn.QueryContext(ctx, query, sourceName, limit)
	if err != nil {
		return nil, classify(err, "raw record list")
	}
	defer func() { _ = rows.Close() }()

	var records []*ingestion.RawRecord

	for rows.Next() {
		var (
			record  ingestion.RawRecord
			payload []byte
		)

		if err := rows.Scan(&record.Source, &record.ExternalID, &payload, &record.FetchedAt, &record.Processed); err != nil {
			return nil, fmt.Errorf("failed to scan raw record: %w", err)
		}

		record.Payload = make(source.Payload)
		if err := json.Unmarshal(payload, &record.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal raw payload: %w", err)
		}

		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(err, "raw record list")
	}

	return records, nil
}

// MarkProcessed flips the processed flag. Idempotent; a missing record is
// not an error.
func (s *PersistentRawStore) MarkProcessed(ctx context.Context, sourceName, externalID string) error {
	query := `UPDATE raw_records SET processed = TRUE WHERE source = $1 AND external_id = $2`

	_, err := s.conn.ExecContext(ctx, query, sourceName, externalID)

	return classify(err, "raw record mark processed")
}
