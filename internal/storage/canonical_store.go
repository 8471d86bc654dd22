package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/source"
)

// Compile-time interface assertion.
var _ ingestion.CanonicalStore = (*PersistentCanonicalStore)(nil)

// PersistentCanonicalStore implements ingestion.CanonicalStore with a
// PostgreSQL backend.
//
// Entity identity lives in a dedicated entities table with a unique
// constraint on content_hash. Resolution is a single atomic upsert, so two
// concurrent ingestions of identical content always converge on one entity
// ID regardless of which insert wins.
type PersistentCanonicalStore struct {
	conn *Connection
}

// NewPersistentCanonicalStore creates a PostgreSQL-backed canonical store.
func NewPersistentCanonicalStore(conn *Connection) (*PersistentCanonicalStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PersistentCanonicalStore{conn: conn}, nil
}

// ResolveEntity returns the entity ID owning contentHash, registering
// candidateID when the hash is new.
func (s *PersistentCanonicalStore) ResolveEntity(ctx context.Context, contentHash, candidateID string) (string, bool, error) {
	// The no-op DO UPDATE makes RETURNING fire on conflict as well;
	// xmax = 0 distinguishes a fresh insert from an existing row.
	query := `
		INSERT INTO entities (content_hash, entity_id)
		VALUES ($1, $2)
		ON CONFLICT (content_hash) DO UPDATE SET entity_id = entities.entity_id
		RETURNING entity_id, (xmax = 0)`

	var (
		entityID string
		created  bool
	)

	err := s.conn.QueryRowContext(ctx, query, contentHash, candidateID).Scan(&entityID, &created)
	if err != nil {
		return "", false, classify(err, "entity resolution")
	}

	return entityID, created, nil
}

// FindByContentHash returns the oldest canonical record carrying the hash,
// or nil when the hash has never been seen.
func (s *PersistentCanonicalStore) FindByContentHash(ctx context.Context, contentHash string) (*ingestion.CanonicalRecord, error) {
	query := selectCanonicalColumns + `
		WHERE content_hash = $1
		ORDER BY created_at ASC
		LIMIT 1`

	record, err := scanCanonicalRecord(s.conn.QueryRowContext(ctx, query, contentHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, classify(err, "canonical record lookup")
	}

	return record, nil
}

// Upsert writes a canonical record keyed by (source, source_id) and reports
// whether a new row was inserted.
func (s *PersistentCanonicalStore) Upsert(ctx context.Context, record *ingestion.CanonicalRecord) (bool, error) {
	metadata, err := json.Marshal(record.Fields.Metadata)
	if err != nil {
		return false, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO canonical_records (
			entity_id, content_hash, source, source_id,
			title, description, content, author, published_at, url, category, metadata,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		ON CONFLICT (source, source_id) DO UPDATE SET
			entity_id = EXCLUDED.entity_id,
			content_hash = EXCLUDED.content_hash,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			content = EXCLUDED.content,
			author = EXCLUDED.author,
			published_at = EXCLUDED.published_at,
			url = EXCLUDED.url,
			category = EXCLUDED.category,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING (xmax = 0)`

	var inserted bool

	err = s.conn.QueryRowContext(ctx, query,
		record.EntityID, record.ContentHash, record.Source, record.SourceID,
		record.Fields.Title, record.Fields.Description, record.Fields.Content,
		record.Fields.Author, record.Fields.PublishedAt, record.Fields.URL,
		record.Fields.Category, metadata,
	).Scan(&inserted)
	if err != nil {
		return false, classify(err, "canonical record upsert")
	}

	return inserted, nil
}

// List returns canonical records matching the filter in creation order plus
// the total match count before pagination.
func (s *PersistentCanonicalStore) List(ctx context.Context, filter ingestion.ListFilter) ([]*ingestion.CanonicalRecord, int, error) {
	countQuery := `SELECT COUNT(*) FROM canonical_records WHERE ($1 = '' OR source = $1)`

	var total int
	if err := s.conn.QueryRowContext(ctx, countQuery, filter.Source).Scan(&total); err != nil {
		return nil, 0, classify(err, "canonical record count")
	}

	query := selectCanonicalColumns + `
		WHERE ($1 = '' OR source = $1)
		ORDER BY created_at ASC, id ASC
		LIMIT NULLIF($2, 0) OFFSET $3`

	rows, err := s.conn.QueryContext(ctx, query, filter.Source, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, classify(err, "canonical record list")
	}
	defer func() { _ = rows.Close() }()

	var records []*ingestion.CanonicalRecord

	for rows.Next() {
		record, err := scanCanonicalRecord(rows)
		if err != nil {
			return nil, 0, err
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, classify(err, "canonical record list")
	}

	return records, total, nil
}

const selectCanonicalColumns = `
	SELECT entity_id, content_hash, source, source_id,
		title, description, content, author, published_at, url, category, metadata,
		created_at, updated_at
	FROM canonical_records`

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCanonicalRecord(row rowScanner) (*ingestion.CanonicalRecord, error) {
	var (
		record      ingestion.CanonicalRecord
		publishedAt sql.NullTime
		metadata    []byte
	)

	err := row.Scan(
		&record.EntityID, &record.ContentHash, &record.Source, &record.SourceID,
		&record.Fields.Title, &record.Fields.Description, &record.Fields.Content,
		&record.Fields.Author, &publishedAt, &record.Fields.URL,
		&record.Fields.Category, &metadata,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan canonical record: %w", err)
	}

	if publishedAt.Valid {
		published := publishedAt.Time

		record.Fields.PublishedAt = &published
	}

	if len(metadata) > 0 {
		record.Fields.Metadata = make(source.Payload)
		if err := json.Unmarshal(metadata, &record.Fields.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &record, nil
}
