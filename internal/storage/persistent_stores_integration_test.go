package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/source"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/migrations"
)

// setupTestDatabase creates a PostgreSQL testcontainer and runs the embedded
// migrations. Cleanup is registered on t.
func setupTestDatabase(ctx context.Context, t *testing.T) *Connection {
	t.Helper()

	postgresContainer, err := pgcontainer.Run(ctx,
		"postgres:16-alpine",
		pgcontainer.WithDatabase("etl_test"),
		pgcontainer.WithUsername("test"),
		pgcontainer.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(120*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	require.NotNil(t, postgresContainer)

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(postgresContainer)
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	config := &Config{
		databaseURL:     connStr,
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}

	conn, err := NewConnection(config) //nolint:contextcheck
	require.NoError(t, err, "failed to connect to test database")

	t.Cleanup(func() {
		_ = conn.Close()
	})

	require.NoError(t, runTestMigrations(conn.DB()), "failed to run migrations")

	return conn
}

// runTestMigrations applies the embedded migrations with golang-migrate.
func runTestMigrations(db *sql.DB) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return err
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

func testRawRecord(sourceName, externalID string, payload source.Payload) *ingestion.RawRecord {
	return &ingestion.RawRecord{
		Source:     sourceName,
		ExternalID: externalID,
		Payload:    payload,
		FetchedAt:  time.Now().UTC(),
	}
}

func TestPersistentRawStoreLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestDatabase(ctx, t)

	store, err := NewPersistentRawStore(conn)
	require.NoError(t, err)

	first := testRawRecord("jsonplaceholder", "1", source.Payload{"title": "first"})
	second := testRawRecord("jsonplaceholder", "2", source.Payload{"title": "second"})

	require.NoError(t, store.Put(ctx, first))
	require.NoError(t, store.Put(ctx, second))

	unprocessed, err := store.ListUnprocessed(ctx, "jsonplaceholder", 10)
	require.NoError(t, err)
	require.Len(t, unprocessed, 2)
	assert.Equal(t, "1", unprocessed[0].ExternalID, "oldest fetch first")
	assert.Equal(t, "first", unprocessed[0].Payload.GetString("title"))

	require.NoError(t, store.MarkProcessed(ctx, "jsonplaceholder", "1"))

	unprocessed, err = store.ListUnprocessed(ctx, "jsonplaceholder", 10)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)
	assert.Equal(t, "2", unprocessed[0].ExternalID)

	// Re-fetching an identical payload must not resurrect the record.
	require.NoError(t, store.Put(ctx, testRawRecord("jsonplaceholder", "1", source.Payload{"title": "first"})))

	unprocessed, err = store.ListUnprocessed(ctx, "jsonplaceholder", 10)
	require.NoError(t, err)
	assert.Len(t, unprocessed, 1)

	// A changed payload resets the processed flag so the normalizer sees it.
	require.NoError(t, store.Put(ctx, testRawRecord("jsonplaceholder", "1", source.Payload{"title": "first, edited"})))

	unprocessed, err = store.ListUnprocessed(ctx, "jsonplaceholder", 10)
	require.NoError(t, err)
	assert.Len(t, unprocessed, 2)
}

func TestPersistentRawStoreListLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestDatabase(ctx, t)

	store, err := NewPersistentRawStore(conn)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		record := testRawRecord("sample_csv", fmt.Sprintf("%d", i), source.Payload{"name": fmt.Sprintf("row %d", i)})
		require.NoError(t, store.Put(ctx, record))
	}

	unprocessed, err := store.ListUnprocessed(ctx, "sample_csv", 3)
	require.NoError(t, err)
	require.Len(t, unprocessed, 3)
	assert.Equal(t, "1", unprocessed[0].ExternalID)
	assert.Equal(t, "3", unprocessed[2].ExternalID)

	// Other sources are invisible.
	unprocessed, err = store.ListUnprocessed(ctx, "jsonplaceholder", 10)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)
}

func testCanonicalRecord(sourceName, sourceID, entityID, contentHash, title string) *ingestion.CanonicalRecord {
	return &ingestion.CanonicalRecord{
		EntityID:    entityID,
		ContentHash: contentHash,
		Source:      sourceName,
		SourceID:    sourceID,
		Fields: ingestion.Fields{
			Title:    title,
			Content:  "body of " + title,
			Metadata: source.Payload{"title": title},
		},
	}
}

func TestPersistentCanonicalStoreResolveEntity(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestDatabase(ctx, t)

	store, err := NewPersistentCanonicalStore(conn)
	require.NoError(t, err)

	entityID, created, err := store.ResolveEntity(ctx, "hash-a", "entity_0000000000000001")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "entity_0000000000000001", entityID)

	// A second resolution of the same hash returns the registered entity,
	// regardless of the candidate.
	entityID, created, err = store.ResolveEntity(ctx, "hash-a", "entity_0000000000000002")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "entity_0000000000000001", entityID)

	entityID, created, err = store.ResolveEntity(ctx, "hash-b", "entity_0000000000000002")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "entity_0000000000000002", entityID)
}

func TestPersistentCanonicalStoreUpsertAndFind(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestDatabase(ctx, t)

	store, err := NewPersistentCanonicalStore(conn)
	require.NoError(t, err)

	_, _, err = store.ResolveEntity(ctx, "hash-a", "entity_0000000000000001")
	require.NoError(t, err)

	found, err := store.FindByContentHash(ctx, "hash-a")
	require.NoError(t, err)
	assert.Nil(t, found, "no canonical record written yet")

	record := testCanonicalRecord("jsonplaceholder", "1", "entity_0000000000000001", "hash-a", "hello world")

	inserted, err := store.Upsert(ctx, record)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same (source, source_id) refreshes the row instead of duplicating it.
	record.Fields.Content = "revised body"

	inserted, err = store.Upsert(ctx, record)
	require.NoError(t, err)
	assert.False(t, inserted)

	found, err = store.FindByContentHash(ctx, "hash-a")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "jsonplaceholder", found.Source)
	assert.Equal(t, "entity_0000000000000001", found.EntityID)
	assert.Equal(t, "revised body", found.Fields.Content)
	assert.Equal(t, "hello world", found.Fields.Metadata.GetString("title"))
}

func TestPersistentCanonicalStoreList(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestDatabase(ctx, t)

	store, err := NewPersistentCanonicalStore(conn)
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		hash := fmt.Sprintf("hash-%d", i)
		entityID := fmt.Sprintf("entity_%016d", i)

		_, _, err := store.ResolveEntity(ctx, hash, entityID)
		require.NoError(t, err)

		sourceName := "jsonplaceholder"
		if i%2 == 0 {
			sourceName = "sample_csv"
		}

		record := testCanonicalRecord(sourceName, fmt.Sprintf("%d", i), entityID, hash, fmt.Sprintf("record %d", i))
		_, err = store.Upsert(ctx, record)
		require.NoError(t, err)
	}

	records, total, err := store.List(ctx, ingestion.ListFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, records, 4)

	records, total, err = store.List(ctx, ingestion.ListFilter{Source: "sample_csv", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, records, 2)
	assert.Equal(t, "2", records[0].SourceID)

	records, total, err = store.List(ctx, ingestion.ListFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total, "total ignores pagination")
	require.Len(t, records, 2)
	assert.Equal(t, "3", records[0].SourceID)
}

func TestPersistentCheckpointStoreAdvance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestDatabase(ctx, t)

	store, err := NewPersistentCheckpointStore(conn)
	require.NoError(t, err)

	checkpoint, err := store.Get(ctx, "jsonplaceholder")
	require.NoError(t, err)
	assert.Nil(t, checkpoint, "no checkpoint before the first run")

	require.NoError(t, store.Advance(ctx, "jsonplaceholder", "42", ingestion.CheckpointSuccess))

	checkpoint, err = store.Get(ctx, "jsonplaceholder")
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
	assert.Equal(t, "42", checkpoint.LastProcessedID)
	assert.Equal(t, ingestion.CheckpointSuccess, checkpoint.Status)

	// A failed run records the status without moving the cursor.
	require.NoError(t, store.Advance(ctx, "jsonplaceholder", "", ingestion.CheckpointFailed))

	checkpoint, err = store.Get(ctx, "jsonplaceholder")
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
	assert.Equal(t, "42", checkpoint.LastProcessedID, "failed run preserves the cursor")
	assert.Equal(t, ingestion.CheckpointFailed, checkpoint.Status)

	require.NoError(t, store.Advance(ctx, "jsonplaceholder", "77", ingestion.CheckpointSuccess))

	checkpoint, err = store.Get(ctx, "jsonplaceholder")
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
	assert.Equal(t, "77", checkpoint.LastProcessedID)
}

func TestPersistentRunStoreLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestDatabase(ctx, t)

	store, err := NewPersistentRunStore(conn)
	require.NoError(t, err)

	last, err := store.LastRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, last, "no runs recorded yet")

	first := ingestion.NewRunRecord("jsonplaceholder")
	require.NoError(t, store.Create(ctx, first))

	first.Processed = 100
	first.Inserted = 90
	first.Updated = 9
	first.Failed = 1
	require.NoError(t, first.Complete())
	require.NoError(t, store.Finalize(ctx, first))

	second := ingestion.NewRunRecord("sample_csv")
	require.NoError(t, store.Create(ctx, second))
	require.NoError(t, second.Fail(errors.New("upstream timeout")))
	require.NoError(t, store.Finalize(ctx, second))

	runs, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].RunID, "newest first")
	assert.Equal(t, ingestion.RunFailed, runs[0].Status)
	assert.Equal(t, "upstream timeout", runs[0].ErrorMessage)
	assert.Equal(t, 100, runs[1].Processed)
	assert.Equal(t, ingestion.RunSuccess, runs[1].Status)

	last, err = store.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, second.RunID, last.RunID)

	orphan := ingestion.NewRunRecord("jsonplaceholder")
	require.NoError(t, orphan.Complete())

	err = store.Finalize(ctx, orphan)
	assert.ErrorIs(t, err, ErrRunNotFound)
}
