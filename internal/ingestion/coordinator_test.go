package ingestion_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/source"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/storage"
)

// scriptedAdapter replays a fixed sequence of fetch results and records the
// cursors it was asked to resume from.
type scriptedAdapter struct {
	mu      sync.Mutex
	script  []fetchResult
	calls   int
	cursors []string
}

type fetchResult struct {
	page *source.Page
	err  error
}

func (a *scriptedAdapter) Fetch(_ context.Context, cursor string) (*source.Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cursors = append(a.cursors, cursor)

	result := a.script[len(a.script)-1]
	if a.calls < len(a.script) {
		result = a.script[a.calls]
	}

	a.calls++

	return result.page, result.err
}

// blockingAdapter parks Fetch until released, to hold a run open.
type blockingAdapter struct {
	started chan struct{}
	release chan struct{}
}

func (a *blockingAdapter) Fetch(_ context.Context, _ string) (*source.Page, error) {
	close(a.started)
	<-a.release

	return &source.Page{}, nil
}

type coordinatorFixture struct {
	raw         *storage.MemoryRawStore
	canonical   *storage.MemoryCanonicalStore
	checkpoints *storage.MemoryCheckpointStore
	runs        *storage.MemoryRunStore
	publisher   *capturePublisher
}

func newCoordinator(t *testing.T, adapter source.Adapter, opts ...ingestion.CoordinatorOption) (*ingestion.Coordinator, *coordinatorFixture) {
	t.Helper()

	fixture := &coordinatorFixture{
		raw:         storage.NewMemoryRawStore(),
		canonical:   storage.NewMemoryCanonicalStore(),
		checkpoints: storage.NewMemoryCheckpointStore(),
		runs:        storage.NewMemoryRunStore(),
		publisher:   &capturePublisher{},
	}

	base := []ingestion.CoordinatorOption{
		ingestion.WithRetryPolicy(fastPolicy(3)),
		ingestion.WithPublisher(fixture.publisher),
	}

	if adapter != nil {
		base = append(base, ingestion.WithAdapterFactory(func(source.Config) (source.Adapter, error) {
			return adapter, nil
		}))
	}

	coordinator, err := ingestion.NewCoordinator(
		fixture.raw, fixture.canonical, fixture.checkpoints, fixture.runs,
		discardLogger(),
		append(base, opts...)...,
	)
	require.NoError(t, err)

	return coordinator, fixture
}

func apiConfig(name string) source.Config {
	return source.Config{
		Name:     name,
		Kind:     source.KindAPI,
		Location: "https://example.com/posts",
		Enabled:  true,
	}
}

func items(payloads ...source.Payload) []source.Item {
	result := make([]source.Item, 0, len(payloads))

	for i, payload := range payloads {
		result = append(result, source.Item{
			ExternalID: fmt.Sprintf("%d", i+1),
			Payload:    payload,
		})
	}

	return result
}

func TestRunIngestionHappyPath(t *testing.T) {
	adapter := &scriptedAdapter{script: []fetchResult{{
		page: &source.Page{
			Items: items(
				source.Payload{"title": "First", "content": "alpha"},
				source.Payload{"title": "Second", "content": "beta"},
			),
			NextCursor: "2",
		},
	}}}

	coordinator, fixture := newCoordinator(t, adapter)

	run, err := coordinator.RunIngestion(context.Background(), apiConfig("api"))
	require.NoError(t, err)

	assert.Equal(t, ingestion.RunSuccess, run.Status)
	assert.Equal(t, 2, run.Processed)
	assert.Equal(t, 2, run.Inserted)
	assert.Equal(t, 0, run.Updated)
	assert.Equal(t, 0, run.Failed)

	checkpoint, err := fixture.checkpoints.Get(context.Background(), "api")
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
	assert.Equal(t, "2", checkpoint.LastProcessedID)
	assert.Equal(t, ingestion.CheckpointSuccess, checkpoint.Status)

	_, total, err := fixture.canonical.List(context.Background(), ingestion.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	// Raw records are all marked processed after the run.
	unprocessed, err := fixture.raw.ListUnprocessed(context.Background(), "api", 0)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)

	require.Len(t, fixture.publisher.runs, 1)
	assert.Equal(t, run.RunID, fixture.publisher.runs[0].RunID)
}

func TestRunIngestionIsIdempotent(t *testing.T) {
	page := &source.Page{
		Items:      items(source.Payload{"title": "Stable", "content": "alpha"}),
		NextCursor: "1",
	}
	adapter := &scriptedAdapter{script: []fetchResult{{page: page}, {page: page}}}

	coordinator, fixture := newCoordinator(t, adapter)

	first, err := coordinator.RunIngestion(context.Background(), apiConfig("api"))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)

	second, err := coordinator.RunIngestion(context.Background(), apiConfig("api"))
	require.NoError(t, err)

	// The unchanged payload keeps its processed flag, so nothing is
	// renormalized and nothing duplicates.
	assert.Equal(t, ingestion.RunSuccess, second.Status)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 0, second.Updated)

	_, total, err := fixture.canonical.List(context.Background(), ingestion.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestRunIngestionResumesFromCheckpoint(t *testing.T) {
	adapter := &scriptedAdapter{script: []fetchResult{
		{page: &source.Page{
			Items:      items(source.Payload{"title": "First"}),
			NextCursor: "5",
		}},
		{page: &source.Page{}},
	}}

	coordinator, _ := newCoordinator(t, adapter)

	_, err := coordinator.RunIngestion(context.Background(), apiConfig("api"))
	require.NoError(t, err)

	_, err = coordinator.RunIngestion(context.Background(), apiConfig("api"))
	require.NoError(t, err)

	require.Len(t, adapter.cursors, 2)
	assert.Equal(t, "", adapter.cursors[0], "first run starts from the beginning")
	assert.Equal(t, "5", adapter.cursors[1], "second run resumes from the committed cursor")
}

func TestRunIngestionPartialFailureIsolation(t *testing.T) {
	pagePayloads := make([]source.Payload, 0, 100)

	for i := 0; i < 100; i++ {
		if i == 42 {
			// No title, content or description: fails normalization.
			pagePayloads = append(pagePayloads, source.Payload{"author": "nobody"})

			continue
		}

		pagePayloads = append(pagePayloads, source.Payload{
			"title":   fmt.Sprintf("Post %d", i),
			"content": fmt.Sprintf("body %d", i),
		})
	}

	adapter := &scriptedAdapter{script: []fetchResult{{
		page: &source.Page{Items: items(pagePayloads...), NextCursor: "100"},
	}}}

	coordinator, fixture := newCoordinator(t, adapter)

	run, err := coordinator.RunIngestion(context.Background(), apiConfig("api"))
	require.NoError(t, err)

	assert.Equal(t, ingestion.RunSuccess, run.Status, "one bad record must not fail the run")
	assert.Equal(t, 100, run.Processed)
	assert.Equal(t, 99, run.Inserted)
	assert.Equal(t, 1, run.Failed)

	_, total, err := fixture.canonical.List(context.Background(), ingestion.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 99, total)
}

func TestRunIngestionCountsMalformedPayloads(t *testing.T) {
	adapter := &scriptedAdapter{script: []fetchResult{{
		page: &source.Page{
			Items:      items(source.Payload{"title": "Good"}),
			NextCursor: "1",
			Malformed:  2,
		},
	}}}

	coordinator, _ := newCoordinator(t, adapter)

	run, err := coordinator.RunIngestion(context.Background(), apiConfig("api"))
	require.NoError(t, err)

	assert.Equal(t, ingestion.RunSuccess, run.Status)
	assert.Equal(t, 2, run.Failed)
}

func TestRunIngestionRetriesTransportErrors(t *testing.T) {
	transportErr := &source.TransportError{
		Source: "api",
		URL:    "https://example.com/posts",
		Err:    errors.New("connection refused"),
	}

	adapter := &scriptedAdapter{script: []fetchResult{
		{err: transportErr},
		{err: transportErr},
		{page: &source.Page{
			Items:      items(source.Payload{"title": "Finally"}),
			NextCursor: "1",
		}},
	}}

	coordinator, fixture := newCoordinator(t, adapter)

	run, err := coordinator.RunIngestion(context.Background(), apiConfig("api"))
	require.NoError(t, err)

	assert.Equal(t, ingestion.RunSuccess, run.Status, "final record reflects the successful attempt")
	assert.Equal(t, 1, run.Inserted)

	// Each attempt leaves its own run record; the first two are failed.
	history, err := fixture.runs.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ingestion.RunSuccess, history[0].Status)
	assert.Equal(t, ingestion.RunFailed, history[1].Status)
	assert.Equal(t, ingestion.RunFailed, history[2].Status)
}

func TestRunIngestionFailedRunPreservesCursor(t *testing.T) {
	transportErr := &source.TransportError{
		Source: "api",
		URL:    "https://example.com/posts",
		Err:    errors.New("gateway timeout"),
	}

	adapter := &scriptedAdapter{script: []fetchResult{
		{page: &source.Page{
			Items:      items(source.Payload{"title": "First"}),
			NextCursor: "7",
		}},
		{err: transportErr},
		{err: transportErr},
		{err: transportErr},
	}}

	coordinator, fixture := newCoordinator(t, adapter)

	_, err := coordinator.RunIngestion(context.Background(), apiConfig("api"))
	require.NoError(t, err)

	run, err := coordinator.RunIngestion(context.Background(), apiConfig("api"))
	require.Error(t, err)
	assert.Equal(t, ingestion.RunFailed, run.Status)
	assert.NotEmpty(t, run.ErrorMessage)

	checkpoint, err := fixture.checkpoints.Get(context.Background(), "api")
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
	assert.Equal(t, "7", checkpoint.LastProcessedID, "failure must not move the cursor")
	assert.Equal(t, ingestion.CheckpointFailed, checkpoint.Status)
}

func TestRunIngestionUnknownKindFailsFast(t *testing.T) {
	coordinator, fixture := newCoordinator(t, nil)

	cfg := source.Config{
		Name:     "broken",
		Kind:     source.Kind("ftp"),
		Location: "ftp://example.com",
	}

	run, err := coordinator.RunIngestion(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrUnknownKind)
	assert.Equal(t, ingestion.RunFailed, run.Status)

	// Exactly one run record, no retries for configuration errors.
	history, err := fixture.runs.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRunIngestionRejectsConcurrentRunsForSameSource(t *testing.T) {
	adapter := &blockingAdapter{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}

	coordinator, _ := newCoordinator(t, adapter)

	done := make(chan error, 1)

	go func() {
		_, err := coordinator.RunIngestion(context.Background(), apiConfig("api"))
		done <- err
	}()

	<-adapter.started

	_, err := coordinator.RunIngestion(context.Background(), apiConfig("api"))
	assert.ErrorIs(t, err, ingestion.ErrRunInProgress)

	close(adapter.release)
	require.NoError(t, <-done)
}

func TestRunIngestionEmptyPageKeepsCursor(t *testing.T) {
	adapter := &scriptedAdapter{script: []fetchResult{
		{page: &source.Page{
			Items:      items(source.Payload{"title": "Only"}),
			NextCursor: "3",
		}},
		{page: &source.Page{}},
	}}

	coordinator, fixture := newCoordinator(t, adapter)

	_, err := coordinator.RunIngestion(context.Background(), apiConfig("api"))
	require.NoError(t, err)

	run, err := coordinator.RunIngestion(context.Background(), apiConfig("api"))
	require.NoError(t, err)
	assert.Equal(t, ingestion.RunSuccess, run.Status)
	assert.Equal(t, 0, run.Processed)

	checkpoint, err := fixture.checkpoints.Get(context.Background(), "api")
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
	assert.Equal(t, "3", checkpoint.LastProcessedID)
}
