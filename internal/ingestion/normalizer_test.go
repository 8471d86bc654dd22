package ingestion_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/canonicalization"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/source"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/storage"
)

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu         sync.Mutex
	duplicates []ingestion.DuplicateEvent
	runs       []*ingestion.RunRecord
}

func (p *capturePublisher) PublishDuplicate(_ context.Context, event ingestion.DuplicateEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.duplicates = append(p.duplicates, event)

	return nil
}

func (p *capturePublisher) PublishRunCompleted(_ context.Context, run *ingestion.RunRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.runs = append(p.runs, run)

	return nil
}

func rawRecord(sourceName, id string, payload source.Payload) *ingestion.RawRecord {
	return &ingestion.RawRecord{
		Source:     sourceName,
		ExternalID: id,
		Payload:    payload,
		FetchedAt:  time.Now().UTC(),
	}
}

func TestMapFieldsFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		payload source.Payload
		want    ingestion.Fields
	}{
		{
			name: "primary keys",
			payload: source.Payload{
				"title":       "Go Basics",
				"description": "An intro",
				"content":     "Learn Go",
				"author":      "Jan",
				"url":         "https://example.com/go",
				"category":    "tutorial",
			},
			want: ingestion.Fields{
				Title:       "Go Basics",
				Description: "An intro",
				Content:     "Learn Go",
				Author:      "Jan",
				URL:         "https://example.com/go",
				Category:    "tutorial",
			},
		},
		{
			name: "fallback keys",
			payload: source.Payload{
				"name":    "Go Basics",
				"summary": "An intro",
				"body":    "Learn Go",
				"creator": "Jan",
				"link":    "https://example.com/go",
				"type":    "tutorial",
			},
			want: ingestion.Fields{
				Title:       "Go Basics",
				Description: "An intro",
				Content:     "Learn Go",
				Author:      "Jan",
				URL:         "https://example.com/go",
				Category:    "tutorial",
			},
		},
		{
			name: "primary wins over fallback",
			payload: source.Payload{
				"title": "Primary",
				"name":  "Fallback",
			},
			want: ingestion.Fields{Title: "Primary"},
		},
		{
			name: "numeric values coerced to strings",
			payload: source.Payload{
				"title":    "Post",
				"category": float64(7),
			},
			want: ingestion.Fields{Title: "Post", Category: "7"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, err := ingestion.MapFields(rawRecord("api", "1", tt.payload))
			require.NoError(t, err)

			assert.Equal(t, tt.want.Title, fields.Title)
			assert.Equal(t, tt.want.Description, fields.Description)
			assert.Equal(t, tt.want.Content, fields.Content)
			assert.Equal(t, tt.want.Author, fields.Author)
			assert.Equal(t, tt.want.URL, fields.URL)
			assert.Equal(t, tt.want.Category, fields.Category)
		})
	}
}

func TestMapFieldsTimestamps(t *testing.T) {
	fields, err := ingestion.MapFields(rawRecord("api", "1", source.Payload{
		"title":        "Post",
		"published_at": "2026-08-01T10:30:00Z",
	}))
	require.NoError(t, err)
	require.NotNil(t, fields.PublishedAt)
	assert.Equal(t, time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC), fields.PublishedAt.UTC())

	// created_at is the fallback timestamp key.
	fields, err = ingestion.MapFields(rawRecord("api", "2", source.Payload{
		"title":      "Post",
		"created_at": "2026-08-02",
	}))
	require.NoError(t, err)
	require.NotNil(t, fields.PublishedAt)

	// Unparseable timestamps degrade to nil, never fail the record.
	fields, err = ingestion.MapFields(rawRecord("api", "3", source.Payload{
		"title":        "Post",
		"published_at": "not a date",
	}))
	require.NoError(t, err)
	assert.Nil(t, fields.PublishedAt)
}

func TestMapFieldsRejectsUnusableRecords(t *testing.T) {
	_, err := ingestion.MapFields(rawRecord("api", "1", source.Payload{}))
	assert.True(t, ingestion.IsNormalizationError(err))

	_, err = ingestion.MapFields(rawRecord("api", "2", source.Payload{"author": "Jan"}))
	require.True(t, ingestion.IsNormalizationError(err))
	assert.Contains(t, err.Error(), "missing_required_field")
}

func TestNormalizerProcessInsertsAndUpdates(t *testing.T) {
	ctx := context.Background()
	canonical := storage.NewMemoryCanonicalStore()
	normalizer := ingestion.NewNormalizer(canonicalization.NewFingerprinter(), canonical, nil, discardLogger())

	raw := rawRecord("api", "1", source.Payload{"title": "Go Basics", "content": "Learn Go"})

	first, err := normalizer.Process(ctx, raw)
	require.NoError(t, err)
	assert.True(t, first.Inserted)
	assert.False(t, first.CrossSourceDuplicate)
	assert.NotEmpty(t, first.Record.EntityID)

	// Re-processing the same observation updates in place.
	second, err := normalizer.Process(ctx, raw)
	require.NoError(t, err)
	assert.False(t, second.Inserted)
	assert.Equal(t, first.Record.EntityID, second.Record.EntityID)

	_, total, err := canonical.List(ctx, ingestion.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total, "idempotent reprocessing must not duplicate records")
}

func TestNormalizerProcessCrossSourceDuplicate(t *testing.T) {
	ctx := context.Background()
	canonical := storage.NewMemoryCanonicalStore()
	publisher := &capturePublisher{}
	normalizer := ingestion.NewNormalizer(canonicalization.NewFingerprinter(), canonical, publisher, discardLogger())

	// Same content, different sources, different formatting.
	first, err := normalizer.Process(ctx, rawRecord("api_one", "1", source.Payload{
		"title":   "  Go  Basics  ",
		"content": "Learn Go",
	}))
	require.NoError(t, err)

	second, err := normalizer.Process(ctx, rawRecord("csv_two", "9", source.Payload{
		"name": "go basics",
		"body": "Learn Go",
	}))
	require.NoError(t, err)

	assert.Equal(t, first.Record.EntityID, second.Record.EntityID,
		"equivalent content must resolve to one entity across sources")
	assert.True(t, second.CrossSourceDuplicate)
	assert.True(t, second.Inserted, "a new observation still gets its own canonical row")

	require.Len(t, publisher.duplicates, 1)
	event := publisher.duplicates[0]
	assert.Equal(t, first.Record.EntityID, event.EntityID)
	assert.Equal(t, "csv_two", event.Source)
	assert.Equal(t, "api_one", event.FirstSource)

	_, total, err := canonical.List(ctx, ingestion.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total, "both observations are kept, linked by entity id")
}

func TestNormalizerProcessSameSourceIsNotDuplicateSignal(t *testing.T) {
	ctx := context.Background()
	canonical := storage.NewMemoryCanonicalStore()
	publisher := &capturePublisher{}
	normalizer := ingestion.NewNormalizer(canonicalization.NewFingerprinter(), canonical, publisher, discardLogger())

	_, err := normalizer.Process(ctx, rawRecord("api", "1", source.Payload{"title": "Same"}))
	require.NoError(t, err)

	result, err := normalizer.Process(ctx, rawRecord("api", "2", source.Payload{"title": "Same"}))
	require.NoError(t, err)

	assert.False(t, result.CrossSourceDuplicate)
	assert.Empty(t, publisher.duplicates)
}
