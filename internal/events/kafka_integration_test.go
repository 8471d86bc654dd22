package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkacontainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
)

// setupKafka starts a single-node Kafka testcontainer and returns its broker
// list. Cleanup is registered on t.
func setupKafka(ctx context.Context, t *testing.T) []string {
	t.Helper()

	container, err := kafkacontainer.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		kafkacontainer.WithClusterID("etl-test-cluster"),
	)
	require.NoError(t, err, "failed to start kafka container")

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err, "failed to get broker list")
	require.NotEmpty(t, brokers)

	return brokers
}

// readOne consumes a single message from the topic, waiting long enough for
// auto topic creation to settle.
func readOne(ctx context.Context, t *testing.T, brokers []string, topic string) kafka.Message {
	t.Helper()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MaxBytes:  10e6,
	})

	defer func() {
		_ = reader.Close()
	}()

	readCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err, "failed to read message from %s", topic)

	return msg
}

func TestKafkaPublisherEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	brokers := setupKafka(ctx, t)

	cfg := &Config{
		Brokers:        brokers,
		DuplicateTopic: "etl.duplicates",
		RunTopic:       "etl.runs",
		WriteTimeout:   30 * time.Second,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	publisher, err := NewKafkaPublisher(cfg, logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = publisher.Close()
	})

	event := ingestion.DuplicateEvent{
		EntityID:    "entity_0123456789abcdef",
		ContentHash: "feedface",
		Source:      "sample_csv",
		SourceID:    "101",
		FirstSource: "jsonplaceholder",
		DetectedAt:  time.Now().UTC(),
	}

	require.NoError(t, publisher.PublishDuplicate(ctx, event))

	msg := readOne(ctx, t, brokers, cfg.DuplicateTopic)
	assert.Equal(t, event.EntityID, string(msg.Key), "messages are keyed by entity for per-entity ordering")

	var dup map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &dup))
	assert.Equal(t, event.EntityID, dup["entity_id"])
	assert.Equal(t, event.Source, dup["source"])
	assert.Equal(t, event.FirstSource, dup["first_source"])

	run := ingestion.NewRunRecord("sample_csv")
	run.Processed = 5
	run.Inserted = 5
	require.NoError(t, run.Complete())

	require.NoError(t, publisher.PublishRunCompleted(ctx, run))

	msg = readOne(ctx, t, brokers, cfg.RunTopic)
	assert.Equal(t, run.Source, string(msg.Key), "messages are keyed by source")

	var completed map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &completed))
	assert.Equal(t, run.RunID, completed["run_id"])
	assert.Equal(t, string(ingestion.RunSuccess), completed["status"])
	assert.InDelta(t, 5, completed["records_processed"], 0)
}
