// Package events publishes pipeline events to Kafka.
//
// Publishing is optional and best-effort: the pipeline runs unchanged with a
// nil publisher, and a broker outage degrades to error logs, never to failed
// ingestion.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/config"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
)

const (
	defaultDuplicateTopic = "etl.duplicates"
	defaultRunTopic       = "etl.runs"
	defaultWriteTimeout   = 10 * time.Second
)

// ErrNoBrokers is returned when the publisher is constructed without broker
// addresses.
var ErrNoBrokers = errors.New("at least one kafka broker is required")

// Compile-time interface assertion.
var _ ingestion.EventPublisher = (*KafkaPublisher)(nil)

// Config holds Kafka publisher settings.
type Config struct {
	// Brokers is the bootstrap broker list. Empty disables publishing.
	Brokers []string

	DuplicateTopic string
	RunTopic       string
	WriteTimeout   time.Duration
}

// LoadConfig reads Kafka settings from environment variables. An empty
// KAFKA_BROKERS means eventing is disabled.
func LoadConfig() *Config {
	brokers := config.GetEnvStr("KAFKA_BROKERS", "")

	cfg := &Config{
		DuplicateTopic: config.GetEnvStr("KAFKA_DUPLICATE_TOPIC", defaultDuplicateTopic),
		RunTopic:       config.GetEnvStr("KAFKA_RUN_TOPIC", defaultRunTopic),
		WriteTimeout:   config.GetEnvDuration("KAFKA_WRITE_TIMEOUT", defaultWriteTimeout),
	}

	if brokers != "" {
		for _, broker := range strings.Split(brokers, ",") {
			if b := strings.TrimSpace(broker); b != "" {
				cfg.Brokers = append(cfg.Brokers, b)
			}
		}
	}

	return cfg
}

// Enabled reports whether a broker list is configured.
func (c *Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// messageWriter abstracts *kafka.Writer so unit tests can capture messages
// without a broker.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher implements ingestion.EventPublisher over two topics: one
// for cross-source duplicate detections, one for completed runs.
//
// Messages are keyed by entity id and source respectively, so consumers see
// per-key ordering where it matters.
type KafkaPublisher struct {
	duplicates messageWriter
	runs       messageWriter
	timeout    time.Duration
	logger     *slog.Logger
}

// duplicateMessage is the wire form of a cross-source duplicate event.
type duplicateMessage struct {
	EntityID    string    `json:"entity_id"`
	ContentHash string    `json:"content_hash"`
	Source      string    `json:"source"`
	SourceID    string    `json:"source_id"`
	FirstSource string    `json:"first_source"`
	DetectedAt  time.Time `json:"detected_at"`
}

// runMessage is the wire form of a completed run event.
type runMessage struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	DurationMs int64     `json:"duration_ms"`
	Processed  int       `json:"records_processed"`
	Inserted   int       `json:"records_inserted"`
	Updated    int       `json:"records_updated"`
	Failed     int       `json:"records_failed"`
	Error      string    `json:"error,omitempty"`
}

// NewKafkaPublisher creates a publisher for the configured brokers.
func NewKafkaPublisher(cfg *Config, logger *slog.Logger) (*KafkaPublisher, error) {
	if !cfg.Enabled() {
		return nil, ErrNoBrokers
	}

	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}

	return &KafkaPublisher{
		duplicates: newWriter(cfg.Brokers, cfg.DuplicateTopic, timeout),
		runs:       newWriter(cfg.Brokers, cfg.RunTopic, timeout),
		timeout:    timeout,
		logger:     logger,
	}, nil
}

func newWriter(brokers []string, topic string, timeout time.Duration) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: timeout,
		RequiredAcks: kafka.RequireOne,
		// The pipeline publishes after commit; creating topics on first
		// write keeps local setups zero-config.
		AllowAutoTopicCreation: true,
	}
}

// PublishDuplicate emits a cross-source duplicate event keyed by entity id.
func (p *KafkaPublisher) PublishDuplicate(ctx context.Context, event ingestion.DuplicateEvent) error {
	payload, err := json.Marshal(duplicateMessage{
		EntityID:    event.EntityID,
		ContentHash: event.ContentHash,
		Source:      event.Source,
		SourceID:    event.SourceID,
		FirstSource: event.FirstSource,
		DetectedAt:  event.DetectedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal duplicate event: %w", err)
	}

	return p.write(ctx, p.duplicates, kafka.Message{
		Key:   []byte(event.EntityID),
		Value: payload,
	})
}

// PublishRunCompleted emits the final state of a finished run keyed by
// source.
func (p *KafkaPublisher) PublishRunCompleted(ctx context.Context, run *ingestion.RunRecord) error {
	payload, err := json.Marshal(runMessage{
		RunID:      run.RunID,
		Source:     run.Source,
		Status:     string(run.Status),
		StartTime:  run.StartTime,
		EndTime:    run.EndTime,
		DurationMs: run.DurationMs,
		Processed:  run.Processed,
		Inserted:   run.Inserted,
		Updated:    run.Updated,
		Failed:     run.Failed,
		Error:      run.ErrorMessage,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal run event: %w", err)
	}

	return p.write(ctx, p.runs, kafka.Message{
		Key:   []byte(run.Source),
		Value: payload,
	})
}

func (p *KafkaPublisher) write(ctx context.Context, writer messageWriter, msg kafka.Message) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write failed: %w", err)
	}

	return nil
}

// Close flushes and closes both underlying writers.
func (p *KafkaPublisher) Close() error {
	duplicatesErr := p.duplicates.Close()
	runsErr := p.runs.Close()

	if duplicatesErr != nil {
		return duplicatesErr
	}

	return runsErr
}
