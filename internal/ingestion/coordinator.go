package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/canonicalization"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/config"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/source"
)

// DefaultBatchSize bounds how many unprocessed raw records one
// normalization batch consumes.
const DefaultBatchSize = 100

// defaultRequestsPerSecond caps outbound API fetches per process, overridable
// via SOURCE_REQUESTS_PER_SECOND.
const defaultRequestsPerSecond = 5

// Sentinel errors for run coordination.
var (
	// ErrRunInProgress is returned when a second run for the same source is
	// requested while one is active. Within one source, ingestion is
	// strictly sequential to preserve the checkpoint invariant.
	ErrRunInProgress = errors.New("ingestion run already in progress for source")

	// ErrNoStores indicates the coordinator was constructed without its
	// required storage dependencies.
	ErrNoStores = errors.New("coordinator requires raw, canonical, checkpoint and run stores")
)

// AdapterFactory builds a source adapter for a config. Injected so tests can
// substitute scripted adapters and so pagination wiring stays out of the
// coordinator.
type AdapterFactory func(cfg source.Config) (source.Adapter, error)

type (
	// Coordinator orchestrates one end-to-end ingestion attempt per
	// source: fetch, raw capture, normalization, checkpoint advance, run
	// accounting - the whole sequence wrapped in retry with backoff.
	//
	// Different sources are independent and may run concurrently; a
	// per-source guard rejects a second concurrent run for the same
	// source instead of queueing it.
	Coordinator struct {
		raw         RawStore
		canonical   CanonicalStore
		checkpoints CheckpointStore
		runs        RunStore
		normalizer  *Normalizer
		adapters    AdapterFactory
		publisher   EventPublisher
		policy      RetryPolicy
		batchSize   int
		logger      *slog.Logger

		mu     sync.Mutex
		active map[string]bool
	}

	// CoordinatorOption configures optional Coordinator behavior.
	CoordinatorOption func(*Coordinator)
)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy RetryPolicy) CoordinatorOption {
	return func(c *Coordinator) {
		c.policy = policy
	}
}

// WithBatchSize overrides the default normalization batch size.
func WithBatchSize(size int) CoordinatorOption {
	return func(c *Coordinator) {
		if size > 0 {
			c.batchSize = size
		}
	}
}

// WithPublisher sets the event publisher for run-completed and duplicate
// events. A nil publisher (the default) disables publishing.
func WithPublisher(publisher EventPublisher) CoordinatorOption {
	return func(c *Coordinator) {
		c.publisher = publisher
	}
}

// WithAdapterFactory overrides how adapters are built from source configs.
func WithAdapterFactory(factory AdapterFactory) CoordinatorOption {
	return func(c *Coordinator) {
		c.adapters = factory
	}
}

// NewCoordinator creates a run coordinator over the given stores.
func NewCoordinator(
	raw RawStore,
	canonical CanonicalStore,
	checkpoints CheckpointStore,
	runs RunStore,
	logger *slog.Logger,
	opts ...CoordinatorOption,
) (*Coordinator, error) {
	if raw == nil || canonical == nil || checkpoints == nil || runs == nil {
		return nil, ErrNoStores
	}

	c := &Coordinator{
		raw:         raw,
		canonical:   canonical,
		checkpoints: checkpoints,
		runs:        runs,
		policy:      DefaultRetryPolicy(),
		batchSize:   DefaultBatchSize,
		logger:      logger,
		active:      make(map[string]bool),
		adapters: defaultAdapterFactory(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.normalizer = NewNormalizer(canonicalization.NewFingerprinter(), canonical, c.publisher, logger)

	return c, nil
}

// defaultAdapterFactory builds adapters with a shared outbound rate limiter
// so a tight polling schedule cannot hammer an upstream API. The limit is
// per process, not per source.
func defaultAdapterFactory() AdapterFactory {
	rps := config.GetEnvInt("SOURCE_REQUESTS_PER_SECOND", defaultRequestsPerSecond)
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	limiter := rate.NewLimiter(rate.Limit(rps), rps)

	return func(cfg source.Config) (source.Adapter, error) {
		return source.NewAdapter(cfg, source.Options{Limiter: limiter})
	}
}

// RunIngestion executes the full pipeline for one source and returns the
// final run record.
//
// Configuration errors (unknown kind, missing location) fail fast: the run is
// marked failed immediately and nothing is fetched. Transient errors retry
// the whole fetch-normalize-checkpoint sequence under the retry policy; each
// attempt gets its own RunRecord so the history shows what actually
// happened. On success the checkpoint advances exactly once.
func (c *Coordinator) RunIngestion(ctx context.Context, cfg source.Config) (*RunRecord, error) {
	if err := c.acquire(cfg.Name); err != nil {
		return nil, err
	}
	defer c.release(cfg.Name)

	// Fatal/configuration errors: fail before any fetch.
	adapter, err := c.adapters(cfg)
	if err != nil {
		run := NewRunRecord(cfg.Name)
		_ = run.Fail(err)

		if createErr := c.runs.Create(ctx, run); createErr == nil {
			_ = c.runs.Finalize(ctx, run)
		}

		return run, err
	}

	var finalRun *RunRecord

	execErr := c.policy.Execute(ctx, c.logger, func(attempt int) error {
		run := NewRunRecord(cfg.Name)
		finalRun = run

		if err := c.runs.Create(ctx, run); err != nil {
			return fmt.Errorf("failed to create run record: %w", err)
		}

		c.logger.Info("ingestion run started",
			slog.String("run_id", run.RunID),
			slog.String("source", cfg.Name),
			slog.Int("attempt", attempt+1),
		)

		attemptErr := c.runOnce(ctx, cfg, adapter, run)
		if attemptErr != nil {
			_ = run.Fail(attemptErr)
			c.finalize(ctx, run)

			// The cursor stays at the last committed position; only
			// status and timestamp record the failure.
			if cpErr := c.checkpoints.Advance(ctx, cfg.Name, "", CheckpointFailed); cpErr != nil {
				c.logger.Error("failed to record failed checkpoint",
					slog.String("source", cfg.Name),
					slog.String("error", cpErr.Error()),
				)
			}

			return attemptErr
		}

		_ = run.Complete()
		c.finalize(ctx, run)

		c.logger.Info("ingestion run completed",
			slog.String("run_id", run.RunID),
			slog.String("source", cfg.Name),
			slog.Int("processed", run.Processed),
			slog.Int("inserted", run.Inserted),
			slog.Int("updated", run.Updated),
			slog.Int("failed", run.Failed),
			slog.Int64("duration_ms", run.DurationMs),
		)

		return nil
	})

	return finalRun, execErr
}

// runOnce performs one attempt: fetch from the checkpoint cursor, capture
// raw records, normalize in batches, advance the checkpoint.
func (c *Coordinator) runOnce(ctx context.Context, cfg source.Config, adapter source.Adapter, run *RunRecord) error {
	checkpoint, err := c.checkpoints.Get(ctx, cfg.Name)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	cursor := ""
	if checkpoint != nil {
		cursor = checkpoint.LastProcessedID
	}

	page, err := adapter.Fetch(ctx, cursor)
	if err != nil {
		return err
	}

	run.Failed += page.Malformed

	now := time.Now().UTC()

	for _, item := range page.Items {
		record := &RawRecord{
			Source:     cfg.Name,
			ExternalID: item.ExternalID,
			Payload:    item.Payload,
			FetchedAt:  now,
		}

		if err := record.Validate(); err != nil {
			run.Failed++

			c.logger.Warn("skipping invalid raw record",
				slog.String("source", cfg.Name),
				slog.String("external_id", item.ExternalID),
				slog.String("error", err.Error()),
			)

			continue
		}

		if err := c.raw.Put(ctx, record); err != nil {
			return fmt.Errorf("raw store put failed: %w", err)
		}

		run.Processed++
	}

	if err := c.normalizeBatches(ctx, cfg.Name, run); err != nil {
		return err
	}

	newCursor := page.NextCursor
	if newCursor == "" {
		// No advance this run (empty page); keep the old position.
		newCursor = cursor
	}

	if err := c.checkpoints.Advance(ctx, cfg.Name, newCursor, CheckpointSuccess); err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}

	return nil
}

// normalizeBatches drains unprocessed raw records for the source in bounded
// batches. Cancellation is honored between batches: an in-flight record
// always completes and is marked, never left half-done.
func (c *Coordinator) normalizeBatches(ctx context.Context, sourceName string, run *RunRecord) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := c.raw.ListUnprocessed(ctx, sourceName, c.batchSize)
		if err != nil {
			return fmt.Errorf("failed to list unprocessed records: %w", err)
		}

		if len(batch) == 0 {
			return nil
		}

		for _, raw := range batch {
			result, err := c.normalizer.Process(ctx, raw)

			switch {
			case err == nil:
				if result.Inserted {
					run.Inserted++
				} else {
					run.Updated++
				}
			case IsNormalizationError(err):
				run.Failed++

				c.logger.Warn("record failed normalization",
					slog.String("source", raw.Source),
					slog.String("external_id", raw.ExternalID),
					slog.String("error", err.Error()),
				)
			default:
				// Storage failure: fatal for the run, checkpoint
				// untouched, raw record stays unprocessed for the retry.
				return err
			}

			// Mark even records that failed normalization: a re-fetch
			// with changed content resets the flag and gives them
			// another chance, while an unmarked record would re-enter
			// every batch of every run forever.
			if err := c.raw.MarkProcessed(ctx, sourceName, raw.ExternalID); err != nil {
				return fmt.Errorf("failed to mark record processed: %w", err)
			}
		}
	}
}

// finalize persists the terminal run state and publishes the run-completed
// event. Both are best-effort relative to the run outcome itself.
func (c *Coordinator) finalize(ctx context.Context, run *RunRecord) {
	if err := c.runs.Finalize(ctx, run); err != nil {
		c.logger.Error("failed to finalize run record",
			slog.String("run_id", run.RunID),
			slog.String("error", err.Error()),
		)
	}

	if c.publisher == nil {
		return
	}

	if err := c.publisher.PublishRunCompleted(ctx, run); err != nil {
		c.logger.Error("failed to publish run event",
			slog.String("run_id", run.RunID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Coordinator) acquire(sourceName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active[sourceName] {
		return fmt.Errorf("%w: %s", ErrRunInProgress, sourceName)
	}

	c.active[sourceName] = true

	return nil
}

func (c *Coordinator) release(sourceName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.active, sourceName)
}
