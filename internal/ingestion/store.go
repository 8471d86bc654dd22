// Package ingestion defines the persistence interfaces the pipeline needs.
//
// The domain package declares what it requires from storage; concrete
// implementations (PostgreSQL, in-memory) live in internal/storage. This
// keeps the pipeline testable against fakes and independent of the engine.
package ingestion

import (
	"context"
	"errors"
	"time"
)

// ErrStorageUnavailable wraps connection-class storage failures (pool
// exhausted, server unreachable). Errors carrying this sentinel are
// transient: the run coordinator retries the whole run with backoff instead
// of counting individual records as failed.
var ErrStorageUnavailable = errors.New("storage unavailable")

type (
	// RawStore persists fetched records verbatim, keyed by (source, external_id).
	RawStore interface {
		// Put upserts a raw record. When the stored payload is
		// byte-identical to the incoming one, the processed flag is left
		// untouched to avoid needless renormalization; when content
		// changed, processed resets to false.
		Put(ctx context.Context, record *RawRecord) error

		// ListUnprocessed returns up to limit records with processed =
		// false for the source, oldest fetch first.
		ListUnprocessed(ctx context.Context, sourceName string, limit int) ([]*RawRecord, error)

		// MarkProcessed flips the processed flag. Idempotent: marking an
		// already-processed or absent record is not an error.
		MarkProcessed(ctx context.Context, sourceName, externalID string) error
	}

	// CanonicalStore persists normalized records and owns entity identity.
	CanonicalStore interface {
		// ResolveEntity returns the entity ID owning contentHash,
		// registering candidateID atomically when the hash is new. The
		// unique constraint on the hash is the source of truth: two
		// concurrent resolutions of a new hash both receive the same
		// entity ID, whichever insert wins.
		ResolveEntity(ctx context.Context, contentHash, candidateID string) (entityID string, created bool, err error)

		// FindByContentHash returns any existing canonical record with
		// the given hash, or nil when none exists. Used to detect the
		// cross-source duplicate signal.
		FindByContentHash(ctx context.Context, contentHash string) (*CanonicalRecord, error)

		// Upsert writes a canonical record keyed by (source, source_id).
		// Returns true when a new row was inserted, false when an
		// existing row was refreshed.
		Upsert(ctx context.Context, record *CanonicalRecord) (inserted bool, err error)

		// List returns canonical records matching the filter plus the
		// total count before pagination. Read-only; consumed by the API.
		List(ctx context.Context, filter ListFilter) ([]*CanonicalRecord, int, error)
	}

	// ListFilter narrows and pages a canonical record listing.
	ListFilter struct {
		// Source filters by provenance when non-empty.
		Source string

		// Limit bounds the page size; Offset skips preceding rows.
		// Ordering is by creation time, oldest first.
		Limit  int
		Offset int
	}

	// CheckpointStore tracks the per-source ingestion cursor.
	CheckpointStore interface {
		// Get returns the checkpoint for a source, or nil when the source
		// has never completed a run.
		Get(ctx context.Context, sourceName string) (*Checkpoint, error)

		// Advance upserts the checkpoint (unique by source). An empty
		// cursor leaves the stored cursor untouched and only records the
		// status and timestamp - this is how failed runs preserve the
		// last known-good position.
		Advance(ctx context.Context, sourceName, cursor string, status CheckpointStatus) error
	}

	// RunStore persists the append-only run history.
	RunStore interface {
		// Create records a new in-progress run.
		Create(ctx context.Context, run *RunRecord) error

		// Finalize stores the terminal state and counts of a run.
		Finalize(ctx context.Context, run *RunRecord) error

		// ListRecent returns the most recent runs, newest first.
		ListRecent(ctx context.Context, limit int) ([]*RunRecord, error)

		// LastRun returns the most recent run across all sources, or nil
		// when no run has ever happened.
		LastRun(ctx context.Context) (*RunRecord, error)
	}

	// DuplicateEvent describes a cross-source duplicate detection: a
	// record whose content hash was first seen under a different source.
	DuplicateEvent struct {
		EntityID    string
		ContentHash string

		// Source/SourceID identify the new observation; FirstSource is
		// the source that originally produced the entity.
		Source      string
		SourceID    string
		FirstSource string

		DetectedAt time.Time
	}

	// EventPublisher emits pipeline events to an external bus. A nil
	// publisher disables publishing; implementations live in
	// internal/events.
	EventPublisher interface {
		// PublishDuplicate emits the cross-source duplicate signal.
		PublishDuplicate(ctx context.Context, event DuplicateEvent) error

		// PublishRunCompleted emits the final state of a finished run.
		PublishRunCompleted(ctx context.Context, run *RunRecord) error
	}
)
