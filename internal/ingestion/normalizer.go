package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/canonicalization"
)

// NormalizationReason classifies why a record could not be normalized.
type NormalizationReason string

const (
	// ReasonSchemaMismatch means the payload shape was unusable (empty or
	// not an object).
	ReasonSchemaMismatch NormalizationReason = "schema_mismatch"

	// ReasonMissingRequiredField means the payload carried neither a title
	// nor any body text, leaving nothing to fingerprint.
	ReasonMissingRequiredField NormalizationReason = "missing_required_field"
)

// NormalizationError is a per-record, recoverable failure: the record is
// counted as failed and skipped, never aborting the batch or the run.
type NormalizationError struct {
	Reason     NormalizationReason
	Source     string
	ExternalID string
}

// Error implements the error interface.
func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization failed for %s/%s: %s", e.Source, e.ExternalID, e.Reason)
}

// IsNormalizationError reports whether err is (or wraps) a NormalizationError.
func IsNormalizationError(err error) bool {
	var ne *NormalizationError

	return errors.As(err, &ne)
}

// Result reports what one normalization did to the canonical store.
type Result struct {
	Record   *CanonicalRecord
	Inserted bool

	// CrossSourceDuplicate is true when the record's content hash was
	// first seen under a different source.
	CrossSourceDuplicate bool
}

// Normalizer maps raw records into the canonical schema, fingerprints their
// content and resolves them to canonical entities.
//
// Normalization of independent records carries no ordering dependency; the
// entity-resolution step serializes on content hash through the store's
// unique constraint, so concurrent Process calls are safe.
type Normalizer struct {
	fingerprinter *canonicalization.Fingerprinter
	canonical     CanonicalStore
	publisher     EventPublisher
	logger        *slog.Logger
}

// NewNormalizer creates a Normalizer. publisher may be nil to disable the
// duplicate event signal (the structured log is always emitted).
func NewNormalizer(
	fingerprinter *canonicalization.Fingerprinter,
	canonical CanonicalStore,
	publisher EventPublisher,
	logger *slog.Logger,
) *Normalizer {
	return &Normalizer{
		fingerprinter: fingerprinter,
		canonical:     canonical,
		publisher:     publisher,
		logger:        logger,
	}
}

// MapFields extracts the canonical schema from a source-specific payload.
//
// Field fallbacks cover the common API shapes: title|name,
// description|summary, content|body, author|creator,
// published_at|created_at, url|link, category|type. Missing optional fields
// stay empty; a record with no title and no body text at all is rejected
// with ReasonMissingRequiredField since there is nothing to fingerprint.
func MapFields(raw *RawRecord) (Fields, error) {
	if len(raw.Payload) == 0 {
		return Fields{}, &NormalizationError{
			Reason:     ReasonSchemaMismatch,
			Source:     raw.Source,
			ExternalID: raw.ExternalID,
		}
	}

	fields := Fields{
		Title:       raw.Payload.GetString("title", "name"),
		Description: raw.Payload.GetString("description", "summary"),
		Content:     raw.Payload.GetString("content", "body"),
		Author:      raw.Payload.GetString("author", "creator"),
		PublishedAt: raw.Payload.GetTime("published_at", "created_at"),
		URL:         raw.Payload.GetString("url", "link"),
		Category:    raw.Payload.GetString("category", "type"),
		Metadata:    raw.Payload,
	}

	if fields.Title == "" && fields.Content == "" && fields.Description == "" {
		return Fields{}, &NormalizationError{
			Reason:     ReasonMissingRequiredField,
			Source:     raw.Source,
			ExternalID: raw.ExternalID,
		}
	}

	return fields, nil
}

// Process normalizes one raw record end to end: field mapping, content
// fingerprint, entity resolution and canonical upsert.
//
// Failure modes:
//   - *NormalizationError: per-record, recoverable; the caller counts it as
//     failed and continues the batch.
//   - storage errors: propagated; connection-class failures carry
//     ErrStorageUnavailable and abort the run for retry.
func (n *Normalizer) Process(ctx context.Context, raw *RawRecord) (*Result, error) {
	fields, err := MapFields(raw)
	if err != nil {
		return nil, err
	}

	contentHash := n.fingerprinter.ContentHash(fields.Title, fields.Content, fields.Description)

	candidateID, err := n.fingerprinter.EntityID(contentHash)
	if err != nil {
		return nil, fmt.Errorf("failed to derive entity id: %w", err)
	}

	// Look up any prior observation of this hash before resolving, so the
	// cross-source signal can name the source that saw the entity first.
	prior, err := n.canonical.FindByContentHash(ctx, contentHash)
	if err != nil {
		return nil, fmt.Errorf("content hash lookup failed: %w", err)
	}

	entityID, _, err := n.canonical.ResolveEntity(ctx, contentHash, candidateID)
	if err != nil {
		return nil, fmt.Errorf("entity resolution failed: %w", err)
	}

	record := &CanonicalRecord{
		EntityID:    entityID,
		ContentHash: contentHash,
		Source:      raw.Source,
		SourceID:    raw.ExternalID,
		Fields:      fields,
	}

	inserted, err := n.canonical.Upsert(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("canonical upsert failed: %w", err)
	}

	result := &Result{Record: record, Inserted: inserted}

	if prior != nil && prior.Source != raw.Source {
		result.CrossSourceDuplicate = true
		n.signalDuplicate(ctx, record, prior.Source)
	}

	return result, nil
}

// signalDuplicate emits the cross-source duplicate signal: a structured log
// line always, plus a bus event when a publisher is configured. Publishing is
// best-effort; a bus outage must not fail ingestion.
func (n *Normalizer) signalDuplicate(ctx context.Context, record *CanonicalRecord, firstSource string) {
	n.logger.Info("cross-source duplicate detected",
		slog.String("entity_id", record.EntityID),
		slog.String("content_hash", record.ContentHash),
		slog.String("source", record.Source),
		slog.String("source_id", record.SourceID),
		slog.String("first_source", firstSource),
	)

	if n.publisher == nil {
		return
	}

	event := DuplicateEvent{
		EntityID:    record.EntityID,
		ContentHash: record.ContentHash,
		Source:      record.Source,
		SourceID:    record.SourceID,
		FirstSource: firstSource,
		DetectedAt:  time.Now().UTC(),
	}

	if err := n.publisher.PublishDuplicate(ctx, event); err != nil {
		n.logger.Error("failed to publish duplicate event",
			slog.String("entity_id", record.EntityID),
			slog.String("error", err.Error()),
		)
	}
}
