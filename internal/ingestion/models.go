// Package ingestion provides the domain models and pipeline logic for
// multi-source data ingestion: raw capture, normalization into a canonical
// schema, cross-source entity deduplication, checkpointed resume, and
// run-level accounting.
//
// These are pure domain models without JSON tags. The storage layer maps them
// to PostgreSQL rows; the API layer defines its own response types.
package ingestion

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/source"
)

const runIDSuffixLength = 8

type (
	// RawRecord is one fetched item before normalization, persisted
	// verbatim for audit and replay.
	//
	// (Source, ExternalID) is unique: re-fetching the same item overwrites
	// the stored payload rather than duplicating it. Processed flips to
	// true once the normalizer has consumed the record; a crash between
	// storing and marking leaves the record visible to the next run,
	// giving at-least-once normalization semantics.
	RawRecord struct {
		// Source is the logical source name ("jsonplaceholder", "sample_csv").
		Source string

		// ExternalID is the source-native identifier of the record.
		ExternalID string

		// Payload is the record content exactly as received.
		Payload source.Payload

		// FetchedAt is when this payload was last fetched.
		FetchedAt time.Time

		// Processed is true once the normalizer has consumed the record.
		Processed bool
	}

	// Fields is the canonical schema shared by all sources after
	// normalization. Missing optionals stay empty; only the display form
	// is kept here - the lowercased/collapsed form exists solely inside
	// the fingerprint computation.
	Fields struct {
		Title       string
		Description string
		Content     string
		Author      string
		PublishedAt *time.Time
		URL         string
		Category    string

		// Metadata preserves the raw payload alongside the mapped fields.
		Metadata source.Payload
	}

	// CanonicalRecord is one per-source observation of an entity after
	// normalization.
	//
	// Invariants:
	//   - (Source, SourceID) is unique: re-ingesting the same observation
	//     updates the row, never duplicates it.
	//   - All rows sharing a ContentHash share the same EntityID, and an
	//     EntityID never changes once assigned to a hash.
	CanonicalRecord struct {
		// EntityID is the canonical identity shared across sources for
		// the same real-world entity.
		EntityID string

		// ContentHash is the deterministic fingerprint used for dedup.
		ContentHash string

		// Source and SourceID record the provenance of this observation.
		Source   string
		SourceID string

		Fields Fields

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Checkpoint is the per-source ingestion cursor.
	//
	// On a failed run the stored cursor remains the last one that was
	// successfully committed, never the point of failure, so the next run
	// resumes from a known-good position instead of skipping data.
	Checkpoint struct {
		Source          string
		LastProcessedID string
		LastProcessedAt time.Time
		Status          CheckpointStatus
	}

	// CheckpointStatus is the outcome recorded on a checkpoint.
	CheckpointStatus string

	// RunRecord is the immutable audit trail of one ingestion attempt.
	RunRecord struct {
		RunID      string
		Source     string
		StartTime  time.Time
		EndTime    time.Time
		DurationMs int64

		// Processed counts fetched records, Inserted/Updated count
		// canonical writes, Failed counts per-record failures
		// (malformed payloads, schema mismatches).
		Processed int
		Inserted  int
		Updated   int
		Failed    int

		Status       RunStatus
		ErrorMessage string
	}

	// RunStatus is the lifecycle state of an ingestion run.
	RunStatus string
)

const (
	// CheckpointSuccess records a fully committed run for the source.
	CheckpointSuccess CheckpointStatus = "success"

	// CheckpointFailed records a failed run; the cursor was not advanced.
	CheckpointFailed CheckpointStatus = "failed"
)

const (
	// RunInProgress marks a run that has started and not yet finalized.
	RunInProgress RunStatus = "in_progress"

	// RunSuccess marks a fully committed run. Terminal.
	RunSuccess RunStatus = "success"

	// RunFailed marks a run that hit an unrecoverable error. Terminal.
	RunFailed RunStatus = "failed"
)

// Domain validation errors (static sentinels for errors.Is checks).
var (
	// ErrSourceEmpty indicates a record without a source name.
	ErrSourceEmpty = errors.New("source cannot be empty")

	// ErrExternalIDEmpty indicates a raw record without an external id.
	ErrExternalIDEmpty = errors.New("external_id cannot be empty")

	// ErrPayloadEmpty indicates a raw record without a payload.
	ErrPayloadEmpty = errors.New("payload cannot be empty")

	// ErrRunFinalized indicates an attempt to finalize a run twice.
	ErrRunFinalized = errors.New("run record is already finalized")
)

// IsValid checks if the CheckpointStatus is a known value.
func (s CheckpointStatus) IsValid() bool {
	return s == CheckpointSuccess || s == CheckpointFailed
}

// IsValid checks if the RunStatus is a known value.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunInProgress, RunSuccess, RunFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for terminal run states. A finalized RunRecord is
// immutable; history is retained for reporting and never deleted.
func (s RunStatus) IsTerminal() bool {
	return s == RunSuccess || s == RunFailed
}

// Validate performs domain validation on a RawRecord before storage.
func (r *RawRecord) Validate() error {
	if strings.TrimSpace(r.Source) == "" {
		return ErrSourceEmpty
	}

	if strings.TrimSpace(r.ExternalID) == "" {
		return ErrExternalIDEmpty
	}

	if len(r.Payload) == 0 {
		return ErrPayloadEmpty
	}

	return nil
}

// NewRunRecord creates an in-progress run for the given source.
//
// Format: "run_<source>_<8 hex chars>". The short uuid suffix keeps run IDs
// readable in logs while staying unique across concurrent sources.
func NewRunRecord(sourceName string) *RunRecord {
	return &RunRecord{
		RunID:     fmt.Sprintf("run_%s_%s", sourceName, uuid.NewString()[:runIDSuffixLength]),
		Source:    sourceName,
		StartTime: time.Now().UTC(),
		Status:    RunInProgress,
	}
}

// Complete finalizes the run as successful, stamping end time and duration.
func (r *RunRecord) Complete() error {
	return r.finalize(RunSuccess, "")
}

// Fail finalizes the run as failed with a human-readable error message.
func (r *RunRecord) Fail(cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	return r.finalize(RunFailed, msg)
}

func (r *RunRecord) finalize(status RunStatus, errorMessage string) error {
	if r.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrRunFinalized, r.RunID, r.Status)
	}

	r.Status = status
	r.ErrorMessage = errorMessage
	r.EndTime = time.Now().UTC()
	r.DurationMs = r.EndTime.Sub(r.StartTime).Milliseconds()

	return nil
}
