package storage

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// rawKey identifies a raw record within a source.
type rawKey struct {
	source     string
	externalID string
}

// MemoryRawStore is a thread-safe in-memory ingestion.RawStore. It backs
// unit tests and local development without a database.
type MemoryRawStore struct {
	mutex   sync.RWMutex
	records map[rawKey]*ingestion.RawRecord
	// order preserves insertion sequence so ListUnprocessed is stable even
	// when fetch timestamps collide.
	order []rawKey
}

// NewMemoryRawStore creates an empty in-memory raw store.
func NewMemoryRawStore() *MemoryRawStore {
	return &MemoryRawStore{
		records: make(map[rawKey]*ingestion.RawRecord),
	}
}

// Put upserts a raw record keyed by (source, external_id). An unchanged
// payload leaves the processed flag alone; a changed payload resets it.
func (s *MemoryRawStore) Put(_ context.Context, record *ingestion.RawRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := rawKey{source: record.Source, externalID: record.ExternalID}

	existing, exists := s.records[key]
	if !exists {
		s.order = append(s.order, key)
	}

	stored := *record
	stored.Processed = false

	if exists {
		if reflect.DeepEqual(existing.Payload, record.Payload) {
			stored.Processed = existing.Processed
		}
	}

	s.records[key] = &stored

	return nil
}

// ListUnprocessed returns up to limit unprocessed records for the source in
// fetch order.
func (s *MemoryRawStore) ListUnprocessed(_ context.Context, sourceName string, limit int) ([]*ingestion.RawRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var result []*ingestion.RawRecord

	for _, key := range s.order {
		if key.source != sourceName {
			continue
		}

		record := s.records[key]
		if record.Processed {
			continue
		}

		recordCopy := *record
		result = append(result, &recordCopy)

		if limit > 0 && len(result) >= limit {
			break
		}
	}

	return result, nil
}

// MarkProcessed flips the processed flag. Marking an absent or already
// processed record is a no-op.
func (s *MemoryRawStore) MarkProcessed(_ context.Context, sourceName, externalID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if record, exists := s.records[rawKey{source: sourceName, externalID: externalID}]; exists {
		record.Processed = true
	}

	return nil
}

// canonicalKey identifies a canonical record by provenance.
type canonicalKey struct {
	source   string
	sourceID string
}

// MemoryCanonicalStore is a thread-safe in-memory ingestion.CanonicalStore.
type MemoryCanonicalStore struct {
	mutex    sync.RWMutex
	entities map[string]string // content hash to entity ID
	records  map[canonicalKey]*ingestion.CanonicalRecord
	order    []canonicalKey
}

// NewMemoryCanonicalStore creates an empty in-memory canonical store.
func NewMemoryCanonicalStore() *MemoryCanonicalStore {
	return &MemoryCanonicalStore{
		entities: make(map[string]string),
		records:  make(map[canonicalKey]*ingestion.CanonicalRecord),
	}
}

// ResolveEntity returns the entity ID owning contentHash, registering
// candidateID when the hash is new.
func (s *MemoryCanonicalStore) ResolveEntity(_ context.Context, contentHash, candidateID string) (string, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if entityID, exists := s.entities[contentHash]; exists {
		return entityID, false, nil
	}

	s.entities[contentHash] = candidateID

	return candidateID, true, nil
}

// FindByContentHash returns the oldest canonical record with the hash, or
// nil when none exists.
func (s *MemoryCanonicalStore) FindByContentHash(_ context.Context, contentHash string) (*ingestion.CanonicalRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, key := range s.order {
		record := s.records[key]
		if record.ContentHash == contentHash {
			recordCopy := *record

			return &recordCopy, nil
		}
	}

	return nil, nil
}

// Upsert writes a canonical record keyed by (source, source_id) and reports
// whether a new row was created.
func (s *MemoryCanonicalStore) Upsert(_ context.Context, record *ingestion.CanonicalRecord) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := canonicalKey{source: record.Source, sourceID: record.SourceID}

	existing, exists := s.records[key]

	stored := *record

	if exists {
		stored.CreatedAt = existing.CreatedAt
	} else {
		s.order = append(s.order, key)
	}

	s.records[key] = &stored

	return !exists, nil
}

// List returns matching records in creation order plus the pre-pagination
// total.
func (s *MemoryCanonicalStore) List(_ context.Context, filter ingestion.ListFilter) ([]*ingestion.CanonicalRecord, int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var matched []*ingestion.CanonicalRecord

	for _, key := range s.order {
		record := s.records[key]
		if filter.Source != "" && record.Source != filter.Source {
			continue
		}

		recordCopy := *record
		matched = append(matched, &recordCopy)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := len(matched)

	if filter.Offset >= total {
		return nil, total, nil
	}

	matched = matched[filter.Offset:]

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	return matched, total, nil
}

// MemoryCheckpointStore is a thread-safe in-memory ingestion.CheckpointStore.
type MemoryCheckpointStore struct {
	mutex       sync.RWMutex
	checkpoints map[string]*ingestion.Checkpoint
}

// NewMemoryCheckpointStore creates an empty in-memory checkpoint store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		checkpoints: make(map[string]*ingestion.Checkpoint),
	}
}

// Get returns the checkpoint for a source, or nil when none exists.
func (s *MemoryCheckpointStore) Get(_ context.Context, sourceName string) (*ingestion.Checkpoint, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	checkpoint, exists := s.checkpoints[sourceName]
	if !exists {
		return nil, nil
	}

	checkpointCopy := *checkpoint

	return &checkpointCopy, nil
}

// Advance upserts the checkpoint. An empty cursor keeps the stored cursor
// and only updates status and timestamp.
func (s *MemoryCheckpointStore) Advance(_ context.Context, sourceName, cursor string, status ingestion.CheckpointStatus) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	checkpoint, exists := s.checkpoints[sourceName]
	if !exists {
		checkpoint = &ingestion.Checkpoint{Source: sourceName}
		s.checkpoints[sourceName] = checkpoint
	}

	if cursor != "" {
		checkpoint.LastProcessedID = cursor
	}

	checkpoint.Status = status
	checkpoint.LastProcessedAt = nowUTC()

	return nil
}

// MemoryRunStore is a thread-safe in-memory ingestion.RunStore.
type MemoryRunStore struct {
	mutex sync.RWMutex
	runs  []*ingestion.RunRecord
}

// NewMemoryRunStore creates an empty in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{}
}

// Create appends a new in-progress run.
func (s *MemoryRunStore) Create(_ context.Context, run *ingestion.RunRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	runCopy := *run
	s.runs = append(s.runs, &runCopy)

	return nil
}

// Finalize stores the terminal state of a run.
func (s *MemoryRunStore) Finalize(_ context.Context, run *ingestion.RunRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i, stored := range s.runs {
		if stored.RunID == run.RunID {
			runCopy := *run
			s.runs[i] = &runCopy

			return nil
		}
	}

	return ErrRunNotFound
}

// ListRecent returns up to limit runs, newest first.
func (s *MemoryRunStore) ListRecent(_ context.Context, limit int) ([]*ingestion.RunRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var result []*ingestion.RunRecord

	for i := len(s.runs) - 1; i >= 0; i-- {
		runCopy := *s.runs[i]
		result = append(result, &runCopy)

		if limit > 0 && len(result) >= limit {
			break
		}
	}

	return result, nil
}

// LastRun returns the most recent run, or nil when no run exists.
func (s *MemoryRunStore) LastRun(_ context.Context) (*ingestion.RunRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.runs) == 0 {
		return nil, nil
	}

	runCopy := *s.runs[len(s.runs)-1]

	return &runCopy, nil
}
