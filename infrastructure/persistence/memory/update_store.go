// Package memory provides an in-process update store for tests and
// local development. It implements the same contract as the DynamoDB
// store, including snapshots-first load order.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"boardsync/application/compaction"
	"boardsync/pkg/errors"
)

// UpdateStore keeps per-document update records in memory.
type UpdateStore struct {
	mu      sync.RWMutex
	records map[string][]compaction.Record
	now     func() time.Time
}

// NewUpdateStore creates an empty store.
func NewUpdateStore() *UpdateStore {
	return &UpdateStore{
		records: make(map[string][]compaction.Record),
		now:     time.Now,
	}
}

// ListDocuments returns every document id with at least one record.
func (s *UpdateStore) ListDocuments(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadUpdates returns a document's records, snapshots first, then raw
// updates in append order.
func (s *UpdateStore) LoadUpdates(_ context.Context, docID string) ([]compaction.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := append([]compaction.Record(nil), s.records[docID]...)
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Snapshot != recs[j].Snapshot {
			return recs[i].Snapshot
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	return recs, nil
}

// AppendUpdate persists one raw update.
func (s *UpdateStore) AppendUpdate(_ context.Context, docID string, payload []byte) (compaction.Record, error) {
	if len(payload) == 0 {
		return compaction.Record{}, errors.NewValidationError("empty update payload")
	}
	rec := compaction.Record{
		ID:        uuid.New().String(),
		DocID:     docID,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: s.now(),
	}
	s.mu.Lock()
	s.records[docID] = append(s.records[docID], rec)
	s.mu.Unlock()
	return rec, nil
}

// SaveSnapshot persists a full-state snapshot record.
func (s *UpdateStore) SaveSnapshot(_ context.Context, docID string, payload []byte) (compaction.Record, error) {
	if len(payload) == 0 {
		return compaction.Record{}, errors.NewValidationError("empty snapshot payload")
	}
	rec := compaction.Record{
		ID:        uuid.New().String(),
		DocID:     docID,
		Snapshot:  true,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: s.now(),
	}
	s.mu.Lock()
	s.records[docID] = append(s.records[docID], rec)
	s.mu.Unlock()
	return rec, nil
}

// DeleteRecords removes the named records. Unknown ids are ignored.
func (s *UpdateStore) DeleteRecords(_ context.Context, docID string, ids []string) error {
	dead := make(map[string]bool, len(ids))
	for _, id := range ids {
		dead[id] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[docID][:0]
	for _, rec := range s.records[docID] {
		if !dead[rec.ID] {
			kept = append(kept, rec)
		}
	}
	if len(kept) == 0 {
		delete(s.records, docID)
		return nil
	}
	s.records[docID] = kept
	return nil
}
