package appointments

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/appointment-saga/internal/saga"
)

// MemoryRecordStore is an in-process RecordStore for local runs and tests.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]saga.Record
	now     func() time.Time
}

var _ RecordStore = (*MemoryRecordStore)(nil)

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]saga.Record), now: time.Now}
}

func (s *MemoryRecordStore) Create(_ context.Context, record *saga.Record) error {
	if record == nil {
		return fmt.Errorf("appointments: record cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; ok {
		return fmt.Errorf("appointments: create %s: %w", record.ID, saga.ErrAlreadyExists)
	}
	s.records[record.ID] = *record
	return nil
}

func (s *MemoryRecordStore) Get(_ context.Context, id string) (*saga.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, saga.ErrNotFound
	}
	return &record, nil
}

func (s *MemoryRecordStore) ListByOwner(_ context.Context, ownerID string) ([]saga.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := []saga.Record{}
	for _, record := range s.records {
		if record.OwnerID == ownerID {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt == records[j].CreatedAt {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt < records[j].CreatedAt
	})
	return records, nil
}

func (s *MemoryRecordStore) ConditionalUpdateStatus(_ context.Context, id string, expected, next saga.Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return fmt.Errorf("appointments: update %s: %w", id, saga.ErrNotFound)
	}
	if record.Status != expected || !expected.CanTransitionTo(next) {
		return fmt.Errorf("appointments: update %s from %s to %s: %w", id, record.Status, next, saga.ErrConditionFailed)
	}
	record.Status = next
	record.UpdatedAt = saga.Timestamp(s.now())
	if errMsg != "" {
		record.ErrorMessage = errMsg
	}
	s.records[id] = record
	return nil
}
