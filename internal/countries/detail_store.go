package countries

import (
	"context"
	"errors"
	"sync"

	"github.com/wolfman30/appointment-saga/internal/saga"
)

// DetailStore holds at most one detail record per appointment id.
type DetailStore interface {
	// Get returns saga.ErrNotFound when no detail exists for appointmentID.
	Get(ctx context.Context, appointmentID string) (*saga.Detail, error)
	// InsertIfAbsent reports whether detail was written; false means a record
	// with the same appointment id already existed and was left untouched.
	InsertIfAbsent(ctx context.Context, detail saga.Detail) (bool, error)
}

// MemoryDetailStore is an in-process DetailStore.
type MemoryDetailStore struct {
	mu      sync.RWMutex
	details map[string]saga.Detail
}

var _ DetailStore = (*MemoryDetailStore)(nil)

func NewMemoryDetailStore() *MemoryDetailStore {
	return &MemoryDetailStore{details: make(map[string]saga.Detail)}
}

func (s *MemoryDetailStore) Get(_ context.Context, appointmentID string) (*saga.Detail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	detail, ok := s.details[appointmentID]
	if !ok {
		return nil, saga.ErrNotFound
	}
	return &detail, nil
}

func (s *MemoryDetailStore) InsertIfAbsent(_ context.Context, detail saga.Detail) (bool, error) {
	if detail.AppointmentID == "" {
		return false, errors.New("countries: appointment id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.details[detail.AppointmentID]; ok {
		return false, nil
	}
	s.details[detail.AppointmentID] = detail
	return true, nil
}

// Len returns the number of stored details.
func (s *MemoryDetailStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.details)
}
