// Package memory provides an in-memory run store used for tests and
// ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"reducore/internal/core"
)

// Compile-time contract assertion ensuring the store satisfies the engine interface.
var _ core.RunStore = (*Store)(nil)

// Store keeps run records in process memory. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[string]core.RunRecord
}

// NewStore returns an empty in-memory run store.
func NewStore() *Store {
	return &Store{records: make(map[string]core.RunRecord)}
}

// SaveRun stores or overwrites the record under its ID.
func (s *Store) SaveRun(_ context.Context, rec core.RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("run record missing id")
	}
	s.mu.Lock()
	s.records[rec.ID] = core.CloneRunRecord(rec)
	s.mu.Unlock()
	return nil
}

// GetRun returns the stored record. A missing ID is a negative result, not an
// error.
func (s *Store) GetRun(_ context.Context, id string) (core.RunRecord, bool, error) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return core.RunRecord{}, false, nil
	}
	return core.CloneRunRecord(rec), true, nil
}

// ListRuns returns every record ordered by start time, then ID.
func (s *Store) ListRuns(_ context.Context) ([]core.RunRecord, error) {
	s.mu.RLock()
	out := make([]core.RunRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, core.CloneRunRecord(rec))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }
