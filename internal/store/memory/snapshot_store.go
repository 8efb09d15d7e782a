// Package memory provides an in-memory snapshot store for development and
// tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/partlab/partscope/internal/store"
	"github.com/partlab/partscope/internal/tracker"
)

// SnapshotStore implements store.SnapshotRepository in memory.
type SnapshotStore struct {
	mu      sync.RWMutex
	records map[string]store.JobRecord
}

// New constructs an empty SnapshotStore.
func New() *SnapshotStore {
	return &SnapshotStore{records: make(map[string]store.JobRecord)}
}

// SaveSnapshot upserts the latest snapshot for a job.
func (s *SnapshotStore) SaveSnapshot(_ context.Context, jobID string, snap tracker.Snapshot, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[jobID] = store.JobRecord{JobID: jobID, Snapshot: snap, UpdatedAt: at}
	return nil
}

// GetSnapshot returns the last-known snapshot or store.ErrNotFound.
func (s *SnapshotStore) GetSnapshot(_ context.Context, jobID string) (store.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[jobID]
	if !ok {
		return store.JobRecord{}, store.ErrNotFound
	}
	return rec, nil
}

// ListJobs returns records newest-first with optional status filtering.
func (s *SnapshotStore) ListJobs(_ context.Context, status *tracker.OverallStatus, limit, offset int) ([]store.JobRecord, error) {
	s.mu.RLock()
	records := make([]store.JobRecord, 0, len(s.records))
	for _, rec := range s.records {
		if status != nil && rec.Snapshot.OverallStatus != *status {
			continue
		}
		records = append(records, rec)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	if offset >= len(records) {
		return nil, nil
	}
	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records, nil
}
