// Package store declares interfaces for persisting last-known job progress.
// The tracker core does no persistence itself; stores hang off sessions as
// listeners so history rows and restarts have something to render.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/partlab/partscope/internal/tracker"
)

// ErrNotFound signals that the requested job has no stored snapshot.
var ErrNotFound = errors.New("snapshot not found")

// JobRecord is the persisted last-known state of one job.
type JobRecord struct {
	// JobID is the backend-assigned analysis identifier.
	JobID string
	// Snapshot is the most recent committed snapshot.
	Snapshot tracker.Snapshot
	// UpdatedAt is when the snapshot was stored.
	UpdatedAt time.Time
}

// SnapshotRepository persists the latest snapshot per job.
type SnapshotRepository interface {
	// SaveSnapshot upserts the latest snapshot for a job.
	SaveSnapshot(ctx context.Context, jobID string, snap tracker.Snapshot, at time.Time) error
	// GetSnapshot loads the last-known snapshot or returns ErrNotFound.
	GetSnapshot(ctx context.Context, jobID string) (JobRecord, error)
	// ListJobs returns records newest-first, optionally filtered by overall
	// status, with limit/offset paging.
	ListJobs(ctx context.Context, status *tracker.OverallStatus, limit, offset int) ([]JobRecord, error)
}
