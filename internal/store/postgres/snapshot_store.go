// Package postgres provides the Postgres-backed snapshot store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/partlab/partscope/internal/store"
	"github.com/partlab/partscope/internal/tracker"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pgxPool is the pool subset the store needs; pgxmock satisfies it in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// SnapshotStore implements store.SnapshotRepository on the job_snapshots
// table. The full snapshot rides along as JSONB; status, percent, and error
// are lifted into columns for filtering and list rendering.
type SnapshotStore struct {
	pool pgxPool
}

// New creates a Postgres-backed SnapshotStore from the config.
func New(ctx context.Context, cfg Config) (*SnapshotStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SnapshotStore{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for tests).
func NewWithPool(pool pgxPool) (*SnapshotStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SnapshotStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *SnapshotStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveSnapshot upserts the latest snapshot for a job.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, jobID string, snap tracker.Snapshot, at time.Time) error {
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	query := `
		INSERT INTO job_snapshots (job_id, overall_status, overall_percent, error_message, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO UPDATE
		SET overall_status = EXCLUDED.overall_status,
		    overall_percent = EXCLUDED.overall_percent,
		    error_message = EXCLUDED.error_message,
		    snapshot = EXCLUDED.snapshot,
		    updated_at = EXCLUDED.updated_at;
	`
	var errMsg *string
	if snap.ErrorMessage != "" {
		errMsg = &snap.ErrorMessage
	}
	if _, err := s.pool.Exec(ctx, query,
		jobID, string(snap.OverallStatus), snap.OverallPercent, errMsg, payload, at); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// GetSnapshot loads the last-known snapshot or returns store.ErrNotFound.
func (s *SnapshotStore) GetSnapshot(ctx context.Context, jobID string) (store.JobRecord, error) {
	query := `
		SELECT job_id, snapshot, updated_at
		FROM job_snapshots
		WHERE job_id = $1;
	`
	var (
		rec     store.JobRecord
		payload []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(&rec.JobID, &payload, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.JobRecord{}, store.ErrNotFound
		}
		return store.JobRecord{}, fmt.Errorf("get snapshot: %w", err)
	}
	if err := json.Unmarshal(payload, &rec.Snapshot); err != nil {
		return store.JobRecord{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return rec, nil
}

// ListJobs returns records newest-first with optional status filtering.
func (s *SnapshotStore) ListJobs(
	ctx context.Context,
	status *tracker.OverallStatus,
	limit, offset int,
) ([]store.JobRecord, error) {
	query := `
		SELECT job_id, snapshot, updated_at
		FROM job_snapshots
		WHERE ($1::text IS NULL OR overall_status = $1)
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3;
	`
	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}
	rows, err := s.pool.Query(ctx, query, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var records []store.JobRecord
	for rows.Next() {
		var (
			rec     store.JobRecord
			payload []byte
		)
		if err := rows.Scan(&rec.JobID, &payload, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		if err := json.Unmarshal(payload, &rec.Snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return records, nil
}
