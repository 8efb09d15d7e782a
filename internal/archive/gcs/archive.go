// Package gcs archives terminal job snapshots to Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/partlab/partscope/internal/tracker"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object path, e.g. "snapshots".
	Prefix string
	// WriteTimeout bounds each upload. Defaults to 30s.
	WriteTimeout time.Duration
}

// Archive writes final job snapshots to a configured GCS bucket. It is meant
// to be attached as a session listener; non-terminal snapshots are ignored.
type Archive struct {
	client  *storage.Client
	bucket  string
	prefix  string
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a GCS-backed snapshot archive.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*Archive, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Archive{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		timeout: timeout,
		logger:  logger,
	}, nil
}

type archivedSnapshot struct {
	JobID      string           `json:"job_id"`
	ArchivedAt time.Time        `json:"archived_at"`
	Snapshot   tracker.Snapshot `json:"snapshot"`
}

// Observe satisfies session.Listener. Upload failures are logged, never
// propagated: archival must not disturb live tracking.
func (a *Archive) Observe(jobID string, snap tracker.Snapshot) {
	if !snap.Terminal() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	uri, err := a.Put(ctx, jobID, snap)
	if err != nil {
		a.logger.Warn("archive snapshot",
			zap.String("job_id", jobID),
			zap.Error(err))
		return
	}
	a.logger.Info("archived snapshot",
		zap.String("job_id", jobID),
		zap.String("uri", uri))
}

// Put uploads the snapshot as JSON and returns a gs:// URI.
func (a *Archive) Put(ctx context.Context, jobID string, snap tracker.Snapshot) (string, error) {
	if strings.TrimSpace(jobID) == "" {
		return "", fmt.Errorf("job id is required")
	}
	payload, err := json.Marshal(archivedSnapshot{
		JobID:      jobID,
		ArchivedAt: time.Now().UTC(),
		Snapshot:   snap,
	})
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	path := a.objectPath(jobID)
	writer := a.client.Bucket(a.bucket).Object(path).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := io.Copy(writer, bytes.NewReader(payload)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, path), nil
}

func (a *Archive) objectPath(jobID string) string {
	name := fmt.Sprintf("%s.json", jobID)
	if a.prefix == "" {
		return name
	}
	return a.prefix + "/" + name
}
