// Package tracker turns the backend's stage-update stream into a consistent,
// monotonically advancing progress view for one analysis job.
package tracker

import (
	"errors"
	"fmt"
	"strings"
)

// StageStatus is the lifecycle state of a single pipeline stage.
type StageStatus string

// Stage statuses. A stage only moves forward along
// Pending -> InProgress -> (Completed | Error).
const (
	StatusPending    StageStatus = "pending"
	StatusInProgress StageStatus = "in_progress"
	StatusCompleted  StageStatus = "completed"
	StatusError      StageStatus = "error"
)

// statusRank orders statuses for the forward-only invariant.
func statusRank(s StageStatus) int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted:
		return 2
	case StatusError:
		return 3
	default:
		return -1
	}
}

// Terminal reports whether the status admits no further transitions.
func (s StageStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ParseStatus maps the backend's status strings onto StageStatus. The
// backend has used both snake_case and bare spellings across releases.
func ParseStatus(raw string) (StageStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return StatusPending, nil
	case "in_progress", "running", "started":
		return StatusInProgress, nil
	case "completed", "complete", "done":
		return StatusCompleted, nil
	case "error", "failed":
		return StatusError, nil
	default:
		return "", fmt.Errorf("unknown stage status %q", raw)
	}
}

// StageEvent is one inbound message from the analysis backend. Events are not
// trusted to be ordered, deduplicated, or to use canonical stage ids.
type StageEvent struct {
	// RawStage is the backend's stage identifier before normalization.
	RawStage string `json:"stage"`
	// Status is the reported stage status.
	Status StageStatus `json:"status"`
	// Message carries human-readable detail (e.g. "matched 3 candidates").
	Message string `json:"message,omitempty"`
	// Timestamp is the emitter's clock in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Validate performs coarse validation on inbound events. Stage names the
// normalizer cannot resolve are not an error here; vocabulary drift is
// handled downstream so this check stays backend-version agnostic.
func (e StageEvent) Validate() error {
	if e.RawStage == "" {
		return errors.New("stage is required")
	}
	if statusRank(e.Status) < 0 {
		return fmt.Errorf("unknown status %q", e.Status)
	}
	if e.Timestamp < 0 {
		return errors.New("timestamp must be >= 0")
	}
	return nil
}
