package tracker

import "github.com/partlab/partscope/internal/pipeline"

// OverallStatus is the lifecycle state of the whole job.
type OverallStatus string

// Overall job statuses. Completed and Error are terminal; a terminal
// snapshot is frozen and no further event may reopen the session.
const (
	OverallIdle      OverallStatus = "idle"
	OverallAnalyzing OverallStatus = "analyzing"
	OverallCompleted OverallStatus = "completed"
	OverallError     OverallStatus = "error"
)

// Terminal reports whether the overall status admits no further transitions.
func (s OverallStatus) Terminal() bool {
	return s == OverallCompleted || s == OverallError
}

// StageState is the reducer-owned state of one canonical stage.
type StageState struct {
	// ID is the canonical stage identifier.
	ID pipeline.StageID `json:"id"`
	// Status only moves forward along Pending -> InProgress -> terminal.
	Status StageStatus `json:"status"`
	// Message is the most recent backend detail for the stage.
	Message string `json:"message,omitempty"`
	// LastUpdated is the Unix-millisecond timestamp of the last accepted
	// event that touched the stage.
	LastUpdated int64 `json:"last_updated,omitempty"`
}

// Snapshot is the externally visible, immutable progress value produced on
// every reducer step. Consumers receive copies and may retain them freely.
type Snapshot struct {
	// Stages lists per-stage state in pipeline order.
	Stages []StageState `json:"stages"`
	// OverallPercent is in [0,100] and never decreases across snapshots.
	OverallPercent float64 `json:"overall_percent"`
	// OverallStatus is idle/analyzing/completed/error.
	OverallStatus OverallStatus `json:"overall_status"`
	// ErrorMessage carries the terminal failure reason, empty otherwise.
	ErrorMessage string `json:"error_message,omitempty"`
}

// Terminal reports whether the snapshot is frozen.
func (s Snapshot) Terminal() bool {
	return s.OverallStatus.Terminal()
}

// Stage returns the state for a canonical stage id.
func (s Snapshot) Stage(id pipeline.StageID) (StageState, bool) {
	for _, st := range s.Stages {
		if st.ID == id {
			return st, true
		}
	}
	return StageState{}, false
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Stages = make([]StageState, len(s.Stages))
	copy(out.Stages, s.Stages)
	return out
}
