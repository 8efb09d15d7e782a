package tracker

import (
	"github.com/partlab/partscope/internal/pipeline"
)

// Reducer is the per-job state machine. It ingests normalized stage events
// and produces immutable snapshots with a never-decreasing overall percent.
//
// A Reducer is NOT safe for concurrent use: the forward-only and
// completion-propagation invariants do not hold under interleaved
// application, so the owning session must serialize calls.
type Reducer struct {
	defs    []pipeline.StageDefinition
	index   map[pipeline.StageID]int
	states  []StageState
	percent float64
	overall OverallStatus
	errMsg  string
}

// NewReducer builds a Reducer with every stage Pending and the overall
// status Idle.
func NewReducer(catalog *pipeline.Catalog) *Reducer {
	defs := catalog.StagesInOrder()
	states := make([]StageState, len(defs))
	index := make(map[pipeline.StageID]int, len(defs))
	for i, def := range defs {
		states[i] = StageState{ID: def.ID, Status: StatusPending}
		index[def.ID] = i
	}
	return &Reducer{
		defs:    defs,
		index:   index,
		states:  states,
		overall: OverallIdle,
	}
}

// Snapshot returns the current immutable snapshot.
func (r *Reducer) Snapshot() Snapshot {
	return Snapshot{
		Stages:         r.states,
		OverallPercent: r.percent,
		OverallStatus:  r.overall,
		ErrorMessage:   r.errMsg,
	}.clone()
}

// Apply runs one transition for the canonical stage and returns the
// resulting snapshot plus whether the event changed anything. Terminal
// sessions, unknown stages, and exact duplicates are pure no-ops.
func (r *Reducer) Apply(stage pipeline.StageID, evt StageEvent) (Snapshot, bool) {
	if r.overall.Terminal() {
		return r.Snapshot(), false
	}
	idx, ok := r.index[stage]
	if !ok {
		return r.Snapshot(), false
	}

	if evt.Status == StatusError {
		return r.fail(idx, evt), true
	}

	changed := r.advanceStage(idx, evt)
	if r.completeEarlier(idx, evt.Timestamp) {
		changed = true
	}
	if changed && r.overall == OverallIdle {
		r.overall = OverallAnalyzing
	}
	if r.recomputePercent(idx) {
		changed = true
	}
	if idx == len(r.states)-1 && r.states[idx].Status == StatusCompleted {
		r.overall = OverallCompleted
		r.percent = 100
		changed = true
	}
	return r.Snapshot(), changed
}

// Fail transitions the job to a terminal Error snapshot without attributing
// the failure to a stage. Used for cancellation and subscription failures.
// It is a no-op when the snapshot is already terminal.
func (r *Reducer) Fail(message string) (Snapshot, bool) {
	if r.overall.Terminal() {
		return r.Snapshot(), false
	}
	r.overall = OverallError
	r.errMsg = message
	return r.Snapshot(), true
}

// fail applies a backend-reported stage error. Error is instantaneous and
// pipeline-wide: one stage failing fails the whole job.
func (r *Reducer) fail(idx int, evt StageEvent) Snapshot {
	st := &r.states[idx]
	st.Status = StatusError
	st.Message = evt.Message
	st.LastUpdated = evt.Timestamp
	r.completeEarlier(idx, evt.Timestamp)
	r.recomputePercent(idx)
	r.overall = OverallError
	r.errMsg = evt.Message
	if r.errMsg == "" {
		r.errMsg = string(st.ID) + " failed"
	}
	return r.Snapshot()
}

// advanceStage moves the stage forward only. A status earlier than the
// current one is a duplicate/retry signal, never a regression.
func (r *Reducer) advanceStage(idx int, evt StageEvent) bool {
	st := &r.states[idx]
	newRank, curRank := statusRank(evt.Status), statusRank(st.Status)
	switch {
	case newRank > curRank:
		st.Status = evt.Status
		st.Message = evt.Message
		st.LastUpdated = evt.Timestamp
		return true
	case newRank == curRank && !st.Status.Terminal():
		changed := false
		if evt.Message != "" && evt.Message != st.Message {
			st.Message = evt.Message
			changed = true
		}
		if evt.Timestamp > st.LastUpdated {
			st.LastUpdated = evt.Timestamp
			changed = true
		}
		return changed
	default:
		return false
	}
}

// completeEarlier derives every stage before idx as Completed unless it is
// already terminal. A later stage reporting progress implies all earlier
// stages finished, which keeps the view correct when "completed" events for
// earlier stages are dropped.
func (r *Reducer) completeEarlier(idx int, ts int64) bool {
	changed := false
	for i := 0; i < idx; i++ {
		if r.states[i].Status.Terminal() {
			continue
		}
		r.states[i].Status = StatusCompleted
		if r.states[i].LastUpdated == 0 {
			r.states[i].LastUpdated = ts
		}
		changed = true
	}
	return changed
}

// recomputePercent sums the weights of completed stages plus half the
// triggering stage's weight while it is in progress. The stored percent
// only ever increases.
func (r *Reducer) recomputePercent(triggerIdx int) bool {
	var p float64
	for i, st := range r.states {
		if st.Status == StatusCompleted {
			p += r.defs[i].Weight
		}
	}
	if r.states[triggerIdx].Status == StatusInProgress {
		p += r.defs[triggerIdx].Weight / 2
	}
	if p > r.percent {
		r.percent = p
		return true
	}
	return false
}
