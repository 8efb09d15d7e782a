// Package metrics exports job-tracking metrics via Prometheus. The collector
// attaches to sessions as a snapshot listener, so the reducer itself stays
// free of instrumentation.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/partlab/partscope/internal/tracker"
)

// Collector owns all tracker collectors: jobs started/completed/running,
// job runtime, per-stage transitions, and unknown-stage drops.
type Collector struct {
	jobsStarted      prometheus.Counter
	jobsCompleted    *prometheus.CounterVec
	jobsRunning      prometheus.Gauge
	jobRuntime       *prometheus.HistogramVec
	stageTransitions *prometheus.CounterVec
	unknownStages    prometheus.Counter

	mu      sync.Mutex
	prev    map[string]tracker.Snapshot
	started map[string]time.Time
	now     func() time.Time
}

// New registers the collectors against the provided registry.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partscope_jobs_started_total",
			Help: "Total analysis jobs that began tracking.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partscope_jobs_completed_total",
			Help: "Total jobs that reached a terminal snapshot, by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "partscope_jobs_running",
			Help: "Current number of non-terminal tracked jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "partscope_job_runtime_seconds",
			Help:    "Wall time from first snapshot to terminal snapshot.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		stageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partscope_stage_transitions_total",
			Help: "Stage status transitions, by stage and new status.",
		}, []string{"stage", "status"}),
		unknownStages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partscope_unknown_stage_events_total",
			Help: "Events dropped because the stage could not be normalized.",
		}),
		prev:    make(map[string]tracker.Snapshot),
		started: make(map[string]time.Time),
		now:     time.Now,
	}
	for _, collector := range []prometheus.Collector{
		c.jobsStarted,
		c.jobsCompleted,
		c.jobsRunning,
		c.jobRuntime,
		c.stageTransitions,
		c.unknownStages,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register tracker collector: %w", err)
		}
	}
	return c, nil
}

// Observe consumes one committed snapshot. It satisfies session.Listener and
// is safe for concurrent use across sessions.
func (c *Collector) Observe(jobID string, snap tracker.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, seen := c.prev[jobID]
	if !seen {
		c.jobsStarted.Inc()
		c.jobsRunning.Inc()
		c.started[jobID] = c.now()
	}
	c.countStageTransitions(prev, snap, seen)

	if snap.Terminal() {
		result := "completed"
		if snap.OverallStatus == tracker.OverallError {
			result = "error"
		}
		c.jobsCompleted.WithLabelValues(result).Inc()
		if start, ok := c.started[jobID]; ok {
			c.jobRuntime.WithLabelValues(result).Observe(c.now().Sub(start).Seconds())
		}
		c.jobsRunning.Dec()
		delete(c.prev, jobID)
		delete(c.started, jobID)
		return
	}
	c.prev[jobID] = snap
}

// ObserveUnknownStage records one dropped event. Wire it to the session
// manager's OnUnknownStage hook.
func (c *Collector) ObserveUnknownStage(string, string) {
	c.unknownStages.Inc()
}

func (c *Collector) countStageTransitions(prev, snap tracker.Snapshot, seen bool) {
	for _, st := range snap.Stages {
		if st.Status == tracker.StatusPending {
			continue
		}
		if seen {
			if old, ok := prev.Stage(st.ID); ok && old.Status == st.Status {
				continue
			}
		}
		c.stageTransitions.WithLabelValues(string(st.ID), string(st.Status)).Inc()
	}
}
