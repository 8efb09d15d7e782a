package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/partlab/partscope/internal/pipeline"
	"github.com/partlab/partscope/internal/tracker"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	return c
}

func snapshotAt(t *testing.T, events ...tracker.StageEvent) tracker.Snapshot {
	t.Helper()
	catalog := pipeline.DefaultCatalog()
	normalizer := pipeline.NewNormalizer(catalog)
	reducer := tracker.NewReducer(catalog)
	for _, evt := range events {
		id, ok := normalizer.Normalize(evt.RawStage)
		require.True(t, ok, "stage %q", evt.RawStage)
		reducer.Apply(id, evt)
	}
	return reducer.Snapshot()
}

func TestObserveCountsJobLifecycle(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Observe("job-1", snapshotAt(t,
		tracker.StageEvent{RawStage: "setup", Status: tracker.StatusInProgress},
	))
	require.Equal(t, 1.0, testutil.ToFloat64(c.jobsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(c.jobsRunning))

	base = base.Add(42 * time.Second)
	c.Observe("job-1", snapshotAt(t,
		tracker.StageEvent{RawStage: "email_agent", Status: tracker.StatusCompleted},
	))
	require.Equal(t, 1.0, testutil.ToFloat64(c.jobsCompleted.WithLabelValues("completed")))
	require.Equal(t, 0.0, testutil.ToFloat64(c.jobsRunning))
}

func TestObserveErrorResult(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	c.Observe("job-2", snapshotAt(t,
		tracker.StageEvent{RawStage: "part_identifier", Status: tracker.StatusError, Message: "boom"},
	))
	require.Equal(t, 1.0, testutil.ToFloat64(c.jobsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(c.jobsRunning))
}

func TestObserveCountsStageTransitionsOnce(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	snap := snapshotAt(t,
		tracker.StageEvent{RawStage: "setup", Status: tracker.StatusInProgress},
	)
	c.Observe("job-3", snap)
	c.Observe("job-3", snap)

	got := testutil.ToFloat64(c.stageTransitions.WithLabelValues("setup", "in_progress"))
	require.Equal(t, 1.0, got)
}

func TestObserveUnknownStage(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	c.ObserveUnknownStage("job-4", "mystery_stage")
	c.ObserveUnknownStage("job-4", "mystery_stage")
	require.Equal(t, 2.0, testutil.ToFloat64(c.unknownStages))
}
