package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/partlab/partscope/internal/tracker"
)

func TestSourceFanOutAndUnsubscribe(t *testing.T) {
	t.Parallel()

	src := New()
	var got []tracker.StageEvent
	unsub, err := src.Subscribe(context.Background(), "job-1", func(evt tracker.StageEvent) {
		got = append(got, evt)
	})
	require.NoError(t, err)
	require.Equal(t, 1, src.SubscriberCount("job-1"))

	src.Publish("job-1", tracker.StageEvent{RawStage: "setup", Status: tracker.StatusInProgress})
	src.Publish("job-2", tracker.StageEvent{RawStage: "setup", Status: tracker.StatusInProgress})
	require.Len(t, got, 1)

	unsub()
	unsub() // idempotent
	require.Zero(t, src.SubscriberCount("job-1"))

	src.Publish("job-1", tracker.StageEvent{RawStage: "setup", Status: tracker.StatusCompleted})
	require.Len(t, got, 1)
}
