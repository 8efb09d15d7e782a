package tracker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStatusSpellings(t *testing.T) {
	t.Parallel()

	cases := map[string]StageStatus{
		"pending":     StatusPending,
		"in_progress": StatusInProgress,
		"running":     StatusInProgress,
		"started":     StatusInProgress,
		"completed":   StatusCompleted,
		"done":        StatusCompleted,
		"error":       StatusError,
		"failed":      StatusError,
		"Running":     StatusInProgress,
		" DONE ":      StatusCompleted,
	}
	for raw, want := range cases {
		got, err := ParseStatus(raw)
		require.NoError(t, err, "raw %q", raw)
		require.Equal(t, want, got)
	}

	_, err := ParseStatus("exploded")
	require.Error(t, err)
}

func TestStageEventValidate(t *testing.T) {
	t.Parallel()

	valid := StageEvent{RawStage: "setup", Status: StatusInProgress, Timestamp: 1}
	require.NoError(t, valid.Validate())

	require.Error(t, StageEvent{Status: StatusInProgress}.Validate())
	require.Error(t, StageEvent{RawStage: "setup", Status: "nope"}.Validate())
	require.Error(t, StageEvent{RawStage: "setup", Status: StatusPending, Timestamp: -1}.Validate())
}
