package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDefaultCatalogWeightsSum verifies the production catalog satisfies the
// weight and ordering invariants checked by NewCatalog.
func TestDefaultCatalogWeightsSum(t *testing.T) {
	t.Parallel()

	catalog := DefaultCatalog()
	var sum float64
	lastOrder := -1
	for _, def := range catalog.StagesInOrder() {
		sum += def.Weight
		require.Greater(t, def.Order, lastOrder)
		lastOrder = def.Order
	}
	require.Equal(t, float64(100), sum)
	require.Equal(t, StageSetup, catalog.First().ID)
	require.Equal(t, StageEmailAgent, catalog.Last().ID)
}

func TestNewCatalogRejectsDuplicateIDs(t *testing.T) {
	t.Parallel()

	_, err := NewCatalog([]StageDefinition{
		{ID: "a", Order: 0, Weight: 50},
		{ID: "a", Order: 1, Weight: 50},
	})
	require.ErrorContains(t, err, "duplicate stage id")
}

func TestNewCatalogRejectsNonIncreasingOrder(t *testing.T) {
	t.Parallel()

	_, err := NewCatalog([]StageDefinition{
		{ID: "a", Order: 1, Weight: 50},
		{ID: "b", Order: 1, Weight: 50},
	})
	require.ErrorContains(t, err, "not strictly increasing")
}

func TestNewCatalogRejectsBadWeightSum(t *testing.T) {
	t.Parallel()

	_, err := NewCatalog([]StageDefinition{
		{ID: "a", Order: 0, Weight: 60},
		{ID: "b", Order: 1, Weight: 60},
	})
	require.ErrorContains(t, err, "want 100")
}

func TestWeightOfUnknownStageIsZero(t *testing.T) {
	t.Parallel()

	require.Zero(t, DefaultCatalog().WeightOf("mystery_stage_v9"))
}
