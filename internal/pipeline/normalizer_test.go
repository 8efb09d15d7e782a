package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNormalizeCanonicalPassThrough checks exact canonical ids resolve to
// themselves before the alias table is consulted.
func TestNormalizeCanonicalPassThrough(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultCatalog())
	for _, def := range DefaultCatalog().StagesInOrder() {
		id, ok := n.Normalize(string(def.ID))
		require.True(t, ok)
		require.Equal(t, def.ID, id)
	}
}

// TestNormalizeAliasStability asserts both legacy identification spellings
// resolve to the same canonical stage so no duplicate bar can appear.
func TestNormalizeAliasStability(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultCatalog())

	a, ok := n.Normalize("image_analysis")
	require.True(t, ok)
	b, ok := n.Normalize("part_identification")
	require.True(t, ok)
	require.Equal(t, a, b)
	require.Equal(t, StagePartIdentifier, a)
}

func TestNormalizeAliasTable(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultCatalog())
	cases := map[string]StageID{
		"database_storage":   StageEmailAgent,
		"email_sending":      StageEmailAgent,
		"technical_research": StageResearchAgent,
		"supplier_discovery": StageSupplierFinder,
		"report_generation":  StageReportGenerator,
		"retrying":           StageSetup,
		"initialization":     StageSetup,
		"  Part_Identifier ": StagePartIdentifier,
	}
	for raw, want := range cases {
		got, ok := n.Normalize(raw)
		require.True(t, ok, "raw %q", raw)
		require.Equal(t, want, got, "raw %q", raw)
	}
}

func TestNormalizeUnknownStage(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultCatalog())
	_, ok := n.Normalize("mystery_stage_v9")
	require.False(t, ok)
	_, ok = n.Normalize("")
	require.False(t, ok)
}
