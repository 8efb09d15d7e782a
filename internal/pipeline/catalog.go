// Package pipeline defines the canonical analysis pipeline stages and the
// normalization of backend stage vocabulary onto them.
package pipeline

import (
	"fmt"
)

// StageID is the canonical, stable identifier for one pipeline stage. It is
// used internally regardless of how the backend spells the stage.
type StageID string

// Canonical stages of the part-identification pipeline, in execution order.
const (
	StageSetup           StageID = "setup"
	StagePartIdentifier  StageID = "part_identifier"
	StageResearchAgent   StageID = "research_agent"
	StageSupplierFinder  StageID = "supplier_finder"
	StageReportGenerator StageID = "report_generator"
	StageEmailAgent      StageID = "email_agent"
)

// StageDefinition describes one canonical stage. Definitions are immutable
// after catalog construction.
type StageDefinition struct {
	// ID is the canonical stage identifier.
	ID StageID
	// Order positions the stage in the pipeline; unique and strictly increasing.
	Order int
	// DisplayName is the human-readable label for presentation layers.
	DisplayName string
	// Weight is the stage's nominal share of overall progress. Weights sum
	// to 100 across the catalog.
	Weight float64
}

// Catalog is a static, ordered registry of pipeline stages. All lookups are
// pure and side-effect free; validity is established once in NewCatalog.
type Catalog struct {
	stages []StageDefinition
	byID   map[StageID]StageDefinition
}

// NewCatalog validates the provided definitions and builds a Catalog. It
// fails fast on duplicate ids, non-increasing order, or weights that do not
// sum to 100, so per-event code never has to re-check.
func NewCatalog(defs []StageDefinition) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("catalog requires at least one stage")
	}
	byID := make(map[StageID]StageDefinition, len(defs))
	var weightSum float64
	lastOrder := -1
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("stage at order %d has empty id", def.Order)
		}
		if _, dup := byID[def.ID]; dup {
			return nil, fmt.Errorf("duplicate stage id %q", def.ID)
		}
		if def.Order <= lastOrder {
			return nil, fmt.Errorf("stage %q order %d is not strictly increasing", def.ID, def.Order)
		}
		if def.Weight < 0 {
			return nil, fmt.Errorf("stage %q has negative weight", def.ID)
		}
		lastOrder = def.Order
		weightSum += def.Weight
		byID[def.ID] = def
	}
	if weightSum != 100 {
		return nil, fmt.Errorf("stage weights sum to %v, want 100", weightSum)
	}
	stages := make([]StageDefinition, len(defs))
	copy(stages, defs)
	return &Catalog{stages: stages, byID: byID}, nil
}

// DefaultCatalog returns the production stage catalog. Weights mirror the
// progress shares consumers already render (setup holds 5%).
func DefaultCatalog() *Catalog {
	catalog, err := NewCatalog([]StageDefinition{
		{ID: StageSetup, Order: 0, DisplayName: "Setup", Weight: 5},
		{ID: StagePartIdentifier, Order: 1, DisplayName: "Part Identification", Weight: 25},
		{ID: StageResearchAgent, Order: 2, DisplayName: "Technical Research", Weight: 20},
		{ID: StageSupplierFinder, Order: 3, DisplayName: "Supplier Discovery", Weight: 20},
		{ID: StageReportGenerator, Order: 4, DisplayName: "Report Generation", Weight: 20},
		{ID: StageEmailAgent, Order: 5, DisplayName: "Report Delivery", Weight: 10},
	})
	if err != nil {
		panic(fmt.Sprintf("default catalog invalid: %v", err))
	}
	return catalog
}

// StagesInOrder returns the stage definitions in pipeline order. The slice is
// a copy; callers may not mutate catalog state.
func (c *Catalog) StagesInOrder() []StageDefinition {
	out := make([]StageDefinition, len(c.stages))
	copy(out, c.stages)
	return out
}

// WeightOf returns the weight of the given stage, or 0 for unknown ids.
func (c *Catalog) WeightOf(id StageID) float64 {
	return c.byID[id].Weight
}

// Lookup returns the definition for id.
func (c *Catalog) Lookup(id StageID) (StageDefinition, bool) {
	def, ok := c.byID[id]
	return def, ok
}

// First returns the first stage in pipeline order. Pseudo-stage aliases such
// as "retrying" resolve here so retries visually restart the first bar.
func (c *Catalog) First() StageDefinition {
	return c.stages[0]
}

// Last returns the terminal stage in pipeline order.
func (c *Catalog) Last() StageDefinition {
	return c.stages[len(c.stages)-1]
}

// Len returns the number of canonical stages.
func (c *Catalog) Len() int {
	return len(c.stages)
}
