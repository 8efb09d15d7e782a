package pipeline

import "strings"

// Normalizer maps raw stage identifiers emitted by the backend onto canonical
// StageIDs. The backend vocabulary drifts between versions, so the alias table
// is kept explicit: forward-compatibility additions are single-line changes.
type Normalizer struct {
	catalog *Catalog
	aliases map[string]StageID
}

// NewNormalizer builds a Normalizer for the catalog. Every alias target is
// checked against the catalog so a bad table fails at startup, not per event.
func NewNormalizer(catalog *Catalog) *Normalizer {
	first := catalog.First().ID
	aliases := map[string]StageID{
		// Legacy backend spellings for the identification stage.
		"image_analysis":      StagePartIdentifier,
		"part_identification": StagePartIdentifier,
		// Research and supplier variants seen across backend releases.
		"technical_research": StageResearchAgent,
		"web_research":       StageResearchAgent,
		"supplier_discovery": StageSupplierFinder,
		"supplier_search":    StageSupplierFinder,
		"report_generation":  StageReportGenerator,
		// Storage and delivery both surface as the final delivery bar.
		"database_storage": StageEmailAgent,
		"email_sending":    StageEmailAgent,
		// Pseudo-stages: retries restart the first bar instead of becoming
		// an unknown state.
		"retrying":       first,
		"initialization": first,
	}
	for raw, id := range aliases {
		if _, ok := catalog.Lookup(id); !ok {
			panic("alias " + raw + " targets unknown stage " + string(id))
		}
	}
	return &Normalizer{catalog: catalog, aliases: aliases}
}

// Normalize resolves a raw stage string to a canonical StageID. It reports
// false for unrecognized input; callers must drop such events rather than
// fail, since the backend vocabulary evolves independently of this component.
func (n *Normalizer) Normalize(raw string) (StageID, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return "", false
	}
	if _, ok := n.catalog.Lookup(StageID(trimmed)); ok {
		return StageID(trimmed), true
	}
	if id, ok := n.aliases[trimmed]; ok {
		return id, true
	}
	return "", false
}
