package model

// Stage identifies one step of the lead pipeline.
type Stage string

const (
	// StageRadar discovers candidate entities from seed queries.
	StageRadar Stage = "radar"
	// StageResolver maps candidates to canonical, live URLs.
	StageResolver Stage = "resolve"
	// StageExtractor performs stealth retrieval and structural parsing.
	StageExtractor Stage = "extract"
	// StageEnricher augments extracted data via the AI service.
	StageEnricher Stage = "enrich"
)

// AllStages returns the pipeline stages in execution order.
func AllStages() []Stage {
	return []Stage{StageRadar, StageResolver, StageExtractor, StageEnricher}
}

// Next returns the stage that follows s, or "" if s is the final stage.
func (s Stage) Next() Stage {
	switch s {
	case StageRadar:
		return StageResolver
	case StageResolver:
		return StageExtractor
	case StageExtractor:
		return StageEnricher
	default:
		return ""
	}
}

// Valid reports whether s names a known pipeline stage.
func (s Stage) Valid() bool {
	switch s {
	case StageRadar, StageResolver, StageExtractor, StageEnricher:
		return true
	}
	return false
}
