package model

import "time"

// LeadRecord is a finalized lead handed to the result sink. One record is
// emitted per work item that advances past the final stage; the stream is
// append-only.
type LeadRecord struct {
	ID          string     `json:"id"`
	MissionID   string     `json:"mission_id"`
	Fingerprint string     `json:"fingerprint"`
	SourceURL   string     `json:"source_url"`
	Extracted   Extraction `json:"extracted"`
	Enriched    Enrichment `json:"enriched"`
	FinalizedAt time.Time  `json:"finalized_at"`
}
