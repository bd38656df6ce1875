package model

import "time"

// WorkItemStatus represents the lifecycle state of a work item.
type WorkItemStatus string

const (
	WorkItemQueued    WorkItemStatus = "queued"
	WorkItemExecuting WorkItemStatus = "executing"
	WorkItemRetryWait WorkItemStatus = "retry_wait"
	// WorkItemAdvanced marks an item whose payload moved on, either into
	// the same item at the next stage or fanned out into new items.
	WorkItemAdvanced  WorkItemStatus = "advanced"
	WorkItemDuplicate WorkItemStatus = "duplicate"
	WorkItemFailed    WorkItemStatus = "failed"
	WorkItemFinalized WorkItemStatus = "finalized"
)

// Terminal reports whether the status is a final state for the item.
func (s WorkItemStatus) Terminal() bool {
	switch s {
	case WorkItemAdvanced, WorkItemDuplicate, WorkItemFailed, WorkItemFinalized:
		return true
	}
	return false
}

// Payload carries the stage-specific data of a work item. Exactly one
// field is set, matching the item's current stage input.
type Payload struct {
	Seed       *SeedQuery  `json:"seed,omitempty"`
	Candidate  *Candidate  `json:"candidate,omitempty"`
	Target     *Target     `json:"target,omitempty"`
	Extraction *Extraction `json:"extraction,omitempty"`
}

// Candidate is a discovered entity emitted by the Radar stage.
type Candidate struct {
	Name    string  `json:"name"`
	Kind    string  `json:"kind,omitempty"`
	Region  string  `json:"region,omitempty"`
	Website string  `json:"website,omitempty"`
	Email   string  `json:"email,omitempty"`
	Phone   string  `json:"phone,omitempty"`
	Address string  `json:"address,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
}

// Target is a candidate resolved to a canonical, live URL.
type Target struct {
	Candidate Candidate `json:"candidate"`
	URL       string    `json:"url"`
	Domain    string    `json:"domain"`
}

// Extraction holds the structured output of the Extractor stage.
// Degraded marks a best-effort payload recovered from a partial page.
type Extraction struct {
	Target      Target            `json:"target"`
	Title       string            `json:"title,omitempty"`
	Emails      []string          `json:"emails,omitempty"`
	Phones      []string          `json:"phones,omitempty"`
	SocialLinks map[string]string `json:"social_links,omitempty"`
	TechStack   map[string]bool   `json:"tech_stack,omitempty"`
	Content     string            `json:"content,omitempty"`
	Degraded    bool              `json:"degraded,omitempty"`
}

// Enrichment holds the schema-validated output of the Enricher stage.
type Enrichment struct {
	Summary  string   `json:"summary"`
	Industry string   `json:"industry"`
	SizeBand string   `json:"size_band,omitempty"`
	Signals  []string `json:"signals,omitempty"`
	Score    int      `json:"score"`
}

// WorkItem is one candidate entity or URL moving through the pipeline.
// It references its mission but is owned by the orchestrator between
// stage hops; executors never mutate it.
type WorkItem struct {
	ID          string         `json:"id"`
	MissionID   string         `json:"mission_id"`
	Stage       Stage          `json:"stage"`
	Status      WorkItemStatus `json:"status"`
	Payload     Payload        `json:"payload"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Attempts    map[Stage]int  `json:"attempts,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	NotBefore   time.Time      `json:"not_before,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Attempt returns the attempt count recorded for the given stage.
func (w *WorkItem) Attempt(stage Stage) int {
	if w.Attempts == nil {
		return 0
	}
	return w.Attempts[stage]
}

// BumpAttempt increments and returns the attempt count for the given stage.
func (w *WorkItem) BumpAttempt(stage Stage) int {
	if w.Attempts == nil {
		w.Attempts = make(map[Stage]int)
	}
	w.Attempts[stage]++
	return w.Attempts[stage]
}

// Domain returns the target domain of the item, if one is known at its
// current stage. Rate budgeting keys on this.
func (w *WorkItem) Domain() string {
	switch {
	case w.Payload.Target != nil:
		return w.Payload.Target.Domain
	case w.Payload.Extraction != nil:
		return w.Payload.Extraction.Target.Domain
	}
	return ""
}
