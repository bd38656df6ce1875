package model

import "time"

// MissionStatus represents the lifecycle state of a mission.
type MissionStatus string

const (
	MissionStatusPending   MissionStatus = "pending"
	MissionStatusRunning   MissionStatus = "running"
	MissionStatusCompleted MissionStatus = "completed"
	MissionStatusFailed    MissionStatus = "failed"
	MissionStatusCancelled MissionStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s MissionStatus) Terminal() bool {
	switch s {
	case MissionStatusCompleted, MissionStatusFailed, MissionStatusCancelled:
		return true
	}
	return false
}

// SeedQuery is one discovery query within a mission. Region narrows the
// Radar sweep to a named area (city, metro, country).
type SeedQuery struct {
	Query  string `json:"query" yaml:"query"`
	Region string `json:"region,omitempty" yaml:"region,omitempty"`
}

// MissionOptions tunes per-mission behavior.
type MissionOptions struct {
	MaxLeads   int      `json:"max_leads,omitempty" yaml:"max_leads,omitempty"`
	RegionHint string   `json:"region_hint,omitempty" yaml:"region_hint,omitempty"`
	Kinds      []string `json:"kinds,omitempty" yaml:"kinds,omitempty"`
}

// MissionCounts aggregates work-item outcomes for a mission.
type MissionCounts struct {
	Queued    int `json:"queued"`
	Executing int `json:"executing"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Duplicate int `json:"duplicate"`
}

// Settled reports whether no work remains in flight.
func (c MissionCounts) Settled() bool {
	return c.Queued == 0 && c.Executing == 0
}

// Mission is a user-submitted lead-generation job.
type Mission struct {
	ID        string         `json:"id"`
	Seeds     []SeedQuery    `json:"seeds"`
	Options   MissionOptions `json:"options"`
	Status    MissionStatus  `json:"status"`
	Counts    MissionCounts  `json:"counts"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
