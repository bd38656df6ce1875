// Package monitoring aggregates mission health into point-in-time
// snapshots for the /metrics endpoint and the missions status CLI.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Missions within the lookback window, by status.
	MissionsTotal     int `json:"missions_total"`
	MissionsRunning   int `json:"missions_running"`
	MissionsCompleted int `json:"missions_completed"`
	MissionsFailed    int `json:"missions_failed"`
	MissionsCancelled int `json:"missions_cancelled"`

	// Work-item outcomes aggregated across those missions.
	ItemsSucceeded int `json:"items_succeeded"`
	ItemsFailed    int `json:"items_failed"`
	ItemsDuplicate int `json:"items_duplicate"`

	// DuplicateRate is duplicates over all settled items; FailureRate is
	// failures over all settled items.
	DuplicateRate float64 `json:"duplicate_rate"`
	FailureRate   float64 `json:"failure_rate"`

	// LeadsTotal is the all-time finalized lead count.
	LeadsTotal int `json:"leads_total"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the mission store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}
	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)

	missions, err := c.store.ListMissions(ctx, 10000)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list missions")
	}

	for _, m := range missions {
		if m.CreatedAt.Before(cutoff) {
			continue
		}
		snap.MissionsTotal++
		switch m.Status {
		case model.MissionStatusRunning, model.MissionStatusPending:
			snap.MissionsRunning++
		case model.MissionStatusCompleted:
			snap.MissionsCompleted++
		case model.MissionStatusFailed:
			snap.MissionsFailed++
		case model.MissionStatusCancelled:
			snap.MissionsCancelled++
		}
		snap.ItemsSucceeded += m.Counts.Succeeded
		snap.ItemsFailed += m.Counts.Failed
		snap.ItemsDuplicate += m.Counts.Duplicate
	}

	if settled := snap.ItemsSucceeded + snap.ItemsFailed + snap.ItemsDuplicate; settled > 0 {
		snap.DuplicateRate = float64(snap.ItemsDuplicate) / float64(settled)
		snap.FailureRate = float64(snap.ItemsFailed) / float64(settled)
	}

	leads, err := c.store.CountLeads(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count leads")
	}
	snap.LeadsTotal = leads

	return snap, nil
}
