// Package store persists missions, work items, fingerprints, and
// finalized leads. Two backends exist: SQLite for single-node use and
// Postgres for shared deployments.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the mission pipeline.
// CheckAndInsert satisfies dedup.Store and SaveLead satisfies
// sink.LeadWriter, so one store handle wires the whole engine.
type Store interface {
	// Missions
	SaveMission(ctx context.Context, m *model.Mission) error
	GetMission(ctx context.Context, missionID string) (*model.Mission, error)
	ListMissions(ctx context.Context, limit int) ([]model.Mission, error)

	// Work items (terminal items stay archived for inspection)
	SaveWorkItem(ctx context.Context, w *model.WorkItem) error
	ListWorkItems(ctx context.Context, missionID string) ([]model.WorkItem, error)

	// Fingerprints: atomic insert-at-most-once
	CheckAndInsert(ctx context.Context, fingerprint, missionID string) (inserted bool, err error)

	// Leads
	SaveLead(ctx context.Context, lead *model.LeadRecord) error
	ListLeads(ctx context.Context, missionID string) ([]model.LeadRecord, error)
	CountLeads(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
