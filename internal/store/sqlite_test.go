package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "leadscout.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testMission(id string) *model.Mission {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &model.Mission{
		ID:        id,
		Seeds:     []model.SeedQuery{{Query: "music school", Region: "Berlin"}},
		Options:   model.MissionOptions{MaxLeads: 50},
		Status:    model.MissionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLite_MissionRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := testMission("m-1")
	require.NoError(t, st.SaveMission(ctx, m))

	got, err := st.GetMission(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Seeds, got.Seeds)
	assert.Equal(t, 50, got.Options.MaxLeads)
	assert.Equal(t, model.MissionStatusPending, got.Status)
}

func TestSQLite_MissionUpsertKeepsCreatedAt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := testMission("m-1")
	require.NoError(t, st.SaveMission(ctx, m))

	m.Status = model.MissionStatusCompleted
	m.Counts.Succeeded = 3
	m.UpdatedAt = m.UpdatedAt.Add(time.Minute)
	require.NoError(t, st.SaveMission(ctx, m))

	got, err := st.GetMission(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, model.MissionStatusCompleted, got.Status)
	assert.Equal(t, 3, got.Counts.Succeeded)
	assert.True(t, got.CreatedAt.Equal(testMission("m-1").CreatedAt))
}

func TestSQLite_GetMissionNotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetMission(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_ListMissionsNewestFirstWithLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m := testMission(fmt.Sprintf("m-%d", i))
		m.CreatedAt = m.CreatedAt.Add(time.Duration(i) * time.Hour)
		require.NoError(t, st.SaveMission(ctx, m))
	}

	missions, err := st.ListMissions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, missions, 2)
	assert.Equal(t, "m-2", missions[0].ID)
	assert.Equal(t, "m-1", missions[1].ID)
}

func TestSQLite_WorkItemRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveMission(ctx, testMission("m-1")))

	w := &model.WorkItem{
		ID:        "w-1",
		MissionID: "m-1",
		Stage:     model.StageExtractor,
		Status:    model.WorkItemRetryWait,
		Payload: model.Payload{Target: &model.Target{
			Candidate: model.Candidate{Name: "Harmony"},
			URL:       "https://harmony.example.com",
			Domain:    "harmony.example.com",
		}},
		Fingerprint: "abc123",
		Attempts:    map[model.Stage]int{model.StageExtractor: 2},
		LastError:   "extractor: target errored (status 503)",
		NotBefore:   time.Date(2026, 8, 1, 12, 5, 0, 0, time.UTC),
		CreatedAt:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, st.SaveWorkItem(ctx, w))

	items, err := st.ListWorkItems(ctx, "m-1")
	require.NoError(t, err)
	require.Len(t, items, 1)

	got := items[0]
	assert.Equal(t, model.StageExtractor, got.Stage)
	assert.Equal(t, model.WorkItemRetryWait, got.Status)
	assert.Equal(t, "harmony.example.com", got.Payload.Target.Domain)
	assert.Equal(t, 2, got.Attempt(model.StageExtractor))
	assert.Equal(t, w.LastError, got.LastError)
	assert.True(t, got.NotBefore.Equal(w.NotBefore))
}

func TestSQLite_WorkItemUpsertAdvancesStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveMission(ctx, testMission("m-1")))

	w := &model.WorkItem{
		ID:        "w-1",
		MissionID: "m-1",
		Stage:     model.StageRadar,
		Status:    model.WorkItemQueued,
		Payload:   model.Payload{Seed: &model.SeedQuery{Query: "school", Region: "Berlin"}},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.SaveWorkItem(ctx, w))

	w.Status = model.WorkItemAdvanced
	require.NoError(t, st.SaveWorkItem(ctx, w))

	items, err := st.ListWorkItems(ctx, "m-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.WorkItemAdvanced, items[0].Status)
}

func TestSQLite_CheckAndInsertFirstWins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	inserted, err := st.CheckAndInsert(ctx, "fp-1", "m-1")
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = st.CheckAndInsert(ctx, "fp-1", "m-2")
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestSQLite_CheckAndInsertConcurrent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	const goroutines = 20
	var wg sync.WaitGroup
	results := make([]bool, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inserted, err := st.CheckAndInsert(ctx, "fp-race", "m-1")
			require.NoError(t, err)
			results[i] = inserted
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, r := range results {
		if r {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestSQLite_LeadRoundTripAndCount(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveMission(ctx, testMission("m-1")))

	lead := &model.LeadRecord{
		ID:          "l-1",
		MissionID:   "m-1",
		Fingerprint: "fp-1",
		SourceURL:   "https://harmony.example.com",
		Extracted: model.Extraction{
			Target: model.Target{
				Candidate: model.Candidate{Name: "Harmony Music School"},
				URL:       "https://harmony.example.com",
				Domain:    "harmony.example.com",
			},
			Emails:    []string{"info@harmony.example.com"},
			TechStack: map[string]bool{"moodle": true},
		},
		Enriched: model.Enrichment{
			Summary:  "A private music school in Berlin.",
			Industry: "education",
			SizeBand: "small",
			Score:    85,
		},
		FinalizedAt: time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC),
	}
	require.NoError(t, st.SaveLead(ctx, lead))

	leads, err := st.ListLeads(ctx, "m-1")
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "Harmony Music School", leads[0].Extracted.Target.Candidate.Name)
	assert.Equal(t, 85, leads[0].Enriched.Score)
	assert.True(t, leads[0].Extracted.TechStack["moodle"])

	n, err := st.CountLeads(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_ListLeadsScopedToMission(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveMission(ctx, testMission("m-1")))
	require.NoError(t, st.SaveMission(ctx, testMission("m-2")))

	for i, mission := range []string{"m-1", "m-1", "m-2"} {
		require.NoError(t, st.SaveLead(ctx, &model.LeadRecord{
			ID:          fmt.Sprintf("l-%d", i),
			MissionID:   mission,
			Fingerprint: fmt.Sprintf("fp-%d", i),
			SourceURL:   "https://example.com",
			FinalizedAt: time.Now().UTC(),
		}))
	}

	leads, err := st.ListLeads(ctx, "m-1")
	require.NoError(t, err)
	assert.Len(t, leads, 2)
}
