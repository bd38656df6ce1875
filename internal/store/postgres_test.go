package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestPostgres_SaveMission(t *testing.T) {
	st, mock := newMockStore(t)
	m := testMission("m-1")

	mock.ExpectExec("INSERT INTO missions").
		WithArgs(m.ID, mustJSON(t, m.Seeds), mustJSON(t, m.Options), string(m.Status),
			mustJSON(t, m.Counts), m.CreatedAt.UTC(), m.UpdatedAt.UTC()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.SaveMission(context.Background(), m))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetMission(t *testing.T) {
	st, mock := newMockStore(t)
	m := testMission("m-1")

	mock.ExpectQuery("SELECT id, seeds, options, status, counts, created_at, updated_at").
		WithArgs("m-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "seeds", "options", "status", "counts", "created_at", "updated_at"}).
			AddRow(m.ID, mustJSON(t, m.Seeds), mustJSON(t, m.Options), string(m.Status),
				mustJSON(t, m.Counts), m.CreatedAt, m.UpdatedAt))

	got, err := st.GetMission(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, m.Seeds, got.Seeds)
	assert.Equal(t, model.MissionStatusPending, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetMissionNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, seeds, options, status, counts, created_at, updated_at").
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows([]string{"id", "seeds", "options", "status", "counts", "created_at", "updated_at"}))

	_, err := st.GetMission(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPostgres_SaveWorkItemNullsEmptyOptionals(t *testing.T) {
	st, mock := newMockStore(t)

	w := &model.WorkItem{
		ID:        "w-1",
		MissionID: "m-1",
		Stage:     model.StageRadar,
		Status:    model.WorkItemQueued,
		Payload:   model.Payload{Seed: &model.SeedQuery{Query: "school", Region: "Berlin"}},
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO work_items").
		WithArgs(w.ID, w.MissionID, string(w.Stage), string(w.Status), mustJSON(t, w.Payload),
			nil, mustJSON(t, w.Attempts), nil, nil, w.CreatedAt.UTC()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.SaveWorkItem(context.Background(), w))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CheckAndInsert(t *testing.T) {
	st, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO fingerprints").
		WithArgs("fp-1", "m-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO fingerprints").
		WithArgs("fp-1", "m-2", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := st.CheckAndInsert(ctx, "fp-1", "m-1")
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = st.CheckAndInsert(ctx, "fp-1", "m-2")
	require.NoError(t, err)
	assert.False(t, inserted, "conflicting fingerprint affects no rows")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListLeads(t *testing.T) {
	st, mock := newMockStore(t)

	ext := model.Extraction{Target: model.Target{URL: "https://harmony.example.com", Domain: "harmony.example.com"}}
	enr := model.Enrichment{Summary: "A music school.", Industry: "education", Score: 70}
	finalized := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, mission_id, fingerprint, source_url, extracted, enriched, finalized_at").
		WithArgs("m-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "mission_id", "fingerprint", "source_url", "extracted", "enriched", "finalized_at"}).
			AddRow("l-1", "m-1", "fp-1", "https://harmony.example.com",
				mustJSON(t, ext), mustJSON(t, enr), finalized))

	leads, err := st.ListLeads(context.Background(), "m-1")
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, 70, leads[0].Enriched.Score)
	assert.Equal(t, "harmony.example.com", leads[0].Extracted.Target.Domain)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CountLeads(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	n, err := st.CountLeads(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
