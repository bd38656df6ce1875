package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadscout/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS missions (
	id         TEXT PRIMARY KEY,
	seeds      TEXT NOT NULL,
	options    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	counts     TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS work_items (
	id          TEXT PRIMARY KEY,
	mission_id  TEXT NOT NULL REFERENCES missions(id),
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL,
	payload     TEXT NOT NULL,
	fingerprint TEXT,
	attempts    TEXT,
	last_error  TEXT,
	not_before  DATETIME,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS fingerprints (
	fingerprint TEXT PRIMARY KEY,
	mission_id  TEXT NOT NULL,
	first_seen  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS leads (
	id           TEXT PRIMARY KEY,
	mission_id   TEXT NOT NULL REFERENCES missions(id),
	fingerprint  TEXT NOT NULL,
	source_url   TEXT NOT NULL,
	extracted    TEXT NOT NULL,
	enriched     TEXT NOT NULL,
	finalized_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_missions_status ON missions(status);
CREATE INDEX IF NOT EXISTS idx_work_items_mission_id ON work_items(mission_id);
CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status);
CREATE INDEX IF NOT EXISTS idx_leads_mission_id ON leads(mission_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveMission(ctx context.Context, m *model.Mission) error {
	seeds, err := json.Marshal(m.Seeds)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal seeds")
	}
	options, err := json.Marshal(m.Options)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal options")
	}
	counts, err := json.Marshal(m.Counts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counts")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO missions (id, seeds, options, status, counts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   counts = excluded.counts,
		   updated_at = excluded.updated_at`,
		m.ID, string(seeds), string(options), string(m.Status), string(counts),
		m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save mission %s", m.ID)
}

func (s *SQLiteStore) GetMission(ctx context.Context, missionID string) (*model.Mission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, seeds, options, status, counts, created_at, updated_at
		 FROM missions WHERE id = ?`, missionID)

	m, err := scanMission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "mission %s", missionID)
		}
		return nil, eris.Wrapf(err, "sqlite: get mission %s", missionID)
	}
	return m, nil
}

func (s *SQLiteStore) ListMissions(ctx context.Context, limit int) ([]model.Mission, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seeds, options, status, counts, created_at, updated_at
		 FROM missions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list missions")
	}
	defer rows.Close()

	var out []model.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mission")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate missions")
}

func (s *SQLiteStore) SaveWorkItem(ctx context.Context, w *model.WorkItem) error {
	payload, err := json.Marshal(w.Payload)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal payload")
	}
	attempts, err := json.Marshal(w.Attempts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal attempts")
	}

	var notBefore any
	if !w.NotBefore.IsZero() {
		notBefore = w.NotBefore.UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO work_items (id, mission_id, stage, status, payload, fingerprint, attempts, last_error, not_before, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   stage = excluded.stage,
		   status = excluded.status,
		   payload = excluded.payload,
		   fingerprint = excluded.fingerprint,
		   attempts = excluded.attempts,
		   last_error = excluded.last_error,
		   not_before = excluded.not_before`,
		w.ID, w.MissionID, string(w.Stage), string(w.Status), string(payload),
		w.Fingerprint, string(attempts), w.LastError, notBefore, w.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save work item %s", w.ID)
}

func (s *SQLiteStore) ListWorkItems(ctx context.Context, missionID string) ([]model.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mission_id, stage, status, payload, fingerprint, attempts, last_error, not_before, created_at
		 FROM work_items WHERE mission_id = ? ORDER BY created_at`, missionID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list work items %s", missionID)
	}
	defer rows.Close()

	var out []model.WorkItem
	for rows.Next() {
		var (
			w                    model.WorkItem
			payload, attempts    string
			fingerprint, lastErr sql.NullString
			notBefore            sql.NullTime
			stage, status        string
		)
		if err := rows.Scan(&w.ID, &w.MissionID, &stage, &status, &payload,
			&fingerprint, &attempts, &lastErr, &notBefore, &w.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan work item")
		}
		w.Stage = model.Stage(stage)
		w.Status = model.WorkItemStatus(status)
		w.Fingerprint = fingerprint.String
		w.LastError = lastErr.String
		if notBefore.Valid {
			w.NotBefore = notBefore.Time
		}
		if err := json.Unmarshal([]byte(payload), &w.Payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal payload")
		}
		if attempts != "" && attempts != "null" {
			if err := json.Unmarshal([]byte(attempts), &w.Attempts); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal attempts")
			}
		}
		out = append(out, w)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate work items")
}

// CheckAndInsert records the fingerprint if unseen. INSERT OR IGNORE is
// atomic in SQLite, so concurrent duplicates resolve to one insert.
func (s *SQLiteStore) CheckAndInsert(ctx context.Context, fingerprint, missionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO fingerprints (fingerprint, mission_id, first_seen) VALUES (?, ?, ?)`,
		fingerprint, missionID, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert fingerprint")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: fingerprint rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) SaveLead(ctx context.Context, lead *model.LeadRecord) error {
	extracted, err := json.Marshal(lead.Extracted)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal extraction")
	}
	enriched, err := json.Marshal(lead.Enriched)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal enrichment")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (id, mission_id, fingerprint, source_url, extracted, enriched, finalized_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.MissionID, lead.Fingerprint, lead.SourceURL,
		string(extracted), string(enriched), lead.FinalizedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save lead %s", lead.ID)
}

func (s *SQLiteStore) ListLeads(ctx context.Context, missionID string) ([]model.LeadRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mission_id, fingerprint, source_url, extracted, enriched, finalized_at
		 FROM leads WHERE mission_id = ? ORDER BY finalized_at`, missionID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list leads %s", missionID)
	}
	defer rows.Close()

	var out []model.LeadRecord
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *lead)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate leads")
}

func (s *SQLiteStore) CountLeads(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count leads")
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMission(row scanner) (*model.Mission, error) {
	var (
		m                      model.Mission
		seeds, options, counts string
		status                 string
	)
	if err := row.Scan(&m.ID, &seeds, &options, &status, &counts, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Status = model.MissionStatus(status)
	if err := json.Unmarshal([]byte(seeds), &m.Seeds); err != nil {
		return nil, eris.Wrap(err, "unmarshal seeds")
	}
	if err := json.Unmarshal([]byte(options), &m.Options); err != nil {
		return nil, eris.Wrap(err, "unmarshal options")
	}
	if err := json.Unmarshal([]byte(counts), &m.Counts); err != nil {
		return nil, eris.Wrap(err, "unmarshal counts")
	}
	return &m, nil
}

func scanLead(row scanner) (*model.LeadRecord, error) {
	var (
		lead                model.LeadRecord
		extracted, enriched string
	)
	if err := row.Scan(&lead.ID, &lead.MissionID, &lead.Fingerprint, &lead.SourceURL,
		&extracted, &enriched, &lead.FinalizedAt); err != nil {
		return nil, eris.Wrap(err, "scan lead")
	}
	if err := json.Unmarshal([]byte(extracted), &lead.Extracted); err != nil {
		return nil, eris.Wrap(err, "unmarshal extraction")
	}
	if err := json.Unmarshal([]byte(enriched), &lead.Enriched); err != nil {
		return nil, eris.Wrap(err, "unmarshal enrichment")
	}
	return &lead, nil
}
