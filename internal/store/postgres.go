package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout/internal/db"
	"github.com/sells-group/leadscout/internal/model"
)

// PostgresStore implements Store using a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS missions (
	id         TEXT PRIMARY KEY,
	seeds      JSONB NOT NULL,
	options    JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	counts     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS work_items (
	id          TEXT PRIMARY KEY,
	mission_id  TEXT NOT NULL REFERENCES missions(id),
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL,
	payload     JSONB NOT NULL,
	fingerprint TEXT,
	attempts    JSONB,
	last_error  TEXT,
	not_before  TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS fingerprints (
	fingerprint TEXT PRIMARY KEY,
	mission_id  TEXT NOT NULL,
	first_seen  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS leads (
	id           TEXT PRIMARY KEY,
	mission_id   TEXT NOT NULL REFERENCES missions(id),
	fingerprint  TEXT NOT NULL,
	source_url   TEXT NOT NULL,
	extracted    JSONB NOT NULL,
	enriched     JSONB NOT NULL,
	finalized_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_missions_status ON missions(status);
CREATE INDEX IF NOT EXISTS idx_work_items_mission_id ON work_items(mission_id);
CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status);
CREATE INDEX IF NOT EXISTS idx_leads_mission_id ON leads(mission_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveMission(ctx context.Context, m *model.Mission) error {
	seeds, err := json.Marshal(m.Seeds)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal seeds")
	}
	options, err := json.Marshal(m.Options)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal options")
	}
	counts, err := json.Marshal(m.Counts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counts")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO missions (id, seeds, options, status, counts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   counts = EXCLUDED.counts,
		   updated_at = EXCLUDED.updated_at`,
		m.ID, seeds, options, string(m.Status), counts, m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save mission %s", m.ID)
}

func (s *PostgresStore) GetMission(ctx context.Context, missionID string) (*model.Mission, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, seeds, options, status, counts, created_at, updated_at
		 FROM missions WHERE id = $1`, missionID)

	m, err := scanPgMission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "mission %s", missionID)
		}
		return nil, eris.Wrapf(err, "postgres: get mission %s", missionID)
	}
	return m, nil
}

func (s *PostgresStore) ListMissions(ctx context.Context, limit int) ([]model.Mission, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, seeds, options, status, counts, created_at, updated_at
		 FROM missions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list missions")
	}
	defer rows.Close()

	var out []model.Mission
	for rows.Next() {
		m, err := scanPgMission(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan mission")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate missions")
}

func (s *PostgresStore) SaveWorkItem(ctx context.Context, w *model.WorkItem) error {
	payload, err := json.Marshal(w.Payload)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal payload")
	}
	attempts, err := json.Marshal(w.Attempts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal attempts")
	}

	var notBefore any
	if !w.NotBefore.IsZero() {
		notBefore = w.NotBefore.UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO work_items (id, mission_id, stage, status, payload, fingerprint, attempts, last_error, not_before, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   stage = EXCLUDED.stage,
		   status = EXCLUDED.status,
		   payload = EXCLUDED.payload,
		   fingerprint = EXCLUDED.fingerprint,
		   attempts = EXCLUDED.attempts,
		   last_error = EXCLUDED.last_error,
		   not_before = EXCLUDED.not_before`,
		w.ID, w.MissionID, string(w.Stage), string(w.Status), payload,
		nullable(w.Fingerprint), attempts, nullable(w.LastError), notBefore, w.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save work item %s", w.ID)
}

func (s *PostgresStore) ListWorkItems(ctx context.Context, missionID string) ([]model.WorkItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, mission_id, stage, status, payload, fingerprint, attempts, last_error, not_before, created_at
		 FROM work_items WHERE mission_id = $1 ORDER BY created_at`, missionID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list work items %s", missionID)
	}
	defer rows.Close()

	var out []model.WorkItem
	for rows.Next() {
		var (
			w                    model.WorkItem
			payload, attempts    []byte
			fingerprint, lastErr *string
			notBefore            *time.Time
			stage, status        string
		)
		if err := rows.Scan(&w.ID, &w.MissionID, &stage, &status, &payload,
			&fingerprint, &attempts, &lastErr, &notBefore, &w.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan work item")
		}
		w.Stage = model.Stage(stage)
		w.Status = model.WorkItemStatus(status)
		if fingerprint != nil {
			w.Fingerprint = *fingerprint
		}
		if lastErr != nil {
			w.LastError = *lastErr
		}
		if notBefore != nil {
			w.NotBefore = *notBefore
		}
		if err := json.Unmarshal(payload, &w.Payload); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal payload")
		}
		if len(attempts) > 0 && string(attempts) != "null" {
			if err := json.Unmarshal(attempts, &w.Attempts); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal attempts")
			}
		}
		out = append(out, w)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate work items")
}

// CheckAndInsert records the fingerprint if unseen. ON CONFLICT DO
// NOTHING makes the check-and-act atomic under concurrent dispatch.
func (s *PostgresStore) CheckAndInsert(ctx context.Context, fingerprint, missionID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO fingerprints (fingerprint, mission_id, first_seen)
		 VALUES ($1, $2, $3) ON CONFLICT (fingerprint) DO NOTHING`,
		fingerprint, missionID, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert fingerprint")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) SaveLead(ctx context.Context, lead *model.LeadRecord) error {
	extracted, err := json.Marshal(lead.Extracted)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal extraction")
	}
	enriched, err := json.Marshal(lead.Enriched)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal enrichment")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO leads (id, mission_id, fingerprint, source_url, extracted, enriched, finalized_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		lead.ID, lead.MissionID, lead.Fingerprint, lead.SourceURL,
		extracted, enriched, lead.FinalizedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save lead %s", lead.ID)
}

func (s *PostgresStore) ListLeads(ctx context.Context, missionID string) ([]model.LeadRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, mission_id, fingerprint, source_url, extracted, enriched, finalized_at
		 FROM leads WHERE mission_id = $1 ORDER BY finalized_at`, missionID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list leads %s", missionID)
	}
	defer rows.Close()

	var out []model.LeadRecord
	for rows.Next() {
		var (
			lead                model.LeadRecord
			extracted, enriched []byte
		)
		if err := rows.Scan(&lead.ID, &lead.MissionID, &lead.Fingerprint, &lead.SourceURL,
			&extracted, &enriched, &lead.FinalizedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		if err := json.Unmarshal(extracted, &lead.Extracted); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal extraction")
		}
		if err := json.Unmarshal(enriched, &lead.Enriched); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal enrichment")
		}
		out = append(out, lead)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate leads")
}

func (s *PostgresStore) CountLeads(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM leads`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count leads")
}

func scanPgMission(row pgx.Row) (*model.Mission, error) {
	var (
		m                      model.Mission
		seeds, options, counts []byte
		status                 string
	)
	if err := row.Scan(&m.ID, &seeds, &options, &status, &counts, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Status = model.MissionStatus(status)
	if err := json.Unmarshal(seeds, &m.Seeds); err != nil {
		return nil, eris.Wrap(err, "unmarshal seeds")
	}
	if err := json.Unmarshal(options, &m.Options); err != nil {
		return nil, eris.Wrap(err, "unmarshal options")
	}
	if err := json.Unmarshal(counts, &m.Counts); err != nil {
		return nil, eris.Wrap(err, "unmarshal counts")
	}
	return &m, nil
}

// nullable maps "" to NULL for optional text columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
