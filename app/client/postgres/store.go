package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"policyvoice/app/config"
	"policyvoice/app/model"
	"policyvoice/app/service/history"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do"
	"github.com/samber/oops"
)

const schema = `
CREATE TABLE IF NOT EXISTS customers (
	customer_id        TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	tier               TEXT NOT NULL DEFAULT '',
	item_1_sum         BIGINT NOT NULL DEFAULT 0,
	item_2_sum         BIGINT NOT NULL DEFAULT 0,
	standard_excess    BIGINT NOT NULL DEFAULT 0,
	extra_excess       BIGINT NOT NULL DEFAULT 0,
	add_ons            TEXT[] NOT NULL DEFAULT '{}',
	special_conditions TEXT[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS tier_limits (
	tier       TEXT NOT NULL,
	limit_name TEXT NOT NULL,
	amount     BIGINT NOT NULL,
	PRIMARY KEY (tier, limit_name)
);

CREATE TABLE IF NOT EXISTS conversation_history (
	customer_id TEXT PRIMARY KEY,
	document    JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS telemetry (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	customer_id TEXT,
	route       TEXT NOT NULL,
	category    TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	payload     JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS telemetry_session_idx ON telemetry (session_id, created_at);
`

var _ do.Shutdownable = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

func New(di *do.Injector) (*Store, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return Connect(context.Background(), cfg.Storage.DSN)
}

// Connect opens a pool, checks connectivity and applies the schema.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, oops.In("postgres").Wrapf(err, "connect to database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.In("postgres").Wrapf(err, "ping database")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, oops.In("postgres").Wrapf(err, "migrate")
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Shutdown() error {
	s.pool.Close()
	return nil
}

func (s *Store) UpsertProfile(ctx context.Context, p model.CustomerProfile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO customers (customer_id, name, tier, item_1_sum, item_2_sum, standard_excess, extra_excess, add_ons, special_conditions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (customer_id) DO UPDATE SET
			name = EXCLUDED.name,
			tier = EXCLUDED.tier,
			item_1_sum = EXCLUDED.item_1_sum,
			item_2_sum = EXCLUDED.item_2_sum,
			standard_excess = EXCLUDED.standard_excess,
			extra_excess = EXCLUDED.extra_excess,
			add_ons = EXCLUDED.add_ons,
			special_conditions = EXCLUDED.special_conditions`,
		p.CustomerID, p.Name, p.Tier, p.Item1Sum, p.Item2Sum, p.StandardExcess, p.ExtraExcess,
		nonNil(p.AddOns), nonNil(p.SpecialConditions),
	)
	if err != nil {
		return oops.In("postgres").With("customer_id", p.CustomerID).Wrapf(err, "upsert profile")
	}

	return nil
}

func (s *Store) FetchProfile(ctx context.Context, customerID string) (model.CustomerProfile, error) {
	var p model.CustomerProfile

	err := s.pool.QueryRow(ctx, `
		SELECT customer_id, name, tier, item_1_sum, item_2_sum, standard_excess, extra_excess, add_ons, special_conditions
		FROM customers WHERE customer_id = $1`, customerID,
	).Scan(&p.CustomerID, &p.Name, &p.Tier, &p.Item1Sum, &p.Item2Sum, &p.StandardExcess, &p.ExtraExcess, &p.AddOns, &p.SpecialConditions)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.CustomerProfile{}, model.ErrNotFound
	}
	if err != nil {
		return model.CustomerProfile{}, oops.In("postgres").With("customer_id", customerID).Wrapf(err, "fetch profile")
	}

	return p, nil
}

func (s *Store) UpsertLimits(ctx context.Context, tier string, limits model.TierLimits) error {
	batch := &pgx.Batch{}
	for name, amount := range limits {
		batch.Queue(`
			INSERT INTO tier_limits (tier, limit_name, amount) VALUES ($1, $2, $3)
			ON CONFLICT (tier, limit_name) DO UPDATE SET amount = EXCLUDED.amount`,
			tier, name, amount,
		)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return oops.In("postgres").With("tier", tier).Wrapf(err, "upsert limits")
	}

	return nil
}

func (s *Store) FetchLimits(ctx context.Context, tier string) (model.TierLimits, error) {
	rows, err := s.pool.Query(ctx, `SELECT limit_name, amount FROM tier_limits WHERE tier = $1`, tier)
	if err != nil {
		return nil, oops.In("postgres").With("tier", tier).Wrapf(err, "fetch limits")
	}
	defer rows.Close()

	limits := model.TierLimits{}
	for rows.Next() {
		var (
			name   string
			amount int64
		)
		if err := rows.Scan(&name, &amount); err != nil {
			return nil, oops.In("postgres").Wrapf(err, "scan limit")
		}
		limits[name] = amount
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("postgres").Wrapf(err, "iterate limits")
	}

	if len(limits) == 0 {
		return nil, model.ErrNotFound
	}

	return limits, nil
}

func (s *Store) FetchHistory(ctx context.Context, customerID string, limit int) (model.HistorySnapshot, error) {
	doc, err := loadHistory(ctx, s.pool, customerID, false)
	if err != nil {
		return model.HistorySnapshot{}, err
	}

	return history.Snapshot(doc, limit), nil
}

// AppendInteraction locks the customer's history row so concurrent turns do
// not overwrite each other's appends. The row is created first so that the
// very first appends have a row to lock too.
func (s *Store) AppendInteraction(ctx context.Context, customerID string, interaction model.Interaction) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO conversation_history (customer_id, document, updated_at) VALUES ($1, '{}', now())
			ON CONFLICT (customer_id) DO NOTHING`,
			customerID,
		)
		if err != nil {
			return oops.In("postgres").With("customer_id", customerID).Wrapf(err, "create history row")
		}

		doc, err := loadHistory(ctx, tx, customerID, true)
		if err != nil {
			return err
		}

		doc = history.Apply(doc, interaction)

		data, err := json.Marshal(doc)
		if err != nil {
			return oops.In("postgres").Wrapf(err, "marshal history")
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO conversation_history (customer_id, document, updated_at) VALUES ($1, $2, $3)
			ON CONFLICT (customer_id) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
			customerID, data, doc.UpdatedAt,
		)
		if err != nil {
			return oops.In("postgres").With("customer_id", customerID).Wrapf(err, "save history")
		}

		return nil
	})
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadHistory(ctx context.Context, q querier, customerID string, forUpdate bool) (model.HistoryDocument, error) {
	query := `SELECT document FROM conversation_history WHERE customer_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var data []byte
	err := q.QueryRow(ctx, query, customerID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.HistoryDocument{}, nil
	}
	if err != nil {
		return model.HistoryDocument{}, oops.In("postgres").With("customer_id", customerID).Wrapf(err, "load history")
	}

	var doc model.HistoryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.HistoryDocument{}, oops.In("postgres").With("customer_id", customerID).Wrapf(err, "decode history")
	}

	return doc, nil
}

func (s *Store) LogTelemetry(ctx context.Context, record model.TelemetryRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return oops.In("postgres").Wrapf(err, "marshal telemetry")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO telemetry (id, session_id, customer_id, route, category, created_at, payload)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`,
		record.ID, record.SessionID, record.CustomerID, record.Route, string(record.Category), record.Timestamp, payload,
	)
	if err != nil {
		return oops.In("postgres").With("session_id", record.SessionID).Wrapf(err, "insert telemetry")
	}

	return nil
}

func (s *Store) SessionTelemetry(ctx context.Context, sessionID string) ([]model.TelemetryRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT payload FROM telemetry WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, oops.In("postgres").Wrapf(err, "query telemetry")
	}
	defer rows.Close()

	var result []model.TelemetryRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, oops.In("postgres").Wrapf(err, "scan telemetry")
		}

		var record model.TelemetryRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, oops.In("postgres").Wrapf(err, "decode telemetry")
		}
		result = append(result, record)
	}

	return result, rows.Err()
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}

	return values
}
