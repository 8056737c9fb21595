package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"policyvoice/app/config"
	"policyvoice/app/model"
	"policyvoice/app/service/history"

	"github.com/samber/do"
	"github.com/samber/oops"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS customers (
	customer_id        TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	tier               TEXT NOT NULL DEFAULT '',
	item_1_sum         INTEGER NOT NULL DEFAULT 0,
	item_2_sum         INTEGER NOT NULL DEFAULT 0,
	standard_excess    INTEGER NOT NULL DEFAULT 0,
	extra_excess       INTEGER NOT NULL DEFAULT 0,
	add_ons            TEXT NOT NULL DEFAULT '[]',
	special_conditions TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS tier_limits (
	tier       TEXT NOT NULL,
	limit_name TEXT NOT NULL,
	amount     INTEGER NOT NULL,
	PRIMARY KEY (tier, limit_name)
);

CREATE TABLE IF NOT EXISTS conversation_history (
	customer_id TEXT PRIMARY KEY,
	document    TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS telemetry (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	customer_id TEXT,
	route       TEXT NOT NULL,
	category    TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	payload     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS telemetry_session_idx ON telemetry (session_id);
`

var _ do.Shutdownable = (*Store)(nil)

type Store struct {
	db *sql.DB
}

func New(di *do.Injector) (*Store, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return Open(cfg.Storage.DSN)
}

// Open opens a SQLite database and runs migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, oops.In("sqlite").Wrapf(err, "open db")
	}

	// a single connection keeps in-memory databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, oops.In("sqlite").Wrapf(err, "pragma")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, oops.In("sqlite").Wrapf(err, "migrate")
	}

	return &Store{db: db}, nil
}

func (s *Store) Shutdown() error {
	return s.db.Close()
}

func (s *Store) UpsertProfile(ctx context.Context, p model.CustomerProfile) error {
	addOns, err := json.Marshal(nonNil(p.AddOns))
	if err != nil {
		return oops.In("sqlite").Wrapf(err, "marshal add-ons")
	}
	conditions, err := json.Marshal(nonNil(p.SpecialConditions))
	if err != nil {
		return oops.In("sqlite").Wrapf(err, "marshal conditions")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO customers (customer_id, name, tier, item_1_sum, item_2_sum, standard_excess, extra_excess, add_ons, special_conditions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (customer_id) DO UPDATE SET
			name = excluded.name,
			tier = excluded.tier,
			item_1_sum = excluded.item_1_sum,
			item_2_sum = excluded.item_2_sum,
			standard_excess = excluded.standard_excess,
			extra_excess = excluded.extra_excess,
			add_ons = excluded.add_ons,
			special_conditions = excluded.special_conditions`,
		p.CustomerID, p.Name, p.Tier, p.Item1Sum, p.Item2Sum, p.StandardExcess, p.ExtraExcess, string(addOns), string(conditions),
	)
	if err != nil {
		return oops.In("sqlite").With("customer_id", p.CustomerID).Wrapf(err, "upsert profile")
	}

	return nil
}

func (s *Store) FetchProfile(ctx context.Context, customerID string) (model.CustomerProfile, error) {
	var (
		p          model.CustomerProfile
		addOns     string
		conditions string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT customer_id, name, tier, item_1_sum, item_2_sum, standard_excess, extra_excess, add_ons, special_conditions
		FROM customers WHERE customer_id = ?`, customerID,
	).Scan(&p.CustomerID, &p.Name, &p.Tier, &p.Item1Sum, &p.Item2Sum, &p.StandardExcess, &p.ExtraExcess, &addOns, &conditions)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CustomerProfile{}, model.ErrNotFound
	}
	if err != nil {
		return model.CustomerProfile{}, oops.In("sqlite").With("customer_id", customerID).Wrapf(err, "fetch profile")
	}

	if err := json.Unmarshal([]byte(addOns), &p.AddOns); err != nil {
		return model.CustomerProfile{}, oops.In("sqlite").Wrapf(err, "decode add-ons")
	}
	if err := json.Unmarshal([]byte(conditions), &p.SpecialConditions); err != nil {
		return model.CustomerProfile{}, oops.In("sqlite").Wrapf(err, "decode conditions")
	}

	return p, nil
}

func (s *Store) UpsertLimits(ctx context.Context, tier string, limits model.TierLimits) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return oops.In("sqlite").Wrapf(err, "begin")
	}
	defer tx.Rollback()

	for name, amount := range limits {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tier_limits (tier, limit_name, amount) VALUES (?, ?, ?)
			ON CONFLICT (tier, limit_name) DO UPDATE SET amount = excluded.amount`,
			tier, name, amount,
		)
		if err != nil {
			return oops.In("sqlite").With("tier", tier).Wrapf(err, "upsert limit %s", name)
		}
	}

	return tx.Commit()
}

func (s *Store) FetchLimits(ctx context.Context, tier string) (model.TierLimits, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT limit_name, amount FROM tier_limits WHERE tier = ?`, tier)
	if err != nil {
		return nil, oops.In("sqlite").With("tier", tier).Wrapf(err, "fetch limits")
	}
	defer rows.Close()

	limits := model.TierLimits{}
	for rows.Next() {
		var (
			name   string
			amount int64
		)
		if err := rows.Scan(&name, &amount); err != nil {
			return nil, oops.In("sqlite").Wrapf(err, "scan limit")
		}
		limits[name] = amount
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("sqlite").Wrapf(err, "iterate limits")
	}

	if len(limits) == 0 {
		return nil, model.ErrNotFound
	}

	return limits, nil
}

func (s *Store) FetchHistory(ctx context.Context, customerID string, limit int) (model.HistorySnapshot, error) {
	doc, err := s.loadHistory(ctx, s.db, customerID)
	if err != nil {
		return model.HistorySnapshot{}, err
	}

	return history.Snapshot(doc, limit), nil
}

func (s *Store) AppendInteraction(ctx context.Context, customerID string, interaction model.Interaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return oops.In("sqlite").Wrapf(err, "begin")
	}
	defer tx.Rollback()

	doc, err := s.loadHistory(ctx, tx, customerID)
	if err != nil {
		return err
	}

	doc = history.Apply(doc, interaction)

	data, err := json.Marshal(doc)
	if err != nil {
		return oops.In("sqlite").Wrapf(err, "marshal history")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_history (customer_id, document, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (customer_id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		customerID, string(data), doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return oops.In("sqlite").With("customer_id", customerID).Wrapf(err, "save history")
	}

	return tx.Commit()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) loadHistory(ctx context.Context, q querier, customerID string) (model.HistoryDocument, error) {
	var data string

	err := q.QueryRowContext(ctx, `SELECT document FROM conversation_history WHERE customer_id = ?`, customerID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.HistoryDocument{}, nil
	}
	if err != nil {
		return model.HistoryDocument{}, oops.In("sqlite").With("customer_id", customerID).Wrapf(err, "load history")
	}

	var doc model.HistoryDocument
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return model.HistoryDocument{}, oops.In("sqlite").With("customer_id", customerID).Wrapf(err, "decode history")
	}

	return doc, nil
}

func (s *Store) LogTelemetry(ctx context.Context, record model.TelemetryRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return oops.In("sqlite").Wrapf(err, "marshal telemetry")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO telemetry (id, session_id, customer_id, route, category, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.SessionID, record.CustomerID, record.Route, string(record.Category),
		record.Timestamp.UTC().Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return oops.In("sqlite").With("session_id", record.SessionID).Wrapf(err, "insert telemetry")
	}

	return nil
}

// SessionTelemetry returns the records of a session in insertion order.
func (s *Store) SessionTelemetry(ctx context.Context, sessionID string) ([]model.TelemetryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM telemetry WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, oops.In("sqlite").Wrapf(err, "query telemetry")
	}
	defer rows.Close()

	var result []model.TelemetryRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, oops.In("sqlite").Wrapf(err, "scan telemetry")
		}

		var record model.TelemetryRecord
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, oops.In("sqlite").Wrapf(err, "decode telemetry")
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
