package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a small connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 4
	pgxCfg.MinConns = 1
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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS triage_audit (
	id                  TEXT PRIMARY KEY,
	message_id          TEXT NOT NULL,
	internet_message_id TEXT NOT NULL DEFAULT '',
	account             TEXT NOT NULL,
	sender              TEXT NOT NULL DEFAULT '',
	forward_to          TEXT NOT NULL DEFAULT '',
	tracker_company     TEXT NOT NULL DEFAULT '',
	policy_number       TEXT NOT NULL DEFAULT '',
	id_number           TEXT NOT NULL DEFAULT '',
	lookup_method       TEXT NOT NULL DEFAULT '',
	match_method        TEXT NOT NULL DEFAULT '',
	match_score         DOUBLE PRECISION NOT NULL DEFAULT 0,
	reconcile_status    TEXT NOT NULL DEFAULT '',
	forwarded           BOOLEAN NOT NULL DEFAULT false,
	marked_read         BOOLEAN NOT NULL DEFAULT false,
	input_tokens        BIGINT NOT NULL DEFAULT 0,
	output_tokens       BIGINT NOT NULL DEFAULT 0,
	cost_usd            DOUBLE PRECISION NOT NULL DEFAULT 0,
	started_at          TIMESTAMPTZ NOT NULL,
	finished_at         TIMESTAMPTZ NOT NULL,
	tat_seconds         DOUBLE PRECISION NOT NULL DEFAULT 0,
	record              JSONB,
	error               TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_triage_audit_message_id ON triage_audit(message_id);
CREATE INDEX IF NOT EXISTS idx_triage_audit_finished_at ON triage_audit(finished_at DESC);
`

// Migrate creates the audit table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Record inserts one entry.
func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	var record any
	if len(e.Record) > 0 {
		record = e.Record
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO triage_audit (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		e.ID, e.MessageID, e.InternetMessageID, e.Account, e.From, e.ForwardTo,
		e.TrackerCompany, e.PolicyNumber, e.IDNumber, e.LookupMethod, e.MatchMethod,
		e.MatchScore, e.ReconcileStatus, e.Forwarded, e.MarkedRead, e.InputTokens,
		e.OutputTokens, e.CostUSD, e.StartedAt, e.FinishedAt, e.TATSeconds, record, e.Error,
	)
	return eris.Wrapf(err, "postgres: record audit %s", e.MessageID)
}

// Recent returns the latest entries, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+columns+` FROM triage_audit ORDER BY finished_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query recent audit")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			record []byte
		)
		if err := rows.Scan(
			&e.ID, &e.MessageID, &e.InternetMessageID, &e.Account, &e.From, &e.ForwardTo,
			&e.TrackerCompany, &e.PolicyNumber, &e.IDNumber, &e.LookupMethod, &e.MatchMethod,
			&e.MatchScore, &e.ReconcileStatus, &e.Forwarded, &e.MarkedRead, &e.InputTokens,
			&e.OutputTokens, &e.CostUSD, &e.StartedAt, &e.FinishedAt, &e.TATSeconds, &record, &e.Error,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit")
		}
		e.Record = record
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate audit")
}
