package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
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
			db.Close() //nolint:errcheck,gosec
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	match_score         REAL NOT NULL DEFAULT 0,
	reconcile_status    TEXT NOT NULL DEFAULT '',
	forwarded           INTEGER NOT NULL DEFAULT 0,
	marked_read         INTEGER NOT NULL DEFAULT 0,
	input_tokens        INTEGER NOT NULL DEFAULT 0,
	output_tokens       INTEGER NOT NULL DEFAULT 0,
	cost_usd            REAL NOT NULL DEFAULT 0,
	started_at          TEXT NOT NULL,
	finished_at         TEXT NOT NULL,
	tat_seconds         REAL NOT NULL DEFAULT 0,
	record              TEXT,
	error               TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_triage_audit_message_id ON triage_audit(message_id);
CREATE INDEX IF NOT EXISTS idx_triage_audit_finished_at ON triage_audit(finished_at);
`

// Migrate creates the audit table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Record inserts one entry.
func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	var record any
	if len(e.Record) > 0 {
		record = string(e.Record)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO triage_audit (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.MessageID, e.InternetMessageID, e.Account, e.From, e.ForwardTo,
		e.TrackerCompany, e.PolicyNumber, e.IDNumber, e.LookupMethod, e.MatchMethod,
		e.MatchScore, e.ReconcileStatus, e.Forwarded, e.MarkedRead, e.InputTokens,
		e.OutputTokens, e.CostUSD, e.StartedAt.UTC().Format(time.RFC3339Nano),
		e.FinishedAt.UTC().Format(time.RFC3339Nano), e.TATSeconds, record, e.Error,
	)
	return eris.Wrapf(err, "sqlite: record audit %s", e.MessageID)
}

// Recent returns the latest entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM triage_audit ORDER BY finished_at DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query recent audit")
	}
	defer rows.Close() //nolint:errcheck

	var out []Entry
	for rows.Next() {
		var (
			e                 Entry
			started, finished string
			record            sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.MessageID, &e.InternetMessageID, &e.Account, &e.From, &e.ForwardTo,
			&e.TrackerCompany, &e.PolicyNumber, &e.IDNumber, &e.LookupMethod, &e.MatchMethod,
			&e.MatchScore, &e.ReconcileStatus, &e.Forwarded, &e.MarkedRead, &e.InputTokens,
			&e.OutputTokens, &e.CostUSD, &started, &finished, &e.TATSeconds, &record, &e.Error,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit")
		}
		if e.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse started_at")
		}
		if e.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse finished_at")
		}
		if record.Valid {
			e.Record = []byte(record.String)
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate audit")
}
