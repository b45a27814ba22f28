// Package audit persists one row per triaged email.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fitment-triage/internal/config"
	"github.com/sells-group/fitment-triage/internal/model"
)

// Entry is the audit row for one processed email.
type Entry struct {
	ID                string          `json:"id"`
	MessageID         string          `json:"message_id"`
	InternetMessageID string          `json:"internet_message_id"`
	Account           string          `json:"account"`
	From              string          `json:"from"`
	ForwardTo         string          `json:"forward_to"`
	TrackerCompany    string          `json:"tracker_company"`
	PolicyNumber      string          `json:"policy_number"`
	IDNumber          string          `json:"id_number"`
	LookupMethod      string          `json:"lookup_method"`
	MatchMethod       string          `json:"match_method"`
	MatchScore        float64         `json:"match_score"`
	ReconcileStatus   string          `json:"reconcile_status"`
	Forwarded         bool            `json:"forwarded"`
	MarkedRead        bool            `json:"marked_read"`
	InputTokens       int64           `json:"input_tokens"`
	OutputTokens      int64           `json:"output_tokens"`
	CostUSD           float64         `json:"cost_usd"`
	StartedAt         time.Time       `json:"started_at"`
	FinishedAt        time.Time       `json:"finished_at"`
	TATSeconds        float64         `json:"tat_seconds"`
	Record            json.RawMessage `json:"record,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// NewEntry assembles an audit row from the outputs of each stage. rec may
// be nil when the email failed before extraction.
func NewEntry(email model.Email, rec *model.CompiledRecord, res model.ReconciliationResult, dec model.ForwardDecision, started, finished time.Time) (Entry, error) {
	e := Entry{
		ID:                uuid.New().String(),
		MessageID:         email.ID,
		InternetMessageID: email.InternetMessageID,
		Account:           email.Account,
		From:              email.From,
		ForwardTo:         dec.ForwardTo,
		LookupMethod:      string(res.LookupMethod),
		MatchMethod:       string(res.Method),
		MatchScore:        res.Score,
		ReconcileStatus:   string(res.Status),
		Forwarded:         dec.Forwarded,
		MarkedRead:        dec.MarkedRead,
		StartedAt:         started.UTC(),
		FinishedAt:        finished.UTC(),
		TATSeconds:        finished.Sub(started).Seconds(),
		Error:             firstNonEmpty(dec.Error, res.Error),
	}
	if rec == nil {
		return e, nil
	}

	e.TrackerCompany = rec.Get(model.FieldTrackerCompany).String()
	e.PolicyNumber = rec.Get(model.FieldPolicyNumber).String()
	e.IDNumber = rec.Get(model.FieldIDNumber).String()
	e.InputTokens = rec.Usage.InputTokens
	e.OutputTokens = rec.Usage.OutputTokens
	e.CostUSD = rec.Usage.CostUSD

	raw, err := json.Marshal(rec)
	if err != nil {
		return e, eris.Wrap(err, "audit: marshal record")
	}
	e.Record = raw
	return e, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Store persists and lists audit entries.
type Store interface {
	Migrate(ctx context.Context) error
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.AuditConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres":
		return NewPostgres(ctx, cfg.DSN)
	case "none", "":
		return Nop{}, nil
	default:
		return nil, eris.Errorf("audit: unknown driver %q", cfg.Driver)
	}
}

// Nop discards entries.
type Nop struct{}

func (Nop) Migrate(context.Context) error                 { return nil }
func (Nop) Record(context.Context, Entry) error           { return nil }
func (Nop) Recent(context.Context, int) ([]Entry, error) { return nil, nil }
func (Nop) Close() error                                  { return nil }

const defaultRecentLimit = 50

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultRecentLimit
	}
	return limit
}

const columns = `id, message_id, internet_message_id, account, sender, forward_to,
	tracker_company, policy_number, id_number, lookup_method, match_method,
	match_score, reconcile_status, forwarded, marked_read, input_tokens,
	output_tokens, cost_usd, started_at, finished_at, tat_seconds, record, error`
