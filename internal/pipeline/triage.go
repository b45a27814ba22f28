// Package pipeline runs each unread email through extraction,
// reconciliation and disposition, and drives the polling loop.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/fitment-triage/internal/audit"
	"github.com/sells-group/fitment-triage/internal/canonical"
	"github.com/sells-group/fitment-triage/internal/metrics"
	"github.com/sells-group/fitment-triage/internal/model"
	"github.com/sells-group/fitment-triage/internal/ocr"
)

// Cascade compiles a record from a canonical document.
type Cascade interface {
	Run(ctx context.Context, doc model.CanonicalDocument) *model.CompiledRecord
}

// Reconciler matches a compiled record against the policy registry.
type Reconciler interface {
	Reconcile(ctx context.Context, rec *model.CompiledRecord) model.ReconciliationResult
}

// Dispositioner forwards the email and marks it read.
type Dispositioner interface {
	Disposition(ctx context.Context, email model.Email, rec *model.CompiledRecord, res model.ReconciliationResult) model.ForwardDecision
}

// Outcome is everything Process learned about one email.
type Outcome struct {
	MessageID      string
	Account        string
	Record         *model.CompiledRecord
	Reconciliation model.ReconciliationResult
	Decision       model.ForwardDecision
	Elapsed        time.Duration
	Error          string
}

// Pipeline processes single emails. It holds no per-email state and is
// safe for concurrent use.
type Pipeline struct {
	extractor  ocr.Extractor
	cascade    Cascade
	reconciler Reconciler
	disposer   Dispositioner
	store      audit.Store
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAudit records one row per processed email.
func WithAudit(st audit.Store) Option {
	return func(p *Pipeline) { p.store = st }
}

// WithMetrics records Prometheus metrics per email and attachment.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New builds a Pipeline.
func New(extractor ocr.Extractor, cascade Cascade, reconciler Reconciler, disposer Dispositioner, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor:  extractor,
		cascade:    cascade,
		reconciler: reconciler,
		disposer:   disposer,
		store:      audit.Nop{},
		now:        time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process triages one email. It never returns an error: failures, including
// panics, end up in the Outcome and the audit row.
func (p *Pipeline) Process(ctx context.Context, account string, email model.Email) Outcome {
	if email.Account == "" {
		email.Account = account
	}
	log := zap.L().With(
		zap.String("account", account),
		zap.String("message_id", email.ID),
		zap.String("subject", email.Subject),
	)
	started := p.now()
	out := Outcome{MessageID: email.ID, Account: account}

	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("pipeline: panic while processing email", zap.Any("panic", r), zap.Stack("stack"))
				out.Error = fmt.Sprintf("panic: %v", r)
			}
		}()
		p.run(ctx, log, email, &out)
	}()

	finished := p.now()
	out.Elapsed = finished.Sub(started)
	if out.Error == "" {
		out.Error = out.Decision.Error
	}
	p.record(ctx, log, email, &out, started, finished)
	return out
}

func (p *Pipeline) run(ctx context.Context, log *zap.Logger, email model.Email, out *Outcome) {
	email = p.extractAttachments(ctx, log, email)

	doc := canonical.Canonicalize(email)
	rec := p.cascade.Run(ctx, doc)
	out.Record = rec

	res := p.reconciler.Reconcile(ctx, rec)
	out.Reconciliation = res

	dec := p.disposer.Disposition(ctx, email, rec, res)
	out.Decision = dec

	log.Info("pipeline: email triaged",
		zap.String("tracker_company", rec.Get(model.FieldTrackerCompany).String()),
		zap.String("reconcile_status", string(res.Status)),
		zap.String("match_method", string(res.Method)),
		zap.String("forward_to", dec.ForwardTo),
		zap.Bool("forwarded", dec.Forwarded),
		zap.Bool("marked_read", dec.MarkedRead),
		zap.Int64("input_tokens", rec.Usage.InputTokens),
		zap.Int64("output_tokens", rec.Usage.OutputTokens),
		zap.Float64("cost_usd", rec.Usage.CostUSD),
	)
}

func (p *Pipeline) extractAttachments(ctx context.Context, log *zap.Logger, email model.Email) model.Email {
	if len(email.Attachments) == 0 {
		return email
	}
	atts := make([]model.Attachment, len(email.Attachments))
	for i, a := range email.Attachments {
		a.Extraction = p.extractor.Extract(ctx, a.Content, a.Name, a.MimeType)
		if !a.Extraction.Success {
			log.Warn("pipeline: attachment not extracted",
				zap.String("attachment", a.Name),
				zap.String("reason", a.Extraction.Error),
			)
		}
		if p.metrics != nil {
			p.metrics.ObserveAttachment(a.Extraction)
		}
		atts[i] = a
	}
	return email.WithAttachments(atts)
}

func (p *Pipeline) record(ctx context.Context, log *zap.Logger, email model.Email, out *Outcome, started, finished time.Time) {
	if p.metrics != nil {
		var usage model.TokenUsage
		if out.Record != nil {
			usage = out.Record.Usage
		}
		p.metrics.ObserveEmail(out.Account, out.Decision, out.Reconciliation, usage, out.Elapsed)
	}

	entry, err := audit.NewEntry(email, out.Record, out.Reconciliation, out.Decision, started, finished)
	if err != nil {
		log.Warn("pipeline: audit entry incomplete", zap.Error(err))
	}
	if entry.Error == "" {
		entry.Error = out.Error
	}
	if err := p.store.Record(ctx, entry); err != nil {
		log.Warn("pipeline: failed to record audit entry", zap.Error(err))
	}
}
