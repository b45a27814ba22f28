package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fitment-triage/internal/audit"
	"github.com/sells-group/fitment-triage/internal/metrics"
	"github.com/sells-group/fitment-triage/internal/model"
)

type extractorFunc func(ctx context.Context, content []byte, filename, mimeType string) model.ExtractionResult

func (f extractorFunc) Extract(ctx context.Context, content []byte, filename, mimeType string) model.ExtractionResult {
	return f(ctx, content, filename, mimeType)
}

type cascadeFunc func(ctx context.Context, doc model.CanonicalDocument) *model.CompiledRecord

func (f cascadeFunc) Run(ctx context.Context, doc model.CanonicalDocument) *model.CompiledRecord {
	return f(ctx, doc)
}

type reconcilerFunc func(ctx context.Context, rec *model.CompiledRecord) model.ReconciliationResult

func (f reconcilerFunc) Reconcile(ctx context.Context, rec *model.CompiledRecord) model.ReconciliationResult {
	return f(ctx, rec)
}

type recordingDisposer struct {
	mu     sync.Mutex
	emails []model.Email
	dec    model.ForwardDecision
}

func (d *recordingDisposer) Disposition(_ context.Context, email model.Email, _ *model.CompiledRecord, _ model.ReconciliationResult) model.ForwardDecision {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emails = append(d.emails, email)
	return d.dec
}

func textExtractor() extractorFunc {
	return func(_ context.Context, content []byte, _, _ string) model.ExtractionResult {
		return model.ExtractionOK([]string{string(content)}, false)
	}
}

func fixedRecord(doc *model.CanonicalDocument) cascadeFunc {
	return func(_ context.Context, d model.CanonicalDocument) *model.CompiledRecord {
		if doc != nil {
			*doc = d
		}
		rec := model.NewCompiledRecord()
		_ = rec.Set(model.FieldTrackerCompany, model.Found("netstar"))
		_ = rec.Set(model.FieldPolicyNumber, model.Found("P123"))
		rec.Usage = model.TokenUsage{InputTokens: 900, OutputTokens: 40, CostUSD: 0.01}
		return rec
	}
}

func matched() reconcilerFunc {
	return func(_ context.Context, _ *model.CompiledRecord) model.ReconciliationResult {
		return model.ReconciliationResult{
			Status:       model.ReconcileMatched,
			LookupMethod: model.LookupPolicyNumber,
			PolicyNumber: "P123",
			Method:       model.MatchVIN,
			Vehicle:      &model.CandidateVehicle{VINNumber: "VIN1", SequenceNumber: 1},
		}
	}
}

func sampleEmail() model.Email {
	return model.Email{
		ID:      "m1",
		From:    "installer@tracker.example",
		Subject: "Fitment certificate",
		Body:    "Please find attached.",
		Attachments: []model.Attachment{
			{Name: "cert.txt", MimeType: "text/plain", Content: []byte("VIN: VIN1")},
		},
	}
}

func TestProcess_HappyPath(t *testing.T) {
	var doc model.CanonicalDocument
	disp := &recordingDisposer{dec: model.ForwardDecision{ForwardTo: "ops@x", Forwarded: true, MarkedRead: true}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	store, err := audit.NewSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	p := New(textExtractor(), fixedRecord(&doc), matched(), disp, WithAudit(store), WithMetrics(m))
	out := p.Process(context.Background(), "fitments@x", sampleEmail())

	assert.Empty(t, out.Error)
	assert.Equal(t, "m1", out.MessageID)
	assert.Equal(t, "fitments@x", out.Account)
	assert.True(t, out.Decision.Forwarded)
	assert.Equal(t, model.MatchVIN, out.Reconciliation.Method)
	assert.Contains(t, string(doc), "VIN: VIN1")
	assert.Contains(t, string(doc), "Fitment certificate")

	require.Len(t, disp.emails, 1)
	assert.Equal(t, "fitments@x", disp.emails[0].Account)
	assert.True(t, disp.emails[0].Attachments[0].Extraction.Success)

	rows, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "m1", rows[0].MessageID)
	assert.Equal(t, "netstar", rows[0].TrackerCompany)
	assert.Equal(t, "VIN", rows[0].MatchMethod)
	assert.True(t, rows[0].Forwarded)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmailsTotal.WithLabelValues("fitments@x", "forwarded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttachmentsTotal.WithLabelValues("ok")))
	assert.Equal(t, 900.0, testutil.ToFloat64(m.LLMTokensTotal.WithLabelValues("input")))
}

func TestProcess_DoesNotMutateInput(t *testing.T) {
	disp := &recordingDisposer{}
	p := New(textExtractor(), fixedRecord(nil), matched(), disp)

	email := sampleEmail()
	p.Process(context.Background(), "box", email)

	assert.False(t, email.Attachments[0].Extraction.Success)
	assert.Empty(t, email.Account)
}

func TestProcess_RecoversPanic(t *testing.T) {
	disp := &recordingDisposer{}
	boom := reconcilerFunc(func(context.Context, *model.CompiledRecord) model.ReconciliationResult {
		panic("registry exploded")
	})
	store, err := audit.NewSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	p := New(textExtractor(), fixedRecord(nil), boom, disp, WithAudit(store))
	out := p.Process(context.Background(), "box", sampleEmail())

	assert.Equal(t, "panic: registry exploded", out.Error)
	assert.NotNil(t, out.Record)
	assert.False(t, out.Decision.Forwarded)
	assert.Empty(t, disp.emails)

	rows, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, strings.HasPrefix(rows[0].Error, "panic:"))
}

func TestProcess_ForwardErrorSurfaces(t *testing.T) {
	disp := &recordingDisposer{dec: model.ForwardDecision{ForwardTo: "ops@x", Error: "scan in progress"}}
	p := New(textExtractor(), fixedRecord(nil), matched(), disp)

	out := p.Process(context.Background(), "box", sampleEmail())
	assert.Equal(t, "scan in progress", out.Error)
}

func TestProcess_UnsupportedAttachmentStillForwards(t *testing.T) {
	disp := &recordingDisposer{dec: model.ForwardDecision{Forwarded: true, MarkedRead: true}}
	unsupported := extractorFunc(func(context.Context, []byte, string, string) model.ExtractionResult {
		return model.ExtractionUnsupported("unsupported type")
	})
	m := metrics.New(prometheus.NewRegistry())

	p := New(unsupported, fixedRecord(nil), matched(), disp, WithMetrics(m))
	out := p.Process(context.Background(), "box", sampleEmail())

	assert.Empty(t, out.Error)
	assert.True(t, out.Decision.Forwarded)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttachmentsTotal.WithLabelValues("unsupported")))
}

func TestProcess_Elapsed(t *testing.T) {
	disp := &recordingDisposer{}
	p := New(textExtractor(), fixedRecord(nil), matched(), disp)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	p.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * 2 * time.Second)
	}

	out := p.Process(context.Background(), "box", sampleEmail())
	assert.Equal(t, 2*time.Second, out.Elapsed)
}
