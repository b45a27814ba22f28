// Package metrics exposes Prometheus collectors for the triage pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/fitment-triage/internal/model"
	"github.com/sells-group/fitment-triage/internal/resilience"
)

// Metrics holds the triage collectors. All names are prefixed "triage_".
type Metrics struct {
	EmailsTotal       *prometheus.CounterVec
	EmailDuration     prometheus.Histogram
	StepDuration      *prometheus.HistogramVec
	StepFailuresTotal *prometheus.CounterVec
	ReconcileTotal    *prometheus.CounterVec
	AttachmentsTotal  *prometheus.CounterVec
	PollErrorsTotal   *prometheus.CounterVec
	LLMTokensTotal    *prometheus.CounterVec
	LLMCostUSD        prometheus.Counter
	BreakerState      *prometheus.GaugeVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EmailsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_emails_processed_total",
			Help: "Emails processed, by account and forward outcome",
		}, []string{"account", "outcome"}),
		EmailDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "triage_email_duration_seconds",
			Help:    "Turnaround time per email",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
		StepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triage_step_duration_seconds",
			Help:    "Extraction step latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"step"}),
		StepFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_step_failures_total",
			Help: "Extraction steps that returned an error",
		}, []string{"step"}),
		ReconcileTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_reconcile_total",
			Help: "Reconciliation outcomes",
		}, []string{"status", "method"}),
		AttachmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_attachments_total",
			Help: "Attachments seen, by extraction result",
		}, []string{"result"}),
		PollErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_poll_errors_total",
			Help: "Failed mailbox fetches",
		}, []string{"account"}),
		LLMTokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_llm_tokens_total",
			Help: "LLM tokens consumed",
		}, []string{"direction"}),
		LLMCostUSD: f.NewCounter(prometheus.CounterOpts{
			Name: "triage_llm_cost_usd_total",
			Help: "Estimated LLM spend in USD",
		}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "triage_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"name"}),
	}
}

// ObserveStep records one extraction step. Its signature matches
// extract.Observer.
func (m *Metrics) ObserveStep(step string, elapsed time.Duration, err error) {
	m.StepDuration.WithLabelValues(step).Observe(elapsed.Seconds())
	if err != nil {
		m.StepFailuresTotal.WithLabelValues(step).Inc()
	}
}

// ObserveAttachment records an attachment extraction result.
func (m *Metrics) ObserveAttachment(res model.ExtractionResult) {
	result := "ok"
	switch {
	case res.Unsupported:
		result = "unsupported"
	case !res.Success:
		result = "failed"
	}
	m.AttachmentsTotal.WithLabelValues(result).Inc()
}

// ObserveEmail records the end-to-end outcome of one email.
func (m *Metrics) ObserveEmail(account string, dec model.ForwardDecision, res model.ReconciliationResult, usage model.TokenUsage, elapsed time.Duration) {
	outcome := "unforwarded"
	switch {
	case dec.Forwarded && dec.MarkedRead:
		outcome = "forwarded"
	case dec.Forwarded:
		outcome = "forwarded_unread"
	}
	m.EmailsTotal.WithLabelValues(account, outcome).Inc()
	m.EmailDuration.Observe(elapsed.Seconds())

	method := string(res.Method)
	if method == "" {
		method = "none"
	}
	m.ReconcileTotal.WithLabelValues(string(res.Status), method).Inc()

	m.LLMTokensTotal.WithLabelValues("input").Add(float64(usage.InputTokens))
	m.LLMTokensTotal.WithLabelValues("output").Add(float64(usage.OutputTokens))
	m.LLMCostUSD.Add(usage.CostUSD)
}

// PollError counts a failed fetch for account.
func (m *Metrics) PollError(account string) {
	m.PollErrorsTotal.WithLabelValues(account).Inc()
}

// BreakerChanged tracks breaker transitions. Its signature matches
// resilience.BreakerConfig.OnChange.
func (m *Metrics) BreakerChanged(name string, _, to resilience.BreakerState) {
	m.BreakerState.WithLabelValues(name).Set(float64(to))
}
