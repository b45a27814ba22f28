package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/fitment-triage/internal/audit"
	"github.com/sells-group/fitment-triage/internal/disposition"
	"github.com/sells-group/fitment-triage/internal/extract"
	"github.com/sells-group/fitment-triage/internal/llm"
	"github.com/sells-group/fitment-triage/internal/mailbox"
	"github.com/sells-group/fitment-triage/internal/metrics"
	"github.com/sells-group/fitment-triage/internal/ocr"
	"github.com/sells-group/fitment-triage/internal/pipeline"
	"github.com/sells-group/fitment-triage/internal/reconcile"
	"github.com/sells-group/fitment-triage/internal/resilience"
	"github.com/sells-group/fitment-triage/internal/similarity"
	"github.com/sells-group/fitment-triage/internal/templates"
	anthropicpkg "github.com/sells-group/fitment-triage/pkg/anthropic"
	"github.com/sells-group/fitment-triage/pkg/graph"
	"github.com/sells-group/fitment-triage/pkg/policyapi"
)

// opsEnv holds what the ops server needs. Every command that serves HTTP
// builds one.
type opsEnv struct {
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Breakers  *resilience.Breakers
	Templates *templates.Registry
	Audit     audit.Store

	closers []func() error
}

// triageEnv adds the fully wired pipeline and runner.
type triageEnv struct {
	*opsEnv
	Pipeline *pipeline.Pipeline
	Runner   *pipeline.Runner
}

// Close releases resources in reverse order of acquisition.
func (e *opsEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close failed", zap.Error(err))
		}
	}
}

// initOps builds metrics, breakers, templates and the audit store.
// Callers should defer env.Close().
func initOps(ctx context.Context, mode string) (*opsEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	breakers := resilience.NewBreakers(resilience.BreakerConfig{
		Threshold: cfg.Breaker.Threshold,
		Cooldown:  cfg.Breaker.Cooldown,
		OnChange:  m.BreakerChanged,
	})

	tmpl, err := loadTemplates()
	if err != nil {
		return nil, err
	}

	st, err := openAudit(ctx)
	if err != nil {
		return nil, err
	}

	return &opsEnv{
		Registry:  reg,
		Metrics:   m,
		Breakers:  breakers,
		Templates: tmpl,
		Audit:     st,
		closers:   []func() error{st.Close},
	}, nil
}

func loadTemplates() (*templates.Registry, error) {
	reg := templates.NewDefaultRegistry()
	if cfg.Templates.Path == "" {
		return reg, nil
	}
	n, err := reg.LoadFile(cfg.Templates.Path)
	if err != nil {
		return nil, eris.Wrap(err, "load templates")
	}
	zap.L().Info("vendor templates loaded",
		zap.String("path", cfg.Templates.Path),
		zap.Int("count", n),
		zap.Strings("labels", reg.Labels()),
	)
	return reg, nil
}

func openAudit(ctx context.Context) (audit.Store, error) {
	st, err := audit.Open(ctx, cfg.Audit)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate audit store")
	}
	return st, nil
}

// initTriage wires every collaborator into the pipeline and runner.
func initTriage(ctx context.Context) (*triageEnv, error) {
	ops, err := initOps(ctx, "triage")
	if err != nil {
		return nil, err
	}
	env := &triageEnv{opsEnv: ops}
	fail := func(err error) (*triageEnv, error) {
		ops.Close()
		return nil, err
	}

	completer, err := initCompleter(ctx, ops.Breakers)
	if err != nil {
		return fail(err)
	}

	scorer, err := initScorer(ctx, ops)
	if err != nil {
		return fail(err)
	}

	extractor, err := ocr.New(cfg.OCR)
	if err != nil {
		return fail(eris.Wrap(err, "init attachment extraction"))
	}

	registry := reconcile.NewGuardedRegistry(
		policyapi.NewClient(
			cfg.Registry.BaseURL,
			cfg.Registry.ClientID,
			cfg.Registry.ClientSecret,
			cfg.Registry.Scope,
			cfg.Registry.Timeout,
		),
		ops.Breakers.Get("registry"),
		resilience.DefaultPolicy(),
	)

	graphClient := graph.NewClient(cfg.Mail.TenantID, cfg.Mail.ClientID, cfg.Mail.ClientSecret,
		graph.WithBaseURL(cfg.Mail.BaseURL),
		graph.WithAuthorityURL(cfg.Mail.AuthorityURL),
		graph.WithTimeout(cfg.Mail.Timeout),
	)
	mb := mailbox.NewGraph(graphClient, ops.Breakers.Get("graph"), cfg.Mail.MarkReadAttempts)

	cascade := extract.New(completer, ops.Templates, extract.WithObserver(ops.Metrics.ObserveStep))
	engine := reconcile.NewEngine(registry, scorer, reconcile.Config{
		Threshold:  cfg.Similarity.Threshold,
		Precedence: reconcile.Precedence(cfg.Similarity.Precedence),
	})
	disp := disposition.New(mb, disposition.NewRouteResolver(cfg.Triage.Routes), cfg.Triage.FallbackMailbox)

	env.Pipeline = pipeline.New(extractor, cascade, engine, disp,
		pipeline.WithAudit(ops.Audit),
		pipeline.WithMetrics(ops.Metrics),
	)
	env.Runner = pipeline.NewRunner(mb, env.Pipeline, pipeline.RunnerConfig{
		Accounts:     cfg.Triage.Accounts,
		BatchSize:    cfg.Triage.BatchSize,
		BatchDelay:   cfg.Triage.BatchDelay,
		PollInterval: cfg.Triage.PollInterval,
	}, ops.Metrics)

	zap.L().Info("triage pipeline ready",
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("similarity_provider", cfg.Similarity.Provider),
		zap.String("ocr_provider", cfg.OCR.Provider),
		zap.Strings("cascade_steps", cascade.Steps()),
		zap.Strings("accounts", cfg.Triage.Accounts),
	)
	return env, nil
}

func initCompleter(ctx context.Context, breakers *resilience.Breakers) (llm.Completer, error) {
	var next llm.Completer
	switch cfg.LLM.Provider {
	case "gemini":
		g, err := llm.NewGemini(ctx, llm.GeminiConfig{
			APIKey:      cfg.Gemini.Key,
			BaseURL:     cfg.Gemini.BaseURL,
			Models:      llm.Models{Fast: cfg.Gemini.FastModel, Accurate: cfg.Gemini.AccurateModel},
			Temperature: cfg.LLM.Temperature,
		})
		if err != nil {
			return nil, eris.Wrap(err, "init gemini")
		}
		next = g
	default:
		opts := []anthropicpkg.Option{
			anthropicpkg.WithTimeout(cfg.LLM.Timeout),
			anthropicpkg.WithMaxRetries(0),
		}
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		next = llm.NewAnthropic(
			anthropicpkg.NewClient(cfg.Anthropic.Key, opts...),
			llm.Models{Fast: cfg.Anthropic.HaikuModel, Accurate: cfg.Anthropic.SonnetModel},
			cfg.LLM.MaxTokens,
			cfg.LLM.Temperature,
		)
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.LLM.RateLimit), cfg.LLM.Burst)
	return llm.NewGuarded(next, limiter, breakers.Get("llm"), resilience.Policy{
		Attempts: cfg.LLM.RetryAttempts,
		Base:     time.Second,
		Max:      30 * time.Second,
		Jitter:   0.2,
	}), nil
}

func initScorer(ctx context.Context, ops *opsEnv) (similarity.Scorer, error) {
	var emb similarity.Embedder
	switch cfg.Similarity.Provider {
	case "tei":
		t, err := similarity.NewTEI(cfg.Similarity.TEIURL, cfg.LLM.Timeout)
		if err != nil {
			return nil, eris.Wrap(err, "init tei embedder")
		}
		emb = t
	case "gemini":
		model := cfg.Similarity.Model
		if model == "" {
			model = cfg.Gemini.EmbeddingModel
		}
		g, err := similarity.NewGemini(ctx, cfg.Gemini.Key, model)
		if err != nil {
			return nil, eris.Wrap(err, "init gemini embedder")
		}
		emb = g
	default:
		fe, err := similarity.NewFastEmbed(similarity.FastEmbedConfig{
			Model:    cfg.Similarity.Model,
			CacheDir: cfg.Similarity.CacheDir,
		})
		if err != nil {
			// Exact identifier matching still runs without a scorer.
			zap.L().Warn("fastembed unavailable, text similarity matching disabled", zap.Error(err))
			return nil, nil
		}
		ops.closers = append(ops.closers, fe.Close)
		emb = fe
	}
	return similarity.NewEmbeddingScorer(emb), nil
}
