// Package extract runs the ordered LLM extraction steps over a canonical
// document and accumulates their output into one CompiledRecord.
package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fitment-triage/internal/llm"
	"github.com/sells-group/fitment-triage/internal/model"
	"github.com/sells-group/fitment-triage/internal/templates"
)

// StepResult is what one step contributes to the record.
type StepResult struct {
	Fields map[model.FieldName]model.Field
	Usage  model.TokenUsage
	Err    error
}

// Step is one stage of the cascade. Run may read fields written by earlier
// steps through prior but must not modify it.
type Step interface {
	Name() string
	// Owns lists the fields this step is responsible for. If the step fails
	// these and only these become Failed.
	Owns() []model.FieldName
	Run(ctx context.Context, doc model.CanonicalDocument, prior *model.CompiledRecord) StepResult
}

// Observer receives per-step timing, e.g. for metrics.
type Observer func(step string, elapsed time.Duration, err error)

// Cascade runs steps in order.
type Cascade struct {
	steps    []Step
	observer Observer
}

// Option configures a Cascade.
type Option func(*Cascade)

// WithObserver registers a per-step observer.
func WithObserver(o Observer) Option {
	return func(c *Cascade) { c.observer = o }
}

// WithSteps replaces the default steps.
func WithSteps(steps ...Step) Option {
	return func(c *Cascade) { c.steps = steps }
}

// New returns the standard four-step cascade.
func New(completer llm.Completer, registry *templates.Registry, opts ...Option) *Cascade {
	c := &Cascade{
		steps: []Step{
			&ClassifyStep{LLM: completer},
			&PolicyNumberStep{LLM: completer},
			&IDNumberStep{LLM: completer},
			&DetailsStep{LLM: completer, Templates: registry},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Steps returns the step names in execution order.
func (c *Cascade) Steps() []string {
	out := make([]string, len(c.steps))
	for i, s := range c.steps {
		out[i] = s.Name()
	}
	return out
}

// Run executes every step and returns a record with every field present.
// It never fails as a whole: step errors are recorded as Failed fields.
func (c *Cascade) Run(ctx context.Context, doc model.CanonicalDocument) *model.CompiledRecord {
	rec := model.NewCompiledRecord()
	for _, step := range c.steps {
		start := time.Now()
		res := runStep(ctx, step, doc, rec)
		if c.observer != nil {
			c.observer(step.Name(), time.Since(start), res.Err)
		}
		apply(rec, step, res)
	}
	return rec
}

func runStep(ctx context.Context, step Step, doc model.CanonicalDocument, prior *model.CompiledRecord) (res StepResult) {
	defer func() {
		if r := recover(); r != nil {
			res = StepResult{Err: eris.Errorf("extract: %s panicked: %v", step.Name(), r)}
		}
	}()
	if err := ctx.Err(); err != nil {
		return StepResult{Err: eris.Wrapf(err, "extract: %s", step.Name())}
	}
	return step.Run(ctx, doc, prior)
}

// apply merges a step result. Only fields the step owns are written.
func apply(rec *model.CompiledRecord, step Step, res StepResult) {
	rec.Usage.Add(res.Usage)
	log := zap.L().With(zap.String("step", step.Name()))

	if res.Err != nil {
		log.Warn("extraction step failed", zap.Error(res.Err))
		for _, name := range step.Owns() {
			_ = rec.Set(name, model.FailedErr(res.Err))
		}
		return
	}

	owned := make(map[model.FieldName]bool, len(step.Owns()))
	for _, name := range step.Owns() {
		owned[name] = true
	}
	for name, f := range res.Fields {
		if !owned[name] {
			log.Warn("step wrote a field it does not own", zap.String("field", string(name)))
			continue
		}
		if err := rec.Set(name, f); err != nil {
			log.Warn("record rejected field", zap.Error(err))
		}
	}
}

func userMessage(prefix string, doc model.CanonicalDocument) string {
	return fmt.Sprintf("%s%s", prefix, doc)
}
