// Package reconcile matches an extracted vehicle against the vehicles the
// policy registry holds for the customer.
package reconcile

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fitment-triage/internal/model"
	"github.com/sells-group/fitment-triage/internal/similarity"
)

// Registry is the authoritative policy and vehicle source.
type Registry interface {
	// ActivePolicies returns the active policy numbers held by an identity
	// number, in registry order.
	ActivePolicies(ctx context.Context, idNumber string) ([]string, error)
	// Vehicles returns the vehicles on a policy keyed by risk-item sequence
	// number.
	Vehicles(ctx context.Context, policyNumber string) (map[int]model.CandidateVehicle, error)
}

// Precedence picks between candidates that match with the same method.
type Precedence string

const (
	// PrecedenceFirst keeps the earliest of equal-rank matches in scan order.
	PrecedenceFirst Precedence = "first"
	// PrecedenceLast keeps the latest of equal-rank matches in scan order.
	PrecedenceLast Precedence = "last"
)

// DefaultThreshold is the minimum similarity accepted as a match.
const DefaultThreshold = 0.80

// Config tunes the engine.
type Config struct {
	Threshold  float64
	Precedence Precedence
}

// Engine reconciles compiled records against the registry.
type Engine struct {
	registry Registry
	scorer   similarity.Scorer
	cfg      Config
}

// NewEngine returns an engine. A nil scorer disables similarity matching.
func NewEngine(registry Registry, scorer similarity.Scorer, cfg Config) *Engine {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Precedence != PrecedenceLast {
		cfg.Precedence = PrecedenceFirst
	}
	return &Engine{registry: registry, scorer: scorer, cfg: cfg}
}

type candidate struct {
	policy  string
	vehicle model.CandidateVehicle
	method  model.MatchMethod
	score   float64
}

// Reconcile looks up candidates by policy number, else by identity number,
// and picks the best match. It never returns an error; failures are carried
// in the result status.
func (e *Engine) Reconcile(ctx context.Context, rec *model.CompiledRecord) model.ReconciliationResult {
	policy := rec.Get(model.FieldPolicyNumber)
	id := rec.Get(model.FieldIDNumber)

	switch {
	case policy.IsFound():
		res := model.ReconciliationResult{LookupMethod: model.LookupPolicyNumber, PolicyNumber: policy.Value}
		vehicles, err := e.registry.Vehicles(ctx, policy.Value)
		if err != nil {
			res.Status = model.ReconcileError
			res.Error = eris.Wrapf(err, "reconcile: vehicles for policy %s", policy.Value).Error()
			return res
		}
		return e.choose(ctx, rec, res, candidatesFor(policy.Value, vehicles))

	case id.IsFound():
		res := model.ReconciliationResult{LookupMethod: model.LookupIDNumber}
		policies, err := e.registry.ActivePolicies(ctx, id.Value)
		if err != nil {
			res.Status = model.ReconcileError
			res.Error = eris.Wrap(err, "reconcile: active policies").Error()
			return res
		}
		var cands []candidate
		var failed int
		var lastErr error
		for _, p := range policies {
			vehicles, err := e.registry.Vehicles(ctx, p)
			if err != nil {
				failed++
				lastErr = err
				zap.L().Warn("reconcile: skipping policy", zap.String("policy_number", p), zap.Error(err))
				continue
			}
			cands = append(cands, candidatesFor(p, vehicles)...)
		}
		if len(policies) > 0 && failed == len(policies) {
			res.Status = model.ReconcileError
			res.Error = eris.Wrap(lastErr, "reconcile: every policy lookup failed").Error()
			return res
		}
		return e.choose(ctx, rec, res, cands)

	default:
		return model.ReconciliationResult{Status: model.ReconcileNoLookup, LookupMethod: model.LookupNone}
	}
}

func candidatesFor(policy string, vehicles map[int]model.CandidateVehicle) []candidate {
	seqs := make([]int, 0, len(vehicles))
	for seq := range vehicles {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	out := make([]candidate, 0, len(seqs))
	for _, seq := range seqs {
		v := vehicles[seq]
		v.SequenceNumber = seq
		out = append(out, candidate{policy: policy, vehicle: v})
	}
	return out
}

func (e *Engine) choose(ctx context.Context, rec *model.CompiledRecord, res model.ReconciliationResult, cands []candidate) model.ReconciliationResult {
	best := -1
	tied := 0
	for i := range cands {
		c := &cands[i]
		c.method, c.score = e.match(ctx, rec, c.vehicle)
		res.Candidates = append(res.Candidates, model.CandidateOutcome{
			PolicyNumber:   c.policy,
			SequenceNumber: c.vehicle.SequenceNumber,
			Method:         c.method,
			Score:          c.score,
			Matched:        c.method != model.MatchNone,
		})
		if c.method == model.MatchNone {
			continue
		}

		switch {
		case best < 0 || c.method.Rank() < cands[best].method.Rank():
			best, tied = i, 1
		case c.method.Rank() == cands[best].method.Rank():
			tied++
			if e.cfg.Precedence == PrecedenceLast {
				best = i
			}
		}
	}

	if best < 0 {
		res.Status = model.ReconcileValidationUnsuccessful
		return res
	}

	win := cands[best]
	v := win.vehicle
	res.Status = model.ReconcileMatched
	res.PolicyNumber = win.policy
	res.Method = win.method
	res.Score = win.score
	res.Vehicle = &v
	res.Ambiguous = tied > 1
	if res.Ambiguous {
		zap.L().Warn("reconcile: several vehicles match, flagged for manual review",
			zap.String("method", string(win.method)),
			zap.Int("matches", tied),
			zap.String("chosen_policy", win.policy),
			zap.Int("chosen_sequence", v.SequenceNumber),
		)
	}
	return res
}

// match returns the strongest method by which v matches the record.
func (e *Engine) match(ctx context.Context, rec *model.CompiledRecord, v model.CandidateVehicle) (model.MatchMethod, float64) {
	if f := rec.Get(model.FieldVINNumber); f.IsFound() && sameIdentifier(f.Value, v.VINNumber) {
		return model.MatchVIN, 1
	}
	if f := rec.Get(model.FieldEngineNumber); f.IsFound() && sameIdentifier(f.Value, v.EngineNumber) {
		return model.MatchEngineNumber, 1
	}
	if f := rec.Get(model.FieldRegistrationNumber); f.IsFound() && sameRegistration(f.Value, v.RegistrationNumber) {
		return model.MatchRegistrationNumber, 1
	}

	key := rec.Get(model.FieldVehicleKey)
	candKey := CandidateKey(v)
	if e.scorer == nil || !key.IsFound() || candKey == "" {
		return model.MatchNone, 0
	}
	score, err := e.scorer.Score(ctx, key.Value, candKey)
	if err != nil {
		zap.L().Warn("reconcile: similarity failed", zap.Int("sequence", v.SequenceNumber), zap.Error(err))
		return model.MatchNone, 0
	}
	if score >= e.cfg.Threshold {
		return model.MatchTextSimilarity, score
	}
	return model.MatchNone, score
}

// sameIdentifier compares case-insensitively with all whitespace removed.
func sameIdentifier(a, b string) bool {
	a, b = squash(a), squash(b)
	return a != "" && a == b
}

func sameRegistration(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

// CandidateKey builds the comparison key for a registry vehicle: year, make
// and model lowercased with whitespace removed. The make is dropped from the
// model when the model already contains it.
func CandidateKey(v model.CandidateVehicle) string {
	mk := strings.ToLower(strings.TrimSpace(v.Make))
	mdl := strings.ToLower(strings.TrimSpace(v.Model))
	if mk != "" && strings.Contains(mdl, mk) {
		mdl = strings.Replace(mdl, mk, "", 1)
	}
	return squash(v.Year + mk + mdl)
}

func squash(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "")
}
