package extract

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fitment-triage/internal/llm"
	"github.com/sells-group/fitment-triage/internal/model"
	"github.com/sells-group/fitment-triage/internal/templates"
)

// TrackerCompanies is the closed label set for the classifier.
var TrackerCompanies = []string{
	"amberconnect", "beame", "bidvest", "cartrack", "ctrack",
	"fidelity", "netstar", "pfkelectronics", "tracker", "other",
}

// LabelOther is used when no listed tracker company applies.
const LabelOther = "other"

var trackerSet = func() map[string]bool {
	m := make(map[string]bool, len(TrackerCompanies))
	for _, c := range TrackerCompanies {
		m[c] = true
	}
	return m
}()

// NormalizeTracker lowercases and strips whitespace, mapping anything
// outside the closed set to "other".
func NormalizeTracker(label string) string {
	l := templates.NormalizeLabel(label)
	if trackerSet[l] {
		return l
	}
	return LabelOther
}

// ClassifyStep identifies the tracker company.
type ClassifyStep struct {
	LLM llm.Completer
}

func (s *ClassifyStep) Name() string { return "classify_tracker_company" }

func (s *ClassifyStep) Owns() []model.FieldName {
	return []model.FieldName{model.FieldTrackerCompany}
}

func (s *ClassifyStep) Run(ctx context.Context, doc model.CanonicalDocument, _ *model.CompiledRecord) StepResult {
	resp, err := s.LLM.Complete(ctx, llm.Request{
		Step:   s.Name(),
		Tier:   llm.TierAccurate,
		System: classifyPrompt,
		User:   userMessage("Analyse the following email context to identify the tracking company: ", doc),
		Keys:   []string{string(model.FieldTrackerCompany)},
	})
	res := StepResult{Usage: usageOf(resp), Err: err}
	if err != nil {
		return res
	}

	raw, ok := resp.Value(string(model.FieldTrackerCompany))
	if !ok {
		res.Err = missingKey(model.FieldTrackerCompany)
		return res
	}
	label := NormalizeTracker(raw)
	if label == LabelOther && templates.NormalizeLabel(raw) != LabelOther {
		zap.L().Debug("coerced unknown tracker label", zap.String("label", raw))
	}
	res.Fields = map[model.FieldName]model.Field{model.FieldTrackerCompany: model.Found(label)}
	return res
}

// PolicyNumberStep extracts a 9-digit policy number.
type PolicyNumberStep struct {
	LLM llm.Completer
}

func (s *PolicyNumberStep) Name() string { return "extract_policy_number" }

func (s *PolicyNumberStep) Owns() []model.FieldName {
	return []model.FieldName{model.FieldPolicyNumber}
}

func (s *PolicyNumberStep) Run(ctx context.Context, doc model.CanonicalDocument, _ *model.CompiledRecord) StepResult {
	return identifier(ctx, s.LLM, s.Name(), policyPrompt,
		"Analyse the following email context to extract the policy number: ",
		doc, model.FieldPolicyNumber, ValidPolicyNumber)
}

// IDNumberStep extracts a 13-digit South African identity number.
type IDNumberStep struct {
	LLM llm.Completer
}

func (s *IDNumberStep) Name() string { return "extract_id_number" }

func (s *IDNumberStep) Owns() []model.FieldName {
	return []model.FieldName{model.FieldIDNumber}
}

func (s *IDNumberStep) Run(ctx context.Context, doc model.CanonicalDocument, _ *model.CompiledRecord) StepResult {
	return identifier(ctx, s.LLM, s.Name(), idNumberPrompt,
		"Analyse the following email context to extract the identity number: ",
		doc, model.FieldIDNumber, ValidIDNumber)
}

func identifier(ctx context.Context, c llm.Completer, step, system, prefix string,
	doc model.CanonicalDocument, field model.FieldName, valid func(string) (string, bool)) StepResult {
	resp, err := c.Complete(ctx, llm.Request{
		Step:   step,
		Tier:   llm.TierFast,
		System: system,
		User:   userMessage(prefix, doc),
		Keys:   []string{string(field)},
	})
	res := StepResult{Usage: usageOf(resp), Err: err}
	if err != nil {
		return res
	}

	raw, ok := resp.Value(string(field))
	if !ok {
		res.Err = missingKey(field)
		return res
	}
	f := model.NotFound()
	if !isNotFound(raw) {
		if v, ok := valid(raw); ok {
			f = model.Found(v)
		} else {
			zap.L().Debug("discarding invalid identifier",
				zap.String("step", step), zap.String("value", raw))
		}
	}
	res.Fields = map[model.FieldName]model.Field{field: f}
	return res
}

// missingKey reports a reply that parsed but lacks the step's required key.
func missingKey(field model.FieldName) error {
	return eris.Wrapf(llm.ErrMalformedJSON, "extract: missing %s", field)
}

// ValidPolicyNumber strips spaces and dashes and accepts exactly 9 digits.
func ValidPolicyNumber(raw string) (string, bool) {
	v := stripSeparators(raw)
	return v, len(v) == 9 && allDigits(v)
}

// ValidIDNumber strips spaces and dashes and accepts 13 digits whose first
// six form a real YYMMDD date.
func ValidIDNumber(raw string) (string, bool) {
	v := stripSeparators(raw)
	if len(v) != 13 || !allDigits(v) {
		return v, false
	}
	if _, err := time.Parse("060102", v[:6]); err != nil {
		return v, false
	}
	return v, true
}

// DetailsStep runs the vendor template chosen by the tracker company.
type DetailsStep struct {
	LLM       llm.Completer
	Templates *templates.Registry
}

func (s *DetailsStep) Name() string { return "extract_vehicle_details" }

func (s *DetailsStep) Owns() []model.FieldName {
	return append(append([]model.FieldName{}, model.VendorFields...), model.FieldVehicleKey)
}

func (s *DetailsStep) Run(ctx context.Context, doc model.CanonicalDocument, prior *model.CompiledRecord) StepResult {
	fields := make(map[model.FieldName]model.Field, len(model.VendorFields)+1)
	for _, name := range s.Owns() {
		fields[name] = model.NotFound()
	}

	label := prior.Get(model.FieldTrackerCompany)
	if !label.IsFound() || s.Templates == nil {
		return StepResult{Fields: fields}
	}
	tpl, ok := s.Templates.Lookup(label.Value)
	if !ok {
		return StepResult{Fields: fields}
	}

	keys := make([]string, len(tpl.Fields))
	for i, f := range tpl.Fields {
		keys[i] = string(f)
	}
	resp, err := s.LLM.Complete(ctx, llm.Request{
		Step:   s.Name() + ":" + tpl.Label,
		Tier:   llm.TierAccurate,
		System: tpl.SystemPrompt,
		User:   userMessage(tpl.UserPrefix, doc),
		Keys:   keys,
	})
	res := StepResult{Usage: usageOf(resp), Err: err}
	if err != nil {
		return res
	}

	for _, name := range tpl.Fields {
		if v, ok := resp.Value(string(name)); ok && !isNotFound(v) {
			fields[name] = model.Found(v)
		}
	}
	fields[model.FieldVehicleKey] = VehicleKey(
		fields[model.FieldVehicleYear],
		fields[model.FieldVehicleMake],
		fields[model.FieldVehicleModel],
	)
	res.Fields = fields
	return res
}

// VehicleKey is the lowercased, whitespace-free concatenation of year, make
// and model, or of make and model when the year is missing.
func VehicleKey(year, mk, mdl model.Field) model.Field {
	switch {
	case year.IsFound() && mk.IsFound() && mdl.IsFound():
		return model.Found(squash(year.Value + mk.Value + mdl.Value))
	case mk.IsFound() && mdl.IsFound():
		return model.Found(squash(mk.Value + mdl.Value))
	default:
		return model.NotFound()
	}
}

func squash(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "")
}

func isNotFound(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "" || v == model.SentinelNotFound || v == "not found"
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func usageOf(resp *llm.Response) model.TokenUsage {
	if resp == nil {
		return model.TokenUsage{}
	}
	return resp.Usage
}
