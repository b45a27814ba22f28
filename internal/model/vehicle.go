package model

import "strconv"

// CandidateVehicle is one vehicle returned by the policy registry.
type CandidateVehicle struct {
	Year               string `json:"year"`
	Make               string `json:"make"`
	Model              string `json:"model"`
	Colour             string `json:"colour"`
	RegistrationNumber string `json:"registration_number"`
	VINNumber          string `json:"vin_number"`
	EngineNumber       string `json:"engine_number"`
	SequenceNumber     int    `json:"sequence_number"`
	CoverType          string `json:"cover_type"`
	Status             string `json:"status"`
	Active             bool   `json:"active"`
}

// MatchMethod names how a candidate was matched.
type MatchMethod string

const (
	MatchNone               MatchMethod = ""
	MatchVIN                MatchMethod = "VIN"
	MatchEngineNumber       MatchMethod = "ENGINE_NUMBER"
	MatchRegistrationNumber MatchMethod = "REGISTRATION_NUMBER"
	MatchTextSimilarity     MatchMethod = "TEXT_SIMILARITY"
)

// Rank orders methods by strength; lower is stronger. MatchNone ranks last.
func (m MatchMethod) Rank() int {
	switch m {
	case MatchVIN:
		return 0
	case MatchEngineNumber:
		return 1
	case MatchRegistrationNumber:
		return 2
	case MatchTextSimilarity:
		return 3
	default:
		return 4
	}
}

// LookupMethod names which identifier drove the registry lookup.
type LookupMethod string

const (
	LookupNone         LookupMethod = "none"
	LookupPolicyNumber LookupMethod = "policy_number"
	LookupIDNumber     LookupMethod = "id_number"
)

// ReconcileStatus is the overall outcome of reconciliation.
type ReconcileStatus string

const (
	ReconcileMatched                ReconcileStatus = "matched"
	ReconcileValidationUnsuccessful ReconcileStatus = "validation_unsuccessful"
	ReconcileNoLookup               ReconcileStatus = "no_lookup"
	ReconcileError                  ReconcileStatus = "error"
)

// CandidateOutcome records how one candidate fared.
type CandidateOutcome struct {
	PolicyNumber   string      `json:"policy_number"`
	SequenceNumber int         `json:"sequence_number"`
	Method         MatchMethod `json:"method,omitempty"`
	Score          float64     `json:"score,omitempty"`
	Matched        bool        `json:"matched"`
}

// ReconciliationResult is the outcome of matching an extracted vehicle
// against registry candidates.
type ReconciliationResult struct {
	Status       ReconcileStatus    `json:"status"`
	LookupMethod LookupMethod       `json:"lookup_method"`
	PolicyNumber string             `json:"policy_number,omitempty"`
	Method       MatchMethod        `json:"method,omitempty"`
	Score        float64            `json:"score,omitempty"`
	Vehicle      *CandidateVehicle  `json:"vehicle,omitempty"`
	Ambiguous    bool               `json:"ambiguous"`
	Candidates   []CandidateOutcome `json:"candidates,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// Matched reports whether a candidate was selected.
func (r ReconciliationResult) Matched() bool {
	return r.Status == ReconcileMatched && r.Vehicle != nil
}

// Fields renders the result with a fixed key set. Anything other than a
// match carries the validation_unsuccessful sentinel in every vehicle field.
func (r ReconciliationResult) Fields() map[string]string {
	keys := []string{
		"policy_number", "year", "make", "model", "colour",
		"registration_number", "vin_number", "engine_number",
		"sequence_number", "cover_type", "status", "match_method",
	}
	out := make(map[string]string, len(keys))
	if !r.Matched() {
		for _, k := range keys {
			out[k] = SentinelValidationUnsuccessful
		}
		return out
	}
	v := r.Vehicle
	out["policy_number"] = r.PolicyNumber
	out["year"] = v.Year
	out["make"] = v.Make
	out["model"] = v.Model
	out["colour"] = v.Colour
	out["registration_number"] = v.RegistrationNumber
	out["vin_number"] = v.VINNumber
	out["engine_number"] = v.EngineNumber
	out["sequence_number"] = strconv.Itoa(v.SequenceNumber)
	out["cover_type"] = v.CoverType
	out["status"] = v.Status
	out["match_method"] = string(r.Method)
	return out
}
