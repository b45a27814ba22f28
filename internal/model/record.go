package model

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// FieldName identifies one entry of a CompiledRecord.
type FieldName string

const (
	FieldTrackerCompany     FieldName = "tracker_company"
	FieldPolicyNumber       FieldName = "policy_number"
	FieldIDNumber           FieldName = "id_number"
	FieldVINNumber          FieldName = "vin_number"
	FieldEngineNumber       FieldName = "engine_number"
	FieldRegistrationNumber FieldName = "registration_number"
	FieldVehicleYear        FieldName = "vehicle_year"
	FieldVehicleMake        FieldName = "vehicle_make"
	FieldVehicleModel       FieldName = "vehicle_model"
	FieldContractNumber     FieldName = "contract_number"
	FieldFitmentDate        FieldName = "fitment_date"
	FieldProductName        FieldName = "product_name"
	FieldVehicleKey         FieldName = "vehicle_key"
)

// VendorFields are the fields produced by a vendor extraction template.
var VendorFields = []FieldName{
	FieldVINNumber,
	FieldEngineNumber,
	FieldRegistrationNumber,
	FieldVehicleYear,
	FieldVehicleMake,
	FieldVehicleModel,
	FieldContractNumber,
	FieldFitmentDate,
	FieldProductName,
}

// AllFields lists every CompiledRecord field in output order.
var AllFields = append([]FieldName{
	FieldTrackerCompany,
	FieldPolicyNumber,
	FieldIDNumber,
}, append(append([]FieldName{}, VendorFields...), FieldVehicleKey)...)

var knownFields = func() map[FieldName]bool {
	m := make(map[FieldName]bool, len(AllFields))
	for _, f := range AllFields {
		m[f] = true
	}
	return m
}()

// IsKnownField reports whether name belongs to the CompiledRecord field set.
func IsKnownField(name FieldName) bool {
	return knownFields[name]
}

// TokenUsage accumulates LLM consumption for one email.
type TokenUsage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CostUSD += other.CostUSD
}

// CompiledRecord is the always-total extraction output for one email. Every
// field in AllFields is present from construction onwards.
type CompiledRecord struct {
	fields map[FieldName]Field
	Usage  TokenUsage
}

// NewCompiledRecord returns a record with every field set to NotFound.
func NewCompiledRecord() *CompiledRecord {
	r := &CompiledRecord{fields: make(map[FieldName]Field, len(AllFields))}
	for _, f := range AllFields {
		r.fields[f] = NotFound()
	}
	return r
}

// Get returns the field value. Unknown names return NotFound.
func (r *CompiledRecord) Get(name FieldName) Field {
	return r.fields[name]
}

// Set stores a field. Names outside AllFields are rejected so the record
// keeps a fixed shape.
func (r *CompiledRecord) Set(name FieldName, f Field) error {
	if !knownFields[name] {
		return eris.Errorf("model: unknown record field %q", name)
	}
	if f.State == "" {
		f.State = FieldNotFound
	}
	r.fields[name] = f
	return nil
}

// Has reports whether the named field is present.
func (r *CompiledRecord) Has(name FieldName) bool {
	_, ok := r.fields[name]
	return ok
}

// Strings renders the record with legacy sentinels, keyed by field name.
func (r *CompiledRecord) Strings() map[string]string {
	out := make(map[string]string, len(AllFields))
	for _, name := range AllFields {
		out[string(name)] = r.fields[name].String()
	}
	return out
}

// MarshalJSON writes fields in AllFields order followed by usage.
func (r *CompiledRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"fields":{`)
	for i, name := range AllFields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(string(name))
		val, err := json.Marshal(r.fields[name])
		if err != nil {
			return nil, eris.Wrapf(err, "model: marshal field %s", name)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteString(`},"usage":`)
	usage, err := json.Marshal(r.Usage)
	if err != nil {
		return nil, eris.Wrap(err, "model: marshal usage")
	}
	buf.Write(usage)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores a record, filling any absent field with NotFound.
func (r *CompiledRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		Fields map[FieldName]Field `json:"fields"`
		Usage  TokenUsage          `json:"usage"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: unmarshal record")
	}
	fresh := NewCompiledRecord()
	for name, f := range raw.Fields {
		if err := fresh.Set(name, f); err != nil {
			return err
		}
	}
	fresh.Usage = raw.Usage
	*r = *fresh
	return nil
}
