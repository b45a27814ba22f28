package model

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Legacy sentinels rendered by Field.String and written to the audit log.
const (
	SentinelNotFound               = "not_found"
	SentinelError                  = "error"
	SentinelValidationUnsuccessful = "validation_unsuccessful"
)

// FieldState tags the outcome of extracting a single field.
type FieldState string

const (
	FieldNotFound FieldState = "not_found"
	FieldFound    FieldState = "found"
	FieldFailed   FieldState = "failed"
)

// Field is the tagged result of one extraction: Found(value), NotFound, or
// Failed(reason). The zero value is NotFound.
type Field struct {
	State  FieldState `json:"state"`
	Value  string     `json:"value,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

// Found returns a field carrying a real extracted value.
func Found(value string) Field {
	return Field{State: FieldFound, Value: value}
}

// NotFound returns a field whose value is genuinely absent from the source.
func NotFound() Field {
	return Field{State: FieldNotFound}
}

// Failed returns a field whose extraction could not be attempted or completed.
func Failed(reason string) Field {
	return Field{State: FieldFailed, Reason: reason}
}

// FailedErr is Failed with the error message as reason.
func FailedErr(err error) Field {
	if err == nil {
		return Failed("unknown error")
	}
	return Failed(err.Error())
}

// IsFound reports whether the field carries a usable value.
func (f Field) IsFound() bool {
	return f.State == FieldFound
}

// IsFailed reports whether the extraction failed.
func (f Field) IsFailed() bool {
	return f.State == FieldFailed
}

// String renders the value, or the legacy sentinel for non-found states.
func (f Field) String() string {
	switch f.State {
	case FieldFound:
		return f.Value
	case FieldFailed:
		return SentinelError
	default:
		return SentinelNotFound
	}
}

// UnmarshalJSON validates the state tag. An empty state decodes as NotFound.
func (f *Field) UnmarshalJSON(data []byte) error {
	type raw Field
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return eris.Wrap(err, "model: unmarshal field")
	}
	switch r.State {
	case "":
		r.State = FieldNotFound
	case FieldFound, FieldNotFound, FieldFailed:
	default:
		return eris.Errorf("model: unknown field state %q", r.State)
	}
	*f = Field(r)
	return nil
}
