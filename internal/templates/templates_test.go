package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fitment-triage/internal/model"
)

func TestDefaultRegistry(t *testing.T) {
	t.Parallel()

	r := NewDefaultRegistry()
	assert.Equal(t, []string{"netstar"}, r.Labels())

	tpl, ok := r.Lookup(" NetStar ")
	require.True(t, ok)
	assert.Len(t, tpl.Fields, 9)
	assert.Contains(t, tpl.SystemPrompt, "Contract Number")
	assert.Equal(t, DefaultUserPrefix, tpl.UserPrefix)

	_, ok = r.Lookup("other")
	assert.False(t, ok)
	_, ok = r.Lookup("")
	assert.False(t, ok)
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tpl  Template
		want string
	}{
		{"missing label", Template{SystemPrompt: "x", Fields: []model.FieldName{model.FieldVINNumber}}, "label is required"},
		{"missing prompt", Template{Label: "beame", Fields: []model.FieldName{model.FieldVINNumber}}, "system_prompt is required"},
		{"missing fields", Template{Label: "beame", SystemPrompt: "x"}, "fields are required"},
		{"non vendor field", Template{Label: "beame", SystemPrompt: "x", Fields: []model.FieldName{model.FieldPolicyNumber}}, "not a vendor field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := NewRegistry().Register(tt.tpl)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRegister_Replaces(t *testing.T) {
	t.Parallel()

	r := NewDefaultRegistry()
	require.NoError(t, r.Register(Template{
		Label:        "Netstar",
		SystemPrompt: "custom",
		Fields:       []model.FieldName{model.FieldVINNumber},
	}))
	tpl, ok := r.Lookup("netstar")
	require.True(t, ok)
	assert.Equal(t, "custom", tpl.SystemPrompt)
	assert.Len(t, r.All(), 1)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "templates.yaml")
	yml := `templates:
  - label: cartrack
    description: Cartrack certificate
    system_prompt: |
      Extract the VIN and engine number.
    fields: [vin_number, engine_number]
  - label: Tracker
    system_prompt: Extract the registration.
    user_prefix: "Certificate: "
    fields: [registration_number]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	r := NewDefaultRegistry()
	n, err := r.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"cartrack", "netstar", "tracker"}, r.Labels())

	tpl, ok := r.Lookup("tracker")
	require.True(t, ok)
	assert.Equal(t, "Certificate: ", tpl.UserPrefix)
	assert.Equal(t, []model.FieldName{model.FieldRegistrationNumber}, tpl.Fields)
}

func TestLoadFile_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry().LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = NewRegistry().LoadYAML([]byte("templates: [: bad"))
	assert.Error(t, err)

	_, err = NewRegistry().LoadYAML([]byte("templates:\n  - label: x\n    system_prompt: y\n    fields: [colour]\n"))
	assert.Error(t, err)
}

func TestLoadYAML_InvalidTemplateRegistersNothing(t *testing.T) {
	t.Parallel()

	yml := `templates:
  - label: cartrack
    system_prompt: Extract the VIN.
    fields: [vin_number]
  - label: beame
    fields: [engine_number]
`
	r := NewRegistry()
	n, err := r.LoadYAML([]byte(yml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "beame: system_prompt is required")
	assert.Zero(t, n)
	assert.Empty(t, r.Labels())
}
