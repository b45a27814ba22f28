// Package templates maps tracker-company labels to vendor extraction
// templates.
package templates

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/fitment-triage/internal/model"
)

// Template is a vendor-specific extraction prompt and the fields it yields.
type Template struct {
	Label        string            `yaml:"label" json:"label"`
	Description  string            `yaml:"description" json:"description"`
	SystemPrompt string            `yaml:"system_prompt" json:"-"`
	UserPrefix   string            `yaml:"user_prefix" json:"-"`
	Fields       []model.FieldName `yaml:"fields" json:"fields"`
}

// DefaultUserPrefix precedes the canonical document in the user message.
const DefaultUserPrefix = "Analyse the following email context to extract the request details from the attachments text: "

// Validate checks the template is usable.
func (t Template) Validate() error {
	if NormalizeLabel(t.Label) == "" {
		return eris.New("templates: label is required")
	}
	if strings.TrimSpace(t.SystemPrompt) == "" {
		return eris.Errorf("templates: %s: system_prompt is required", t.Label)
	}
	if len(t.Fields) == 0 {
		return eris.Errorf("templates: %s: fields are required", t.Label)
	}
	for _, f := range t.Fields {
		if !isVendorField(f) {
			return eris.Errorf("templates: %s: %q is not a vendor field", t.Label, f)
		}
	}
	return nil
}

func isVendorField(name model.FieldName) bool {
	for _, f := range model.VendorFields {
		if f == name {
			return true
		}
	}
	return false
}

// NormalizeLabel lowercases and strips all whitespace.
func NormalizeLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), "")
}

// Registry holds templates keyed by normalized label. Lookups do no I/O.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]Template)}
}

// NewDefaultRegistry returns a registry holding the built-in templates.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range Builtin() {
		// Built-ins are valid by construction.
		_ = r.Register(t)
	}
	return r
}

// Register adds or replaces the template for t.Label.
func (r *Registry) Register(t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t.Label = NormalizeLabel(t.Label)
	if t.UserPrefix == "" {
		t.UserPrefix = DefaultUserPrefix
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Label] = t
	return nil
}

// Lookup returns the template registered for label.
func (r *Registry) Lookup(label string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[NormalizeLabel(label)]
	return t, ok
}

// Labels lists registered labels in sorted order.
func (r *Registry) Labels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.templates))
	for k := range r.templates {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// All returns every registered template ordered by label.
func (r *Registry) All() []Template {
	labels := r.Labels()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Template, 0, len(labels))
	for _, l := range labels {
		out = append(out, r.templates[l])
	}
	return out
}

// LoadFile registers every template in a YAML file of the form
//
//	templates:
//	  - label: cartrack
//	    system_prompt: |
//	      ...
//	    fields: [vin_number, engine_number]
//
// Returns the number of templates registered.
func (r *Registry) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, eris.Wrapf(err, "templates: read %s", path)
	}
	return r.LoadYAML(data)
}

// LoadYAML registers templates from YAML bytes. Every template is validated
// first; if any is invalid nothing is registered.
func (r *Registry) LoadYAML(data []byte) (int, error) {
	var wrapper struct {
		Templates []Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return 0, eris.Wrap(err, "templates: parse yaml")
	}
	for _, t := range wrapper.Templates {
		if err := t.Validate(); err != nil {
			return 0, err
		}
	}
	for _, t := range wrapper.Templates {
		if err := r.Register(t); err != nil {
			return 0, err
		}
	}
	return len(wrapper.Templates), nil
}
