// Package llm is the JSON-returning completion layer used by the extraction
// cascade.
package llm

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fitment-triage/internal/model"
)

// ErrMalformedJSON is returned when the model's reply is not a JSON object.
var ErrMalformedJSON = eris.New("llm: malformed json")

// Tier selects a model size. Classification and detail extraction run on
// the accurate tier; the identifier extractors run on the fast tier.
type Tier string

const (
	TierFast     Tier = "fast"
	TierAccurate Tier = "accurate"
)

// Models maps tiers to provider model IDs.
type Models struct {
	Fast     string
	Accurate string
}

// For returns the model ID for t, falling back to Accurate.
func (m Models) For(t Tier) string {
	if t == TierFast && m.Fast != "" {
		return m.Fast
	}
	return m.Accurate
}

// Request is one JSON completion.
type Request struct {
	// Step names the caller for logs and metrics.
	Step   string
	Tier   Tier
	System string
	User   string
	// Keys lists the JSON keys the caller expects. Missing keys are not an
	// error here; each step decides whether a missing key fails it.
	Keys []string
}

// Response is a decoded JSON object plus what it cost.
type Response struct {
	Object map[string]string
	Model  string
	Usage  model.TokenUsage
}

// Value returns the trimmed value for key and whether it was present.
func (r *Response) Value(key string) (string, bool) {
	if r == nil || r.Object == nil {
		return "", false
	}
	v, ok := r.Object[key]
	return strings.TrimSpace(v), ok
}

// Completer runs one JSON completion.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (*Response, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// cleanJSON extracts a JSON object from text that may carry markdown code
// fences or prose around it.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// decodeObject parses a flat JSON object. Scalars are rendered as strings;
// null becomes "" and nested values keep their JSON text.
func decodeObject(text string) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleanJSON(text)), &raw); err != nil {
		return nil, eris.Wrapf(ErrMalformedJSON, "%s", truncate(text, 120))
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = scalar(v)
	}
	return out, nil
}

func scalar(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return strconv.FormatBool(b)
	}
	if string(v) == "null" {
		return ""
	}
	return string(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
