package llm

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fitment-triage/internal/model"
	"github.com/sells-group/fitment-triage/internal/resilience"
	"github.com/sells-group/fitment-triage/pkg/anthropic"
)

// AnthropicCompleter runs completions on Claude, forcing JSON by prefilling
// the assistant turn with "{".
type AnthropicCompleter struct {
	client      anthropic.Client
	models      Models
	maxTokens   int64
	temperature float64
}

// NewAnthropic wraps an Anthropic client.
func NewAnthropic(client anthropic.Client, models Models, maxTokens int64, temperature float64) *AnthropicCompleter {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicCompleter{client: client, models: models, maxTokens: maxTokens, temperature: temperature}
}

// Complete implements Completer.
func (c *AnthropicCompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	modelID := c.models.For(req.Tier)
	temp := c.temperature

	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     modelID,
		MaxTokens: c.maxTokens,
		System:    anthropic.CachedSystem(req.System),
		Messages: []anthropic.Message{
			{Role: "user", Content: req.User},
			{Role: "assistant", Content: "{"},
		},
		Temperature: &temp,
	})
	if err != nil {
		if code := anthropic.StatusCode(err); resilience.RetryableStatus(code) {
			return nil, resilience.Transient(err, code)
		}
		return nil, eris.Wrapf(err, "llm: %s", req.Step)
	}

	resp.Usage.LogCost(modelID, req.Step)
	usage := model.TokenUsage{
		InputTokens:  resp.Usage.InputTokens + resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostUSD:      resp.Usage.EstimateCost(modelID),
	}

	obj, err := decodeObject("{" + resp.Text())
	if err != nil {
		return &Response{Model: modelID, Usage: usage}, eris.Wrapf(err, "llm: %s", req.Step)
	}
	return &Response{Object: obj, Model: modelID, Usage: usage}, nil
}
