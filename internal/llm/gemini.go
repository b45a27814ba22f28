package llm

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"

	"github.com/sells-group/fitment-triage/internal/model"
	"github.com/sells-group/fitment-triage/internal/resilience"
)

// generator is the slice of *genai.Models the completer needs.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// geminiPricing is per-million-token {input, output} USD.
var geminiPricing = map[string][2]float64{
	"gemini-2.5-flash":      {0.30, 2.50},
	"gemini-2.5-flash-lite": {0.10, 0.40},
	"gemini-2.5-pro":        {1.25, 10.00},
}

// GeminiCompleter runs completions on Gemini with a JSON response MIME type.
type GeminiCompleter struct {
	gen         generator
	models      Models
	temperature float32
}

// GeminiConfig configures NewGemini.
type GeminiConfig struct {
	APIKey      string
	BaseURL     string
	Models      Models
	Temperature float64
}

// NewGemini builds a Gemini completer backed by the genai SDK.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*GeminiCompleter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, eris.New("llm: gemini api key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, eris.Wrap(err, "llm: gemini client")
	}
	return &GeminiCompleter{gen: client.Models, models: cfg.Models, temperature: float32(cfg.Temperature)}, nil
}

// Complete implements Completer.
func (c *GeminiCompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	modelID := c.models.For(req.Tier)
	resp, err := c.gen.GenerateContent(ctx, modelID, genai.Text(req.User), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		Temperature:       genai.Ptr(c.temperature),
		CandidateCount:    1,
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return nil, eris.Wrapf(classifyGenaiErr(err), "llm: %s", req.Step)
	}

	var usage model.TokenUsage
	if md := resp.UsageMetadata; md != nil {
		usage.InputTokens = int64(md.PromptTokenCount)
		usage.OutputTokens = int64(md.CandidatesTokenCount)
		if p, ok := geminiPricing[modelID]; ok {
			usage.CostUSD = float64(usage.InputTokens)/1e6*p[0] + float64(usage.OutputTokens)/1e6*p[1]
		}
	}

	obj, err := decodeObject(resp.Text())
	if err != nil {
		return &Response{Model: modelID, Usage: usage}, eris.Wrapf(err, "llm: %s", req.Step)
	}
	return &Response{Object: obj, Model: modelID, Usage: usage}, nil
}

func classifyGenaiErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if resilience.RetryableStatus(apiErr.Code) || apiErr.Code/100 == 5 {
			return resilience.Transient(err, apiErr.Code)
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return resilience.Transient(err, 0)
	}
	return err
}
