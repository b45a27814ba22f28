package similarity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fitment-triage/internal/resilience"
)

// TEI embeds via a Text Embeddings Inference server's /embed endpoint.
type TEI struct {
	baseURL string
	http    *http.Client
}

// NewTEI returns a TEI client.
func NewTEI(baseURL string, timeout time.Duration) (*TEI, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, eris.New("similarity: tei base url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TEI{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type teiRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

// Embed implements Embedder.
func (t *TEI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	body, err := json.Marshal(teiRequest{Inputs: texts, Truncate: true})
	if err != nil {
		return nil, eris.Wrap(err, "similarity: marshal tei request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "similarity: build tei request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "similarity: tei request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := eris.Errorf("similarity: tei status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resilience.RetryableStatus(resp.StatusCode) {
			return nil, resilience.Transient(err, resp.StatusCode)
		}
		return nil, err
	}

	var vecs [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vecs); err != nil {
		return nil, eris.Wrap(err, "similarity: decode tei response")
	}
	return vecs, nil
}
