// Package similarity scores how alike two short vehicle descriptions are.
package similarity

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
)

var (
	// ErrEmptyInput is returned when either text is blank.
	ErrEmptyInput = eris.New("similarity: empty input")
	// ErrDimensionMismatch is returned when two vectors differ in length.
	ErrDimensionMismatch = eris.New("similarity: dimension mismatch")
)

// Scorer returns a similarity in [-1, 1]; 1 means identical meaning.
type Scorer interface {
	Score(ctx context.Context, a, b string) (float64, error)
}

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingScorer scores by cosine similarity of embeddings.
type EmbeddingScorer struct {
	emb Embedder
}

// NewEmbeddingScorer wraps an embedder.
func NewEmbeddingScorer(emb Embedder) *EmbeddingScorer {
	return &EmbeddingScorer{emb: emb}
}

// Score implements Scorer.
func (s *EmbeddingScorer) Score(ctx context.Context, a, b string) (float64, error) {
	if a == "" || b == "" {
		return 0, ErrEmptyInput
	}
	if a == b {
		return 1, nil
	}
	vecs, err := s.emb.Embed(ctx, []string{a, b})
	if err != nil {
		return 0, eris.Wrap(err, "similarity: embed")
	}
	if len(vecs) != 2 {
		return 0, eris.Errorf("similarity: expected 2 vectors, got %d", len(vecs))
	}
	return Cosine(vecs[0], vecs[1])
}

// Cosine returns the cosine similarity of two vectors. A zero vector scores 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, a, b string) (float64, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, a, b string) (float64, error) {
	return f(ctx, a, b)
}
