//go:build !cgo

package similarity

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrFastEmbedUnavailable is returned by binaries built without cgo.
var ErrFastEmbedUnavailable = eris.New("similarity: fastembed requires cgo, use the tei or gemini provider")

// FastEmbedConfig configures the local ONNX embedder.
type FastEmbedConfig struct {
	Model    string
	CacheDir string
}

// FastEmbed is unavailable without cgo.
type FastEmbed struct{}

// NewFastEmbed always fails without cgo.
func NewFastEmbed(FastEmbedConfig) (*FastEmbed, error) {
	return nil, ErrFastEmbedUnavailable
}

// Embed implements Embedder.
func (*FastEmbed) Embed(context.Context, []string) ([][]float32, error) {
	return nil, ErrFastEmbedUnavailable
}

// Close is a no-op.
func (*FastEmbed) Close() error { return nil }
