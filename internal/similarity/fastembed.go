//go:build cgo

package similarity

import (
	"context"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
	"github.com/rotisserie/eris"
)

var fastembedModels = map[string]fastembed.EmbeddingModel{
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
}

// FastEmbedConfig configures the local ONNX embedder.
type FastEmbedConfig struct {
	Model    string
	CacheDir string
}

// FastEmbed embeds locally with an ONNX model. Inference is serialized.
type FastEmbed struct {
	mu    sync.Mutex
	model *fastembed.FlagEmbedding
}

// NewFastEmbed loads the model, downloading it into CacheDir on first use.
func NewFastEmbed(cfg FastEmbedConfig) (*FastEmbed, error) {
	m, ok := fastembedModels[cfg.Model]
	if !ok {
		return nil, eris.Errorf("similarity: unsupported fastembed model %q", cfg.Model)
	}
	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	showProgress := false
	fe, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                m,
		CacheDir:             cacheDir,
		MaxLength:            128,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, eris.Wrap(err, "similarity: init fastembed")
	}
	return &FastEmbed{model: fe}, nil
}

// Embed implements Embedder. No query/passage prefix is applied so both
// sides of a comparison embed symmetrically.
func (f *FastEmbed) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	vecs, err := f.model.Embed(texts, len(texts))
	if err != nil {
		return nil, eris.Wrap(err, "similarity: fastembed")
	}
	return vecs, nil
}

// Close releases the ONNX session.
func (f *FastEmbed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model.Destroy()
}
