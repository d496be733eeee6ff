// Package embedding provides a pluggable interface for text embedding providers.
package embedding

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rcliao/memops/internal/model"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Result is one embedding plus the metadata needed to compare it later.
type Result struct {
	Vector   Vector
	Dim      int
	Model    string
	Provider string
}

// Stored converts r into the form persisted on a record.
func (r Result) Stored() *model.Embedding {
	return &model.Embedding{Vector: r.Vector, Dim: r.Dim, Model: r.Model, Provider: r.Provider}
}

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Result, error)
	// Name identifies the provider, e.g. "ollama".
	Name() string
	Dims() int
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Options selects and configures a provider.
type Options struct {
	Provider string // "ollama" | "openai" | "hash" | "" (disabled)
	Model    string
	BaseURL  string
	APIKey   string
	Dims     int
	Timeout  time.Duration
	// CacheSize bounds the number of cached results; 0 disables caching.
	CacheSize int64
}

// New builds the embedder described by opts. It returns nil, nil when
// embeddings are disabled.
func New(opts Options) (Embedder, error) {
	var e Embedder
	switch opts.Provider {
	case "":
		return nil, nil
	case "ollama":
		e = NewOllamaEmbedder(opts.BaseURL, opts.Model, opts.Timeout)
	case "openai":
		e = NewOpenAIEmbedder(opts.BaseURL, opts.APIKey, opts.Model, opts.Dims, opts.Timeout)
	case "hash":
		e = NewHashEmbedder(opts.Dims)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (valid: ollama, openai, hash)", opts.Provider)
	}
	if opts.CacheSize > 0 {
		return NewCached(e, opts.CacheSize)
	}
	return e, nil
}

func result(vec Vector, modelName, provider string) Result {
	return Result{Vector: vec, Dim: len(vec), Model: modelName, Provider: provider}
}
