// Package embedding turns chunk text into unit-length vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Embedder produces one L2-normalised vector per input text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
}

// Loader constructs an Embedder on first use. Loading may be slow (network
// handshake, model download) so callers hold it off until a query needs it.
type Loader func(ctx context.Context) (Embedder, error)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderHash   = "hash"
	ProviderNone   = "none"
)

// ErrDisabled is returned by the loader when embeddings are turned off.
var ErrDisabled = errors.New("embeddings disabled")

// Config selects and tunes a provider.
type Config struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKeyEnv string
	Dimension int
	BatchSize int
	Timeout   time.Duration
}

// NewLoader returns a loader for the configured provider.
func NewLoader(cfg Config) Loader {
	return func(ctx context.Context) (Embedder, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch strings.ToLower(cfg.Provider) {
		case ProviderHash, "":
			return NewHashEmbedder(cfg.Dimension), nil
		case ProviderOpenAI:
			return NewOpenAIEmbedder(cfg)
		case ProviderOllama:
			return NewOllamaEmbedder(cfg)
		case ProviderNone:
			return nil, ErrDisabled
		default:
			return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
		}
	}
}

// StaticLoader always returns e. Used by tests and embedders built up front.
func StaticLoader(e Embedder) Loader {
	return func(context.Context) (Embedder, error) { return e, nil }
}

// Normalize scales v to unit length in place. A zero vector is left alone.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
