package embedding

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel   = "text-embedding-3-small"
	defaultOllamaModel   = "nomic-embed-text"
	defaultOllamaBaseURL = "http://localhost:11434/v1"
	defaultAPIKeyEnv     = "OPENAI_API_KEY"
	maxBatch             = 100
)

// OpenAIEmbedder talks to any OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dim       int
	batchSize int
}

// NewOpenAIEmbedder reads the API key from cfg.APIKeyEnv (OPENAI_API_KEY by
// default).
func NewOpenAIEmbedder(cfg Config) (*OpenAIEmbedder, error) {
	env := cfg.APIKeyEnv
	if env == "" {
		env = defaultAPIKeyEnv
	}
	key := os.Getenv(env)
	if key == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", env)
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	return newCompatible(key, cfg), nil
}

// NewOllamaEmbedder targets Ollama's OpenAI-compatible API. No key needed.
func NewOllamaEmbedder(cfg Config) (*OpenAIEmbedder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	return newCompatible("ollama", cfg), nil
}

func newCompatible(key string, cfg Config) *OpenAIEmbedder {
	oc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}

	dim := cfg.Dimension
	if dim <= 0 {
		dim = modelDimension(cfg.Model)
	}
	batch := cfg.BatchSize
	if batch <= 0 || batch > maxBatch {
		batch = maxBatch
	}
	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(oc),
		model:     cfg.Model,
		dim:       dim,
		batchSize: batch,
	}
}

func modelDimension(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	case "mxbai-embed-large", "jina-embeddings-v3":
		return 1024
	case "nomic-embed-text":
		return 768
	case "all-minilm":
		return 384
	default:
		return 1536
	}
}

// Embed sends texts in batches and normalises every vector.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		batch, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request to %s failed: %w", e.model, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		v := make([]float32, len(d.Embedding))
		copy(v, d.Embedding)
		Normalize(v)
		vectors[d.Index] = v
	}
	return vectors, nil
}

// Dimension returns the embedding dimension
func (e *OpenAIEmbedder) Dimension() int { return e.dim }

// ModelName returns the model identifier
func (e *OpenAIEmbedder) ModelName() string { return e.model }
