package config

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/standardbeagle/semidx/internal/embedding"
	sxerrors "github.com/standardbeagle/semidx/internal/errors"
)

// Validator validates configuration and sets smart defaults
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAndSetDefaults checks each section, then fills zero values that
// have a sensible default.
func (v *Validator) ValidateAndSetDefaults(cfg *Config) error {
	if err := v.validateProjectConfig(&cfg.Project); err != nil {
		return sxerrors.NewConfigError("project", cfg.Project.Root, err)
	}
	if err := v.validateIndexConfig(&cfg.Index); err != nil {
		return sxerrors.NewConfigError("index", "", err)
	}
	if err := v.validateEmbeddingConfig(&cfg.Embedding); err != nil {
		return sxerrors.NewConfigError("embedding", cfg.Embedding.Provider, err)
	}
	if err := v.validateQueryConfig(&cfg.Query); err != nil {
		return sxerrors.NewConfigError("query", "", err)
	}
	if err := v.validateTimeouts(cfg); err != nil {
		return sxerrors.NewConfigError("server", "", err)
	}

	v.setSmartDefaults(cfg)
	return nil
}

func (v *Validator) validateProjectConfig(project *Project) error {
	if project.Root == "" {
		return errors.New("project root cannot be empty")
	}
	return nil
}

func (v *Validator) validateIndexConfig(index *Index) error {
	if index.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive, got %d", index.MaxFileSize)
	}
	if index.WatchDebounceMs < 0 {
		return fmt.Errorf("watch_debounce_ms cannot be negative, got %d", index.WatchDebounceMs)
	}
	if index.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", index.Workers)
	}
	return nil
}

func (v *Validator) validateEmbeddingConfig(e *Embedding) error {
	switch e.Provider {
	case "", embedding.ProviderHash, embedding.ProviderOpenAI, embedding.ProviderOllama, embedding.ProviderNone:
	default:
		return fmt.Errorf("unknown provider %q", e.Provider)
	}
	if e.Dimension < 0 {
		return fmt.Errorf("dimension cannot be negative, got %d", e.Dimension)
	}
	if e.BatchSize < 0 {
		return fmt.Errorf("batch_size cannot be negative, got %d", e.BatchSize)
	}
	return nil
}

func (v *Validator) validateQueryConfig(q *Query) error {
	for name, s := range map[string]float64{
		"default_min_similarity": q.DefaultMinSimilarity,
		"duplicate_similarity":   q.DuplicateSimilarity,
	} {
		if s < -1 || s > 1 {
			return fmt.Errorf("%s must be within [-1, 1], got %s", name, strconv.FormatFloat(s, 'g', -1, 64))
		}
	}
	if q.DefaultTopK < 0 {
		return fmt.Errorf("default_top_k cannot be negative, got %d", q.DefaultTopK)
	}
	if q.MinChunkBytes < 0 {
		return fmt.Errorf("min_chunk_bytes cannot be negative, got %d", q.MinChunkBytes)
	}
	return nil
}

func (v *Validator) validateTimeouts(cfg *Config) error {
	if cfg.Server.RequestTimeoutSec < 0 || cfg.Server.ReadyTimeoutSec < 0 || cfg.Server.ShutdownTimeoutSec < 0 {
		return errors.New("timeouts cannot be negative")
	}
	if cfg.Election.ProbeTimeoutMs < 0 {
		return fmt.Errorf("probe_timeout_ms cannot be negative, got %d", cfg.Election.ProbeTimeoutMs)
	}
	return nil
}

func (v *Validator) setSmartDefaults(cfg *Config) {
	if cfg.Index.Workers == 0 {
		cfg.Index.Workers = cfg.WorkerCount()
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = embedding.ProviderHash
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = DefaultEmbeddingBatchSize
	}
	if cfg.Embedding.TimeoutSec == 0 {
		cfg.Embedding.TimeoutSec = DefaultEmbeddingTimeoutSec
	}
	if cfg.Election.Prefix == "" {
		cfg.Election.Prefix = DefaultElectionSocketPrefix
	}
	if cfg.Election.ProbeTimeoutMs == 0 {
		cfg.Election.ProbeTimeoutMs = DefaultProbeTimeoutMs
	}
	if cfg.Server.RequestTimeoutSec == 0 {
		cfg.Server.RequestTimeoutSec = DefaultRequestTimeoutSec
	}
	if cfg.Server.ReadyTimeoutSec == 0 {
		cfg.Server.ReadyTimeoutSec = DefaultReadyTimeoutSec
	}
	if cfg.Server.ShutdownTimeoutSec == 0 {
		cfg.Server.ShutdownTimeoutSec = DefaultShutdownTimeoutSec
	}
	if cfg.Query.DefaultTopK == 0 {
		cfg.Query.DefaultTopK = DefaultTopK
	}
}

// ValidateConfig is a convenience function for quick validation
func ValidateConfig(cfg *Config) error {
	return NewValidator().ValidateAndSetDefaults(cfg)
}
