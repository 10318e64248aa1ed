package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/standardbeagle/semidx/internal/embedding"
)

// FileName is the per-project (and per-user, in $HOME) configuration file.
const FileName = ".semidx.kdl"

const (
	DefaultMaxFileSize          = 2 * 1024 * 1024
	DefaultWatchDebounceMs      = 300
	DefaultProbeTimeoutMs       = 500
	DefaultRequestTimeoutSec    = 30
	DefaultReadyTimeoutSec      = 300
	DefaultShutdownTimeoutSec   = 5
	DefaultTopK                 = 10
	DefaultMinSimilarity        = 0.5
	DefaultDuplicateSimilarity  = 0.9
	DefaultMinChunkBytes        = 64
	DefaultEmbeddingBatchSize   = 64
	DefaultEmbeddingTimeoutSec  = 60
	DefaultElectionSocketPrefix = "semidx"
)

type Config struct {
	Version   int
	Project   Project
	Index     Index
	Embedding Embedding
	Election  Election
	Server    Server
	Query     Query
	Include   []string
	Exclude   []string
}

type Project struct {
	Root string
	Name string
}

type Index struct {
	MaxFileSize      int64 // bytes; larger files are skipped
	FollowSymlinks   bool
	RespectGitignore bool
	WatchMode        bool
	WatchDebounceMs  int
	Workers          int // 0 = NumCPU-1
}

type Embedding struct {
	Provider   string // hash, openai, ollama, none
	Model      string
	BaseURL    string
	APIKeyEnv  string
	Dimension  int
	BatchSize  int
	TimeoutSec int
}

type Election struct {
	Dir            string // lock and socket directory; empty = os.TempDir()
	Prefix         string
	ProbeTimeoutMs int
}

type Server struct {
	RequestTimeoutSec  int
	ReadyTimeoutSec    int
	ShutdownTimeoutSec int
}

// Query holds defaults applied when a request leaves a field unset.
type Query struct {
	DefaultTopK          int
	DefaultMinSimilarity float64
	DuplicateSimilarity  float64
	MinChunkBytes        int // chunks smaller than this are not clustered
}

// EmbeddingConfig converts the embedding section to the embedder's options.
func (c *Config) EmbeddingConfig() embedding.Config {
	return embedding.Config{
		Provider:  c.Embedding.Provider,
		Model:     c.Embedding.Model,
		BaseURL:   c.Embedding.BaseURL,
		APIKeyEnv: c.Embedding.APIKeyEnv,
		Dimension: c.Embedding.Dimension,
		BatchSize: c.Embedding.BatchSize,
		Timeout:   time.Duration(c.Embedding.TimeoutSec) * time.Second,
	}
}

// Default returns the configuration used when no .semidx.kdl exists.
func Default(root string) *Config {
	return &Config{
		Version: 1,
		Project: Project{
			Root: root,
			Name: filepath.Base(root),
		},
		Index: Index{
			MaxFileSize:      DefaultMaxFileSize,
			FollowSymlinks:   false,
			RespectGitignore: true,
			WatchMode:        true,
			WatchDebounceMs:  DefaultWatchDebounceMs,
			Workers:          0,
		},
		Embedding: Embedding{
			Provider:   embedding.ProviderHash,
			BatchSize:  DefaultEmbeddingBatchSize,
			TimeoutSec: DefaultEmbeddingTimeoutSec,
		},
		Election: Election{
			Prefix:         DefaultElectionSocketPrefix,
			ProbeTimeoutMs: DefaultProbeTimeoutMs,
		},
		Server: Server{
			RequestTimeoutSec:  DefaultRequestTimeoutSec,
			ReadyTimeoutSec:    DefaultReadyTimeoutSec,
			ShutdownTimeoutSec: DefaultShutdownTimeoutSec,
		},
		Query: Query{
			DefaultTopK:          DefaultTopK,
			DefaultMinSimilarity: DefaultMinSimilarity,
			DuplicateSimilarity:  DefaultDuplicateSimilarity,
			MinChunkBytes:        DefaultMinChunkBytes,
		},
		Include: []string{},
		Exclude: defaultExclusions(),
	}
}

// Load reads the configuration for the current directory.
func Load(path string) (*Config, error) {
	return LoadWithRoot(path, "")
}

// LoadWithRoot builds the configuration for rootDir. An explicit path wins
// over discovery; otherwise ~/.semidx.kdl is merged under the project's own
// file. With neither present the defaults apply. Exclusions are enriched with
// build artifact directories and .gitignore entries, then validated.
func LoadWithRoot(path string, rootDir string) (*Config, error) {
	searchDir := "."
	if rootDir != "" {
		searchDir = rootDir
	}
	absDir, err := filepath.Abs(searchDir)
	if err != nil {
		return nil, err
	}

	var cfg *Config
	if path != "" {
		cfg, err = LoadKDLFile(path, absDir)
		if err != nil {
			return nil, err
		}
	} else {
		var baseConfig *Config
		if homeDir, err := os.UserHomeDir(); err == nil && filepath.Clean(homeDir) != absDir {
			if globalCfg, err := LoadKDL(homeDir); err == nil && globalCfg != nil {
				baseConfig = globalCfg
				baseConfig.Project.Root = absDir
				baseConfig.Project.Name = filepath.Base(absDir)
			}
		}

		projectConfig, err := LoadKDL(absDir)
		if err != nil {
			return nil, err
		}

		switch {
		case baseConfig != nil && projectConfig != nil:
			cfg = mergeConfigs(baseConfig, projectConfig)
		case projectConfig != nil:
			cfg = projectConfig
		case baseConfig != nil:
			cfg = baseConfig
		default:
			cfg = Default(absDir)
		}
	}

	cfg.EnrichExclusionsWithBuildArtifacts()
	if cfg.Index.RespectGitignore {
		cfg.EnrichExclusionsWithGitignore()
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeConfigs layers a project config over a base config. Project values
// win, base exclusions are kept, and base inclusions apply only when the
// project names none.
func mergeConfigs(base, project *Config) *Config {
	merged := *project
	merged.Exclude = DeduplicatePatterns(append(append([]string{}, base.Exclude...), project.Exclude...))
	if len(project.Include) == 0 && len(base.Include) > 0 {
		merged.Include = append([]string{}, base.Include...)
	}
	return &merged
}

// EnrichExclusionsWithBuildArtifacts adds the output directories declared by
// language build files under the project root.
func (c *Config) EnrichExclusionsWithBuildArtifacts() {
	if c.Project.Root == "" {
		return
	}
	detected := NewBuildArtifactDetector(c.Project.Root).DetectOutputDirectories()
	if len(detected) > 0 {
		c.Exclude = DeduplicatePatterns(append(c.Exclude, detected...))
	}
}

// EnrichExclusionsWithGitignore adds the root .gitignore's entries.
func (c *Config) EnrichExclusionsWithGitignore() {
	if c.Project.Root == "" {
		return
	}
	patterns, err := LoadGitignorePatterns(c.Project.Root)
	if err != nil || len(patterns) == 0 {
		return
	}
	c.Exclude = DeduplicatePatterns(append(c.Exclude, patterns...))
}

// WorkerCount resolves Index.Workers, where 0 means one less than the CPU
// count.
func (c *Config) WorkerCount() int {
	if c.Index.Workers > 0 {
		return c.Index.Workers
	}
	return max(1, runtime.NumCPU()-1)
}

func defaultExclusions() []string {
	return []string{
		"**/.*/**",
		"**/node_modules/**",
		"**/vendor/**",
		"**/bower_components/**",
		"**/dist/**",
		"**/build/**",
		"**/out/**",
		"**/target/**",
		"**/bin/**",
		"**/obj/**",
		"**/__pycache__/**",
		"**/*.min.js",
		"**/*.min.css",
		"**/*.bundle.js",
		"**/*.chunk.js",
		"**/*.pb.go",
		"**/*_generated.go",
	}
}
