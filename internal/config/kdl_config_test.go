package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKDL_Defaults(t *testing.T) {
	cfg, err := parseKDL("", "/repo")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/repo", cfg.Project.Root)
	assert.Equal(t, int64(DefaultMaxFileSize), cfg.Index.MaxFileSize)
	assert.True(t, cfg.Index.RespectGitignore)
	assert.True(t, cfg.Index.WatchMode)
	assert.Equal(t, "hash", cfg.Embedding.Provider)
	assert.Equal(t, DefaultElectionSocketPrefix, cfg.Election.Prefix)
	assert.Equal(t, DefaultTopK, cfg.Query.DefaultTopK)
	assert.Contains(t, cfg.Exclude, "**/node_modules/**")
}

func TestParseKDL_FullConfig(t *testing.T) {
	kdlContent := `
project {
    root "src"
    name "demo"
}

index {
    max_file_size "512KB"
    follow_symlinks true
    respect_gitignore false
    watch false
    watch_debounce_ms 150
    workers 3
}

embedding {
    provider "OpenAI"
    model "text-embedding-3-large"
    base_url "http://localhost:9999/v1"
    api_key_env "MY_KEY"
    dimension 3072
    batch_size 16
    timeout_sec 20
}

election {
    dir "/run/semidx"
    prefix "acme"
    probe_timeout_ms 250
}

server {
    request_timeout_sec 12
    ready_timeout_sec 90
    shutdown_timeout_sec 2
}

query {
    default_top_k 25
    default_min_similarity 0.6
    duplicate_similarity 1
    min_chunk_bytes 32
}

include "**/*.go" "**/*.py"

exclude {
    "**/generated/**"
}
`
	cfg, err := parseKDL(kdlContent, "/repo")
	require.NoError(t, err)

	assert.Equal(t, "src", cfg.Project.Root)
	assert.Equal(t, "demo", cfg.Project.Name)

	assert.Equal(t, int64(512*1024), cfg.Index.MaxFileSize)
	assert.True(t, cfg.Index.FollowSymlinks)
	assert.False(t, cfg.Index.RespectGitignore)
	assert.False(t, cfg.Index.WatchMode)
	assert.Equal(t, 150, cfg.Index.WatchDebounceMs)
	assert.Equal(t, 3, cfg.Index.Workers)

	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-large", cfg.Embedding.Model)
	assert.Equal(t, "http://localhost:9999/v1", cfg.Embedding.BaseURL)
	assert.Equal(t, "MY_KEY", cfg.Embedding.APIKeyEnv)
	assert.Equal(t, 3072, cfg.Embedding.Dimension)
	assert.Equal(t, 16, cfg.Embedding.BatchSize)
	assert.Equal(t, 20, cfg.Embedding.TimeoutSec)

	assert.Equal(t, "/run/semidx", cfg.Election.Dir)
	assert.Equal(t, "acme", cfg.Election.Prefix)
	assert.Equal(t, 250, cfg.Election.ProbeTimeoutMs)

	assert.Equal(t, 12, cfg.Server.RequestTimeoutSec)
	assert.Equal(t, 90, cfg.Server.ReadyTimeoutSec)
	assert.Equal(t, 2, cfg.Server.ShutdownTimeoutSec)

	assert.Equal(t, 25, cfg.Query.DefaultTopK)
	assert.Equal(t, 0.6, cfg.Query.DefaultMinSimilarity)
	assert.Equal(t, 1.0, cfg.Query.DuplicateSimilarity, "integer literal accepted as float")
	assert.Equal(t, 32, cfg.Query.MinChunkBytes)

	assert.Equal(t, []string{"**/*.go", "**/*.py"}, cfg.Include)
	assert.Contains(t, cfg.Exclude, "**/generated/**")
	assert.Contains(t, cfg.Exclude, "**/node_modules/**", "defaults kept")
}

func TestParseKDL_InvalidSyntax(t *testing.T) {
	_, err := parseKDL(`index { workers 3`, "/repo")
	assert.Error(t, err)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"10", 10},
		{"10B", 10},
		{"4kb", 4096},
		{" 2MB ", 2 * 1024 * 1024},
		{"1GB", 1024 * 1024 * 1024},
	}
	for _, tt := range tests {
		got, err := parseSize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseSize("lots")
	assert.Error(t, err)
}

func TestLoadKDLFile_ResolvesRelativeRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(`project { root "./pkg/.." }`), 0644))

	cfg, err := LoadKDLFile(path, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(dir), cfg.Project.Root)
	assert.Equal(t, filepath.Base(dir), cfg.Project.Name)
}

func TestLoadKDL_MissingFile(t *testing.T) {
	cfg, err := LoadKDL(t.TempDir())
	assert.NoError(t, err)
	assert.Nil(t, cfg)
}
