package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sxerrors "github.com/standardbeagle/semidx/internal/errors"
)

func TestValidateAndSetDefaults(t *testing.T) {
	cfg := &Config{
		Project: Project{Root: "/repo"},
		Index:   Index{MaxFileSize: 1024},
	}
	require.NoError(t, ValidateConfig(cfg))

	assert.Positive(t, cfg.Index.Workers)
	assert.Equal(t, "hash", cfg.Embedding.Provider)
	assert.Equal(t, DefaultEmbeddingBatchSize, cfg.Embedding.BatchSize)
	assert.Equal(t, DefaultElectionSocketPrefix, cfg.Election.Prefix)
	assert.Equal(t, DefaultProbeTimeoutMs, cfg.Election.ProbeTimeoutMs)
	assert.Equal(t, DefaultRequestTimeoutSec, cfg.Server.RequestTimeoutSec)
	assert.Equal(t, DefaultTopK, cfg.Query.DefaultTopK)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty root", func(c *Config) { c.Project.Root = "" }, "project"},
		{"zero file size", func(c *Config) { c.Index.MaxFileSize = 0 }, "index"},
		{"negative workers", func(c *Config) { c.Index.Workers = -1 }, "index"},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "bert" }, "embedding"},
		{"similarity above one", func(c *Config) { c.Query.DuplicateSimilarity = 1.5 }, "query"},
		{"negative top k", func(c *Config) { c.Query.DefaultTopK = -2 }, "query"},
		{"negative timeout", func(c *Config) { c.Server.ReadyTimeoutSec = -1 }, "server"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("/repo")
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			require.Error(t, err)
			var cerr *sxerrors.ConfigError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestGitignoreToGlob(t *testing.T) {
	tests := map[string]string{
		"":            "",
		"# comment":   "",
		"!keep.me":    "",
		"/":           "",
		"build/":      "**/build/**",
		"/out":        "out/**",
		"/out/":       "out/**",
		"*.log":       "**/*.log",
		"docs/*.md":   "docs/*.md",
		"a/b":         "a/b/**",
		"coverage":    "**/coverage",
		"**/gen/":     "**/gen/**",
		"  spaced/  ": "**/spaced/**",
	}
	for in, want := range tests {
		assert.Equal(t, want, GitignoreToGlob(in), "input %q", in)
	}
}

func TestLoadGitignorePatterns(t *testing.T) {
	dir := t.TempDir()

	patterns, err := LoadGitignorePatterns(dir)
	require.NoError(t, err)
	assert.Empty(t, patterns)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("node_modules/\n\n*.o\n"), 0644))
	patterns, err = LoadGitignorePatterns(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"**/node_modules/**", "**/*.o"}, patterns)
}

func TestBuildArtifactDetector(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	write("package.json", `{"scripts":{"build":"tsc --outDir 'esm'"},"build":{"outDir":"bundle"}}`)
	write("tsconfig.json", `{"compilerOptions":{"outDir":"./esm/"}}`)
	write("Cargo.toml", "[build]\ntarget-dir = \"cargo-out\"\n")
	write("pyproject.toml", "[tool.hatch.build]\ndirectory = \"wheelhouse\"\n")

	patterns := NewBuildArtifactDetector(dir).DetectOutputDirectories()
	assert.ElementsMatch(t, []string{"**/esm/**", "**/bundle/**", "**/cargo-out/**", "**/wheelhouse/**"}, patterns)
}
