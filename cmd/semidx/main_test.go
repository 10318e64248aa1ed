package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/semidx/internal/config"
	"github.com/standardbeagle/semidx/internal/election"
	semerrors "github.com/standardbeagle/semidx/internal/errors"
	"github.com/standardbeagle/semidx/internal/server"
)

// runApp runs the CLI in-process and returns what it wrote to stdout
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out, errOut bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &errOut
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"semidx"}, args...))
	return out.String(), err
}

// setupTestProject writes a small Go workspace whose config keeps the lock
// and socket in a short private directory.
func setupTestProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	lockDir, err := os.MkdirTemp("", "sdx")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(lockDir) })

	files := map[string]string{
		"main.go": `package main

// Add returns the sum of a and b.
func Add(a, b int) int {
	return a + b
}

// Subtract returns a minus b.
func Subtract(a, b int) int {
	return a - b
}
`,
		"util/sum.go": `package util

// Sum returns the sum of x and y.
func Sum(x, y int) int {
	return x + y
}
`,
		config.FileName: fmt.Sprintf(`election {
    dir %q
}
index {
    watch false
    workers 2
}
`, lockDir),
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

// startLeader runs the index server for root in the background and returns
// a channel that yields runLeader's result.
func startLeader(t *testing.T, root string) (*election.Election, <-chan error) {
	t.Helper()
	cfg, err := config.LoadWithRoot("", root)
	require.NoError(t, err)

	el, err := newElection(cfg)
	require.NoError(t, err)
	guard, role, err := el.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, election.RoleLeader, role)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		done <- runLeader(ctx, cfg, guard, io.Discard)
		close(stopped)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(10 * time.Second):
			t.Error("leader did not stop")
		}
	})

	require.Eventually(t, func() bool {
		return el.ProbeLeader(context.Background(), 100*time.Millisecond)
	}, 5*time.Second, 20*time.Millisecond)
	return el, done
}

func TestLoadConfigWithOverrides(t *testing.T) {
	root := setupTestProject(t)

	var cfg *config.Config
	app := &cli.App{
		Flags: globalFlags(),
		Action: func(c *cli.Context) error {
			var err error
			cfg, err = loadConfigWithOverrides(c)
			return err
		},
	}
	err := app.Run([]string{"semidx",
		"--root", root,
		"--include", "**/*.go",
		"--exclude", "**/gen/**",
		"--embedder", "none",
		"--model", "custom-model",
	})
	require.NoError(t, err)

	assert.Equal(t, root, cfg.Project.Root)
	assert.Equal(t, []string{"**/*.go"}, cfg.Include)
	assert.Contains(t, cfg.Exclude, "**/gen/**")
	assert.Contains(t, cfg.Exclude, "**/node_modules/**", "defaults are kept")
	assert.Equal(t, "none", cfg.Embedding.Provider)
	assert.Equal(t, "custom-model", cfg.Embedding.Model)
	assert.False(t, cfg.Index.WatchMode, "project config applies")
	assert.Equal(t, 2, cfg.Index.Workers)
}

func TestLoadConfigRejectsUnknownEmbedder(t *testing.T) {
	root := setupTestProject(t)

	_, err := runApp(t, "--root", root, "--embedder", "word2vec", "--no-autostart", "files")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "word2vec")
}

func TestServeArgs(t *testing.T) {
	set := flag.NewFlagSet("semidx", flag.ContinueOnError)
	for _, f := range globalFlags() {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse([]string{
		"--config", "/etc/semidx.kdl",
		"--include", "**/*.go",
		"--exclude", "**/gen/**",
		"--embedder", "ollama",
		"--wait",
	}))
	c := cli.NewContext(newApp(), set, nil)

	args := serveArgs(c, &config.Config{Project: config.Project{Root: "/work/repo"}})
	assert.Equal(t, []string{
		"--root", "/work/repo",
		"--config", "/etc/semidx.kdl",
		"--include", "**/*.go",
		"--exclude", "**/gen/**",
		"--embedder", "ollama",
		"serve",
	}, args, "client-only flags are not forwarded")
}

func TestNoAutostartWithoutLeader(t *testing.T) {
	root := setupTestProject(t)

	_, err := runApp(t, "--root", root, "--no-autostart", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index server running")

	_, err = runApp(t, "--root", root, "shutdown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no server is running")
}

func TestMissingArgument(t *testing.T) {
	root := setupTestProject(t)

	_, err := runApp(t, "--root", root, "--no-autostart", "search")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search text required")
}

func TestClientCommandsAgainstLeader(t *testing.T) {
	root := setupTestProject(t)
	startLeader(t, root)

	run := func(args ...string) string {
		t.Helper()
		out, err := runApp(t, append([]string{"--root", root, "--no-autostart", "--wait"}, args...)...)
		require.NoError(t, err, "semidx %v", args)
		return out
	}

	t.Run("files", func(t *testing.T) {
		var resp server.ListFilesResponse
		require.NoError(t, json.Unmarshal([]byte(run("files", "--json")), &resp))
		assert.Contains(t, resp.Files, "main.go")
		assert.Contains(t, resp.Files, "util/sum.go")
	})

	t.Run("status", func(t *testing.T) {
		out := run("status")
		assert.Contains(t, out, "Status: Ready")
		assert.Contains(t, out, "hash-porter2")
	})

	t.Run("search", func(t *testing.T) {
		out := run("search", "--min-similarity", "-1", "sum", "of", "two", "numbers")
		assert.Contains(t, out, "main.go")
	})

	t.Run("dups", func(t *testing.T) {
		out := run("dups", "--min-similarity", "-1", "--min-chunk-bytes", "1")
		assert.Contains(t, out, "Cluster 1:")
	})

	t.Run("dups-file", func(t *testing.T) {
		var resp server.SimilarResponse
		out := run("dups-file", "--json", "--min-similarity", "-1", "util/sum.go")
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		require.NotEmpty(t, resp.Results)
		for _, r := range resp.Results {
			assert.Equal(t, "main.go", r.Chunk.FilePath)
			require.NotNil(t, r.Source)
			assert.Equal(t, "util/sum.go", r.Source.FilePath)
		}
	})

	t.Run("query", func(t *testing.T) {
		out := run("query", "--language", "go", "(function_declaration name: (identifier) @name)")
		assert.Contains(t, out, "main.go:4:6 @name Add")
		assert.Contains(t, out, "util/sum.go:4:6 @name Sum")
	})

	t.Run("invalidate", func(t *testing.T) {
		path := filepath.Join(root, "extra.go")
		require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc Extra() {}\n"), 0o644))
		assert.Equal(t, "extra.go: added\n", run("invalidate", "extra.go"))

		require.NoError(t, os.Remove(path))
		assert.Equal(t, "extra.go: removed\n", run("invalidate", path))
	})

	t.Run("ping", func(t *testing.T) {
		var resp server.PingResponse
		require.NoError(t, json.Unmarshal([]byte(run("ping", "--json")), &resp))
		assert.Equal(t, os.Getpid(), resp.PID)
		assert.Equal(t, Version, resp.Version)
	})
}

func TestFileNotFoundCarriesSuggestion(t *testing.T) {
	root := setupTestProject(t)
	startLeader(t, root)

	_, err := runApp(t, "--root", root, "--no-autostart", "--wait", "dups-file", "mian.go")
	require.Error(t, err)
	assert.True(t, errors.Is(err, semerrors.ErrFileNotFound))
	assert.Contains(t, err.Error(), "did you mean main.go?")
}

func TestSecondServeReportsRunningLeader(t *testing.T) {
	root := setupTestProject(t)
	startLeader(t, root)

	out, err := runApp(t, "--root", root, "serve")
	require.NoError(t, err)
	assert.Contains(t, out, "already running")
	assert.Contains(t, out, fmt.Sprintf("pid %d", os.Getpid()))
}

func TestShutdownStopsLeader(t *testing.T) {
	root := setupTestProject(t)
	el, done := startLeader(t, root)

	out, err := runApp(t, "--root", root, "shutdown")
	require.NoError(t, err)
	assert.Contains(t, out, "Shutting down server")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("leader did not stop after shutdown")
	}
	assert.False(t, el.ProbeLeader(context.Background(), 100*time.Millisecond))

	// The lock is free again.
	guard, role, err := el.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, election.RoleLeader, role)
	require.NoError(t, guard.Release())
}
