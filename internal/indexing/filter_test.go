package indexing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathFilterRel(t *testing.T) {
	root := t.TempDir()
	f := NewPathFilter(testConfig(root))

	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"relative", "pkg/a.go", "pkg/a.go", true},
		{"absolute", filepath.Join(root, "pkg", "a.go"), "pkg/a.go", true},
		{"dot segments", "pkg/../lib/./b.go", "lib/b.go", true},
		{"root itself", root, "", false},
		{"outside root", filepath.Join(filepath.Dir(root), "other.go"), "", false},
		{"escaping relative", "../x.go", "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := f.Rel(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, filepath.Join(root, "pkg", "a.go"), f.Abs("pkg/a.go"))
}

func TestPathFilterAccept(t *testing.T) {
	cfg := testConfig(t.TempDir())
	f := NewPathFilter(cfg)

	assert.True(t, f.Accept("main.go", 10))
	assert.True(t, f.Accept("web/app.tsx", 10))
	assert.False(t, f.Accept("README.md", 10), "unknown language")
	assert.False(t, f.Accept("main.go", cfg.Index.MaxFileSize+1), "over size limit")
	assert.False(t, f.Accept("node_modules/x/index.js", 10))
	assert.False(t, f.Accept("api/types_generated.go", 10))

	assert.True(t, f.SkipDir("node_modules"))
	assert.True(t, f.SkipDir(".git"))
	assert.False(t, f.SkipDir("pkg"))
	assert.False(t, f.SkipDir(""))
}

func TestPathFilterIncludePatterns(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Include = []string{"src/**/*.go"}
	f := NewPathFilter(cfg)

	assert.True(t, f.Accept("src/core/a.go", 10))
	assert.False(t, f.Accept("cmd/main.go", 10))
	assert.False(t, f.Accept("src/core/a.py", 10))
}

func TestDiscoverSortedAndFiltered(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"z.go":                goSource,
		"a/b.py":              pySource,
		"a/c.rs":              "fn main() {}\n",
		"vendor/dep/x.go":     goSource,
		"notes.txt":           "hello\n",
		".cache/tmp/gen.go":   goSource,
		"build/output/app.js": "function f() {}\n",
	})

	files, err := NewPathFilter(testConfig(root)).Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b.py", "a/c.rs", "z.go"}, files)
}

func TestDiscoverSymlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeFiles(t, root, map[string]string{"real.go": goSource})
	writeFiles(t, outside, map[string]string{"ext.go": goSource, "dir/inner.go": goSource})

	if err := os.Symlink(filepath.Join(outside, "ext.go"), filepath.Join(root, "link.go")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(outside, "dir"), filepath.Join(root, "linkdir")))

	cfg := testConfig(root)
	files, err := NewPathFilter(cfg).Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"real.go"}, files)

	cfg.Index.FollowSymlinks = true
	files, err = NewPathFilter(cfg).Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"link.go", "real.go"}, files, "symlinked directories are never descended")
}

func TestDiscoverMissingRoot(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "missing"))
	_, err := NewPathFilter(cfg).Discover(context.Background())
	assert.Error(t, err)
}

func TestDiscoverCancelled(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.go": goSource})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPathFilter(testConfig(root)).Discover(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
