package indexing

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/semidx/internal/config"
	"github.com/standardbeagle/semidx/internal/debug"
	"github.com/standardbeagle/semidx/internal/parser"
)

// PathFilter decides which files under the project root are indexed. Paths it
// hands out are relative to the root with forward slashes.
type PathFilter struct {
	root           string
	include        []string
	exclude        []string
	maxFileSize    int64
	followSymlinks bool
}

func NewPathFilter(cfg *config.Config) *PathFilter {
	return &PathFilter{
		root:           filepath.Clean(cfg.Project.Root),
		include:        cfg.Include,
		exclude:        cfg.Exclude,
		maxFileSize:    cfg.Index.MaxFileSize,
		followSymlinks: cfg.Index.FollowSymlinks,
	}
}

func (f *PathFilter) Root() string { return f.root }

// Rel converts an absolute or root-relative path to the index key. It
// reports false for paths outside the root.
func (f *PathFilter) Rel(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(f.root, filepath.Clean(path))
		if err != nil {
			return "", false
		}
		path = rel
	}
	path = filepath.ToSlash(filepath.Clean(filepath.FromSlash(path)))
	if path == "." || path == ".." || strings.HasPrefix(path, "../") {
		return "", false
	}
	return path, true
}

// Abs returns the filesystem path of an index key.
func (f *PathFilter) Abs(rel string) string {
	return filepath.Join(f.root, filepath.FromSlash(rel))
}

func matchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}

// SkipDir reports whether a directory (relative key) is excluded as a whole.
func (f *PathFilter) SkipDir(rel string) bool {
	if rel == "" || rel == "." {
		return false
	}
	return matchAny(f.exclude, rel) || matchAny(f.exclude, rel+"/_")
}

// Accept reports whether a file with this key and size belongs in the index:
// a known language, matching an include pattern when any are set, not
// excluded and within the size limit.
func (f *PathFilter) Accept(rel string, size int64) bool {
	if _, ok := parser.DetectLanguage(rel); !ok {
		return false
	}
	if f.maxFileSize > 0 && size > f.maxFileSize {
		return false
	}
	if len(f.include) > 0 && !matchAny(f.include, rel) {
		return false
	}
	return !matchAny(f.exclude, rel)
}

// Discover walks the root and returns the accepted files in sorted order.
// Symlinked files are followed only when configured; symlinked directories
// are never descended.
func (f *PathFilter) Discover(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == f.root {
				return err
			}
			debug.LogIndexing("skipping %s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, ok := f.Rel(path)
		if d.IsDir() {
			if ok && f.SkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !ok {
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if !f.followSymlinks {
				return nil
			}
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				return nil
			}
			if f.Accept(rel, info.Size()) {
				files = append(files, rel)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if f.Accept(rel, info.Size()) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
