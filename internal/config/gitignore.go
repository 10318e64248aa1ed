package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// LoadGitignorePatterns reads root/.gitignore and converts its entries into
// doublestar exclusion globs relative to root. Negations and comments are
// skipped. A missing file yields no patterns and no error.
func LoadGitignorePatterns(root string) ([]string, error) {
	f, err := os.Open(filepath.Join(root, ".gitignore"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if p := GitignoreToGlob(scanner.Text()); p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns, scanner.Err()
}

// GitignoreToGlob converts one .gitignore line to a doublestar glob, or ""
// when the line carries no exclusion.
//
//	build/      -> **/build/**
//	/out        -> out/**
//	*.log       -> **/*.log
//	docs/*.md   -> docs/*.md
//	coverage    -> **/coverage
//
// An unanchored bare name such as "coverage" matches both files and
// directories of that name; directory walkers test it against the
// directory path itself.
func GitignoreToGlob(line string) string {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return ""
	}

	dirOnly := strings.HasSuffix(line, "/")
	line = strings.TrimSuffix(line, "/")
	anchored := strings.HasPrefix(line, "/")
	line = strings.TrimPrefix(line, "/")
	if line == "" {
		return ""
	}
	// A slash in the middle anchors the pattern to the root too.
	if strings.Contains(line, "/") && !strings.HasPrefix(line, "**/") {
		anchored = true
	}

	p := line
	if !anchored && !strings.HasPrefix(p, "**/") {
		p = "**/" + p
	}
	if dirOnly || anchored && !strings.ContainsAny(line, "*?[") {
		p += "/**"
	}
	return p
}
