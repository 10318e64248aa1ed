// Build artifact detection from language-specific configuration files.
// Output directories declared in package.json, tsconfig.json, Cargo.toml and
// pyproject.toml become exclusion globs so generated code is never indexed.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// BuildArtifactDetector finds language-specific build output directories
type BuildArtifactDetector struct {
	projectRoot string
}

func NewBuildArtifactDetector(projectRoot string) *BuildArtifactDetector {
	return &BuildArtifactDetector{projectRoot: projectRoot}
}

// DetectOutputDirectories returns exclusion globs such as "**/lib/**".
func (bad *BuildArtifactDetector) DetectOutputDirectories() []string {
	var patterns []string
	patterns = append(patterns, bad.detectJavaScriptOutputs()...)
	patterns = append(patterns, bad.detectRustOutputs()...)
	patterns = append(patterns, bad.detectPythonOutputs()...)
	return DeduplicatePatterns(patterns)
}

func dirPattern(dir string) string {
	dir = strings.Trim(strings.TrimPrefix(strings.TrimSpace(dir), "./"), "/")
	if dir == "" || dir == "." {
		return ""
	}
	return "**/" + dir + "/**"
}

func (bad *BuildArtifactDetector) readJSON(name string) map[string]any {
	data, err := os.ReadFile(filepath.Join(bad.projectRoot, name))
	if err != nil {
		return nil
	}
	var doc map[string]any
	if json.Unmarshal(data, &doc) != nil {
		return nil
	}
	return doc
}

func (bad *BuildArtifactDetector) readTOML(name string) map[string]any {
	data, err := os.ReadFile(filepath.Join(bad.projectRoot, name))
	if err != nil {
		return nil
	}
	var doc map[string]any
	if toml.Unmarshal(data, &doc) != nil {
		return nil
	}
	return doc
}

// lookup walks nested maps by key.
func lookup(doc map[string]any, keys ...string) (any, bool) {
	var cur any = doc
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[k]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func (bad *BuildArtifactDetector) detectJavaScriptOutputs() []string {
	var patterns []string
	add := func(dir string) {
		if p := dirPattern(dir); p != "" {
			patterns = append(patterns, p)
		}
	}

	if pkg := bad.readJSON("package.json"); pkg != nil {
		if scripts, ok := pkg["scripts"].(map[string]any); ok {
			for _, script := range scripts {
				s, ok := script.(string)
				if !ok {
					continue
				}
				parts := strings.Fields(s)
				for i, part := range parts {
					if (part == "--outDir" || part == "-outDir") && i+1 < len(parts) {
						add(strings.Trim(parts[i+1], "\"'"))
					}
				}
			}
		}
		if outDir, ok := lookup(pkg, "build", "outDir"); ok {
			if s, ok := outDir.(string); ok {
				add(s)
			}
		}
	}

	if tsconfig := bad.readJSON("tsconfig.json"); tsconfig != nil {
		if outDir, ok := lookup(tsconfig, "compilerOptions", "outDir"); ok {
			if s, ok := outDir.(string); ok {
				add(s)
			}
		}
	}
	return patterns
}

func (bad *BuildArtifactDetector) detectRustOutputs() []string {
	cargo := bad.readTOML("Cargo.toml")
	if cargo == nil {
		return nil
	}
	var patterns []string
	for _, keys := range [][]string{{"build", "target-dir"}, {"profile", "release", "target-dir"}} {
		if v, ok := lookup(cargo, keys...); ok {
			if s, ok := v.(string); ok {
				if p := dirPattern(s); p != "" {
					patterns = append(patterns, p)
				}
			}
		}
	}
	return patterns
}

func (bad *BuildArtifactDetector) detectPythonOutputs() []string {
	pyproject := bad.readTOML("pyproject.toml")
	if pyproject == nil {
		return nil
	}
	var patterns []string
	for _, keys := range [][]string{{"tool", "poetry", "build", "target-dir"}, {"tool", "hatch", "build", "directory"}} {
		if v, ok := lookup(pyproject, keys...); ok {
			if s, ok := v.(string); ok {
				if p := dirPattern(s); p != "" {
					patterns = append(patterns, p)
				}
			}
		}
	}
	return patterns
}

// DeduplicatePatterns removes duplicates, keeping first occurrences in order.
func DeduplicatePatterns(patterns []string) []string {
	seen := make(map[string]bool, len(patterns))
	result := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		if !seen[pattern] {
			seen[pattern] = true
			result = append(result, pattern)
		}
	}
	return result
}
