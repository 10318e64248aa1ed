package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// LoadKDL loads dir/.semidx.kdl. It returns nil, nil when the file is absent.
func LoadKDL(dir string) (*Config, error) {
	kdlPath := filepath.Join(dir, FileName)
	if _, err := os.Stat(kdlPath); os.IsNotExist(err) {
		return nil, nil
	}
	return LoadKDLFile(kdlPath, dir)
}

// LoadKDLFile parses the file at path. A relative project root inside the
// file resolves against the file's directory; a missing one becomes
// defaultRoot.
func LoadKDLFile(path, defaultRoot string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	absDefault, err := filepath.Abs(defaultRoot)
	if err != nil {
		absDefault = defaultRoot
	}

	cfg, err := parseKDL(string(content), absDefault)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if cfg.Project.Root != absDefault && !filepath.IsAbs(cfg.Project.Root) {
		cfg.Project.Root = filepath.Join(filepath.Dir(path), cfg.Project.Root)
	}
	cfg.Project.Root = filepath.Clean(cfg.Project.Root)
	if cfg.Project.Name == "" {
		cfg.Project.Name = filepath.Base(cfg.Project.Root)
	}
	return cfg, nil
}

func parseKDL(content, defaultRoot string) (*Config, error) {
	cfg := Default(defaultRoot)
	cfg.Project.Name = ""

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "project":
			for _, cn := range n.Children { // project { root "." name "foo" }
				assignSimpleString(cn, "root", func(v string) { cfg.Project.Root = v })
				assignSimpleString(cn, "name", func(v string) { cfg.Project.Name = v })
			}
		case "index":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "max_file_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.Index.MaxFileSize = int64(v)
					}
					if s, ok := firstStringArg(cn); ok {
						if sz, err := parseSize(s); err == nil {
							cfg.Index.MaxFileSize = sz
						}
					}
				case "follow_symlinks":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Index.FollowSymlinks = b
					}
				case "respect_gitignore":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Index.RespectGitignore = b
					}
				case "watch":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Index.WatchMode = b
					}
				case "watch_debounce_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Index.WatchDebounceMs = v
					}
				case "workers":
					if v, ok := firstIntArg(cn); ok {
						cfg.Index.Workers = v
					}
				}
			}
		case "embedding":
			for _, cn := range n.Children {
				assignSimpleString(cn, "provider", func(v string) { cfg.Embedding.Provider = strings.ToLower(v) })
				assignSimpleString(cn, "model", func(v string) { cfg.Embedding.Model = v })
				assignSimpleString(cn, "base_url", func(v string) { cfg.Embedding.BaseURL = v })
				assignSimpleString(cn, "api_key_env", func(v string) { cfg.Embedding.APIKeyEnv = v })
				switch nodeName(cn) {
				case "dimension":
					if v, ok := firstIntArg(cn); ok {
						cfg.Embedding.Dimension = v
					}
				case "batch_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.Embedding.BatchSize = v
					}
				case "timeout_sec":
					if v, ok := firstIntArg(cn); ok {
						cfg.Embedding.TimeoutSec = v
					}
				}
			}
		case "election":
			for _, cn := range n.Children {
				assignSimpleString(cn, "dir", func(v string) { cfg.Election.Dir = v })
				assignSimpleString(cn, "prefix", func(v string) { cfg.Election.Prefix = v })
				if nodeName(cn) == "probe_timeout_ms" {
					if v, ok := firstIntArg(cn); ok {
						cfg.Election.ProbeTimeoutMs = v
					}
				}
			}
		case "server":
			for _, cn := range n.Children {
				v, ok := firstIntArg(cn)
				if !ok {
					continue
				}
				switch nodeName(cn) {
				case "request_timeout_sec":
					cfg.Server.RequestTimeoutSec = v
				case "ready_timeout_sec":
					cfg.Server.ReadyTimeoutSec = v
				case "shutdown_timeout_sec":
					cfg.Server.ShutdownTimeoutSec = v
				}
			}
		case "query":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "default_top_k":
					if v, ok := firstIntArg(cn); ok {
						cfg.Query.DefaultTopK = v
					}
				case "default_min_similarity":
					if v, ok := firstFloatArg(cn); ok {
						cfg.Query.DefaultMinSimilarity = v
					}
				case "duplicate_similarity":
					if v, ok := firstFloatArg(cn); ok {
						cfg.Query.DuplicateSimilarity = v
					}
				case "min_chunk_bytes":
					if v, ok := firstIntArg(cn); ok {
						cfg.Query.MinChunkBytes = v
					}
				}
			}
		case "include":
			cfg.Include = append(cfg.Include, collectStringArgs(n)...)
		case "exclude":
			cfg.Exclude = DeduplicatePatterns(append(cfg.Exclude, collectStringArgs(n)...))
		}
	}

	return cfg, nil
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case bool:
		return v, true
	case string:
		return parseBool(v), true
	}
	return false, false
}

func firstFloatArg(n *document.Node) (float64, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		log.Printf("WARNING: invalid float value for '%s' in KDL config, expected number but got %T", nodeName(n), n.Arguments[0].Value)
		return 0, false
	}
}

// collectStringArgs accepts both `exclude "a" "b"` and the block form
// `exclude { "a"; "b" }`, where each string is a child node name.
func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}

	if len(out) == 0 && len(n.Children) > 0 {
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}

// parseSize handles size strings like "10MB", "500KB", "1GB"
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		numStr = strings.TrimSuffix(s, "B")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(strings.TrimSpace(numStr), 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "yes" || s == "1" || s == "on"
}
