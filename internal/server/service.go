package server

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/hbollon/go-edlib"

	"github.com/standardbeagle/semidx/internal/config"
	"github.com/standardbeagle/semidx/internal/core"
	"github.com/standardbeagle/semidx/internal/debug"
	"github.com/standardbeagle/semidx/internal/errors"
	"github.com/standardbeagle/semidx/internal/indexing"
	"github.com/standardbeagle/semidx/internal/metrics"
	"github.com/standardbeagle/semidx/internal/parser"
	"github.com/standardbeagle/semidx/internal/similarity"
	"github.com/standardbeagle/semidx/internal/types"
)

// Operation names as they appear in errors, metrics and MCP tool names.
const (
	OpStatus               = "status"
	OpListFiles            = "list_files"
	OpFindAllDuplicates    = "find_all_duplicates"
	OpFindDuplicatesInFile = "find_duplicates_in_file"
	OpSemanticSearch       = "semantic_search"
	OpTreeSitterQuery      = "tree_sitter_query"
	OpInvalidateFile       = "invalidate_file"
)

// suggestionThreshold is the minimum Jaro-Winkler score for a "did you mean"
// path suggestion.
const suggestionThreshold = 0.75

// QueryDefaults fill request fields the caller left unset.
type QueryDefaults struct {
	TopK                int
	MinSimilarity       float32
	DuplicateSimilarity float32
	MinChunkBytes       int
}

// DefaultsFromConfig reads the query section of cfg.
func DefaultsFromConfig(cfg *config.Config) QueryDefaults {
	return QueryDefaults{
		TopK:                cfg.Query.DefaultTopK,
		MinSimilarity:       float32(cfg.Query.DefaultMinSimilarity),
		DuplicateSimilarity: float32(cfg.Query.DuplicateSimilarity),
		MinChunkBytes:       cfg.Query.MinChunkBytes,
	}
}

// QueryService answers queries against the leader's index. It is safe for
// concurrent use; every operation takes the index lock itself.
type QueryService struct {
	index    *indexing.IndexContext
	defaults QueryDefaults
	metrics  *metrics.Metrics
}

// NewQueryService wraps ic. m may be nil.
func NewQueryService(ic *indexing.IndexContext, defaults QueryDefaults, m *metrics.Metrics) *QueryService {
	if defaults.TopK <= 0 {
		defaults.TopK = config.DefaultTopK
	}
	return &QueryService{index: ic, defaults: defaults, metrics: m}
}

// Index returns the served index.
func (s *QueryService) Index() *indexing.IndexContext { return s.index }

func (s *QueryService) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = string(errors.TypeOf(err))
		debug.LogQuery("%s failed after %v: %v", op, time.Since(start), err)
	}
	s.metrics.ObserveRPC(op, status, time.Since(start))
}

// Status reports build progress. It never waits for readiness.
func (s *QueryService) Status(ctx context.Context) (info types.IndexStatusInfo, err error) {
	defer func(start time.Time) { s.observe(OpStatus, start, err) }(time.Now())
	return s.index.Status(), nil
}

// ListFiles returns every tracked file, including while the build runs.
func (s *QueryService) ListFiles(ctx context.Context) (files []string, err error) {
	defer func(start time.Time) { s.observe(OpListFiles, start, err) }(time.Now())
	err = s.index.WithRead(func(v indexing.View) error {
		files = v.Files()
		return nil
	})
	return files, err
}

// FindAllDuplicates clusters chunks across files. Chunks shorter than the
// minimum size are left out, and clusters of one chunk are not returned.
func (s *QueryService) FindAllDuplicates(ctx context.Context, req FindAllDuplicatesRequest) (clusters []types.DuplicateCluster, err error) {
	defer func(start time.Time) { s.observe(OpFindAllDuplicates, start, err) }(time.Now())
	if err := s.index.CheckReady(OpFindAllDuplicates); err != nil {
		return nil, err
	}

	minSim := s.defaults.DuplicateSimilarity
	if req.MinSimilarity != nil {
		minSim = *req.MinSimilarity
	}
	minBytes := s.defaults.MinChunkBytes
	if req.MinChunkBytes != nil {
		minBytes = *req.MinChunkBytes
	}

	err = s.index.WithRead(func(v indexing.View) error {
		all := v.Chunks()
		eligible := make([]types.SemanticChunk, 0, len(all))
		for _, c := range all {
			if c.Size() >= minBytes {
				eligible = append(eligible, c)
			}
		}
		for _, cluster := range similarity.ClusterDuplicates(eligible, minSim) {
			if len(cluster.Chunks) > 1 {
				clusters = append(clusters, cluster)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	similarity.SortClusters(clusters)
	debug.LogQuery("find_all_duplicates: %d clusters at %.2f", len(clusters), minSim)
	return clusters, nil
}

// FindDuplicatesInFile ranks chunks of other files against the chunks of one
// file, capped at similarity.MaxFileResults.
func (s *QueryService) FindDuplicatesInFile(ctx context.Context, req FindDuplicatesInFileRequest) (results []types.SimilarChunkResult, err error) {
	defer func(start time.Time) { s.observe(OpFindDuplicatesInFile, start, err) }(time.Now())
	if err := s.index.CheckReady(OpFindDuplicatesInFile); err != nil {
		return nil, err
	}
	if req.File == "" {
		return nil, errors.InvalidQuery(OpFindDuplicatesInFile, "file is required")
	}

	minSim := s.defaults.DuplicateSimilarity
	if req.MinSimilarity != nil {
		minSim = *req.MinSimilarity
	}

	err = s.index.WithRead(func(v indexing.View) error {
		rel, ok := v.Resolve(req.File)
		if !ok {
			return errors.FileNotFound(OpFindDuplicatesInFile, req.File, suggestPath(req.File, v.Files()))
		}
		results = similarity.FindSimilarToFile(v.Chunks(), rel, minSim, req.TopK)
		return nil
	})
	return results, err
}

// SemanticSearch embeds text and ranks every embedded chunk against it. The
// model is loaded on first use.
func (s *QueryService) SemanticSearch(ctx context.Context, req SemanticSearchRequest) (results []types.SimilarChunkResult, err error) {
	defer func(start time.Time) { s.observe(OpSemanticSearch, start, err) }(time.Now())
	if err := s.index.CheckReady(OpSemanticSearch); err != nil {
		return nil, err
	}
	if req.Text == "" {
		return nil, errors.InvalidQuery(OpSemanticSearch, "text is required")
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.defaults.TopK
	}
	minSim := s.defaults.MinSimilarity
	if req.MinSimilarity != nil {
		minSim = *req.MinSimilarity
	}

	vec, err := s.index.EmbedText(ctx, OpSemanticSearch, req.Text)
	if err != nil {
		return nil, err
	}
	err = s.index.WithRead(func(v indexing.View) error {
		results = similarity.RankByVector(vec, v.Chunks(), topK, minSim)
		return nil
	})
	return results, err
}

// TreeSitterQuery compiles req.Query for every target language and runs it
// over the parsed trees. A query that fails to compile for any target
// language, or for the requested language when no file matches it, returns
// invalid_query and no matches.
func (s *QueryService) TreeSitterQuery(ctx context.Context, req TreeSitterQueryRequest) (matches []types.QueryMatch, err error) {
	defer func(start time.Time) { s.observe(OpTreeSitterQuery, start, err) }(time.Now())
	if err := s.index.CheckReady(OpTreeSitterQuery); err != nil {
		return nil, err
	}
	if req.Query == "" {
		return nil, errors.InvalidQuery(OpTreeSitterQuery, "query is required")
	}

	var (
		lang       parser.Language
		filterLang bool
	)
	if req.Language != "" {
		l, ok := parser.ResolveLanguage(req.Language)
		if !ok {
			return nil, errors.InvalidQuery(OpTreeSitterQuery, fmt.Sprintf("unsupported language %q", req.Language))
		}
		lang, filterLang = l, true
	}

	err = s.index.WithRead(func(v indexing.View) error {
		var targets []core.QueryTarget
		add := func(rel string) {
			f, ok := v.File(rel)
			if !ok || (filterLang && f.Language != lang) {
				return
			}
			targets = append(targets, core.QueryTarget{Path: rel, Language: f.Language, Content: f.Content, Tree: f.Tree})
		}

		if len(req.Files) > 0 {
			for _, p := range req.Files {
				rel, ok := v.Resolve(p)
				if !ok {
					return errors.FileNotFound(OpTreeSitterQuery, p, suggestPath(p, v.Files()))
				}
				add(rel)
			}
		} else {
			for _, rel := range v.Files() {
				add(rel)
			}
		}

		if len(targets) == 0 && filterLang {
			return core.ValidateQuery(req.Query, lang)
		}
		var qerr error
		matches, qerr = core.ExecuteQuery(req.Query, targets)
		return qerr
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// InvalidateFile re-reads one file and swaps its chunks in. It does not wait
// for readiness.
func (s *QueryService) InvalidateFile(ctx context.Context, req InvalidateFileRequest) (resp *InvalidateFileResponse, err error) {
	defer func(start time.Time) { s.observe(OpInvalidateFile, start, err) }(time.Now())
	if req.File == "" {
		return nil, errors.InvalidQuery(OpInvalidateFile, "file is required")
	}

	result, err := s.index.Refresh(ctx, req.File)
	if errors.TypeOf(err) == errors.ErrorTypeFileNotFound {
		var files []string
		_ = s.index.WithRead(func(v indexing.View) error {
			files = v.Files()
			return nil
		})
		return nil, errors.FileNotFound(OpInvalidateFile, req.File, suggestPath(req.File, files))
	}
	if result == "" {
		return nil, err
	}
	rel, _ := s.index.Filter().Rel(req.File)
	return &InvalidateFileResponse{File: rel, Result: string(result)}, err
}

// suggestPath returns the tracked file closest to p, comparing base names
// first and full paths second, or "" when nothing is close.
func suggestPath(p string, files []string) string {
	best, bestScore := "", float32(0)
	base := path.Base(p)
	for _, f := range files {
		score, err := edlib.StringsSimilarity(base, path.Base(f), edlib.JaroWinkler)
		if err != nil {
			continue
		}
		if full, err := edlib.StringsSimilarity(p, f, edlib.JaroWinkler); err == nil && full > score {
			score = full
		}
		if score > bestScore {
			best, bestScore = f, score
		}
	}
	if bestScore < suggestionThreshold {
		return ""
	}
	return best
}
