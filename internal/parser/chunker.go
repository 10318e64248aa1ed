package parser

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/standardbeagle/semidx/internal/debug"
	"github.com/standardbeagle/semidx/internal/types"
)

// KindFile marks the fallback chunk covering a whole file that has no
// recognised declarations.
const KindFile = "file"

var (
	chunkQueriesMu sync.Mutex
	chunkQueries   = map[Language]*tree_sitter.Query{}
)

// chunkQuery compiles the language's chunk query once. A grammar whose query
// fails to compile falls back to whole-file chunks.
func chunkQuery(lang Language) *tree_sitter.Query {
	chunkQueriesMu.Lock()
	defer chunkQueriesMu.Unlock()

	if q, ok := chunkQueries[lang]; ok {
		return q
	}
	spec, ok := byName[string(lang)]
	if !ok || spec.chunkQuery == "" {
		chunkQueries[lang] = nil
		return nil
	}
	q, qerr := tree_sitter.NewQuery(spec.language(), spec.chunkQuery)
	if qerr != nil {
		debug.LogIndexing("chunk query for %s does not compile: %s", lang, qerr.Message)
		chunkQueries[lang] = nil
		return nil
	}
	chunkQueries[lang] = q
	return q
}

type chunkSpan struct {
	start, end uint
	node       tree_sitter.Node
	name       string
}

// ExtractChunks returns the file's semantic chunks in source order. Nested
// matches (a closure inside a function) are folded into the outermost match.
// A file with content but no matches yields one whole-file chunk.
func ExtractChunks(f *ParsedFile) []types.SemanticChunk {
	if f == nil || f.Tree == nil {
		return nil
	}

	var spans []chunkSpan
	if q := chunkQuery(f.Language); q != nil {
		spans = collectSpans(q, f)
	}
	spans = outermost(spans)

	chunks := make([]types.SemanticChunk, 0, len(spans))
	for _, s := range spans {
		start, end := s.node.StartPosition(), s.node.EndPosition()
		chunks = append(chunks, types.SemanticChunk{
			ID:        ChunkID(f.Path, s.start, s.end),
			FilePath:  f.Path,
			Language:  string(f.Language),
			Name:      s.name,
			Kind:      s.node.Kind(),
			StartByte: s.start,
			EndByte:   s.end,
			StartLine: int(start.Row) + 1,
			EndLine:   int(end.Row) + 1,
			Text:      string(f.Content[s.start:s.end]),
		})
	}

	if len(chunks) == 0 && len(bytes.TrimSpace(f.Content)) > 0 {
		root := f.Tree.RootNode()
		chunks = append(chunks, types.SemanticChunk{
			ID:        ChunkID(f.Path, 0, uint(len(f.Content))),
			FilePath:  f.Path,
			Language:  string(f.Language),
			Name:      filepath.Base(f.Path),
			Kind:      KindFile,
			StartByte: 0,
			EndByte:   uint(len(f.Content)),
			StartLine: 1,
			EndLine:   int(root.EndPosition().Row) + 1,
			Text:      string(f.Content),
		})
	}
	return chunks
}

func collectSpans(q *tree_sitter.Query, f *ParsedFile) []chunkSpan {
	qc := tree_sitter.NewQueryCursor()
	defer qc.Close()

	names := q.CaptureNames()
	matches := qc.Matches(q, f.Tree.RootNode(), f.Content)

	var spans []chunkSpan
	for {
		match := matches.Next()
		if match == nil {
			break
		}
		var (
			span    chunkSpan
			hasNode bool
		)
		for _, c := range match.Captures {
			if int(c.Index) >= len(names) {
				continue
			}
			switch names[c.Index] {
			case "chunk":
				span.node = c.Node
				span.start, span.end = c.Node.StartByte(), c.Node.EndByte()
				hasNode = true
			case "name":
				span.name = string(f.Content[c.Node.StartByte():c.Node.EndByte()])
			}
		}
		if hasNode && span.end > span.start {
			spans = append(spans, span)
		}
	}
	return spans
}

func outermost(spans []chunkSpan) []chunkSpan {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	kept := spans[:0]
	var lastEnd uint
	for _, s := range spans {
		if len(kept) > 0 && s.end <= lastEnd {
			continue
		}
		kept = append(kept, s)
		lastEnd = s.end
	}
	return kept
}

// ChunkID is stable for a given file and byte range.
func ChunkID(path string, start, end uint) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(fmt.Sprintf("%s:%d-%d", path, start, end)))
}
