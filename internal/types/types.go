// Package types holds the value types shared between the index, the query
// service and its clients.
package types

// SemanticChunk is one unit of code with an optional embedding.
type SemanticChunk struct {
	ID        string    `json:"id"`
	FilePath  string    `json:"file_path"`
	Language  string    `json:"language"`
	Name      string    `json:"name,omitempty"`
	Kind      string    `json:"kind"`
	StartByte uint      `json:"start_byte"`
	EndByte   uint      `json:"end_byte"`
	StartLine int       `json:"start_line"`
	EndLine   int       `json:"end_line"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
}

// HasEmbedding reports whether the chunk carries a usable vector
func (c *SemanticChunk) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

// Size is the chunk's byte length
func (c *SemanticChunk) Size() int {
	if c.EndByte < c.StartByte {
		return 0
	}
	return int(c.EndByte - c.StartByte)
}

// Ref strips the embedding for transport
func (c *SemanticChunk) Ref() ChunkRef {
	return ChunkRef{
		ID:        c.ID,
		FilePath:  c.FilePath,
		Language:  c.Language,
		Name:      c.Name,
		Kind:      c.Kind,
		StartByte: c.StartByte,
		EndByte:   c.EndByte,
		StartLine: c.StartLine,
		EndLine:   c.EndLine,
		Text:      c.Text,
	}
}

// ChunkRef is a chunk as it crosses the RPC boundary.
type ChunkRef struct {
	ID        string `json:"id"`
	FilePath  string `json:"file_path"`
	Language  string `json:"language"`
	Name      string `json:"name,omitempty"`
	Kind      string `json:"kind"`
	StartByte uint   `json:"start_byte"`
	EndByte   uint   `json:"end_byte"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Text      string `json:"text"`
}

// DuplicateCluster groups chunks from distinct files that are transitively
// similar above a threshold.
type DuplicateCluster struct {
	Chunks            []ChunkRef `json:"chunks"`
	AverageSimilarity float32    `json:"average_similarity"`
}

// SimilarChunkResult is one ranked hit. Source is set when the hit was found
// relative to a chunk of a target file.
type SimilarChunkResult struct {
	Chunk      ChunkRef  `json:"chunk"`
	Similarity float32   `json:"similarity"`
	Source     *ChunkRef `json:"source,omitempty"`
}

// QueryCapture is one named node captured by a tree-sitter query.
// Lines are 1-based, columns 0-based bytes.
type QueryCapture struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Text        string `json:"text"`
	StartByte   uint   `json:"start_byte"`
	EndByte     uint   `json:"end_byte"`
	StartLine   int    `json:"start_line"`
	EndLine     int    `json:"end_line"`
	StartColumn int    `json:"start_column"`
	EndColumn   int    `json:"end_column"`
}

// QueryMatch is one pattern match in one file.
type QueryMatch struct {
	FilePath     string         `json:"file_path"`
	Language     string         `json:"language"`
	PatternIndex int            `json:"pattern_index"`
	Captures     []QueryCapture `json:"captures"`
}

// LanguageStats summarises one language in the index.
type LanguageStats struct {
	Files      int   `json:"files"`
	Chunks     int   `json:"chunks"`
	TotalBytes int64 `json:"total_bytes"`
}

// IndexStatusInfo is a point-in-time snapshot of build progress.
type IndexStatusInfo struct {
	RootPath      string                   `json:"root_path"`
	FilesTotal    int64                    `json:"files_total"`
	FilesParsed   int64                    `json:"files_parsed"`
	FilesEmbedded int64                    `json:"files_embedded"`
	IsReady       bool                     `json:"is_ready"`
	ChunkCount    int                      `json:"chunk_count"`
	ModelLoaded   bool                     `json:"model_loaded"`
	ModelName     string                   `json:"model_name,omitempty"`
	Languages     map[string]LanguageStats `json:"languages,omitempty"`
}
