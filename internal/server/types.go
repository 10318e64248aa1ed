package server

import (
	"github.com/standardbeagle/semidx/internal/types"
)

// RPC request/response types for client-server communication

// StatusResponse wraps the index progress snapshot
type StatusResponse struct {
	Status types.IndexStatusInfo `json:"status"`
}

// ListFilesResponse lists tracked files in sorted order
type ListFilesResponse struct {
	Files []string `json:"files"`
}

// FindAllDuplicatesRequest asks for every cross-file duplicate cluster.
// Unset fields take the server's configured defaults.
type FindAllDuplicatesRequest struct {
	MinSimilarity *float32 `json:"min_similarity,omitempty"`
	MinChunkBytes *int     `json:"min_chunk_bytes,omitempty"`
}

// FindAllDuplicatesResponse contains clusters of two or more chunks
type FindAllDuplicatesResponse struct {
	Clusters []types.DuplicateCluster `json:"clusters"`
}

// FindDuplicatesInFileRequest asks which chunks elsewhere resemble File's
type FindDuplicatesInFileRequest struct {
	File          string   `json:"file"`
	MinSimilarity *float32 `json:"min_similarity,omitempty"`
	TopK          int      `json:"top_k,omitempty"` // 0 means the cap
}

// SimilarResponse carries ranked hits for both similarity operations
type SimilarResponse struct {
	Results []types.SimilarChunkResult `json:"results"`
}

// SemanticSearchRequest is a free-text similarity query
type SemanticSearchRequest struct {
	Text          string   `json:"text"`
	TopK          int      `json:"top_k,omitempty"`
	MinSimilarity *float32 `json:"min_similarity,omitempty"`
}

// TreeSitterQueryRequest runs an S-expression query. Files restricts the
// targets; Language filters all tracked files when Files is empty.
type TreeSitterQueryRequest struct {
	Query    string   `json:"query"`
	Files    []string `json:"files,omitempty"`
	Language string   `json:"language,omitempty"`
}

// TreeSitterQueryResponse contains matches in target order
type TreeSitterQueryResponse struct {
	Matches []types.QueryMatch `json:"matches"`
}

// InvalidateFileRequest re-indexes one file
type InvalidateFileRequest struct {
	File string `json:"file"`
}

// InvalidateFileResponse says what happened to the file
type InvalidateFileResponse struct {
	File   string `json:"file"`
	Result string `json:"result"`
}

// ShutdownRequest requests server shutdown
type ShutdownRequest struct {
	Force bool `json:"force,omitempty"`
}

// ShutdownResponse confirms shutdown
type ShutdownResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// PingResponse confirms server is alive
type PingResponse struct {
	Uptime   float64 `json:"uptime_seconds"`
	Version  string  `json:"version"`
	BuildID  string  `json:"build_id"`
	PID      int     `json:"pid"`
	RootPath string  `json:"root_path"`
}

// ErrorBody is the wire form of a query error
type ErrorBody struct {
	Type       string `json:"type"`
	Operation  string `json:"operation,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// ErrorResponse is returned with every non-2xx status
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
