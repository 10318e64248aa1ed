// Package mcp exposes the query service as MCP tools over stdio. Every tool
// forwards to a Backend, normally a server.Client talking to the leader.
package mcp

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	semidebug "github.com/standardbeagle/semidx/internal/debug"
	"github.com/standardbeagle/semidx/internal/server"
	"github.com/standardbeagle/semidx/internal/types"
	"github.com/standardbeagle/semidx/internal/version"
)

// Backend is what the tools call. Both *server.Client and
// *server.QueryService satisfy it.
type Backend interface {
	Status(ctx context.Context) (types.IndexStatusInfo, error)
	ListFiles(ctx context.Context) ([]string, error)
	FindAllDuplicates(ctx context.Context, req server.FindAllDuplicatesRequest) ([]types.DuplicateCluster, error)
	FindDuplicatesInFile(ctx context.Context, req server.FindDuplicatesInFileRequest) ([]types.SimilarChunkResult, error)
	SemanticSearch(ctx context.Context, req server.SemanticSearchRequest) ([]types.SimilarChunkResult, error)
	TreeSitterQuery(ctx context.Context, req server.TreeSitterQueryRequest) ([]types.QueryMatch, error)
	InvalidateFile(ctx context.Context, req server.InvalidateFileRequest) (*server.InvalidateFileResponse, error)
}

var (
	_ Backend = (*server.Client)(nil)
	_ Backend = (*server.QueryService)(nil)
)

// Server is the MCP front end
type Server struct {
	backend Backend
	server  *mcp.Server
}

// NewServer registers the query tools against backend
func NewServer(backend Backend) *Server {
	s := &Server{
		backend: backend,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "semidx",
			Version: version.Version,
		}, nil),
	}
	s.registerTools()
	return s
}

// MCP returns the underlying SDK server, for in-process transports.
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// Start serves over stdio until ctx ends or the client disconnects
func (s *Server) Start(ctx context.Context) error {
	semidebug.LogMCP("starting MCP server with stdio transport")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func numberProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "number", Description: desc}
}

func (s *Server) registerTools() {
	s.server.AddTool(&mcp.Tool{
		Name:        server.OpStatus,
		Description: "Index build progress: files discovered, parsed and embedded, readiness, chunk count and the embedding model in use. Works while indexing.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.handleStatus)

	s.server.AddTool(&mcp.Tool{
		Name:        server.OpListFiles,
		Description: "List every indexed file as a path relative to the project root. Works while indexing.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.handleListFiles)

	s.server.AddTool(&mcp.Tool{
		Name:        server.OpFindAllDuplicates,
		Description: "Find clusters of near-duplicate code across different files by embedding similarity. Each cluster holds at most one chunk per file.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"min_similarity":  numberProp("Cosine similarity threshold in [-1, 1] (default from config, usually 0.9)"),
				"min_chunk_bytes": {Type: "integer", Description: "Ignore chunks shorter than this many bytes"},
			},
		},
	}, s.handleFindAllDuplicates)

	s.server.AddTool(&mcp.Tool{
		Name:        server.OpFindDuplicatesInFile,
		Description: "Rank code in other files that resembles the chunks of one file. At most 100 results.",
		InputSchema: &jsonschema.Schema{
			Type:     "object",
			Required: []string{"file"},
			Properties: map[string]*jsonschema.Schema{
				"file":           {Type: "string", Description: "File path, absolute or relative to the project root"},
				"min_similarity": numberProp("Cosine similarity threshold"),
				"top_k":          {Type: "integer", Description: "Maximum results (capped at 100)"},
			},
		},
	}, s.handleFindDuplicatesInFile)

	s.server.AddTool(&mcp.Tool{
		Name:        server.OpSemanticSearch,
		Description: "Search code chunks by meaning: the text is embedded and compared to every chunk by cosine similarity.",
		InputSchema: &jsonschema.Schema{
			Type:     "object",
			Required: []string{"text"},
			Properties: map[string]*jsonschema.Schema{
				"text":           {Type: "string", Description: "Natural language or code to search for"},
				"top_k":          {Type: "integer", Description: "Maximum results (default 10)"},
				"min_similarity": numberProp("Cosine similarity threshold"),
			},
		},
	}, s.handleSemanticSearch)

	s.server.AddTool(&mcp.Tool{
		Name:        server.OpTreeSitterQuery,
		Description: "Run a tree-sitter S-expression query against parsed files, e.g. (function_declaration name: (identifier) @name). The query must compile for every target language.",
		InputSchema: &jsonschema.Schema{
			Type:     "object",
			Required: []string{"query"},
			Properties: map[string]*jsonschema.Schema{
				"query": {Type: "string", Description: "Tree-sitter query"},
				"files": {
					Type:        "array",
					Description: "Restrict to these files",
					Items:       &jsonschema.Schema{Type: "string"},
				},
				"language": {Type: "string", Description: "Restrict to one language by name (go) or extension (.go)"},
			},
		},
	}, s.handleTreeSitterQuery)

	s.server.AddTool(&mcp.Tool{
		Name:        server.OpInvalidateFile,
		Description: "Re-read, re-parse and re-embed one file after it changed, or drop it if it was deleted.",
		InputSchema: &jsonschema.Schema{
			Type:     "object",
			Required: []string{"file"},
			Properties: map[string]*jsonschema.Schema{
				"file": {Type: "string", Description: "File path, absolute or relative to the project root"},
			},
		},
	}, s.handleInvalidateFile)
}

// recoverFromPanic turns handler panics and errors into tool error results
func (s *Server) recoverFromPanic(operation string, handler func() (*mcp.CallToolResult, error)) (result *mcp.CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			semidebug.LogMCP("PANIC RECOVERED in %s: %v\n%s", operation, r, debug.Stack())
			result, err = createErrorResponse(operation, fmt.Errorf("internal panic: %v", r))
		}
	}()

	result, err = handler()
	if err != nil {
		semidebug.LogMCP("error in %s: %v", operation, err)
		return createErrorResponse(operation, err)
	}
	return result, nil
}
