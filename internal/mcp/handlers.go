package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/semidx/internal/errors"
	"github.com/standardbeagle/semidx/internal/server"
)

// decodeArgs unmarshals tool arguments into v. Missing arguments leave v at
// its zero value.
func decodeArgs(op string, req *mcp.CallToolRequest, v interface{}) error {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, v); err != nil {
		return errors.InvalidQuery(op, fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

func (s *Server) handleStatus(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic(server.OpStatus, func() (*mcp.CallToolResult, error) {
		status, err := s.backend.Status(ctx)
		if err != nil {
			return nil, err
		}
		return createJSONResponse(status)
	})
}

func (s *Server) handleListFiles(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic(server.OpListFiles, func() (*mcp.CallToolResult, error) {
		files, err := s.backend.ListFiles(ctx)
		if err != nil {
			return nil, err
		}
		return createJSONResponse(server.ListFilesResponse{Files: files})
	})
}

func (s *Server) handleFindAllDuplicates(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic(server.OpFindAllDuplicates, func() (*mcp.CallToolResult, error) {
		var params server.FindAllDuplicatesRequest
		if err := decodeArgs(server.OpFindAllDuplicates, req, &params); err != nil {
			return nil, err
		}
		clusters, err := s.backend.FindAllDuplicates(ctx, params)
		if err != nil {
			return nil, err
		}
		return createJSONResponse(server.FindAllDuplicatesResponse{Clusters: clusters})
	})
}

func (s *Server) handleFindDuplicatesInFile(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic(server.OpFindDuplicatesInFile, func() (*mcp.CallToolResult, error) {
		var params server.FindDuplicatesInFileRequest
		if err := decodeArgs(server.OpFindDuplicatesInFile, req, &params); err != nil {
			return nil, err
		}
		results, err := s.backend.FindDuplicatesInFile(ctx, params)
		if err != nil {
			return nil, err
		}
		return createJSONResponse(server.SimilarResponse{Results: results})
	})
}

func (s *Server) handleSemanticSearch(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic(server.OpSemanticSearch, func() (*mcp.CallToolResult, error) {
		var params server.SemanticSearchRequest
		if err := decodeArgs(server.OpSemanticSearch, req, &params); err != nil {
			return nil, err
		}
		results, err := s.backend.SemanticSearch(ctx, params)
		if err != nil {
			return nil, err
		}
		return createJSONResponse(server.SimilarResponse{Results: results})
	})
}

func (s *Server) handleTreeSitterQuery(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic(server.OpTreeSitterQuery, func() (*mcp.CallToolResult, error) {
		var params server.TreeSitterQueryRequest
		if err := decodeArgs(server.OpTreeSitterQuery, req, &params); err != nil {
			return nil, err
		}
		matches, err := s.backend.TreeSitterQuery(ctx, params)
		if err != nil {
			return nil, err
		}
		return createJSONResponse(server.TreeSitterQueryResponse{Matches: matches})
	})
}

func (s *Server) handleInvalidateFile(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic(server.OpInvalidateFile, func() (*mcp.CallToolResult, error) {
		var params server.InvalidateFileRequest
		if err := decodeArgs(server.OpInvalidateFile, req, &params); err != nil {
			return nil, err
		}
		resp, err := s.backend.InvalidateFile(ctx, params)
		if err != nil {
			return nil, err
		}
		return createJSONResponse(resp)
	})
}
