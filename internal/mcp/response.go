package mcp

import (
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/semidx/internal/errors"
)

// createJSONResponse creates a standardized JSON response for MCP tools
func createJSONResponse(data interface{}) (*mcp.CallToolResult, error) {
	content, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response data: %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(content)},
		},
	}, nil
}

// errorHints are shown to the model next to an error of the given type.
var errorHints = map[errors.ErrorType]string{
	errors.ErrorTypeNotReady:     "the index is still being built; call status and retry once is_ready is true",
	errors.ErrorTypeInvalidQuery: "fix the arguments or query syntax and retry",
	errors.ErrorTypeFileNotFound: "call list_files to see indexed paths",
	errors.ErrorTypeEmbedding:    "the embedding model is unavailable; tree_sitter_query and list_files still work",
}

// createErrorResponse reports err inside the result with IsError set, so the
// model sees the failure instead of a protocol error.
func createErrorResponse(operation string, err error) (*mcp.CallToolResult, error) {
	errorData := map[string]interface{}{
		"success":   false,
		"error":     err.Error(),
		"operation": operation,
	}

	var qe *errors.QueryError
	if stderrors.As(err, &qe) {
		errorData["type"] = string(qe.Type)
		if qe.Suggestion != "" {
			errorData["suggestion"] = qe.Suggestion
		}
		if hint, ok := errorHints[qe.Type]; ok {
			errorData["hint"] = hint
		}
	}

	response, marshalErr := createJSONResponse(errorData)
	if marshalErr != nil {
		return nil, marshalErr
	}
	response.IsError = true
	return response, nil
}
