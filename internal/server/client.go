package server

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/standardbeagle/semidx/internal/errors"
	"github.com/standardbeagle/semidx/internal/types"
)

// DefaultClientTimeout bounds a single RPC when no timeout is configured.
const DefaultClientTimeout = 30 * time.Second

// Client talks to the leader's IndexServer over its Unix socket. Query errors
// returned by the server come back as *errors.QueryError.
type Client struct {
	httpClient *http.Client
	socketPath string
}

// NewClient creates a client for the server at socketPath. timeout <= 0
// uses DefaultClientTimeout.
func NewClient(socketPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: timeout,
	}

	return &Client{
		httpClient: httpClient,
		socketPath: socketPath,
	}
}

// SocketPath returns the socket the client dials
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Close releases idle connections
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// call posts req (nil for an empty body) to path and decodes the answer into
// resp. Non-2xx answers are decoded into a *errors.QueryError.
func (c *Client) call(ctx context.Context, op, path string, req, resp interface{}) error {
	var body io.Reader = http.NoBody
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://unix"+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: failed to reach server at %s: %w", op, c.socketPath, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return decodeError(op, httpResp)
	}
	if resp == nil {
		return nil
	}
	if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError rebuilds the server's query error. Bodies that are not an
// error envelope become internal errors carrying the raw text.
func decodeError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxRequestBody))
	var envelope ErrorResponse
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Type == "" {
		return errors.Internal(op, fmt.Errorf("server error (%d): %s", resp.StatusCode, bytes.TrimSpace(raw)))
	}
	e := envelope.Error
	qe := errors.NewQueryError(errors.ErrorType(e.Type), e.Operation, e.Message, nil)
	qe.Suggestion = e.Suggestion
	if e.Detail != "" {
		qe.Underlying = stderrors.New(e.Detail)
	}
	return qe
}

// Status retrieves the current index status
func (c *Client) Status(ctx context.Context) (types.IndexStatusInfo, error) {
	var resp StatusResponse
	err := c.call(ctx, OpStatus, "/status", nil, &resp)
	return resp.Status, err
}

// ListFiles lists the files the leader tracks
func (c *Client) ListFiles(ctx context.Context) ([]string, error) {
	var resp ListFilesResponse
	if err := c.call(ctx, OpListFiles, "/list-files", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// FindAllDuplicates returns every cross-file duplicate cluster
func (c *Client) FindAllDuplicates(ctx context.Context, req FindAllDuplicatesRequest) ([]types.DuplicateCluster, error) {
	var resp FindAllDuplicatesResponse
	if err := c.call(ctx, OpFindAllDuplicates, "/find-all-duplicates", req, &resp); err != nil {
		return nil, err
	}
	return resp.Clusters, nil
}

// FindDuplicatesInFile ranks chunks elsewhere against one file's chunks
func (c *Client) FindDuplicatesInFile(ctx context.Context, req FindDuplicatesInFileRequest) ([]types.SimilarChunkResult, error) {
	var resp SimilarResponse
	if err := c.call(ctx, OpFindDuplicatesInFile, "/find-duplicates-in-file", req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// SemanticSearch ranks chunks against free text
func (c *Client) SemanticSearch(ctx context.Context, req SemanticSearchRequest) ([]types.SimilarChunkResult, error) {
	var resp SimilarResponse
	if err := c.call(ctx, OpSemanticSearch, "/semantic-search", req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// TreeSitterQuery runs an S-expression query on the leader
func (c *Client) TreeSitterQuery(ctx context.Context, req TreeSitterQueryRequest) ([]types.QueryMatch, error) {
	var resp TreeSitterQueryResponse
	if err := c.call(ctx, OpTreeSitterQuery, "/tree-sitter-query", req, &resp); err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

// InvalidateFile asks the leader to re-index one file
func (c *Client) InvalidateFile(ctx context.Context, req InvalidateFileRequest) (*InvalidateFileResponse, error) {
	var resp InvalidateFileResponse
	if err := c.call(ctx, OpInvalidateFile, "/invalidate-file", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping sends a health check to the server
func (c *Client) Ping(ctx context.Context) (*PingResponse, error) {
	var resp PingResponse
	if err := c.call(ctx, "ping", "/ping", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IsServerRunning checks if the server is accessible
func (c *Client) IsServerRunning(ctx context.Context) bool {
	_, err := c.Ping(ctx)
	return err == nil
}

// Shutdown requests the server to shut down
func (c *Client) Shutdown(ctx context.Context, force bool) error {
	var resp ShutdownResponse
	if err := c.call(ctx, "shutdown", "/shutdown", ShutdownRequest{Force: force}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("shutdown failed: %s", resp.Message)
	}
	return nil
}

// WaitForReady polls status until the index is ready or timeout passes
func (c *Client) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		status, err := c.Status(ctx)
		if err == nil && status.IsReady {
			return nil
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("timeout waiting for index to be ready: %w", err)
			}
			return fmt.Errorf("timeout waiting for index to be ready (%d/%d files parsed, %d embedded)",
				status.FilesParsed, status.FilesTotal, status.FilesEmbedded)
		case <-ticker.C:
		}
	}
}
