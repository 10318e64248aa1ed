package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/standardbeagle/semidx/internal/debug"
	"github.com/standardbeagle/semidx/internal/errors"
	"github.com/standardbeagle/semidx/internal/metrics"
	"github.com/standardbeagle/semidx/internal/version"
)

// maxRequestBody bounds request decoding; every request is a small JSON object.
const maxRequestBody = 1 << 20

// IndexServer serves a QueryService as JSON over HTTP on a Unix socket.
type IndexServer struct {
	service        *QueryService
	metrics        *metrics.Metrics
	socketPath     string
	requestTimeout time.Duration
	listener       net.Listener
	server         *http.Server
	startTime      time.Time
	shutdownChan   chan struct{}
	shutdownOnce   sync.Once
	wg             sync.WaitGroup
	mu             sync.Mutex
	running        bool
}

// ServerOption configures an IndexServer
type ServerOption func(*IndexServer)

// WithRequestTimeout bounds each RPC. Zero disables the bound.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *IndexServer) { s.requestTimeout = d }
}

// WithServerMetrics exposes m on /metrics.
func WithServerMetrics(m *metrics.Metrics) ServerOption {
	return func(s *IndexServer) { s.metrics = m }
}

// NewIndexServer creates a server for service listening on socketPath once
// started.
func NewIndexServer(service *QueryService, socketPath string, opts ...ServerOption) *IndexServer {
	s := &IndexServer{
		service:      service,
		socketPath:   socketPath,
		startTime:    time.Now(),
		shutdownChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SocketPath returns the socket this server listens on
func (s *IndexServer) SocketPath() string {
	return s.socketPath
}

// Start begins listening for client connections
func (s *IndexServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server already running")
	}

	// A socket left by a crashed leader; the caller holds the lock.
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create socket: %w", err)
	}
	s.listener = listener
	_ = os.Chmod(s.socketPath, 0o600)

	mux := http.NewServeMux()
	s.registerHandlers(mux)
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			debug.LogRPC("server error: %v", err)
		}
	}()

	debug.LogRPC("index server started on %s (pid: %d)", s.socketPath, os.Getpid())
	debug.LogRPC("project root: %s", s.service.Index().RootPath())
	return nil
}

// registerHandlers sets up RPC endpoints
func (s *IndexServer) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /status", s.handleStatus)
	mux.HandleFunc("POST /list-files", s.handleListFiles)
	mux.HandleFunc("POST /find-all-duplicates", s.handleFindAllDuplicates)
	mux.HandleFunc("POST /find-duplicates-in-file", s.handleFindDuplicatesInFile)
	mux.HandleFunc("POST /semantic-search", s.handleSemanticSearch)
	mux.HandleFunc("POST /tree-sitter-query", s.handleTreeSitterQuery)
	mux.HandleFunc("POST /invalidate-file", s.handleInvalidateFile)
	mux.HandleFunc("POST /ping", s.handlePing)
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	mux.Handle("GET /metrics", s.metrics.Handler())
}

// requestContext applies the per-request timeout
func (s *IndexServer) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.requestTimeout > 0 {
		return context.WithTimeout(r.Context(), s.requestTimeout)
	}
	return context.WithCancel(r.Context())
}

// decodeRequest reads an optional JSON body into v. An empty body leaves v
// at its zero value.
func decodeRequest(r *http.Request, op string, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return errors.InvalidQuery(op, fmt.Sprintf("malformed request: %v", err))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.LogRPC("failed to write response: %v", err)
	}
}

// statusFor maps query error types onto HTTP status codes
func statusFor(t errors.ErrorType) int {
	switch t {
	case errors.ErrorTypeNotReady:
		return http.StatusServiceUnavailable
	case errors.ErrorTypeInvalidQuery:
		return http.StatusBadRequest
	case errors.ErrorTypeFileNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, op string, err error) {
	var qe *errors.QueryError
	if !stderrors.As(err, &qe) {
		qe = errors.Internal(op, err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		debug.LogRPC("%s timed out", op)
	}
	body := ErrorBody{
		Type:       string(qe.Type),
		Operation:  qe.Operation,
		Message:    qe.Message,
		Suggestion: qe.Suggestion,
	}
	if qe.Underlying != nil {
		body.Detail = qe.Underlying.Error()
	}
	writeJSON(w, statusFor(qe.Type), ErrorResponse{Error: body})
}

func (s *IndexServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	info, err := s.service.Status(ctx)
	if err != nil {
		writeError(w, OpStatus, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: info})
}

func (s *IndexServer) handleListFiles(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	files, err := s.service.ListFiles(ctx)
	if err != nil {
		writeError(w, OpListFiles, err)
		return
	}
	writeJSON(w, http.StatusOK, ListFilesResponse{Files: files})
}

func (s *IndexServer) handleFindAllDuplicates(w http.ResponseWriter, r *http.Request) {
	var req FindAllDuplicatesRequest
	if err := decodeRequest(r, OpFindAllDuplicates, &req); err != nil {
		writeError(w, OpFindAllDuplicates, err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	clusters, err := s.service.FindAllDuplicates(ctx, req)
	if err != nil {
		writeError(w, OpFindAllDuplicates, err)
		return
	}
	writeJSON(w, http.StatusOK, FindAllDuplicatesResponse{Clusters: clusters})
}

func (s *IndexServer) handleFindDuplicatesInFile(w http.ResponseWriter, r *http.Request) {
	var req FindDuplicatesInFileRequest
	if err := decodeRequest(r, OpFindDuplicatesInFile, &req); err != nil {
		writeError(w, OpFindDuplicatesInFile, err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	results, err := s.service.FindDuplicatesInFile(ctx, req)
	if err != nil {
		writeError(w, OpFindDuplicatesInFile, err)
		return
	}
	writeJSON(w, http.StatusOK, SimilarResponse{Results: results})
}

func (s *IndexServer) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	var req SemanticSearchRequest
	if err := decodeRequest(r, OpSemanticSearch, &req); err != nil {
		writeError(w, OpSemanticSearch, err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	results, err := s.service.SemanticSearch(ctx, req)
	if err != nil {
		writeError(w, OpSemanticSearch, err)
		return
	}
	writeJSON(w, http.StatusOK, SimilarResponse{Results: results})
}

func (s *IndexServer) handleTreeSitterQuery(w http.ResponseWriter, r *http.Request) {
	var req TreeSitterQueryRequest
	if err := decodeRequest(r, OpTreeSitterQuery, &req); err != nil {
		writeError(w, OpTreeSitterQuery, err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	matches, err := s.service.TreeSitterQuery(ctx, req)
	if err != nil {
		writeError(w, OpTreeSitterQuery, err)
		return
	}
	writeJSON(w, http.StatusOK, TreeSitterQueryResponse{Matches: matches})
}

func (s *IndexServer) handleInvalidateFile(w http.ResponseWriter, r *http.Request) {
	var req InvalidateFileRequest
	if err := decodeRequest(r, OpInvalidateFile, &req); err != nil {
		writeError(w, OpInvalidateFile, err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	resp, err := s.service.InvalidateFile(ctx, req)
	if err != nil {
		writeError(w, OpInvalidateFile, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePing responds to health check requests
func (s *IndexServer) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PingResponse{
		Uptime:   time.Since(s.startTime).Seconds(),
		Version:  version.Version,
		BuildID:  version.BuildID(),
		PID:      os.Getpid(),
		RootPath: s.service.Index().RootPath(),
	})
}

// handleShutdown answers first, then signals Wait
func (s *IndexServer) handleShutdown(w http.ResponseWriter, r *http.Request) {
	var req ShutdownRequest
	_ = decodeRequest(r, "shutdown", &req)

	writeJSON(w, http.StatusOK, ShutdownResponse{Success: true, Message: "Server shutting down"})
	debug.LogRPC("shutdown requested (force=%v)", req.Force)
	s.signalShutdown()
}

func (s *IndexServer) signalShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownChan) })
}

// Done is closed when a client requests shutdown.
func (s *IndexServer) Done() <-chan struct{} {
	return s.shutdownChan
}

// Wait blocks until a client requests shutdown
func (s *IndexServer) Wait() {
	<-s.shutdownChan
}

// Shutdown stops accepting connections, waits for in-flight requests up to
// ctx and removes the socket file.
func (s *IndexServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.signalShutdown()

	var shutdownErr error
	if err := s.server.Shutdown(ctx); err != nil {
		shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		_ = s.server.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)

	debug.LogRPC("index server shut down cleanly")
	return shutdownErr
}
