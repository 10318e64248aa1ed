package server

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/semidx/internal/config"
	"github.com/standardbeagle/semidx/internal/errors"
	"github.com/standardbeagle/semidx/internal/metrics"
	"github.com/standardbeagle/semidx/internal/version"
)

// testSocketPath keeps socket paths short; t.TempDir can exceed the
// sun_path limit on some systems.
func testSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "semidx")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func startServer(t *testing.T, svc *QueryService, opts ...ServerOption) (*IndexServer, *Client) {
	t.Helper()
	srv := NewIndexServer(svc, testSocketPath(t), opts...)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	client := NewClient(srv.SocketPath(), 5*time.Second)
	t.Cleanup(client.Close)
	return srv, client
}

func TestRoundTripEveryMethod(t *testing.T) {
	m := metrics.New()
	root, svc := newReadyService(t, m)
	_, client := startServer(t, svc, WithServerMetrics(m))
	ctx := context.Background()

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.IsReady)
	assert.Equal(t, int64(3), status.FilesTotal)
	assert.Equal(t, root, status.RootPath)
	assert.Equal(t, "keyword", status.ModelName)

	files, err := client.ListFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.py", "c.go"}, files)

	clusters, err := client.FindAllDuplicates(ctx, FindAllDuplicatesRequest{MinSimilarity: float32p(0.9), MinChunkBytes: intp(0)})
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, []string{"a.go:Alpha", "b.py:alpha"}, refNames(clusters[0].Chunks))

	hits, err := client.FindDuplicatesInFile(ctx, FindDuplicatesInFileRequest{File: "c.go", MinSimilarity: float32p(0.9)})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.py:beta"}, hitNames(hits))
	require.NotNil(t, hits[0].Source)
	assert.Equal(t, "Beta", hits[0].Source.Name)

	hits, err = client.SemanticSearch(ctx, SemanticSearchRequest{Text: "ALPHA", TopK: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go:Alpha", "b.py:alpha"}, hitNames(hits))
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)

	matches, err := client.TreeSitterQuery(ctx, TreeSitterQueryRequest{Query: `(function_declaration name: (identifier) @name)`, Language: "go"})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "name", matches[0].Captures[0].Name)
	assert.Equal(t, "identifier", matches[0].Captures[0].Kind)

	writeFiles(t, root, map[string]string{"c.go": "package sample\n\nfunc Beta() string {\n\treturn \"alpha now\"\n}\n"})
	inv, err := client.InvalidateFile(ctx, InvalidateFileRequest{File: "c.go"})
	require.NoError(t, err)
	assert.Equal(t, "updated", inv.Result)

	hits, err = client.SemanticSearch(ctx, SemanticSearchRequest{Text: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go:Alpha", "b.py:alpha", "c.go:Beta"}, hitNames(hits))

	resp, err := client.httpClient.Get("http://unix/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `semidx_rpc_requests_total{method="semantic_search",status="ok"} 2`)
}

func TestErrorKindsSurviveTheSocket(t *testing.T) {
	_, svc := newReadyService(t, nil)
	_, client := startServer(t, svc)
	ctx := context.Background()

	_, err := client.TreeSitterQuery(ctx, TreeSitterQueryRequest{Query: `(nope`, Language: "go"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidQuery)
	assert.Equal(t, errors.ErrorTypeInvalidQuery, errors.TypeOf(err))

	_, err = client.FindDuplicatesInFile(ctx, FindDuplicatesInFileRequest{File: "b.yp"})
	require.Error(t, err)
	var qe *errors.QueryError
	require.True(t, stderrors.As(err, &qe))
	assert.Equal(t, errors.ErrorTypeFileNotFound, qe.Type)
	assert.Equal(t, OpFindDuplicatesInFile, qe.Operation)
	assert.Equal(t, "b.py", qe.Suggestion)
}

func TestNotReadyOverTheSocket(t *testing.T) {
	root, ic := newIndex(t, fixture, nil)
	svc := NewQueryService(ic, DefaultsFromConfig(config.Default(root)), nil)
	_, client := startServer(t, svc)
	ctx := context.Background()

	_, err := client.SemanticSearch(ctx, SemanticSearchRequest{Text: "alpha"})
	assert.ErrorIs(t, err, errors.ErrNotReady)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.IsReady)

	err = client.WaitForReady(ctx, 50*time.Millisecond)
	assert.Error(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := ic.Build(context.Background(), 2)
		done <- err
	}()
	require.NoError(t, client.WaitForReady(ctx, 10*time.Second))
	require.NoError(t, <-done)

	_, err = client.SemanticSearch(ctx, SemanticSearchRequest{Text: "alpha"})
	assert.NoError(t, err)
}

func TestConcurrentClients(t *testing.T) {
	_, svc := newReadyService(t, nil)
	_, client := startServer(t, svc)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				hits, err := client.SemanticSearch(ctx, SemanticSearchRequest{Text: "beta"})
				assert.NoError(t, err)
				assert.Len(t, hits, 2)
				return
			}
			_, err := client.InvalidateFile(ctx, InvalidateFileRequest{File: "a.go"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
}

func TestPingAndShutdown(t *testing.T) {
	_, svc := newReadyService(t, nil)
	srv, client := startServer(t, svc)
	ctx := context.Background()

	ping, err := client.Ping(ctx)
	require.NoError(t, err)
	assert.Equal(t, version.BuildID(), ping.BuildID)
	assert.Equal(t, version.Version, ping.Version)
	assert.Equal(t, os.Getpid(), ping.PID)
	assert.True(t, client.IsServerRunning(ctx))

	require.NoError(t, client.Shutdown(ctx, false))
	select {
	case <-srv.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown was not signalled")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(shutdownCtx))
	require.NoError(t, srv.Shutdown(shutdownCtx), "second shutdown is a no-op")

	_, err = os.Stat(srv.SocketPath())
	assert.True(t, os.IsNotExist(err), "socket removed on shutdown")
	assert.False(t, client.IsServerRunning(ctx))
}

func TestStartTwiceFails(t *testing.T) {
	_, svc := newReadyService(t, nil)
	srv, _ := startServer(t, svc)
	assert.Error(t, srv.Start())
}

func TestMalformedRequest(t *testing.T) {
	_, svc := newReadyService(t, nil)
	_, client := startServer(t, svc)

	resp, err := client.httpClient.Post("http://unix/semantic-search", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
	err = decodeError(OpSemanticSearch, resp)
	assert.ErrorIs(t, err, errors.ErrInvalidQuery)
}
