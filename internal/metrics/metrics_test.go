package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/semidx/internal/types"
)

func TestObserveRPC(t *testing.T) {
	m := New()
	m.ObserveRPC("status", "ok", 2*time.Millisecond)
	m.ObserveRPC("status", "ok", time.Millisecond)
	m.ObserveRPC("semantic_search", "not_ready", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RPCRequests.WithLabelValues("status", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCRequests.WithLabelValues("semantic_search", "not_ready")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.RPCDuration))
}

func TestSetIndexStatus(t *testing.T) {
	m := New()
	m.SetIndexStatus(types.IndexStatusInfo{
		FilesTotal:    10,
		FilesParsed:   10,
		FilesEmbedded: 7,
		ChunkCount:    42,
		Languages:     map[string]types.LanguageStats{"go": {Files: 6}, "python": {Files: 4}},
	})

	assert.Equal(t, 10.0, testutil.ToFloat64(m.FilesTotal))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.FilesEmbedded))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.Chunks))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Ready))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.LanguageFiles.WithLabelValues("go")))

	m.SetIndexStatus(types.IndexStatusInfo{IsReady: true, Languages: map[string]types.LanguageStats{"go": {Files: 1}}})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ready))
	assert.Equal(t, 1, testutil.CollectAndCount(m.LanguageFiles), "stale languages dropped")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRPC("status", "ok", time.Millisecond)
	m.SetIndexStatus(types.IndexStatusInfo{})
	m.RecordRefresh("added")
	m.RecordEmbeddings("hash", 3)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RecordRefresh("updated")
	m.RecordEmbeddings("hash-porter2", 5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `semidx_index_refreshes_total{result="updated"} 1`), body)
	assert.True(t, strings.Contains(body, `semidx_embedding_texts_total{model="hash-porter2"} 5`), body)
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestCodebaseStats(t *testing.T) {
	cs := NewCodebaseStats()
	cs.Add(FileSummary{Path: "a/main.go", Language: "go", Size: 100, Chunks: 3})
	cs.Add(FileSummary{Path: "a/util.go", Language: "go", Size: 50, Chunks: 1})
	cs.Add(FileSummary{Path: "tool.py", Language: "python", Size: 2048, Chunks: 2})

	assert.Equal(t, int64(3), cs.TotalFiles)
	assert.Equal(t, int64(6), cs.TotalChunks)
	assert.Equal(t, int64(2198), cs.TotalSizeBytes)
	assert.Equal(t, int64(2), cs.LanguageDistribution["go"].FileExtensions[".go"])

	langs := cs.Languages()
	assert.Equal(t, types.LanguageStats{Files: 2, Chunks: 4, TotalBytes: 150}, langs["go"])
	assert.Equal(t, types.LanguageStats{Files: 1, Chunks: 2, TotalBytes: 2048}, langs["python"])

	summary := cs.Summary()
	assert.True(t, strings.HasPrefix(summary, "3 files, 6 chunks, 2.1 KiB"), summary)
	assert.Less(t, strings.Index(summary, "go"), strings.Index(summary, "python"))

	assert.Nil(t, NewCodebaseStats().Languages())
}
