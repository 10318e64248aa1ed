// Package metrics exposes Prometheus instrumentation for the query service
// and the index build.
//
// Each Metrics owns its registry so several servers (and tests) can live in
// one process. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/standardbeagle/semidx/internal/types"
)

const namespace = "semidx"

type Metrics struct {
	registry *prometheus.Registry

	// RPCRequests counts calls by method and outcome.
	// Labels: method (status, semantic_search, ...), status (ok, not_ready, invalid_query, ...)
	RPCRequests *prometheus.CounterVec

	// RPCDuration measures handler latency.
	// Labels: method
	RPCDuration *prometheus.HistogramVec

	FilesTotal    prometheus.Gauge
	FilesParsed   prometheus.Gauge
	FilesEmbedded prometheus.Gauge
	Chunks        prometheus.Gauge
	Ready         prometheus.Gauge

	// LanguageFiles tracks indexed files per language.
	// Labels: language
	LanguageFiles *prometheus.GaugeVec

	// Refreshes counts single-file refreshes.
	// Labels: result (updated, added, removed, error)
	Refreshes *prometheus.CounterVec

	// Embeddings counts texts sent to the embedder.
	// Labels: model
	Embeddings *prometheus.CounterVec
}

// New creates a Metrics with its own registry, including the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RPCRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "RPC calls by method and outcome",
		}, []string{"method", "status"}),
		RPCDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "RPC handler latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		FilesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "files_total",
			Help:      "Files discovered for indexing",
		}),
		FilesParsed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "files_parsed",
			Help:      "Files parsed so far",
		}),
		FilesEmbedded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "files_embedded",
			Help:      "Files embedded so far",
		}),
		Chunks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "chunks",
			Help:      "Semantic chunks held in memory",
		}),
		Ready: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "ready",
			Help:      "1 once the initial build has parsed and embedded every file",
		}),
		LanguageFiles: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "language_files",
			Help:      "Indexed files per language",
		}, []string{"language"}),
		Refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "refreshes_total",
			Help:      "Single-file refreshes by result",
		}, []string{"result"}),
		Embeddings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "texts_total",
			Help:      "Texts sent to the embedding model",
		}, []string{"model"}),
	}
}

// Registry returns the registry the metrics are registered in.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRPC(method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RPCRequests.WithLabelValues(method, status).Inc()
	m.RPCDuration.WithLabelValues(method).Observe(d.Seconds())
}

// SetIndexStatus mirrors a status snapshot into the gauges.
func (m *Metrics) SetIndexStatus(info types.IndexStatusInfo) {
	if m == nil {
		return
	}
	m.FilesTotal.Set(float64(info.FilesTotal))
	m.FilesParsed.Set(float64(info.FilesParsed))
	m.FilesEmbedded.Set(float64(info.FilesEmbedded))
	m.Chunks.Set(float64(info.ChunkCount))
	if info.IsReady {
		m.Ready.Set(1)
	} else {
		m.Ready.Set(0)
	}
	m.LanguageFiles.Reset()
	for lang, s := range info.Languages {
		m.LanguageFiles.WithLabelValues(lang).Set(float64(s.Files))
	}
}

func (m *Metrics) RecordRefresh(result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordEmbeddings(model string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Embeddings.WithLabelValues(model).Add(float64(n))
}
