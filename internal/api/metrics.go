package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's prometheus instruments on a private
// registry so tests can create them repeatedly.
type Metrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	queriesTotal    *prometheus.CounterVec
	retrievedChunks prometheus.Histogram
	noContextTotal  prometheus.Counter
	indexedChunks   prometheus.Counter
}

// NewMetrics creates the instrument set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "grag",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "grag",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
		},
	)
	queriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grag",
			Subsystem: "rag",
			Name:      "queries_total",
			Help:      "Total answered queries by mode.",
		},
		[]string{"mode"},
	)
	retrievedChunks := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "grag",
			Subsystem: "rag",
			Name:      "retrieved_chunks",
			Help:      "Distribution of retrieved chunks per query.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)
	noContextTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "grag",
			Subsystem: "rag",
			Name:      "no_context_total",
			Help:      "Total queries answered without retrieved sources.",
		},
	)
	indexedChunks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "grag",
			Subsystem: "index",
			Name:      "indexed_chunks_total",
			Help:      "Total chunks written through the indexing endpoints.",
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		queriesTotal,
		retrievedChunks,
		noContextTotal,
		indexedChunks,
	)

	return &Metrics{
		registry:        registry,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
		queriesTotal:    queriesTotal,
		retrievedChunks: retrievedChunks,
		noContextTotal:  noContextTotal,
		indexedChunks:   indexedChunks,
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware instruments request count, duration, and in-flight gauge.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		path := r.URL.Path
		m.requestTotal.WithLabelValues(r.Method, path, strconv.Itoa(recorder.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordQuery observes one answered query.
func (m *Metrics) RecordQuery(mode string, sourceCount int) {
	if mode == "" {
		mode = "default"
	}
	m.queriesTotal.WithLabelValues(mode).Inc()
	m.retrievedChunks.Observe(float64(sourceCount))
	if sourceCount == 0 {
		m.noContextTotal.Inc()
	}
}

// RecordIndexed counts chunks written by indexing endpoints.
func (m *Metrics) RecordIndexed(chunks int) {
	m.indexedChunks.Add(float64(chunks))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
