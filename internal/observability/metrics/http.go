package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServerMetrics owns the API server's Prometheus registry: generic HTTP
// request series plus the recall pipeline series. It satisfies
// ports.RecallMetrics so use cases can record without knowing Prometheus.
type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	recallsTotal       *prometheus.CounterVec
	recallCandidates   *prometheus.HistogramVec
	recallDuration     *prometheus.HistogramVec
	cascadeTierTotal   *prometheus.CounterVec
	synthFallbackTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "retrace",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "retrace",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "retrace",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	recallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "retrace",
			Subsystem: "recall",
			Name:      "requests_total",
			Help:      "Total completed recall requests by pipeline mode.",
		},
		[]string{"service", "mode"},
	)
	recallCandidates := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "retrace",
			Subsystem: "recall",
			Name:      "candidates",
			Help:      "Distribution of returned candidates per recall.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		},
		[]string{"service", "mode"},
	)
	recallDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "retrace",
			Subsystem: "recall",
			Name:      "duration_seconds",
			Help:      "Recall pipeline duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "mode"},
	)
	cascadeTierTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "retrace",
			Subsystem: "recall",
			Name:      "cascade_tier_total",
			Help:      "Total searches by deepest cascade tier reached.",
		},
		[]string{"service", "tier"},
	)
	synthFallbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "retrace",
			Subsystem: "recall",
			Name:      "synthesis_fallback_total",
			Help:      "Total syntheses that degraded to the deterministic fallback.",
		},
		[]string{"service", "mode"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		recallsTotal,
		recallCandidates,
		recallDuration,
		cascadeTierTotal,
		synthFallbackTotal,
	)

	return &HTTPServerMetrics{
		registry:           registry,
		service:            service,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		recallsTotal:       recallsTotal,
		recallCandidates:   recallCandidates,
		recallDuration:     recallDuration,
		cascadeTierTotal:   cascadeTierTotal,
		synthFallbackTotal: synthFallbackTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			r.URL.Path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

func (m *HTTPServerMetrics) ObserveRecall(mode string, candidates int, duration time.Duration) {
	if mode == "" {
		mode = "unknown"
	}
	m.recallsTotal.WithLabelValues(m.service, mode).Inc()
	m.recallCandidates.WithLabelValues(m.service, mode).Observe(float64(candidates))
	m.recallDuration.WithLabelValues(m.service, mode).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) CascadeTierReached(tier int) {
	m.cascadeTierTotal.WithLabelValues(m.service, strconv.Itoa(tier)).Inc()
}

func (m *HTTPServerMetrics) SynthesisFallback(mode string) {
	if mode == "" {
		mode = "unknown"
	}
	m.synthFallbackTotal.WithLabelValues(m.service, mode).Inc()
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
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
