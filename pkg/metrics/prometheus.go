package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the agent's Prometheus metric set.
type Metrics struct {
	// RPC metrics
	GRPCRequestsTotal    *prometheus.CounterVec
	GRPCRequestDuration  *prometheus.HistogramVec
	GRPCRequestsInFlight prometheus.Gauge

	// Inference metrics
	InferenceStreamsTotal *prometheus.CounterVec
	InferenceChunksTotal  *prometheus.CounterVec
	InferenceDuration     *prometheus.HistogramVec
	ModelPullsTotal       *prometheus.CounterVec

	// Coordinator metrics
	HeartbeatsTotal  *prometheus.CounterVec
	HeartbeatRTT     prometheus.Histogram
	CoordinatorState *prometheus.GaugeVec

	// Host/system metrics
	FreeRAMMB      prometheus.Gauge
	FreeVRAMMB     prometheus.Gauge
	ActiveSessions prometheus.Gauge
	QuantizationTier *prometheus.GaugeVec

	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics builds and registers the agent's metric set.
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		GRPCRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "grpc_requests_total",
				Help:      "Total number of gRPC requests",
			},
			[]string{"method", "status"},
		),

		GRPCRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "grpc_request_duration_seconds",
				Help:      "Duration of gRPC requests",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),

		GRPCRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "grpc_requests_in_flight",
				Help:      "Current number of gRPC requests being processed",
			},
		),

		InferenceStreamsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "inference_streams_total",
				Help:      "Total number of StreamInference calls, by outcome",
			},
			[]string{"status"},
		),

		InferenceChunksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "inference_chunks_total",
				Help:      "Total number of streamed inference chunks delivered",
			},
			[]string{"model"},
		),

		InferenceDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "inference_duration_seconds",
				Help:      "Duration of a StreamInference call start to close",
				Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"model"},
		),

		ModelPullsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "model_pulls_total",
				Help:      "Total number of on-demand model pulls from the backend",
			},
			[]string{"status"},
		),

		HeartbeatsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "heartbeats_total",
				Help:      "Total number of heartbeats sent to the coordinator, by outcome",
			},
			[]string{"status"},
		),

		HeartbeatRTT: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "heartbeat_rtt_seconds",
				Help:      "Round-trip time of successful heartbeats",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),

		CoordinatorState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "coordinator_state",
				Help:      "1 for the agent's current coordinator lifecycle state, 0 otherwise",
			},
			[]string{"state"},
		),

		FreeRAMMB: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "free_ram_mb",
				Help:      "Free host RAM in megabytes, from the last telemetry sample",
			},
		),

		FreeVRAMMB: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "free_vram_mb",
				Help:      "Free GPU VRAM in megabytes, from the last telemetry sample",
			},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "active_sessions",
				Help:      "Current number of open StreamInference sessions",
			},
		),

		QuantizationTier: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "quantization_tier",
				Help:      "1 for the currently recommended quantization tier, 0 otherwise",
			},
			[]string{"tier"},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service information",
			},
			[]string{"version", "environment"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metric set, initializing it with defaults if
// InitMetrics has not yet been called.
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("titancompute", "agent")
	}
	return defaultMetrics
}

// RecordGRPCRequest records one completed gRPC call.
func (m *Metrics) RecordGRPCRequest(method string, status string, duration time.Duration) {
	m.GRPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordInferenceStream records one completed StreamInference call.
func (m *Metrics) RecordInferenceStream(model, status string, duration time.Duration, chunks int) {
	m.InferenceStreamsTotal.WithLabelValues(status).Inc()
	m.InferenceDuration.WithLabelValues(model).Observe(duration.Seconds())
	m.InferenceChunksTotal.WithLabelValues(model).Add(float64(chunks))
}

// RecordModelPull records the outcome of an on-demand model pull.
func (m *Metrics) RecordModelPull(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.ModelPullsTotal.WithLabelValues(status).Inc()
}

// RecordHeartbeat records one heartbeat round trip.
func (m *Metrics) RecordHeartbeat(success bool, rtt time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.HeartbeatsTotal.WithLabelValues(status).Inc()
	if success {
		m.HeartbeatRTT.Observe(rtt.Seconds())
	}
}

// SetCoordinatorState flips the gauge for the current state on and every
// other known state off.
func (m *Metrics) SetCoordinatorState(states []string, current string) {
	for _, s := range states {
		value := 0.0
		if s == current {
			value = 1.0
		}
		m.CoordinatorState.WithLabelValues(s).Set(value)
	}
}

// SetQuantizationTier flips the gauge for the currently recommended tier.
func (m *Metrics) SetQuantizationTier(tiers []string, current string) {
	for _, t := range tiers {
		value := 0.0
		if t == current {
			value = 1.0
		}
		m.QuantizationTier.WithLabelValues(t).Set(value)
	}
}

// SetHostSample records the last telemetry sample's free RAM/VRAM and
// session count.
func (m *Metrics) SetHostSample(freeRAMMB, freeVRAMMB, activeSessions int) {
	m.FreeRAMMB.Set(float64(freeRAMMB))
	m.FreeVRAMMB.Set(float64(freeVRAMMB))
	m.ActiveSessions.Set(float64(activeSessions))
}

// SetServiceInfo publishes static version/environment labels.
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler returns the HTTP handler serving /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts the HTTP server exposing /metrics and /health.
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
