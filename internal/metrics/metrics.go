package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "walletd"

var (
	// Registry holds the walletd Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	bootStages = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "boot",
			Name:      "stage_duration_seconds",
			Help:      "Duration of boot stages.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"stage", "outcome"},
	)

	bootResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "boot",
			Name:      "results_total",
			Help:      "Boot attempts by outcome.",
		},
		[]string{"result"},
	)

	syncTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "ticks_total",
			Help:      "Sync ticks by result.",
		},
		[]string{"result"},
	)

	syncHealth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "health",
			Help:      "Sync health: 0 healthy, 1 degraded, 2 failed.",
		},
	)

	engineCalls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "call_duration_seconds",
			Help:      "Duration of engine calls.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"op", "status"},
	)

	guardDetections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "existing_instance_total",
			Help:      "Times another running instance was detected at startup.",
		},
	)

	subscriptionChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "checks_total",
			Help:      "Subscription checks by result.",
		},
		[]string{"result"},
	)

	streamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "clients",
			Help:      "Connected snapshot stream clients.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		bootStages,
		bootResults,
		syncTicks,
		syncHealth,
		engineCalls,
		guardDetections,
		subscriptionChecks,
		streamClients,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// Paths are labelled with the chi route pattern to bound cardinality.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := routePattern(r)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordBootStage records how long a boot stage ran and how it ended.
func RecordBootStage(stage, outcome string, duration time.Duration) {
	bootStages.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

// RecordBootResult counts a finished boot attempt ("ok", "needs_password" or
// an error kind).
func RecordBootResult(result string) {
	bootResults.WithLabelValues(result).Inc()
}

// RecordSyncTick counts a sync tick ("ok", "skipped", "failed", "price_fallback").
func RecordSyncTick(result string) {
	syncTicks.WithLabelValues(result).Inc()
}

// SetSyncHealth publishes the sync health level.
func SetSyncHealth(level int) {
	syncHealth.Set(float64(level))
}

// RecordEngineCall records an engine call's latency.
func RecordEngineCall(op string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	engineCalls.WithLabelValues(op, status).Observe(duration.Seconds())
}

// RecordGuardDetection counts an existing-instance detection.
func RecordGuardDetection() {
	guardDetections.Inc()
}

// RecordSubscriptionCheck counts a subscription check ("ok", "none",
// "failed", "grace").
func RecordSubscriptionCheck(result string) {
	subscriptionChecks.WithLabelValues(result).Inc()
}

// StreamClientConnected and StreamClientDisconnected track the snapshot
// stream.
func StreamClientConnected()    { streamClients.Inc() }
func StreamClientDisconnected() { streamClients.Dec() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
