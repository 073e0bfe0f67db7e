package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "token_layer"

var (
	// Registry holds the application-specific Prometheus collectors.
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

	ledgerTransactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transactions_total",
			Help:      "Ledger transaction attempts by kind and outcome.",
		},
		[]string{"kind", "result"},
	)

	ledgerTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tokens_moved_total",
			Help:      "Tokens moved by committed transactions, by kind.",
		},
		[]string{"kind"},
	)

	ledgerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transaction_duration_seconds",
			Help:      "Time spent applying ledger transactions.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
		[]string{"kind"},
	)

	cardsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cards",
			Name:      "created_total",
			Help:      "Cards created, split by user and system filler.",
		},
		[]string{"author"},
	)

	interactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cards",
			Name:      "interactions_total",
			Help:      "Card interactions by type and outcome.",
		},
		[]string{"type", "result"},
	)

	auditRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "runs_total",
			Help:      "Ledger audit runs by outcome.",
		},
		[]string{"result"},
	)

	auditViolations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "violations",
			Help:      "Invariant violations found by the last audit run.",
		},
	)

	streamSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Open websocket transaction streams.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerTransactions,
		ledgerTokens,
		ledgerDuration,
		cardsCreated,
		interactions,
		auditRuns,
		auditViolations,
		streamSubscribers,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
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

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordTransaction records a ledger attempt. amount is only counted when
// the transaction committed.
func RecordTransaction(kind string, amount int64, duration time.Duration, err error) {
	if kind == "" {
		kind = "unknown"
	}
	if duration <= 0 {
		duration = time.Microsecond
	}
	ledgerTransactions.WithLabelValues(kind, resultLabel(err)).Inc()
	ledgerDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if err == nil && amount > 0 {
		ledgerTokens.WithLabelValues(kind).Add(float64(amount))
	}
}

// RecordCardCreated counts a stored card.
func RecordCardCreated(filler bool) {
	author := "user"
	if filler {
		author = "system"
	}
	cardsCreated.WithLabelValues(author).Inc()
}

// RecordInteraction counts a card interaction attempt.
func RecordInteraction(kind string, err error) {
	interactions.WithLabelValues(kind, resultLabel(err)).Inc()
}

// RecordAuditRun records the outcome of a ledger audit.
func RecordAuditRun(violations int, err error) {
	switch {
	case err != nil:
		auditRuns.WithLabelValues("error").Inc()
		return
	case violations > 0:
		auditRuns.WithLabelValues("violations").Inc()
	default:
		auditRuns.WithLabelValues("clean").Inc()
	}
	auditViolations.Set(float64(violations))
}

// StreamOpened and StreamClosed track websocket subscribers.
func StreamOpened() { streamSubscribers.Inc() }

func StreamClosed() { streamSubscribers.Dec() }

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

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

// Hijack keeps websocket upgrades working behind the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// canonicalPath collapses ids so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 2 && parts[0] == "api" {
		parts = parts[2:]
	}
	if len(parts) == 0 {
		return "/"
	}
	if parts[0] != "cards" || len(parts) < 2 {
		return "/" + strings.Join(parts, "/")
	}
	switch parts[1] {
	case "feed", "mine":
		return "/cards/" + parts[1]
	}
	if len(parts) == 2 {
		return "/cards/:id"
	}
	return "/cards/:id/" + parts[2]
}
