package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"slug", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sessionctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"slug", "method", "path", "status"},
	)
	sessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sessionctl",
			Name:      "sessions_active",
			Help:      "Sessions currently owned by the local registry.",
		},
		[]string{"slug"},
	)
	transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionctl",
			Name:      "transactions_total",
			Help:      "Session build transactions by outcome.",
		},
		[]string{"slug", "outcome"},
	)
	remoteCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionctl",
			Name:      "remote_calls_total",
			Help:      "Calls issued to peer registries.",
		},
		[]string{"slug", "op", "result"},
	)
)

// Transaction outcomes.
const (
	OutcomeStarted   = "started"
	OutcomeCommitted = "committed"
	OutcomeDiscarded = "discarded"
	OutcomeExpired   = "expired"
	OutcomeReset     = "reset"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, sessionsActive, transactions, remoteCalls)
	})
}

func RecordHTTPRequest(slug, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(slug, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(slug, method, path, statusLabel).Observe(duration.Seconds())
}

func SetActiveSessions(slug string, n int) {
	RegisterMetrics()
	sessionsActive.WithLabelValues(slug).Set(float64(n))
}

func RecordTransaction(slug, outcome string) {
	RegisterMetrics()
	transactions.WithLabelValues(slug, outcome).Inc()
}

func RecordRemoteCall(slug, op string, err error) {
	RegisterMetrics()
	result := "ok"
	if err != nil {
		result = "error"
	}
	remoteCalls.WithLabelValues(slug, op, result).Inc()
}
