// Package metrics exposes the service's Prometheus collectors on a private
// registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	ledgerAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_ledger_adjustments_total",
			Help: "Ledger adjustments by transaction type and result",
		},
		[]string{"type", "result"},
	)

	paymentResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_payment_resolutions_total",
			Help: "Payment state changes by provider, status and the path that resolved them",
		},
		[]string{"provider", "status", "source"},
	)

	leadUnlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_lead_unlocks_total",
			Help: "Lead unlock attempts by result",
		},
		[]string{"result"},
	)

	voucherIssues = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_voucher_issues_total",
			Help: "Voucher issuance attempts by tier and result",
		},
		[]string{"tier", "result"},
	)

	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_sweep_runs_total",
			Help: "Reconciliation sweep runs by result",
		},
		[]string{"result"},
	)

	outboxMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_outbox_messages_total",
			Help: "Outbox relay attempts by topic and result",
		},
		[]string{"topic", "result"},
	)

	invariantBreaches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_invariant_breaches_total",
			Help: "Conditions that must never happen; alert on any increase",
		},
		[]string{"kind"},
	)
)

func init() {
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		ledgerAdjustments,
		paymentResolutions,
		leadUnlocks,
		voucherIssues,
		sweepRuns,
		outboxMessages,
		invariantBreaches,
	)
}

func Registry() *prometheus.Registry {
	return registry
}

func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// Middleware records request counts and latency keyed by route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func RecordLedgerAdjustment(txType, result string) {
	ledgerAdjustments.WithLabelValues(txType, result).Inc()
}

func RecordPaymentResolution(provider, status, source string) {
	paymentResolutions.WithLabelValues(provider, status, source).Inc()
}

func RecordUnlock(result string) {
	leadUnlocks.WithLabelValues(result).Inc()
}

func RecordVoucherIssue(tier, result string) {
	voucherIssues.WithLabelValues(tier, result).Inc()
}

func RecordSweepRun(result string) {
	sweepRuns.WithLabelValues(result).Inc()
}

func RecordOutbox(topic, result string) {
	outboxMessages.WithLabelValues(topic, result).Inc()
}

func RecordInvariantBreach(kind string) {
	invariantBreaches.WithLabelValues(kind).Inc()
}
