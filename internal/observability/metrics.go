// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ledger metrics
	LedgerBatches   *prometheus.CounterVec
	LedgerEntries   prometheus.Counter
	LedgerLatency   prometheus.Histogram
	HistorySinkErrs prometheus.Counter

	// Deposit metrics
	DepositTransitions *prometheus.CounterVec
	DepositsCredited   *prometheus.CounterVec
	ReversalProposals  prometheus.Counter

	// Withdrawal metrics
	WithdrawalOutcomes *prometheus.CounterVec
	LimitRejections    *prometheus.CounterVec
	PayoutSubmissions  *prometheus.CounterVec

	// Exchange metrics
	SwapsTotal   *prometheus.CounterVec
	BridgesTotal *prometheus.CounterVec

	// External collaborator metrics
	ExternalCallLatency *prometheus.HistogramVec
	ExternalCallErrors  *prometheus.CounterVec

	// Watcher metrics
	WatcherMessages   *prometheus.CounterVec
	WatcherReconnects *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "custody_ledger"
	}

	return &Metrics{
		// Ledger metrics
		LedgerBatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "batches_total",
			Help:      "Total number of ledger batches by result (recorded, replayed, rejected)",
		}, []string{"result"}),
		LedgerEntries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "entries_written_total",
			Help:      "Total number of ledger entries written",
		}),
		LedgerLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "record_duration_seconds",
			Help:      "Latency of ledger record calls",
			Buckets:   prometheus.DefBuckets,
		}),
		HistorySinkErrs: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "history_sink_errors_total",
			Help:      "Total number of failed history sink appends",
		}),

		// Deposit metrics
		DepositTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposits",
			Name:      "transitions_total",
			Help:      "Total number of deposit status transitions by network and status",
		}, []string{"network", "status"}),
		DepositsCredited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposits",
			Name:      "credited_total",
			Help:      "Total number of deposits credited by asset",
		}, []string{"asset"}),
		ReversalProposals: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposits",
			Name:      "reversal_proposals_total",
			Help:      "Total number of reversal proposals raised after reorgs",
		}),

		// Withdrawal metrics
		WithdrawalOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawals",
			Name:      "outcomes_total",
			Help:      "Total number of withdrawal status changes by status",
		}, []string{"status"}),
		LimitRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawals",
			Name:      "limit_rejections_total",
			Help:      "Total number of withdrawals rejected by limit kind",
		}, []string{"kind"}),
		PayoutSubmissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawals",
			Name:      "payout_submissions_total",
			Help:      "Total number of payout submissions by result",
		}, []string{"result"}),

		// Exchange metrics
		SwapsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "swaps_total",
			Help:      "Total number of swaps by pair and result",
		}, []string{"pair", "result"}),
		BridgesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "bridges_total",
			Help:      "Total number of bridge transfers by destination chain and status",
		}, []string{"to_chain", "status"}),

		// External collaborator metrics
		ExternalCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "external",
			Name:      "call_duration_seconds",
			Help:      "Latency of calls to external services",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"service", "operation"}),
		ExternalCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "external",
			Name:      "call_errors_total",
			Help:      "Total number of failed calls to external services",
		}, []string{"service", "operation"}),

		// Watcher metrics
		WatcherMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "messages_total",
			Help:      "Total number of chain watcher messages by transport and result",
		}, []string{"transport", "result"}),
		WatcherReconnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "reconnects_total",
			Help:      "Total number of watcher feed reconnects by transport",
		}, []string{"transport"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// HTTP metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests by route and status code",
		}, []string{"route", "code"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordLedgerBatch records a ledger record call.
func RecordLedgerBatch(result string, entries int, seconds float64) {
	DefaultMetrics.LedgerBatches.WithLabelValues(result).Inc()
	if result == "recorded" {
		DefaultMetrics.LedgerEntries.Add(float64(entries))
	}
	DefaultMetrics.LedgerLatency.Observe(seconds)
}

// RecordHistorySinkError increments the history sink error counter.
func RecordHistorySinkError() {
	DefaultMetrics.HistorySinkErrs.Inc()
}

// RecordDepositTransition records a deposit reaching status.
func RecordDepositTransition(network, status string) {
	DefaultMetrics.DepositTransitions.WithLabelValues(network, status).Inc()
}

// RecordDepositCredited increments the credited deposits counter.
func RecordDepositCredited(asset string) {
	DefaultMetrics.DepositsCredited.WithLabelValues(asset).Inc()
}

// RecordReversalProposal increments the reversal proposals counter.
func RecordReversalProposal() {
	DefaultMetrics.ReversalProposals.Inc()
}

// RecordWithdrawal records a withdrawal reaching status.
func RecordWithdrawal(status string) {
	DefaultMetrics.WithdrawalOutcomes.WithLabelValues(status).Inc()
}

// RecordLimitRejection records a withdrawal rejected by a limit.
func RecordLimitRejection(kind string) {
	DefaultMetrics.LimitRejections.WithLabelValues(kind).Inc()
}

// RecordPayoutSubmission records a payout submission attempt.
func RecordPayoutSubmission(result string) {
	DefaultMetrics.PayoutSubmissions.WithLabelValues(result).Inc()
}

// RecordSwap records a swap attempt.
func RecordSwap(from, to, result string) {
	DefaultMetrics.SwapsTotal.WithLabelValues(from+"/"+to, result).Inc()
}

// RecordBridge records a bridge transfer status change.
func RecordBridge(toChain, status string) {
	DefaultMetrics.BridgesTotal.WithLabelValues(toChain, status).Inc()
}

// RecordExternalCall records an external service call.
func RecordExternalCall(service, operation string, seconds float64, err error) {
	DefaultMetrics.ExternalCallLatency.WithLabelValues(service, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.ExternalCallErrors.WithLabelValues(service, operation).Inc()
	}
}

// RecordWatcherMessage records a chain watcher message.
func RecordWatcherMessage(transport, result string) {
	DefaultMetrics.WatcherMessages.WithLabelValues(transport, result).Inc()
}

// RecordWatcherReconnect records a watcher feed reconnect.
func RecordWatcherReconnect(transport string) {
	DefaultMetrics.WatcherReconnects.WithLabelValues(transport).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordHTTPRequest records a served API request.
func RecordHTTPRequest(route string, code int) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, statusLabel(code)).Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	}
	return "2xx"
}
