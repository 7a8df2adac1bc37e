// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics records nothing.
type Metrics struct {
	// Ledger operations
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	TokensMoved       *prometheus.CounterVec

	// Relay
	RelayDecisions *prometheus.CounterVec

	// Pool state, refreshed by the stats job
	PoolTotalStaked   *prometheus.GaugeVec
	PoolPendingReward *prometheus.GaugeVec
	PoolUsers         *prometheus.GaugeVec
	StatsRefreshed    prometheus.Gauge

	// Delivery
	EventEmitErrors *prometheus.CounterVec
	RPCCallLatency  *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "dextra_ledger"
	}
	factory := promauto.With(reg)

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by name and result (ok or error kind)",
		}, []string{"operation", "result"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		TokensMoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tokens_moved_total",
			Help:      "Raw token units moved by committed operations",
		}, []string{"operation", "pool_id"}),

		RelayDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "decisions_total",
			Help:      "Masscall outcomes by capability or rejection",
		}, []string{"decision"}),

		PoolTotalStaked: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "total_staked",
			Help:      "Sum of user balances per pool",
		}, []string{"pool_id"}),
		PoolPendingReward: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "pending_reward",
			Help:      "Reward accrued but not yet claimed per pool",
		}, []string{"pool_id"}),
		PoolUsers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "users",
			Help:      "Accounts with a non-zero balance per pool",
		}, []string{"pool_id"}),
		StatsRefreshed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "stats_refreshed_timestamp",
			Help:      "Unix timestamp of the last pool stats refresh",
		}),

		EventEmitErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "emit_errors_total",
			Help:      "Events that failed to reach at least one sink",
		}, []string{"event_type"}),
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordOperation records one ledger operation.
func (m *Metrics) RecordOperation(op, result string, seconds float64) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(op, result).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(seconds)
}

// RecordTokensMoved adds amount to the moved-tokens counter.
func (m *Metrics) RecordTokensMoved(op string, poolID uint64, amount uint64) {
	if m == nil {
		return
	}
	m.TokensMoved.WithLabelValues(op, strconv.FormatUint(poolID, 10)).Add(float64(amount))
}

// RecordRelay records a masscall decision.
func (m *Metrics) RecordRelay(decision string) {
	if m == nil {
		return
	}
	m.RelayDecisions.WithLabelValues(decision).Inc()
}

// RecordEmitError records an event that failed delivery.
func (m *Metrics) RecordEmitError(eventType string) {
	if m == nil {
		return
	}
	m.EventEmitErrors.WithLabelValues(eventType).Inc()
}

// RecordRPCLatency records RPC call latency.
func (m *Metrics) RecordRPCLatency(method string, seconds float64) {
	if m == nil {
		return
	}
	m.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// UpdatePoolStats sets the per-pool gauges.
func (m *Metrics) UpdatePoolStats(poolID uint64, staked, pending uint64, users int, refreshedAt int64) {
	if m == nil {
		return
	}
	id := strconv.FormatUint(poolID, 10)
	m.PoolTotalStaked.WithLabelValues(id).Set(float64(staked))
	m.PoolPendingReward.WithLabelValues(id).Set(float64(pending))
	m.PoolUsers.WithLabelValues(id).Set(float64(users))
	m.StatsRefreshed.Set(float64(refreshedAt))
}
