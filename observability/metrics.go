package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every ledger collector.
const Namespace = "stakeledger"

// LedgerMetrics wraps collectors tracking ledger operations and pool health.
type LedgerMetrics struct {
	requests     *prometheus.CounterVec
	errors       *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	throttles    *prometheus.CounterVec
	totalStaked  *prometheus.GaugeVec
	totalWeight  *prometheus.GaugeVec
	accumulator  *prometheus.GaugeVec
	rewardFunds  *prometheus.GaugeVec
	dust         *prometheus.CounterVec
	stranded     *prometheus.CounterVec
	pauseEngaged *prometheus.GaugeVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// Ledger returns the lazily-initialised metrics registry for the ledger.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Total ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ledger",
				Name:      "errors_total",
				Help:      "Count of ledger failures segmented by operation and error kind.",
			}, []string{"operation", "kind"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ledger",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"reason"}),
			totalStaked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "pool",
				Name:      "total_staked",
				Help:      "Principal held by the pool in base units.",
			}, []string{"pool"}),
			totalWeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "pool",
				Name:      "total_weight",
				Help:      "Sum of multiplier-weighted stake in the pool.",
			}, []string{"pool"}),
			accumulator: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "pool",
				Name:      "acc_reward_per_weight",
				Help:      "Fixed-point reward accumulator of the pool.",
			}, []string{"pool"}),
			rewardFunds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "pool",
				Name:      "reward_funds",
				Help:      "Unclaimed reward ledger balance of the pool.",
			}, []string{"pool"}),
			dust: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "revenue",
				Name:      "split_dust_total",
				Help:      "Base units left undistributed by bucket floor rounding.",
			}, []string{"pool"}),
			stranded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "revenue",
				Name:      "stranded_rewards_total",
				Help:      "Staking buckets injected while the pool had no weight.",
			}, []string{"pool"}),
			pauseEngaged: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "ledger",
				Name:      "pause_engaged",
				Help:      "Indicates whether a module pause guard is active (1) or not (0).",
			}, []string{"module"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.requests,
			ledgerRegistry.errors,
			ledgerRegistry.latency,
			ledgerRegistry.throttles,
			ledgerRegistry.totalStaked,
			ledgerRegistry.totalWeight,
			ledgerRegistry.accumulator,
			ledgerRegistry.rewardFunds,
			ledgerRegistry.dust,
			ledgerRegistry.stranded,
			ledgerRegistry.pauseEngaged,
		)
	})
	return ledgerRegistry
}

// Observe records the outcome of a ledger operation. kind is the error
// classification and is ignored on success.
func (m *LedgerMetrics) Observe(operation string, duration time.Duration, kind string, err error) {
	if m == nil {
		return
	}
	op := label(operation)
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(op, label(kind)).Inc()
	}
	m.requests.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for reason.
func (m *LedgerMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(label(reason)).Inc()
}

// RecordPool updates the per-pool gauges.
func (m *LedgerMetrics) RecordPool(pool string, staked uint64, weight, acc *uint256.Int, rewardFunds uint64) {
	if m == nil {
		return
	}
	pool = label(pool)
	m.totalStaked.WithLabelValues(pool).Set(float64(staked))
	m.totalWeight.WithLabelValues(pool).Set(u256ToFloat(weight))
	m.accumulator.WithLabelValues(pool).Set(u256ToFloat(acc))
	m.rewardFunds.WithLabelValues(pool).Set(float64(rewardFunds))
}

// RecordDistribution counts rounding dust and stranded staking buckets.
func (m *LedgerMetrics) RecordDistribution(pool string, dust uint64, stranded bool) {
	if m == nil {
		return
	}
	pool = label(pool)
	if dust > 0 {
		m.dust.WithLabelValues(pool).Add(float64(dust))
	}
	if stranded {
		m.stranded.WithLabelValues(pool).Inc()
	}
}

// SetPause toggles the pause_engaged gauge for module.
func (m *LedgerMetrics) SetPause(module string, engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.pauseEngaged.WithLabelValues(label(module)).Set(1)
		return
	}
	m.pauseEngaged.WithLabelValues(label(module)).Set(0)
}

func label(v string) string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func u256ToFloat(value *uint256.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value.ToBig()).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
