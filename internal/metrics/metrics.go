package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WithdrawalsTotal tracks withdrawal lifecycle events by pool and status
	WithdrawalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundsettle_withdrawals_total",
			Help: "The total number of withdrawal status transitions",
		},
		[]string{"pool", "status"}, // initiated, liquidating, ready_to_finalize, completed, failed
	)

	// LiquidationsTotal tracks liquidation legs by outcome
	LiquidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundsettle_liquidations_total",
			Help: "The total number of liquidation attempts",
		},
		[]string{"pool", "outcome"}, // liquidated, no_route, dust_skipped, execution_failed, already_done
	)

	// LiquidationSeconds tracks time taken per liquidation leg
	LiquidationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fundsettle_liquidation_seconds",
			Help:    "Time taken to quote and execute one liquidation leg",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
		},
		[]string{"route"},
	)

	// SettledAmount tracks reference-asset amounts paid out by recipient role
	SettledAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundsettle_settled_amount_total",
			Help: "Reference-asset base units paid out at finalization",
		},
		[]string{"pool", "recipient"}, // investor, operator, treasury, platform
	)

	// DepositsTotal tracks deposits by status
	DepositsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundsettle_deposits_total",
			Help: "The total number of deposit attempts",
		},
		[]string{"pool", "status"}, // success, duplicate, failed
	)

	// PoolNAV tracks the latest estimated pool value
	PoolNAV = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fundsettle_pool_nav",
			Help: "Latest estimated pool value in reference-asset base units",
		},
		[]string{"pool"},
	)

	// PriceLookups tracks oracle lookups by source
	PriceLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundsettle_price_lookups_total",
			Help: "The total number of price oracle lookups",
		},
		[]string{"source"}, // cache, quote, stale, unpriced
	)

	// ActiveWithdrawals tracks the number of in-flight withdrawal requests
	ActiveWithdrawals = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fundsettle_active_withdrawals",
		Help: "The number of withdrawal requests not yet completed or failed",
	})

	// JobRuns tracks scheduled job executions
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundsettle_job_runs_total",
			Help: "The total number of scheduled job runs",
		},
		[]string{"job", "status"}, // success, failed, skipped
	)

	// HTTPRequestDuration tracks API request latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fundsettle_http_request_duration_seconds",
			Help:    "Time taken to serve API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)

// RecordWithdrawal records a withdrawal reaching status
func RecordWithdrawal(pool, status string) {
	WithdrawalsTotal.WithLabelValues(pool, status).Inc()
}

// RecordLiquidation records a liquidation attempt and its duration
func RecordLiquidation(pool, outcome, route string, duration float64) {
	LiquidationsTotal.WithLabelValues(pool, outcome).Inc()
	if route != "" {
		LiquidationSeconds.WithLabelValues(route).Observe(duration)
	}
}

// RecordSettlement records the amounts paid out by a finalized withdrawal
func RecordSettlement(pool string, investor, operator, treasury, platform uint64) {
	SettledAmount.WithLabelValues(pool, "investor").Add(float64(investor))
	SettledAmount.WithLabelValues(pool, "operator").Add(float64(operator))
	SettledAmount.WithLabelValues(pool, "treasury").Add(float64(treasury))
	SettledAmount.WithLabelValues(pool, "platform").Add(float64(platform))
}

// RecordDeposit records a deposit attempt with the given status
func RecordDeposit(pool, status string) {
	DepositsTotal.WithLabelValues(pool, status).Inc()
}

// SetPoolNAV sets the latest valuation of a pool
func SetPoolNAV(pool string, nav uint64) {
	PoolNAV.WithLabelValues(pool).Set(float64(nav))
}

// RecordPriceLookup records where a price came from
func RecordPriceLookup(source string) {
	PriceLookups.WithLabelValues(source).Inc()
}

// RecordJobRun records a scheduled job execution
func RecordJobRun(job, status string) {
	JobRuns.WithLabelValues(job, status).Inc()
}

// RecordHTTPRequest records the latency of an API request
func RecordHTTPRequest(method, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, status).Observe(duration)
}
