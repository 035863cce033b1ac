package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "polyvault_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyvault_operations_total",
		Help: "Vault operations by name and outcome",
	}, []string{"op", "status"})

	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyvault_rejections_total",
		Help: "Rejected vault operations by error kind",
	}, []string{"kind"})

	TotalAssets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polyvault_total_assets",
		Help: "Adjusted total assets in whole asset units",
	})

	SharePrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polyvault_share_price",
		Help: "Adjusted assets per share",
	})

	LockedProfit = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polyvault_locked_profit",
		Help: "Profit not yet released into the share price, in whole units",
	})

	QueuePending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polyvault_queue_pending",
		Help: "Withdraw requests waiting for settlement",
	})

	Paused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polyvault_paused",
		Help: "1 when the vault is paused",
	})

	FeeShares = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyvault_fee_shares_minted_total",
		Help: "Fee shares minted, in whole share units",
	}, []string{"kind"})

	HarvestResult = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyvault_harvest_total",
		Help: "Harvested profit and loss in whole units",
	}, []string{"result"})

	BreakerViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyvault_breaker_violations_total",
		Help: "Circuit breaker violations by reason",
	}, []string{"reason"})
)
