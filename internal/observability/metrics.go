package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the vault daemon.
type Metrics struct {
	// --- Engine ---
	OpsTotal      *prometheus.CounterVec
	OpDuration    *prometheus.HistogramVec
	TotalDeposits prometheus.Gauge
	TotalAssets   prometheus.Gauge
	Paused        prometheus.Gauge
	EventSequence prometheus.Gauge

	// --- Access ---
	AuthRejected     *prometheus.CounterVec
	ReplayCacheSize  prometheus.Gauge
	ReplayExpired    prometheus.Counter
	TokenTransfers   *prometheus.CounterVec
	TokenTransferDur *prometheus.HistogramVec

	// --- Relay ---
	RelayPublished  *prometheus.CounterVec
	RelayErrors     *prometheus.CounterVec
	RelayRetry      *prometheus.CounterVec
	RelayLag        *prometheus.GaugeVec
	RelayBatchDur   *prometheus.HistogramVec
	RelayLastCursor *prometheus.GaugeVec

	// --- API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates the vault metrics and registers them with reg.
// A nil reg registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	opBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05, 0.25, 1, 5,
	}

	return &Metrics{
		OpsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_operations_total",
			Help: "Vault operations by name and result",
		}, []string{"op", "result"}),

		OpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_operation_duration_seconds",
			Help:    "Vault operation latency including commit",
			Buckets: opBuckets,
		}, []string{"op"}),

		TotalDeposits: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_total_deposits",
			Help: "Sum of on-ledger balances in token units",
		}),

		TotalAssets: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_total_assets",
			Help: "Agent-reported assets under management in token units",
		}),

		Paused: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_paused",
			Help: "1 while the vault is paused",
		}),

		EventSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_event_sequence",
			Help: "Sequence of the last committed event",
		}),

		AuthRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_auth_rejected_total",
			Help: "Signed requests rejected before reaching the engine",
		}, []string{"op"}),

		ReplayCacheSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_replay_cache_size",
			Help: "Nonces held by the replay guard",
		}),

		ReplayExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_replay_cache_expired_total",
			Help: "Nonces aged out of the replay guard",
		}),

		TokenTransfers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_token_transfers_total",
			Help: "Token gateway transfers by direction and result",
		}, []string{"direction", "result"}),

		TokenTransferDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_token_transfer_duration_seconds",
			Help:    "Token gateway transfer latency",
			Buckets: opBuckets,
		}, []string{"direction"}),

		RelayPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_relay_published_total",
			Help: "Events delivered to a sink",
		}, []string{"sink"}),

		RelayErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_relay_errors_total",
			Help: "Failed sink deliveries",
		}, []string{"sink"}),

		RelayRetry: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_relay_retry_total",
			Help: "Delivery retries",
		}, []string{"sink"}),

		RelayLag: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_relay_lag_events",
			Help: "Committed events not yet delivered to a sink",
		}, []string{"sink"}),

		RelayBatchDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_relay_batch_duration_seconds",
			Help:    "Time to deliver one batch to a sink",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}, []string{"sink"}),

		RelayLastCursor: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_relay_cursor",
			Help: "Last sequence delivered to a sink",
		}, []string{"sink"}),

		APIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_api_requests_total",
			Help: "API requests by method and status code",
		}, []string{"method", "code"}),

		APIDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_api_duration_seconds",
			Help:    "API request latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
		}, []string{"method"}),
	}
}
