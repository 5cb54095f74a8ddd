package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce             sync.Once
	httpDurationHistogram    *prometheus.HistogramVec
	ledgerImbalanceCounter   *prometheus.CounterVec
	idempotencyCounter       *prometheus.CounterVec
	approvalQueueGauge       prometheus.Gauge
	transitionCounter        *prometheus.CounterVec
	confirmationEventCounter *prometheus.CounterVec
	broadcastCounter         *prometheus.CounterVec
	workerRunCounter         *prometheus.CounterVec
	rateLookupCounter        *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		ledgerImbalanceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_imbalance_total",
			Help: "Number of balances that diverged from their transactions",
		}, []string{"network"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		approvalQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "admin_approval_queue_size",
			Help: "Current number of manual requests waiting for an admin",
		})

		transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transaction_transitions_total",
			Help: "Transaction status transitions",
		}, []string{"kind", "status"})

		confirmationEventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "confirmation_events_total",
			Help: "Confirmation events by outcome",
		}, []string{"network", "outcome"})

		broadcastCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawal_broadcasts_total",
			Help: "Signer broadcast outcomes",
		}, []string{"network", "result"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		rateLookupCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_lookups_total",
			Help: "Rate oracle lookups by outcome",
		}, []string{"network", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			ledgerImbalanceCounter,
			idempotencyCounter,
			approvalQueueGauge,
			transitionCounter,
			confirmationEventCounter,
			broadcastCounter,
			workerRunCounter,
			rateLookupCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementLedgerImbalance(network string) {
	if ledgerImbalanceCounter == nil {
		return
	}
	ledgerImbalanceCounter.WithLabelValues(network).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func SetApprovalQueueSize(size int64) {
	if approvalQueueGauge == nil {
		return
	}
	approvalQueueGauge.Set(float64(size))
}

func IncrementTransition(kind, status string) {
	if transitionCounter == nil {
		return
	}
	transitionCounter.WithLabelValues(kind, status).Inc()
}

func IncrementConfirmationEvent(network, outcome string) {
	if confirmationEventCounter == nil {
		return
	}
	confirmationEventCounter.WithLabelValues(network, outcome).Inc()
}

func IncrementBroadcast(network, result string) {
	if broadcastCounter == nil {
		return
	}
	broadcastCounter.WithLabelValues(network, result).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementRateLookup(network, result string) {
	if rateLookupCounter == nil {
		return
	}
	rateLookupCounter.WithLabelValues(network, result).Inc()
}
