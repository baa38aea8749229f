// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the sync worker.
type Metrics struct {
	// Decode metrics
	EventsDecoded prometheus.Counter
	DecodeErrors  prometheus.Counter
	TxSkipped     *prometheus.CounterVec

	// Apply metrics
	EventsApplied *prometheus.CounterVec
	ApplyErrors   *prometheus.CounterVec

	// Buffer metrics
	BufferedSlots   prometheus.Gauge
	HighestSlotSeen prometheus.Gauge

	// Solana client metrics
	RPCCallLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Journal metrics
	JournalWrites prometheus.Counter
	JournalErrors prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "escrow_sync"
	}

	return &Metrics{
		EventsDecoded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_decoded_total",
			Help:      "Total number of escrow events decoded from transaction logs",
		}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "decode_errors_total",
			Help:      "Total number of transactions dropped due to malformed event payloads",
		}),
		TxSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "transactions_skipped_total",
			Help:      "Total number of transactions skipped by reason",
		}, []string{"reason"}),

		EventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "events_applied_total",
			Help:      "Total number of events applied to the database by kind",
		}, []string{"kind"}),
		ApplyErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "apply_errors_total",
			Help:      "Total number of event application errors by kind",
		}, []string{"kind"}),

		BufferedSlots: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "buffered_slots",
			Help:      "Current number of slots held in the ordering buffer",
		}),
		HighestSlotSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "highest_slot_seen",
			Help:      "Highest Solana slot number seen",
		}),

		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		JournalWrites: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "writes_total",
			Help:      "Total number of event journal records written",
		}),
		JournalErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "write_errors_total",
			Help:      "Total number of event journal write failures",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventDecoded increments the events decoded counter.
func RecordEventDecoded() {
	DefaultMetrics.EventsDecoded.Inc()
}

// RecordDecodeError increments the decode errors counter.
func RecordDecodeError() {
	DefaultMetrics.DecodeErrors.Inc()
}

// RecordTxSkipped records a skipped transaction by reason.
func RecordTxSkipped(reason string) {
	DefaultMetrics.TxSkipped.WithLabelValues(reason).Inc()
}

// RecordEventApplied increments the applied counter for an event kind.
func RecordEventApplied(kind string) {
	DefaultMetrics.EventsApplied.WithLabelValues(kind).Inc()
}

// RecordApplyError increments the apply error counter for an event kind.
func RecordApplyError(kind string) {
	DefaultMetrics.ApplyErrors.WithLabelValues(kind).Inc()
}

// UpdateBufferedSlots updates the ordering buffer gauge.
func UpdateBufferedSlots(slots int) {
	DefaultMetrics.BufferedSlots.Set(float64(slots))
}

// UpdateHighestSlot updates the highest slot seen gauge.
func UpdateHighestSlot(slot int64) {
	DefaultMetrics.HighestSlotSeen.Set(float64(slot))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordJournalWrite records an event journal append.
func RecordJournalWrite(err error) {
	if err != nil {
		DefaultMetrics.JournalErrors.Inc()
		return
	}
	DefaultMetrics.JournalWrites.Inc()
}
