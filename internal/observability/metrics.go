package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the indexer.
type Metrics struct {
	// Core processing
	CoreEventsApplied   *prometheus.CounterVec
	CoreEventsRejected  *prometheus.CounterVec
	CoreEventDuration   *prometheus.HistogramVec
	CoreSequence        prometheus.Gauge
	CoreLastBlock       prometheus.Gauge
	CoreEntitiesWritten prometheus.Histogram

	// Idempotency and ordering
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	EventOutOfOrder       prometheus.Counter

	// Domain
	LedgerOverwrites     prometheus.Counter
	ContractReadFailures *prometheus.CounterVec
	RegistrationFailures prometheus.Counter

	// Ingestion
	IngestToApply *prometheus.HistogramVec
	ParseErrors   *prometheus.CounterVec

	// Persistence and fan-out
	PersistBatchDur prometheus.Histogram
	PersistErrors   *prometheus.CounterVec
	PublishFailures prometheus.Counter

	// Query API
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. Tests pass
// a fresh prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.00005, 0.0001, 0.00025, 0.0005,
		0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1,
	}

	return &Metrics{
		CoreEventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "poolindexer_core_events_applied_total",
			Help: "Events successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "poolindexer_core_events_rejected_total",
			Help: "Events not applied (duplicate, out_of_order, integrity, error)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "poolindexer_core_event_apply_duration_seconds",
			Help:    "Time to apply and commit a single event",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "poolindexer_core_sequence",
			Help: "Number of events applied",
		}),

		CoreLastBlock: factory.NewGauge(prometheus.GaugeOpts{
			Name: "poolindexer_core_last_block",
			Help: "Block of the last applied event",
		}),

		CoreEntitiesWritten: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "poolindexer_core_entities_written",
			Help:    "Entities upserted per event",
			Buckets: []float64{1, 2, 4, 8, 12, 16, 24, 32},
		}),

		IdempotencyDuplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "poolindexer_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/store)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "poolindexer_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		EventOutOfOrder: factory.NewCounter(prometheus.CounterOpts{
			Name: "poolindexer_event_out_of_order_total",
			Help: "Events older than the last applied position",
		}),

		LedgerOverwrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "poolindexer_ledger_subrecord_overwrites_total",
			Help: "Ledger sub-records replaced by a same-kind event in the same transaction",
		}),

		ContractReadFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "poolindexer_contract_read_failures_total",
			Help: "Contract reads that fell back to a default",
		}, []string{"method"}),

		RegistrationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "poolindexer_contract_registration_failures_total",
			Help: "Failed contract watch registrations",
		}),

		IngestToApply: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "poolindexer_ingest_to_apply_seconds",
			Help:    "NATS receive to core commit",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		ParseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "poolindexer_ingest_parse_errors_total",
			Help: "Messages that could not be decoded",
		}, []string{"subject"}),

		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "poolindexer_persist_batch_duration_seconds",
			Help:    "Store commit duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "poolindexer_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "poolindexer_publish_failures_total",
			Help: "Change notifications that failed to publish",
		}),

		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "poolindexer_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "poolindexer_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// ContractReadFailed is a chain.Fetcher failure hook.
func (m *Metrics) ContractReadFailed(method string) {
	m.ContractReadFailures.WithLabelValues(method).Inc()
}
