package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ledger engine.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreSequence       prometheus.Gauge

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	ApplyToPersist      prometheus.Histogram
	NATSPullLatency     *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PersistBackpressure prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Curve & Settlement ---
	EpochsSettled        prometheus.Counter
	EpochRequestsSettled prometheus.Counter
	EpochQuoteIn         prometheus.Counter
	EpochTokensIssued    prometheus.Counter
	EpochSettleDuration  prometheus.Histogram
	CurvePosition        prometheus.Gauge
	CurvePrice           prometheus.Gauge
	PoolReserve          prometheus.Gauge
	QueueDepth           prometheus.Gauge

	// --- Fees & Policy ---
	FeesSplit       *prometheus.CounterVec
	PolicyUbiBps    prometheus.Gauge
	PolicyVersion   prometheus.Gauge
	PolicyAdjusted  *prometheus.CounterVec

	// --- UBI ---
	UbiDistributions *prometheus.CounterVec
	UbiTotalPaid     *prometheus.CounterVec
	UbiClaimants     *prometheus.CounterVec
	UbiInsufficient  *prometheus.CounterVec

	// --- Impact ---
	FlowsRecorded      *prometheus.CounterVec
	AssetTransfers     prometheus.Counter
	RemediationMatches prometheus.Counter
	RemediationRetired prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot & Replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "econ_core_events_applied_total",
			Help: "Events successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "econ_core_events_rejected_total",
			Help: "Events rejected (dedup, gap, validation)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "econ_core_event_apply_duration_seconds",
			Help:    "Time to apply a single event in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "econ_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "econ_core_sequence",
			Help: "Current global sequence number",
		}),

		// Latency
		IngestToApply: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "econ_ingest_to_apply_seconds",
			Help:    "NATS receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"event_type"}),

		ApplyToPersist: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "econ_apply_to_persist_seconds",
			Help:    "Core emit to Postgres commit",
			Buckets: latencyBuckets,
		}),

		NATSPullLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "econ_nats_pull_latency_seconds",
			Help:    "NATS pull request latency",
			Buckets: ingestBuckets,
		}, []string{"subject"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "econ_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "econ_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "econ_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "econ_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "econ_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "econ_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}, []string{"projection"}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "econ_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "econ_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "econ_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "econ_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		EventSequenceGap: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "econ_event_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"partition"}),

		EventOutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "econ_event_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		// Curve & Settlement
		EpochsSettled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "econ_epochs_settled_total",
			Help: "Epoch settlements applied",
		}),

		EpochRequestsSettled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "econ_epoch_requests_settled_total",
			Help: "Purchase requests filled across all epochs",
		}),

		EpochQuoteIn: promauto.NewCounter(prometheus.CounterOpts{
			Name: "econ_epoch_quote_in_total",
			Help: "Quote currency absorbed into the pool reserve",
		}),

		EpochTokensIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "econ_epoch_tokens_issued_total",
			Help: "Tokens minted by epoch settlement",
		}),

		EpochSettleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "econ_epoch_settle_duration_seconds",
			Help:    "Time to settle one epoch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),

		CurvePosition: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "econ_curve_position",
			Help: "Tokens issued to date",
		}),

		CurvePrice: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "econ_curve_price",
			Help: "Current marginal price (price scale)",
		}),

		PoolReserve: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "econ_pool_reserve",
			Help: "Quote currency held in the pool reserve",
		}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "econ_queue_depth",
			Help: "Purchase requests awaiting settlement",
		}),

		// Fees & Policy
		FeesSplit: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "econ_fees_split_total",
			Help: "Fee amounts routed per destination",
		}, []string{"destination"}),

		PolicyUbiBps: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "econ_policy_ubi_bps",
			Help: "Active UBI share in basis points",
		}),

		PolicyVersion: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "econ_policy_version",
			Help: "Active fee policy version",
		}),

		PolicyAdjusted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "econ_policy_adjusted_total",
			Help: "Controller adjustments by direction",
		}, []string{"direction"}),

		// UBI
		UbiDistributions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "econ_ubi_distributions_total",
			Help: "Completed period distributions",
		}, []string{"bioregion"}),

		UbiTotalPaid: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "econ_ubi_total_paid",
			Help: "Quote currency paid out as basic income",
		}, []string{"bioregion"}),

		UbiClaimants: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "econ_ubi_claimants_total",
			Help: "Claims created",
		}, []string{"bioregion"}),

		UbiInsufficient: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "econ_ubi_insufficient_pool_total",
			Help: "Distributions rejected for insufficient pool",
		}, []string{"bioregion"}),

		// Impact
		FlowsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "econ_impact_flows_recorded_total",
			Help: "Compound flows recorded",
		}, []string{"compound"}),

		AssetTransfers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "econ_impact_asset_transfers_total",
			Help: "Asset impact accounts transferred",
		}),

		RemediationMatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "econ_remediation_matches_total",
			Help: "Remediation matches settled",
		}),

		RemediationRetired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "econ_remediation_retired_total",
			Help: "Physical units retired by matching",
		}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "econ_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "econ_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "econ_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "econ_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "econ_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "econ_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot & Replay
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "econ_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "econ_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "econ_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "econ_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "econ_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "econ_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "econ_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "econ_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
