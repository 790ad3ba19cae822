package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Coordinator request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amberio_requests_total",
			Help: "Total number of ingress requests by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amberio_request_duration_seconds",
			Help:    "Ingress request duration in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	QuorumFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amberio_quorum_failures_total",
			Help: "Total number of writes that failed to reach write quorum",
		},
		[]string{"op"},
	)

	ConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amberio_conflicts_total",
			Help: "Total number of writes that lost the generation race",
		},
	)

	// Replica RPC metrics
	ReplicaRPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amberio_replica_rpc_duration_seconds",
			Help:    "Replica-to-replica RPC duration in seconds by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	ReplicaRPCErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amberio_replica_rpc_errors_total",
			Help: "Total number of replica RPC failures by method and code",
		},
		[]string{"method", "code"},
	)

	// Part store metrics
	PartsStagedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amberio_parts_staged_total",
			Help: "Total number of parts written to the local part store",
		},
	)

	PartsDedupedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amberio_parts_deduped_total",
			Help: "Total number of staged parts that matched an existing part on disk",
		},
	)

	PartBytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amberio_part_bytes_written_total",
			Help: "Total number of part bytes written to local disk",
		},
	)

	// Anti-entropy metrics
	AntiEntropyCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amberio_anti_entropy_cycles_total",
			Help: "Total number of anti-entropy cycles completed",
		},
	)

	AntiEntropyCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "amberio_anti_entropy_cycle_duration_seconds",
			Help:    "Time taken for an anti-entropy cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AntiEntropyHealsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amberio_anti_entropy_heals_total",
			Help: "Total number of heads repaired by anti-entropy by kind",
		},
		[]string{"kind"},
	)

	AntiEntropyBucketsDiverged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amberio_anti_entropy_buckets_diverged_total",
			Help: "Total number of bucket digest mismatches observed across peers",
		},
	)

	// Garbage collection metrics
	GCCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amberio_gc_cycles_total",
			Help: "Total number of garbage collection cycles completed",
		},
	)

	GCCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "amberio_gc_cycle_duration_seconds",
			Help:    "Time taken for a garbage collection cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	GCPartsReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amberio_gc_parts_reclaimed_total",
			Help: "Total number of orphaned parts removed from disk",
		},
	)

	GCTombstonesExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amberio_gc_tombstones_expired_total",
			Help: "Total number of tombstones removed after retention window",
		},
	)

	// Idempotency cache metrics
	IdempotencyCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amberio_idempotency_cache_hits_total",
			Help: "Total number of writes resolved from the idempotency cache",
		},
	)

	IdempotencyCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amberio_idempotency_cache_misses_total",
			Help: "Total number of writes not found in the idempotency cache",
		},
	)

	// Membership metrics
	ReplicasTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "amberio_replicas_total",
			Help: "Total number of replicas in the current membership view",
		},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(QuorumFailuresTotal)
	prometheus.MustRegister(ConflictsTotal)
	prometheus.MustRegister(ReplicaRPCDuration)
	prometheus.MustRegister(ReplicaRPCErrorsTotal)
	prometheus.MustRegister(PartsStagedTotal)
	prometheus.MustRegister(PartsDedupedTotal)
	prometheus.MustRegister(PartBytesWritten)
	prometheus.MustRegister(AntiEntropyCyclesTotal)
	prometheus.MustRegister(AntiEntropyCycleDuration)
	prometheus.MustRegister(AntiEntropyHealsTotal)
	prometheus.MustRegister(AntiEntropyBucketsDiverged)
	prometheus.MustRegister(GCCyclesTotal)
	prometheus.MustRegister(GCCycleDuration)
	prometheus.MustRegister(GCPartsReclaimedTotal)
	prometheus.MustRegister(GCTombstonesExpiredTotal)
	prometheus.MustRegister(IdempotencyCacheHitsTotal)
	prometheus.MustRegister(IdempotencyCacheMissesTotal)
	prometheus.MustRegister(ReplicasTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
