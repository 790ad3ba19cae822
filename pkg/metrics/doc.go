// Package metrics provides Prometheus metrics collection and exposition
// for amberio.
//
// The metrics package defines and registers all amberio metrics using the
// Prometheus client library, covering the four surfaces an operator needs
// visibility into: the coordinator's ingress path, the replica-to-replica
// RPC transport, the local part store, and the two background loops
// (anti-entropy and garbage collection).
//
// # Architecture
//
//	+-------------------+     +----------------------+
//	|    Coordinator     |---->| RequestsTotal        |
//	|    ReadPath        |     | RequestDuration      |
//	+-------------------+     | QuorumFailuresTotal  |
//	         |                | ConflictsTotal       |
//	         v                +----------------------+
//	+-------------------+     +----------------------+
//	|   replicarpc       |     | ReplicaRPCDuration   |
//	|   (gRPC transport) |     | ReplicaRPCErrorsTotal|
//	+-------------------+     +----------------------+
//	         |
//	         v
//	+-------------------+     +----------------------+
//	|   partstore        |---->| PartsStagedTotal     |
//	|   (on-disk parts)  |     | PartsDedupedTotal    |
//	+-------------------+     | PartBytesWritten     |
//	                          +----------------------+
//	+-------------------+     +----------------------+
//	|  antientropy / gc  |---->| AntiEntropy*         |
//	|  (background loops)|     | GC*                  |
//	+-------------------+     +----------------------+
//
// All metrics are package-level vars registered at init time via
// prometheus.MustRegister, so any package that imports metrics can record
// against them without a handle being threaded through constructors.
//
// # Metrics catalog
//
// Coordinator / ingress:
//
//	amberio_requests_total{op,outcome}           Counter
//	amberio_request_duration_seconds{op}         Histogram
//	amberio_quorum_failures_total{op}            Counter
//	amberio_conflicts_total                      Counter
//
// op is one of "put", "get", "delete". outcome is "success" or "error",
// plus "from_cache", "quorum_failed" and "conflict" for writes and
// "tombstoned" for get.
// QuorumFailuresTotal increments when a part push reaches fewer replicas
// than the write quorum after all replicas have been attempted.
// ConflictsTotal increments when a write's CommitHead fanout gets fewer
// applied-or-stale acks than the write quorum.
//
// Replica RPC:
//
//	amberio_replica_rpc_duration_seconds{method}  Histogram
//	amberio_replica_rpc_errors_total{method,code}  Counter
//
// method is one of PushPart, CommitHead, FetchHead, FetchPart,
// BucketDigest, BucketList. code is the gRPC status code name returned to
// the caller (see pkg/replicarpc's status mapping). Both metrics are
// registered, but nothing in this module records them.
//
// Part store:
//
//	amberio_parts_staged_total                    Counter
//	amberio_parts_deduped_total                    Counter
//	amberio_part_bytes_written_total               Counter
//
// PartsDedupedTotal counts staged writes that matched an existing part
// already on disk by content hash and size, so no bytes were written.
//
// Anti-entropy:
//
//	amberio_anti_entropy_cycles_total              Counter
//	amberio_anti_entropy_cycle_duration_seconds    Histogram
//	amberio_anti_entropy_heals_total{kind}          Counter
//	amberio_anti_entropy_buckets_diverged_total    Counter
//
// kind is "meta" or "tombstone", matching the head that was repaired.
// AntiEntropyBucketsDiverged counts bucket digest comparisons against a
// peer that did not match, independent of whether a heal followed.
//
// Garbage collection:
//
//	amberio_gc_cycles_total                        Counter
//	amberio_gc_cycle_duration_seconds              Histogram
//	amberio_gc_parts_reclaimed_total                Counter
//	amberio_gc_tombstones_expired_total             Counter
//
// Idempotency cache:
//
//	amberio_idempotency_cache_hits_total            Counter
//	amberio_idempotency_cache_misses_total          Counter
//
// A hit means the coordinator's LookupWrite found the write_id, either in
// the in-memory LRU or durably recorded in the metastore; a miss means it
// was found in neither and the write proceeds.
//
// Membership:
//
//	amberio_replicas_total                          Gauge
//
// Registered for the replica count of the installed membership view;
// nothing in this module sets it, so it stays at zero.
//
// # Usage
//
// Counters and histograms without labels are incremented/observed
// directly:
//
//	metrics.PartsStagedTotal.Inc()
//	metrics.PartBytesWritten.Add(float64(n))
//
// Labeled metrics use WithLabelValues:
//
//	metrics.RequestsTotal.WithLabelValues("put", "success").Inc()
//
// The Timer helper wraps the common start/observe pattern for histograms:
//
//	timer := metrics.NewTimer()
//	defer timer.ObserveDuration(metrics.AntiEntropyCycleDuration)
//
// or, for a labeled histogram:
//
//	timer := metrics.NewTimer()
//	defer timer.ObserveDurationVec(metrics.ReplicaRPCDuration, method)
//
// # Integration points
//
// The coordinator and read path record request-level metrics around
// every Put/Get/Delete. replicarpc's client records no metrics of its
// own. partstore increments the
// staged/deduped/bytes-written counters from StageWrite. The
// antientropy and gc loops record one cycle-duration observation and
// the heals/reclaims counters per tick.
//
// # Exposition
//
// Handler returns the standard promhttp handler; a process embedding
// node.Node is expected to mount it on its own HTTP mux at /metrics if
// it serves one. amberio's core does not start an HTTP server itself
// (see DESIGN.md on why the ingress HTTP surface is out of scope), so
// wiring Handler into a listener is left to the embedding process.
package metrics
