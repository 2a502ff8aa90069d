// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpsCommitted counts operations accepted into document logs, by kind.
	OpsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coedit_operations_committed_total",
		Help: "Operations committed to document logs, by operation kind",
	}, []string{"kind"})

	// RebaseDepth tracks how many committed entries a stale submission
	// was transformed across before it could be appended.
	RebaseDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coedit_rebase_depth",
		Help:    "Committed entries a submission was rebased across",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
	})

	// CommitDuration measures submit handling from dequeue to acknowledgment.
	CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coedit_commit_duration_seconds",
		Help:    "Submit handling time from dequeue to acknowledgment",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~400ms
	})

	// SubmitRejected counts rejected submissions by reason.
	SubmitRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coedit_submit_rejected_total",
		Help: "Rejected submissions by reason",
	}, []string{"reason"})

	// ActiveDocuments gauges documents with a live coordinator.
	ActiveDocuments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coedit_active_documents",
		Help: "Documents with a running coordinator",
	})

	// ActiveSessions gauges currently attached editing sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coedit_active_sessions",
		Help: "Attached editing sessions",
	})

	// BroadcastsDropped counts messages discarded because a session's
	// send buffer was full.
	BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coedit_broadcasts_dropped_total",
		Help: "Messages dropped on full session send buffers",
	})

	// PresenceUpdates counts accepted cursor/selection updates.
	PresenceUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coedit_presence_updates_total",
		Help: "Accepted presence updates",
	})

	// CheckpointsPersisted counts snapshots written back to the store.
	CheckpointsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coedit_checkpoints_persisted_total",
		Help: "Document snapshots persisted to the store",
	})

	// StoreRetries counts store calls that failed and were retried.
	StoreRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coedit_store_retries_total",
		Help: "Store calls retried after a transient failure",
	})
)
