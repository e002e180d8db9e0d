// Package metrics exposes the storage node's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	NoncesAdmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storagenode_nonces_admitted_total",
			Help: "Total number of nonces admitted, by signer.",
		},
		[]string{"signer"},
	)

	NoncesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storagenode_nonces_rejected_total",
			Help: "Total number of nonces rejected as stale or out of order.",
		},
		[]string{"signer"},
	)

	MutationsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storagenode_mutations_written_total",
			Help: "Total number of mutations committed to the mutation store.",
		},
	)

	BlocksClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storagenode_blocks_closed_total",
			Help: "Total number of blocks closed by the block producer.",
		},
	)

	RollupBytesRaw = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storagenode_rollup_raw_bytes_total",
			Help: "Total raw bytes rolled up to the archive.",
		},
	)

	RollupBytesCompressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storagenode_rollup_compressed_bytes_total",
			Help: "Total compressed bytes uploaded to the archive.",
		},
	)

	RollupRecordsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storagenode_rollup_records_total",
			Help: "Total number of rollup records written.",
		},
	)

	GCRecordsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storagenode_gc_records_total",
			Help: "Total number of gc records written.",
		},
	)

	SubscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "storagenode_subscriptions_active",
			Help: "Current number of active subscriptions.",
		},
	)

	SubscriberEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storagenode_subscriber_events_dropped_total",
			Help: "Total number of block events dropped due to a full subscriber queue.",
		},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storagenode_api_requests_total",
			Help: "Total API requests by method and status.",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		NoncesAdmitted,
		NoncesRejected,
		MutationsWritten,
		BlocksClosed,
		RollupBytesRaw,
		RollupBytesCompressed,
		RollupRecordsWritten,
		GCRecordsWritten,
		SubscriptionsActive,
		SubscriberEventsDropped,
		APIRequestsTotal,
	)
}

// Handler returns the HTTP handler serving the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
