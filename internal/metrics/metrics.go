// Package metrics defines the Prometheus vectors exported by the service:
// promauto-registered vecs at package scope, covering the per-chain,
// per-account, per-stream surface a chain indexer needs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksProcessed counts blocks fully classified+filtered per chain.
	BlocksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subwatcher_blocks_processed_total",
			Help: "Total number of blocks processed",
		},
		[]string{"chain"},
	)

	// RPCCallsTotal counts Chain Client calls per chain and RPC method.
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subwatcher_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"chain", "method"},
	)

	// RPCErrorsTotal counts RPC failures per chain and error class.
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subwatcher_rpc_errors_total",
			Help: "Total number of RPC errors by class",
		},
		[]string{"chain", "class"},
	)

	// FetchLatency tracks Chain Client call latency per chain, observed
	// around each RPC call including its retries.
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subwatcher_fetch_latency_seconds",
			Help:    "Chain Client RPC call latency in seconds, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	// WriterBatchSize tracks the number of WriteBatch entries per flush.
	WriterBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "subwatcher_writer_batch_size",
			Help:    "Number of write batches coalesced per flush",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		},
	)

	// WriterQueueDepth tracks the current writer channel occupancy.
	WriterQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "subwatcher_writer_queue_depth",
			Help: "Current number of pending items in the writer channel",
		},
	)

	// ActiveSessions tracks the number of live controller sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "subwatcher_active_sessions",
			Help: "Number of currently attached client sessions",
		},
	)

	// CheckpointLag tracks a worker's target height minus its last
	// checkpoint marker, per (chain, stream). It carries no account label,
	// so every worker of one chain and stream sets the same series.
	CheckpointLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subwatcher_checkpoint_lag_blocks",
			Help: "Blocks between a worker's target height and its last checkpoint marker",
		},
		[]string{"chain", "stream"},
	)

	// DecodeErrorsTotal counts per-extrinsic decode/classify failures that
	// were skipped rather than failing the whole block.
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subwatcher_decode_errors_total",
			Help: "Total number of per-extrinsic decode errors skipped",
		},
		[]string{"chain"},
	)
)
