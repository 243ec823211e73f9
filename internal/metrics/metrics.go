// Package metrics provides Prometheus instrumentation for the ingest pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "udp_ingest"

var (
	// Gateway protocol
	PacketsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "UDP datagrams received, by packet type",
		},
		[]string{"type"},
	)
	PacketsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "UDP datagrams dropped before processing, by reason",
		},
		[]string{"reason"},
	)
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Datagrams waiting for the processing goroutine",
		},
	)

	// Records and frames
	RecordsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rejected_total",
			Help:      "rxpk records skipped, by reason",
		},
		[]string{"reason"},
	)
	FramesDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_duplicate_total",
			Help:      "Frames suppressed by the deduplication window",
		},
	)
	FramesDecrypted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decrypted_total",
			Help:      "Frames decrypted and handed to the dispatcher",
		},
	)

	// Dispatcher
	DecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Application decoder failures",
		},
	)
	ForwardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwards_total",
			Help:      "Ingest forwards by sink and result",
		},
		[]string{"sink", "result"},
	)
	ForwardDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_duration_seconds",
			Help:      "Time spent delivering an event to a sink",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"sink"},
	)
	AuditWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_writes_total",
			Help:      "Audit log appends by result",
		},
		[]string{"result"},
	)
)

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
