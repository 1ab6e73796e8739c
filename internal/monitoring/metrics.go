// Package monitoring provides Prometheus metrics for the staging
// engine and the bridge hub.
package monitoring

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all staging metrics.
type Metrics struct {
	// Step lifecycle
	StepsSealed  *prometheus.CounterVec
	StepsEvicted *prometheus.CounterVec
	StepsRetired *prometheus.CounterVec

	// Redistribution
	BytesCopied     prometheus.Counter
	ReadRequests    prometheus.Counter
	BlockedReaders  prometheus.Gauge
	ReaderTimeouts  prometheus.Counter
	EndOfStreamHits prometheus.Counter

	// Bridge
	BridgeConnections prometheus.Gauge
	BridgeBytesIn     prometheus.Counter
	BridgeBytesOut    prometheus.Counter
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Default returns the process-wide metrics collector, registering the
// collectors on the default Prometheus registry exactly once.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = newMetrics(nil)
	})
	return defaultMetrics
}

// New creates a metrics collector on a private registry, for tests.
func New(reg *prometheus.Registry) *Metrics {
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(prometheus.DefaultRegisterer)
	if reg != nil {
		factory = promauto.With(reg)
	}

	return &Metrics{
		StepsSealed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagecast_steps_sealed_total",
				Help: "Steps sealed per stream",
			},
			[]string{"stream"},
		),
		StepsEvicted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagecast_steps_evicted_total",
				Help: "Sealed steps evicted by the buffering-depth policy",
			},
			[]string{"stream"},
		),
		StepsRetired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagecast_steps_retired_total",
				Help: "Step admissions released by readers",
			},
			[]string{"stream"},
		),
		BytesCopied: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "stagecast_redistribution_bytes_total",
				Help: "Bytes copied into reader buffers",
			},
		),
		ReadRequests: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "stagecast_read_requests_total",
				Help: "Reader selection requests executed",
			},
		),
		BlockedReaders: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "stagecast_blocked_readers",
				Help: "Readers currently parked in BeginStep",
			},
		),
		ReaderTimeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "stagecast_reader_timeouts_total",
				Help: "BeginStep waits that returned NotReady",
			},
		),
		EndOfStreamHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "stagecast_end_of_stream_total",
				Help: "BeginStep waits that observed end of stream",
			},
		),
		BridgeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "stagecast_bridge_connections",
				Help: "Active websocket sessions on the hub",
			},
		),
		BridgeBytesIn: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "stagecast_bridge_bytes_in_total",
				Help: "Bytes received by the hub",
			},
		),
		BridgeBytesOut: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "stagecast_bridge_bytes_out_total",
				Help: "Bytes sent by the hub",
			},
		),
	}
}
