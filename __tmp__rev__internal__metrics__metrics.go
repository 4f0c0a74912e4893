// Package metrics exposes the gapmesh core's counters and gauges through
// an injected *prometheus.Registry, mirroring the concerns the teacher's
// internal/instrument package tracks (queue depth, dropped/replayed
// packets, connection counts) for a mix server. Unlike that package, which
// registers package-level global metrics, gapmesh's Metrics is an
// explicit struct owned by the Session Controller and threaded to the
// components that need it — per spec §9's rule against hidden static
// state, nothing here is a package-level singleton.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/gauge the core publishes.
type Metrics struct {
	PacketsRelayed   prometheus.Counter
	PacketsDropped   *prometheus.CounterVec
	DedupHits        prometheus.Counter
	OutboxDepth      *prometheus.GaugeVec
	ReassemblyActive prometheus.Gauge
	NoiseSessions    *prometheus.GaugeVec
	HandshakeFailed  prometheus.Counter
}

// New creates and registers the metric set on reg. reg may be nil, in
// which case a private, unregistered registry is used (tests, or an
// application that doesn't want Prometheus exposition).
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		PacketsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapmesh_packets_relayed_total",
			Help: "Number of packets flooded to other mesh peers.",
		}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gapmesh_packets_dropped_total",
			Help: "Number of packets dropped, by reason.",
		}, []string{"reason"}),
		DedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapmesh_dedup_hits_total",
			Help: "Number of packets suppressed as duplicates.",
		}),
		OutboxDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gapmesh_outbox_depth",
			Help: "Current number of queued messages, per peer.",
		}, []string{"peer"}),
		ReassemblyActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapmesh_reassembly_active",
			Help: "Number of in-progress fragment reassembly buffers.",
		}),
		NoiseSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gapmesh_noise_sessions",
			Help: "Number of Noise sessions, by state.",
		}, []string{"state"}),
		HandshakeFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapmesh_handshake_failed_total",
			Help: "Number of Noise handshakes that failed authentication.",
		}),
	}
	reg.MustRegister(
		m.PacketsRelayed, m.PacketsDropped, m.DedupHits, m.OutboxDepth,
		m.ReassemblyActive, m.NoiseSessions, m.HandshakeFailed,
	)
	return m
}


