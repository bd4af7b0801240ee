// Package metrics exposes the server's Prometheus instrumentation. It is
// an enrichment dependency: nothing in the teacher's own stack ships
// metrics, but prometheus/client_golang is a domain dependency the rest
// of the example pack uses heavily, and a connection/key/display-serving
// system like this one is exactly the kind of component a real
// deployment would want a /metrics endpoint for.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every counter/gauge the server updates, constructed
// once at startup and threaded through internal/core.
type Registry struct {
	Connections        prometheus.Gauge
	ConnectionsTotal   prometheus.Counter
	AuthFailuresTotal  prometheus.Counter
	KeyEventsTotal     *prometheus.CounterVec
	KeyEventsDropped   prometheus.Counter
	FramesWrittenTotal prometheus.Counter
	RawModeOwned       prometheus.Gauge
	SuspendOwned       prometheus.Gauge
}

// NewRegistry constructs and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bap",
			Name:      "connections",
			Help:      "Currently connected clients.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bap",
			Name:      "connections_total",
			Help:      "Total accepted connections since start.",
		}),
		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bap",
			Name:      "auth_failures_total",
			Help:      "Total rejected authentication attempts.",
		}),
		KeyEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bap",
			Name:      "key_events_total",
			Help:      "Key events handled, by outcome (delivered, builtin).",
		}, []string{"outcome"}),
		KeyEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bap",
			Name:      "key_events_dropped_total",
			Help:      "Key events dropped because a client's event buffer was full.",
		}),
		FramesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bap",
			Name:      "frames_written_total",
			Help:      "write_cells requests applied and followed by a write-arbiter refresh.",
		}),
		RawModeOwned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bap",
			Name:      "raw_mode_owned",
			Help:      "Raw-mode ownership gauge; nothing in the server sets it, so it reports 0.",
		}),
		SuspendOwned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bap",
			Name:      "suspend_owned",
			Help:      "Suspend ownership gauge; nothing in the server sets it, so it reports 0.",
		}),
	}

	reg.MustRegister(
		r.Connections,
		r.ConnectionsTotal,
		r.AuthFailuresTotal,
		r.KeyEventsTotal,
		r.KeyEventsDropped,
		r.FramesWrittenTotal,
		r.RawModeOwned,
		r.SuspendOwned,
	)
	return r
}
