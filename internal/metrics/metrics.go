// Package metrics exposes relay activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"syncrelay/internal/protocol"
)

const Namespace = "syncrelay"

// Relay implements session.Metrics and counts rejected upgrades.
type Relay struct {
	registry *prometheus.Registry

	sessions       prometheus.Gauge
	sessionsClosed *prometheus.CounterVec
	participants   prometheus.Gauge
	routed         *prometheus.CounterVec
	deliveries     prometheus.Counter
	dropped        *prometheus.CounterVec
	rejected       *prometheus.CounterVec
}

// New registers the relay metrics, plus the Go and process collectors, on a
// fresh registry.
func New() *Relay {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Relay{
		registry: reg,
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sessions",
			Help:      "Sessions currently held by the registry",
		}),
		sessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_closed_total",
			Help:      "Sessions removed from the registry, by reason",
		}, []string{"reason"}),
		participants: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "participants",
			Help:      "Connected participants across all sessions",
		}),
		routed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_routed_total",
			Help:      "Frames routed between participants, by message type",
		}, []string{"type"}),
		deliveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "message_deliveries_total",
			Help:      "Frames enqueued to recipients",
		}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound frames that were not routed, by reason",
		}, []string{"reason"}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "connections_rejected_total",
			Help:      "Websocket upgrades refused, by reason",
		}, []string{"reason"}),
	}
}

func (m *Relay) SessionOpened() { m.sessions.Inc() }

func (m *Relay) SessionClosed(reason string) {
	m.sessions.Dec()
	m.sessionsClosed.WithLabelValues(reason).Inc()
}

func (m *Relay) ParticipantJoined() { m.participants.Inc() }
func (m *Relay) ParticipantLeft()   { m.participants.Dec() }

func (m *Relay) MessageRouted(t protocol.MessageType, recipients int) {
	m.routed.WithLabelValues(string(t)).Inc()
	m.deliveries.Add(float64(recipients))
}

func (m *Relay) MessageDropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Relay) ConnectionRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Relay) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Relay) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
