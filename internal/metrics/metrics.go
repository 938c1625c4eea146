// Package metrics exposes Prometheus collectors for the sync service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service collectors. It satisfies room.Observer.
type Metrics struct {
	Connections        prometheus.Gauge
	Rooms              prometheus.Gauge
	Members            prometheus.Gauge
	Deliveries         *prometheus.CounterVec
	Updates            *prometheus.CounterVec
	UpdateDuration     prometheus.Histogram
	Terminations       *prometheus.CounterVec
	RejectedHandshakes *prometheus.CounterVec
}

// New registers the collectors with reg under namespace. A nil reg uses
// the default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of open WebSocket connections",
		}),
		Rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Number of forms with at least one joined participant",
		}),
		Members: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_members",
			Help:      "Number of joined participants across all rooms",
		}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Outbound messages handed to connections, by result",
		}, []string{"result"}),
		Updates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Field updates processed, by result",
		}, []string{"result"}),
		UpdateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_duration_seconds",
			Help:      "Time to validate, persist, and broadcast a field update",
			Buckets:   prometheus.DefBuckets,
		}),
		Terminations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminations_total",
			Help:      "Connections closed by the server, by reason",
		}, []string{"reason"}),
		RejectedHandshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_handshakes_total",
			Help:      "WebSocket handshakes refused, by reason",
		}, []string{"reason"}),
	}
}

// RoomOpened implements room.Observer.
func (m *Metrics) RoomOpened() { m.Rooms.Inc() }

// RoomClosed implements room.Observer.
func (m *Metrics) RoomClosed() { m.Rooms.Dec() }

// MemberJoined implements room.Observer.
func (m *Metrics) MemberJoined() { m.Members.Inc() }

// MemberLeft implements room.Observer.
func (m *Metrics) MemberLeft() { m.Members.Dec() }

// Delivered implements room.Observer.
func (m *Metrics) Delivered() { m.Deliveries.WithLabelValues("ok").Inc() }

// DeliveryFailed implements room.Observer.
func (m *Metrics) DeliveryFailed() { m.Deliveries.WithLabelValues("failed").Inc() }
