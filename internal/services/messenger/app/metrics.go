package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the realtime surface counters exposed on /metrics.
type Metrics struct {
	SessionsActive    prometheus.Gauge
	MessagesDelivered prometheus.Counter
	MessagesEchoed    prometheus.Counter
	PersistFailures   prometheus.Counter
	FramesRejected    prometheus.Counter
}

// NewMetrics registers the messenger collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "messenger_sessions_active",
			Help: "Number of users with an attached realtime session.",
		}),
		MessagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "messenger_messages_delivered_total",
			Help: "Messages pushed live to an online receiver.",
		}),
		MessagesEchoed: factory.NewCounter(prometheus.CounterOpts{
			Name: "messenger_messages_echoed_total",
			Help: "Enriched echoes written back to the sending session.",
		}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "messenger_persist_failures_total",
			Help: "Storage writes that failed during frame handling.",
		}),
		FramesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "messenger_frames_rejected_total",
			Help: "Inbound frames rejected before reaching a handler.",
		}),
	}
}
