package obs

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pelusa-v/pelusa-dm/internal/chat"
)

// Metrics is the Prometheus implementation of chat.Metrics.
type Metrics struct {
	online         prometheus.Gauge
	sent           prometheus.Counter
	delivered      prometheus.Counter
	deliveryFailed *prometheus.CounterVec
	typingStarted  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pelusa_dm",
			Name:      "online_users",
			Help:      "Users with a registered live connection.",
		}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pelusa_dm",
			Name:      "messages_sent_total",
			Help:      "Messages durably stored.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pelusa_dm",
			Name:      "messages_delivered_live_total",
			Help:      "Messages pushed to the receiver's live connection.",
		}),
		deliveryFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pelusa_dm",
			Name:      "live_delivery_failures_total",
			Help:      "Live pushes dropped, by event.",
		}, []string{"event"}),
		typingStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pelusa_dm",
			Name:      "typing_started_total",
			Help:      "Idle to typing transitions.",
		}),
	}
	reg.MustRegister(m.online, m.sent, m.delivered, m.deliveryFailed, m.typingStarted)
	return m
}

var _ chat.Metrics = (*Metrics)(nil)

func (m *Metrics) OnlineUsers(n int)           { m.online.Set(float64(n)) }
func (m *Metrics) MessageSent()                { m.sent.Inc() }
func (m *Metrics) MessageDelivered()           { m.delivered.Inc() }
func (m *Metrics) DeliveryFailed(event string) { m.deliveryFailed.WithLabelValues(event).Inc() }
func (m *Metrics) TypingStarted()              { m.typingStarted.Inc() }
