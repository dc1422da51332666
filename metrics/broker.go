package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eleven-am/pondchat/broker"
)

// Broker collects broker metrics.
type Broker struct {
	// Connections counts accepted WebSocket upgrades.
	Connections prometheus.Counter

	// ActiveConnections is the number of open sessions.
	ActiveConnections prometheus.Gauge

	// ConnectionDuration observes session lifetimes in seconds.
	ConnectionDuration prometheus.Histogram

	// ConnectionErrors counts sessions that ended with an error.
	ConnectionErrors prometheus.Counter

	// FramesReceived and FramesSent count frames by STOMP command.
	// Labels: command
	FramesReceived *prometheus.CounterVec
	FramesSent     *prometheus.CounterVec

	// BytesReceived and BytesSent sum encoded frame sizes.
	BytesReceived prometheus.Counter
	BytesSent     prometheus.Counter

	// Broadcasts counts fan-outs by channel type; Deliveries counts the
	// MESSAGE frames they produced.
	// Labels: channel (room|typing|other)
	Broadcasts *prometheus.CounterVec
	Deliveries *prometheus.CounterVec

	// ActiveSubscriptions is the number of live STOMP subscriptions.
	ActiveSubscriptions prometheus.Gauge

	// Errors counts failures by component.
	// Labels: component
	Errors *prometheus.CounterVec
}

var _ broker.MetricsCollector = (*Broker)(nil)

// NewBroker creates the broker metrics on reg, or on the default
// registerer when reg is nil.
func NewBroker(reg prometheus.Registerer) *Broker {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Broker{
		Connections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connections_total",
			Help:      "Total number of WebSocket sessions accepted",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "active_connections",
			Help:      "Current number of open sessions",
		}),
		ConnectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connection_duration_seconds",
			Help:      "Session lifetime in seconds",
			Buckets:   []float64{1, 10, 60, 300, 600, 1800, 3600, 14400},
		}),
		ConnectionErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connection_errors_total",
			Help:      "Total number of sessions that failed",
		}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "frames_received_total",
			Help:      "Total number of frames received by command",
		}, []string{"command"}),
		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "frames_sent_total",
			Help:      "Total number of frames sent by command",
		}, []string{"command"}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "received_bytes_total",
			Help:      "Total size of received frames",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "sent_bytes_total",
			Help:      "Total size of sent frames",
		}),
		Broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "broadcasts_total",
			Help:      "Total number of messages fanned out by channel type",
		}, []string{"channel"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "deliveries_total",
			Help:      "Total number of MESSAGE frames queued to subscribers by channel type",
		}, []string{"channel"}),
		ActiveSubscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "active_subscriptions",
			Help:      "Current number of live subscriptions",
		}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "errors_total",
			Help:      "Total number of broker errors by component",
		}, []string{"component"}),
	}
}

func (b *Broker) ConnectionOpened(string) {
	b.Connections.Inc()
	b.ActiveConnections.Inc()
}

func (b *Broker) ConnectionClosed(_ string, duration time.Duration) {
	b.ActiveConnections.Dec()
	b.ConnectionDuration.Observe(duration.Seconds())
}

func (b *Broker) ConnectionError(string, error) {
	b.ConnectionErrors.Inc()
}

func (b *Broker) FrameReceived(command string, size int) {
	b.FramesReceived.WithLabelValues(command).Inc()
	b.BytesReceived.Add(float64(size))
}

func (b *Broker) FrameSent(command string, size int) {
	b.FramesSent.WithLabelValues(command).Inc()
	b.BytesSent.Add(float64(size))
}

func (b *Broker) MessageBroadcast(destination string, recipients int) {
	channel := channelType(destination)
	b.Broadcasts.WithLabelValues(channel).Inc()
	b.Deliveries.WithLabelValues(channel).Add(float64(recipients))
}

func (b *Broker) SubscriptionAdded(string) {
	b.ActiveSubscriptions.Inc()
}

func (b *Broker) SubscriptionRemoved(string) {
	b.ActiveSubscriptions.Dec()
}

func (b *Broker) Error(component string, _ error) {
	b.Errors.WithLabelValues(component).Inc()
}
