// Package metrics exports transport and broker activity to Prometheus.
//
// Client implements transport.MetricsCollector and Broker implements
// broker.MetricsCollector. Both register on the Registerer they are given,
// so tests and embedding programs can keep them off the default registry:
//
//	reg := prometheus.NewRegistry()
//	cfg := transport.DefaultConfig()
//	cfg.Metrics = metrics.NewClient(reg)
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eleven-am/pondchat/transport"
)

const namespace = "pondchat"

var states = []transport.State{
	transport.StateIdle,
	transport.StateConnecting,
	transport.StateConnected,
	transport.StateDisconnected,
	transport.StateDeactivated,
}

// Client collects transport metrics.
type Client struct {
	// ConnectAttempts counts socket dials.
	ConnectAttempts prometheus.Counter

	// State is 1 for the current connection state and 0 for the others.
	// Labels: state
	State *prometheus.GaugeVec

	// Reconnects counts armed reconnect timers.
	Reconnects prometheus.Counter

	// ReconnectDelay observes the chosen delay in seconds.
	ReconnectDelay prometheus.Histogram

	// FramesReceived counts inbound MESSAGE frames.
	// Labels: channel (room|typing|other)
	FramesReceived *prometheus.CounterVec

	// BytesReceived sums inbound MESSAGE body sizes.
	BytesReceived prometheus.Counter

	// FramesDropped counts inbound frames that reached no handler.
	// Labels: reason
	FramesDropped *prometheus.CounterVec

	// CommandsSent counts commands handed to the session.
	// Labels: route
	CommandsSent *prometheus.CounterVec

	// BytesSent sums outbound command body sizes.
	BytesSent prometheus.Counter

	// CommandsRejected counts commands refused while not connected.
	// Labels: route
	CommandsRejected *prometheus.CounterVec

	// Errors counts reported failures.
	// Labels: kind
	Errors *prometheus.CounterVec
}

var _ transport.MetricsCollector = (*Client)(nil)

// NewClient creates the transport metrics on reg, or on the default
// registerer when reg is nil. Creating two Clients on the same registerer
// panics.
func NewClient(reg prometheus.Registerer) *Client {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Client{
		ConnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "connect_attempts_total",
			Help:      "Total number of socket dials started",
		}),
		State: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "state",
			Help:      "Current connection state (1 for the active state)",
		}, []string{"state"}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "reconnects_scheduled_total",
			Help:      "Total number of automatic reconnects scheduled",
		}),
		ReconnectDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "reconnect_delay_seconds",
			Help:      "Delay before each automatic reconnect",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "frames_received_total",
			Help:      "Total number of MESSAGE frames received by channel type",
		}, []string{"channel"}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "received_bytes_total",
			Help:      "Total size of received MESSAGE bodies",
		}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "frames_dropped_total",
			Help:      "Total number of inbound frames that reached no handler",
		}, []string{"reason"}),
		CommandsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "commands_sent_total",
			Help:      "Total number of commands sent by route",
		}, []string{"route"}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "sent_bytes_total",
			Help:      "Total size of sent command bodies",
		}),
		CommandsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "commands_rejected_total",
			Help:      "Total number of commands rejected while not connected",
		}, []string{"route"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "errors_total",
			Help:      "Total number of transport errors by kind",
		}, []string{"kind"}),
	}
}

func (c *Client) ConnectAttempt() {
	c.ConnectAttempts.Inc()
}

func (c *Client) StateChanged(state transport.State) {
	for _, s := range states {
		value := 0.0
		if s == state {
			value = 1
		}
		c.State.WithLabelValues(string(s)).Set(value)
	}
}

func (c *Client) ReconnectScheduled(_ int, delay time.Duration) {
	c.Reconnects.Inc()
	c.ReconnectDelay.Observe(delay.Seconds())
}

func (c *Client) FrameReceived(destination string, size int) {
	c.FramesReceived.WithLabelValues(channelType(destination)).Inc()
	c.BytesReceived.Add(float64(size))
}

func (c *Client) FrameDropped(reason string) {
	c.FramesDropped.WithLabelValues(reason).Inc()
}

func (c *Client) CommandSent(route string, size int) {
	c.CommandsSent.WithLabelValues(route).Inc()
	c.BytesSent.Add(float64(size))
}

func (c *Client) CommandRejected(route string) {
	c.CommandsRejected.WithLabelValues(route).Inc()
}

func (c *Client) Error(kind transport.EventKind, _ error) {
	c.Errors.WithLabelValues(string(kind)).Inc()
}

// channelType maps a destination onto a bounded label value; room ids
// would make the series unbounded.
func channelType(destination string) string {
	switch {
	case strings.HasPrefix(destination, "/topic/rooms/") && strings.HasSuffix(destination, "/typing"):
		return "typing"
	case strings.HasPrefix(destination, "/topic/rooms/"):
		return "room"
	default:
		return "other"
	}
}
