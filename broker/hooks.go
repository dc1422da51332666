package broker

import "time"

// MetricsCollector receives operational metrics from the broker.
// Implementations must be safe for concurrent use.
type MetricsCollector interface {
	// ConnectionOpened is called when a WebSocket upgrade succeeds.
	ConnectionOpened(sessionID string)

	// ConnectionClosed is called when a session ends, with its lifetime.
	ConnectionClosed(sessionID string, duration time.Duration)

	// ConnectionError is called when a session fails.
	ConnectionError(sessionID string, err error)

	// FrameReceived tracks inbound frames by command.
	FrameReceived(command string, size int)

	// FrameSent tracks outbound frames by command.
	FrameSent(command string, size int)

	// MessageBroadcast tracks one fan-out with its local recipient count.
	MessageBroadcast(destination string, recipients int)

	SubscriptionAdded(destination string)
	SubscriptionRemoved(destination string)

	// Error tracks failures by component.
	Error(component string, err error)
}

// Hooks lets the embedding program observe and veto sessions.
type Hooks struct {
	Metrics MetricsCollector

	// OnConnect runs after authentication; returning an error rejects the
	// session with an ERROR frame.
	OnConnect func(session *Session) error

	OnDisconnect func(session *Session)
}

type noopMetrics struct{}

func (noopMetrics) ConnectionOpened(string) {}
func (noopMetrics) ConnectionClosed(string, time.Duration) {}
func (noopMetrics) ConnectionError(string, error) {}
func (noopMetrics) FrameReceived(string, int) {}
func (noopMetrics) FrameSent(string, int) {}
func (noopMetrics) MessageBroadcast(string, int) {}
func (noopMetrics) SubscriptionAdded(string) {}
func (noopMetrics) SubscriptionRemoved(string) {}
func (noopMetrics) Error(string, error) {}

// NoopMetrics returns a collector that discards everything.
func NoopMetrics() MetricsCollector {
	return noopMetrics{}
}

func (h *Hooks) metrics() MetricsCollector {
	if h == nil || h.Metrics == nil {
		return noopMetrics{}
	}
	return h.Metrics
}
