package transport

import (
	"log/slog"
	"time"
)

const (
	DefaultSendRoute   = "/app/chat.send"
	DefaultTypingRoute = "/app/chat.typing"
)

// Config tunes a Transport. Zero durations, buffer sizes and routes are
// replaced by DefaultConfig's, except the heart-beat intervals: a zero
// HeartbeatIncoming or HeartbeatOutgoing disables that direction. Start
// from DefaultConfig to keep the four second heart-beats.
type Config struct {
	// ReconnectDelay is the fixed delay used when Reconnect is nil.
	ReconnectDelay time.Duration
	// Reconnect decides the delay before each automatic reconnect attempt.
	Reconnect ReconnectPolicy

	HeartbeatIncoming time.Duration
	HeartbeatOutgoing time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration

	// SendBuffer is the capacity of the per-session queue of SEND frames.
	// Subscription frames are queued separately and never refused.
	SendBuffer int

	SendRoute   string
	TypingRoute string

	// Host is sent in the CONNECT frame; defaults to the endpoint host.
	Host string

	Logger  *slog.Logger
	Metrics MetricsCollector
}

// DefaultConfig returns the reference behavior: reconnect every five
// seconds forever and exchange heart-beats every four seconds.
func DefaultConfig() *Config {
	return &Config{
		ReconnectDelay:    5 * time.Second,
		HeartbeatIncoming: 4 * time.Second,
		HeartbeatOutgoing: 4 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		SendBuffer:        256,
		SendRoute:         DefaultSendRoute,
		TypingRoute:       DefaultTypingRoute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.Reconnect == nil {
		c.Reconnect = FixedDelay(c.ReconnectDelay)
	}
	if c.HeartbeatIncoming < 0 {
		c.HeartbeatIncoming = 0
	}
	if c.HeartbeatOutgoing < 0 {
		c.HeartbeatOutgoing = 0
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.SendRoute == "" {
		c.SendRoute = d.SendRoute
	}
	if c.TypingRoute == "" {
		c.TypingRoute = d.TypingRoute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = NoopMetrics()
	}
	return c
}

// MetricsCollector receives operational counters from the transport.
// Implementations must be safe for concurrent use and must not block.
type MetricsCollector interface {
	// ConnectAttempt is called each time a socket dial starts.
	ConnectAttempt()

	// StateChanged is called on every state transition.
	StateChanged(state State)

	// ReconnectScheduled is called when an automatic reconnect is armed.
	ReconnectScheduled(attempt int, delay time.Duration)

	// FrameReceived tracks inbound MESSAGE frames.
	FrameReceived(destination string, size int)

	// FrameDropped tracks inbound frames that reached no handler.
	FrameDropped(reason string)

	// CommandSent tracks outbound commands handed to the session.
	CommandSent(route string, size int)

	// CommandRejected tracks outbound commands refused while not connected.
	CommandRejected(route string)

	// Error tracks failures by kind.
	Error(kind EventKind, err error)
}

type noopMetrics struct{}

func (noopMetrics) ConnectAttempt() {}
func (noopMetrics) StateChanged(State) {}
func (noopMetrics) ReconnectScheduled(int, time.Duration) {}
func (noopMetrics) FrameReceived(string, int) {}
func (noopMetrics) FrameDropped(string) {}
func (noopMetrics) CommandSent(string, int) {}
func (noopMetrics) CommandRejected(string) {}
func (noopMetrics) Error(EventKind, error) {}

// NoopMetrics returns a collector that discards everything.
func NoopMetrics() MetricsCollector {
	return noopMetrics{}
}
