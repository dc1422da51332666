// Package transport is the real-time messaging transport of the chat client.
//
// A Transport owns one STOMP-over-WebSocket session to the backend at a
// time, multiplexes destination subscriptions over it, holds subscriptions
// requested before the session is ready and replays them on every
// (re)connect, gates outbound commands on the connection being up, and
// reconnects on its own after drops until Deactivate is called.
//
// Every public method returns immediately. Network I/O runs on per-session
// goroutines; subscription handlers and event listeners run one at a time,
// in arrival order, on a single dispatch goroutine.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eleven-am/pondchat/endpoint"
)

// Transport is the client side of the real-time connection.
type Transport struct {
	address *url.URL
	config  Config
	tokens  TokenProvider
	logger  *slog.Logger
	metrics MetricsCollector

	mu             sync.Mutex
	state          State
	generation     uint64
	token          string
	session        *session
	pending        map[string]Handler
	active         map[string]*subscription
	bySubID        map[string]string
	reconnectTimer *time.Timer
	attempts       int
	closed         bool

	callbacks *callbackQueue

	listenersMu  sync.RWMutex
	listeners    map[int]EventHandler
	nextListener int
}

// New creates a transport for endpoint with the default configuration.
// tokens may be nil when every Activate call passes a token.
func New(rawEndpoint string, tokens TokenProvider) (*Transport, error) {
	return NewWithConfig(rawEndpoint, tokens, DefaultConfig())
}

// NewWithConfig creates a transport with a custom configuration. http and
// https endpoints are mapped to ws and wss.
func NewWithConfig(rawEndpoint string, tokens TokenProvider, config *Config) (*Transport, error) {
	address, err := endpoint.Normalize(rawEndpoint)
	if err != nil {
		return nil, err
	}

	if config == nil {
		config = DefaultConfig()
	}
	cfg := config.withDefaults()
	if cfg.Host == "" {
		cfg.Host = address.Hostname()
	}

	logger := cfg.Logger.With("component", "transport", "endpoint", address.String())

	return &Transport{
		address:   address,
		config:    cfg,
		tokens:    tokens,
		logger:    logger,
		metrics:   cfg.Metrics,
		state:     StateIdle,
		pending:   make(map[string]Handler),
		active:    make(map[string]*subscription),
		bySubID:   make(map[string]string),
		callbacks: newCallbackQueue(logger),
		listeners: make(map[int]EventHandler),
	}, nil
}

// Activate starts connecting. token is used as the bearer token when not
// empty; otherwise the token provider is asked, now and before every
// automatic reconnect. Activate is a no-op while connecting or connected.
// Without a token the call is rejected with a warning and an
// EventConfigError, and the state does not change.
func (t *Transport) Activate(token string) {
	explicit := token
	if token == "" && t.tokens != nil {
		token = t.tokens.CurrentToken()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.state == StateConnected || t.state == StateConnecting {
		return
	}

	if token == "" {
		t.logger.Warn("activate rejected: no bearer token available", "state", t.state)
		t.emit(Event{Kind: EventConfigError, Err: ErrNoToken})
		return
	}

	t.stopReconnectLocked()
	t.attempts = 0
	t.token = explicit
	t.startSessionLocked(token)
}

// Deactivate tears the session down, stops reconnecting and forgets every
// pending and active subscription. It is valid in any state.
func (t *Transport) Deactivate() {
	t.mu.Lock()
	previous := t.state
	retrying := t.reconnectTimer != nil
	s := t.session
	t.session = nil
	t.generation++
	t.stopReconnectLocked()
	t.attempts = 0
	t.token = ""
	clear(t.pending)
	clear(t.active)
	clear(t.bySubID)
	t.setStateLocked(StateDeactivated)
	if previous == StateConnected {
		t.emit(Event{Kind: EventDisconnected})
	}
	t.mu.Unlock()

	if s != nil {
		s.close(previous == StateConnected)
	}
	if s != nil || retrying {
		t.logger.Info("transport deactivated", "previous_state", previous)
	} else {
		t.logger.Debug("transport deactivated", "previous_state", previous)
	}
}

// Close deactivates the transport and stops its dispatch goroutine once
// already-queued callbacks have run. The transport cannot be activated
// again.
func (t *Transport) Close() {
	t.Deactivate()

	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.callbacks.close()
}

// IsConnected reports whether the session is established.
func (t *Transport) IsConnected() bool {
	return t.State() == StateConnected
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Endpoint returns the socket URL the transport dials.
func (t *Transport) Endpoint() string {
	return t.address.String()
}

func (t *Transport) setStateLocked(state State) {
	if t.state == state {
		return
	}
	t.logger.Debug("state changed", "from", t.state, "to", state)
	t.state = state
	t.metrics.StateChanged(state)
}

func (t *Transport) startSessionLocked(token string) {
	t.generation++
	s := newSession(t, t.generation)
	t.session = s
	t.setStateLocked(StateConnecting)
	t.metrics.ConnectAttempt()
	go s.run(token)
}

func (t *Transport) stopReconnectLocked() {
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
}

// sessionConnected promotes s to the live session and flushes pending
// subscriptions. It reports false when s was superseded in the meantime.
func (t *Transport) sessionConnected(s *session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session != s || t.state != StateConnecting {
		return false
	}

	t.attempts = 0
	t.setStateLocked(StateConnected)
	t.flushPendingLocked()
	t.logger.Info("connected", "subscriptions", len(t.active))
	t.emit(Event{Kind: EventConnected})
	return true
}

// sessionFailed records the loss of s and schedules a reconnect. Failures
// of sessions that are no longer current are ignored.
func (t *Transport) sessionFailed(s *session, kind EventKind, err error) {
	t.mu.Lock()
	if t.session != s {
		t.mu.Unlock()
		s.close(false)
		return
	}

	wasConnected := t.state == StateConnected
	t.session = nil
	t.demoteActiveLocked()
	t.setStateLocked(StateDisconnected)

	event := Event{Kind: kind, Err: err}
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		event.Message = protoErr.Message
	}
	t.emit(event)
	if wasConnected {
		t.emit(Event{Kind: EventDisconnected, Err: err})
	}

	if protoErr != nil {
		t.logger.Warn("server reported an error", "message", protoErr.Message, "detail", protoErr.Detail)
	} else {
		t.logger.Warn("connection lost", "error", err, "was_connected", wasConnected)
	}

	t.scheduleReconnectLocked()
	t.mu.Unlock()

	s.close(false)
}

func (t *Transport) scheduleReconnectLocked() {
	t.stopReconnectLocked()
	t.attempts++

	delay, ok := t.config.Reconnect.Delay(t.attempts)
	if !ok {
		t.logger.Warn("reconnect attempts exhausted", "attempts", t.attempts-1)
		return
	}

	t.metrics.ReconnectScheduled(t.attempts, delay)
	t.logger.Debug("reconnect scheduled", "attempt", t.attempts, "delay", delay)

	generation := t.generation
	t.reconnectTimer = time.AfterFunc(delay, func() {
		t.reconnect(generation)
	})
}

func (t *Transport) reconnect(generation uint64) {
	t.mu.Lock()
	token := t.token
	t.mu.Unlock()

	if token == "" && t.tokens != nil {
		token = t.tokens.CurrentToken()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.generation != generation || t.state != StateDisconnected {
		return
	}
	t.reconnectTimer = nil

	if token == "" {
		t.logger.Warn("reconnect skipped: no bearer token available", "attempt", t.attempts)
		t.emit(Event{Kind: EventConfigError, Err: ErrNoToken})
		t.scheduleReconnectLocked()
		return
	}
	t.startSessionLocked(token)
}

func (t *Transport) String() string {
	return fmt.Sprintf("transport(%s, %s)", t.address, t.State())
}
