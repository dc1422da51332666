// This file contains the Session type, one client WebSocket carrying STOMP
// frames. Each session has a read pump that handles frames in arrival order
// and a write pump that is the only writer of the socket.
package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"

	"github.com/eleven-am/pondchat/stomp"
)

type outbound struct {
	data    []byte
	command string
	// final closes the socket once data is written.
	final bool
}

// Session is one connected client.
type Session struct {
	ID         string
	RemoteAddr string

	server      *Server
	conn        *websocket.Conn
	upgradeAuth string
	send        chan outbound
	heartbeat   chan time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	closeOnce   sync.Once
	opened      time.Time
	logger      *slog.Logger

	mu        sync.RWMutex
	connected bool
	subject   string
	name      string
	subs      map[string]string
	readWait  time.Duration
}

func newSession(server *Server, conn *websocket.Conn, id, remoteAddr, upgradeAuth string) *Session {
	ctx, cancel := context.WithCancel(server.ctx)
	return &Session{
		ID:          id,
		RemoteAddr:  remoteAddr,
		server:      server,
		conn:        conn,
		upgradeAuth: upgradeAuth,
		send:        make(chan outbound, server.opts.SendChannelBuffer),
		heartbeat:   make(chan time.Duration, 1),
		ctx:         ctx,
		cancel:      cancel,
		opened:      time.Now(),
		logger:      server.logger.With("session", id),
		subs:        make(map[string]string),
	}
}

// Subject is the authenticated user id, or the session id when the broker
// runs without a verifier.
func (s *Session) Subject() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subject
}

// Name is the display name carried in the token, if any.
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// Subscriptions returns a copy of the subscription id to destination map.
func (s *Session) Subscriptions() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.subs))
	for id, destination := range s.subs {
		out[id] = destination
	}
	return out
}

// IsActive reports whether the session can still send and receive.
func (s *Session) IsActive() bool {
	return s.ctx.Err() == nil
}

func (s *Session) isConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Session) markConnected(subject, name string, send, receive time.Duration) {
	s.mu.Lock()
	s.connected = true
	s.subject = subject
	s.name = name
	if receive > 0 {
		s.readWait = 2 * receive
	}
	s.mu.Unlock()

	select {
	case s.heartbeat <- send:
	default:
	}
}

func (s *Session) addSubscription(id, destination string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[id]; exists {
		return false
	}
	s.subs[id] = destination
	return true
}

// removeSubscription drops id and reports its destination and whether any
// other subscription of this session still targets it.
func (s *Session) removeSubscription(id string) (destination string, found, stillUsed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	destination, found = s.subs[id]
	if !found {
		return "", false, false
	}
	delete(s.subs, id)
	for _, d := range s.subs {
		if d == destination {
			return destination, true, true
		}
	}
	return destination, true, false
}

func (s *Session) subscriptionIDs(destination string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, d := range s.subs {
		if d == destination {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Session) readTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.readWait > 0 {
		return s.readWait
	}
	return s.server.opts.PongWait
}

func (s *Session) readPump() {
	handedOff := false
	defer func() {
		if !handedOff {
			s.Close()
		}
	}()

	s.conn.SetReadLimit(s.server.opts.MaxMessageSize)
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.readTimeout()))
	})

	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout())); err != nil {
			s.reportError("read_deadline", err)
			return
		}

		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.IsActive() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.server.metrics.ConnectionError(s.ID, err)
				s.logger.Debug("read failed", "error", err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			handedOff = s.fail(badRequest("", "unsupported message type; expected text frame"))
			return
		}

		f, err := stomp.Decode(data)
		if err != nil {
			handedOff = s.fail(badRequest("", "malformed frame").withCause(err))
			return
		}
		if f == nil {
			continue
		}
		s.server.metrics.FrameReceived(f.Command, len(data))

		if err := s.server.handleFrame(s, f); err != nil {
			handedOff = s.fail(err)
			return
		}
	}
}

func (s *Session) writePump() {
	ping := time.NewTicker(s.server.opts.PingInterval)
	var beat *time.Ticker
	var beats <-chan time.Time

	defer func() {
		ping.Stop()
		if beat != nil {
			beat.Stop()
		}
		s.Close()
	}()

	write := func(messageType int, data []byte) error {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.server.opts.WriteWait)); err != nil {
			return err
		}
		return s.conn.WriteMessage(messageType, data)
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case interval := <-s.heartbeat:
			if interval > 0 {
				beat = time.NewTicker(interval)
				beats = beat.C
			}
		case msg := <-s.send:
			if err := write(websocket.TextMessage, msg.data); err != nil {
				s.reportError("write_pump", err)
				return
			}
			s.server.metrics.FrameSent(msg.command, len(msg.data))
			if msg.final {
				_ = s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(s.server.opts.WriteWait))
				return
			}
		case <-beats:
			if err := write(websocket.TextMessage, stomp.Heartbeat); err != nil {
				s.reportError("heartbeat", err)
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues f for the write pump. A session whose queue stays full for
// WriteWait is closed.
func (s *Session) enqueue(f *frame.Frame, final bool) error {
	data, err := stomp.Encode(f)
	if err != nil {
		return wrapF(err, "failed to encode %s frame for session %s", f.Command, s.ID)
	}

	select {
	case <-s.ctx.Done():
		return unavailable("", "session "+s.ID+" is closing")
	case s.send <- outbound{data: data, command: f.Command, final: final}:
		return nil
	case <-time.After(s.server.opts.WriteWait):
		go s.Close()
		return timeout("", "send timeout, session "+s.ID+" is closing")
	}
}

// fail reports err to the client in an ERROR frame. The write pump closes
// the session once the frame is out; fail reports whether that happened.
func (s *Session) fail(err error) bool {
	s.logger.Warn("session failed", "error", err)
	s.reportError("session", err)
	if enqueueErr := s.enqueue(errorFrame(err), true); enqueueErr != nil {
		s.Close()
		return false
	}
	return true
}

// Close ends the session. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close()
		s.server.unregister(s)
		s.server.metrics.ConnectionClosed(s.ID, time.Since(s.opened))
		if s.server.opts.Hooks != nil && s.server.opts.Hooks.OnDisconnect != nil {
			s.server.opts.Hooks.OnDisconnect(s)
		}
		s.logger.Debug("session closed", "duration", time.Since(s.opened))
	})
}

func (s *Session) reportError(component string, err error) {
	if err == nil {
		return
	}
	s.server.metrics.Error(component, err)
}
