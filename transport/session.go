package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"

	"github.com/eleven-am/pondchat/stomp"
)

// session is one socket attempt. It is owned by the Transport only while
// it is the current session; anything it reports afterwards is ignored.
type session struct {
	t          *Transport
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc
	send       chan []byte
	wake       chan struct{}

	mu            sync.Mutex
	conn          *websocket.Conn
	control       [][]byte
	closing       bool
	writerStarted bool
	graceful      bool
}

func newSession(t *Transport, generation uint64) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		t:          t,
		generation: generation,
		ctx:        ctx,
		cancel:     cancel,
		send:       make(chan []byte, t.config.SendBuffer),
		wake:       make(chan struct{}, 1),
	}
}

func (s *session) run(token string) {
	t := s.t
	cfg := t.config

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	header := http.Header{}
	header.Set(stomp.Authorization, "Bearer "+token)

	conn, resp, err := dialer.DialContext(s.ctx, t.address.String(), header)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		if resp != nil {
			err = fmt.Errorf("transport: dial %s: %w (status %d)", t.address, err, resp.StatusCode)
		} else {
			err = fmt.Errorf("transport: dial %s: %w", t.address, err)
		}
		t.sessionFailed(s, EventTransportError, err)
		return
	}

	if !s.attach(conn) {
		return
	}

	send, receive, err := s.handshake(conn, token)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		var protoErr *ProtocolError
		if errors.As(err, &protoErr) {
			t.sessionFailed(s, EventProtocolError, err)
		} else {
			t.sessionFailed(s, EventTransportError, err)
		}
		return
	}

	if !s.startWriter(conn, send) {
		return
	}
	if !t.sessionConnected(s) {
		s.close(false)
		return
	}
	s.readLoop(conn, receive)
}

// attach records the dialed socket, or closes it when the session was
// cancelled while dialing.
func (s *session) attach(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		_ = conn.Close()
		return false
	}
	s.conn = conn
	return true
}

func (s *session) handshake(conn *websocket.Conn, token string) (send, receive time.Duration, err error) {
	cfg := s.t.config

	connect, err := stomp.Encode(stomp.NewConnect(cfg.Host, token, cfg.HeartbeatOutgoing, cfg.HeartbeatIncoming))
	if err != nil {
		return 0, 0, err
	}

	deadline := time.Now().Add(cfg.HandshakeTimeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, connect); err != nil {
		return 0, 0, fmt.Errorf("%w: write CONNECT: %v", ErrHandshake, err)
	}

	_ = conn.SetReadDeadline(deadline)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrHandshake, err)
		}

		f, err := stomp.Decode(data)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		if f == nil {
			continue
		}

		switch f.Command {
		case frame.CONNECTED:
			send, receive, err = stomp.Negotiate(cfg.HeartbeatOutgoing, cfg.HeartbeatIncoming, f.Header.Get(frame.HeartBeat))
			if err != nil {
				return 0, 0, fmt.Errorf("%w: %v", ErrHandshake, err)
			}
			s.t.logger.Debug("stomp session established",
				"session", f.Header.Get(frame.Session),
				"version", f.Header.Get(frame.Version),
				"heartbeat_send", send,
				"heartbeat_receive", receive)
			return send, receive, nil
		case frame.ERROR:
			return 0, 0, protocolError(f)
		default:
			return 0, 0, fmt.Errorf("%w: unexpected %s frame", ErrHandshake, f.Command)
		}
	}
}

func (s *session) startWriter(conn *websocket.Conn, heartbeat time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.writerStarted = true
	go s.writeLoop(conn, heartbeat)
	return true
}

// writeLoop is the only writer of conn once the handshake is done. It owns
// the outgoing heart-beat and closes the socket when the session ends.
// Queued SUBSCRIBE and UNSUBSCRIBE frames go out before any SEND.
func (s *session) writeLoop(conn *websocket.Conn, heartbeat time.Duration) {
	cfg := s.t.config
	defer func() {
		_ = conn.Close()
	}()

	var tick <-chan time.Time
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	write := func(data []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	flush := func() error {
		for _, data := range s.takeControl() {
			if err := write(data); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		select {
		case <-s.ctx.Done():
			s.finish(conn)
			return
		case <-s.wake:
			if err := flush(); err != nil {
				s.t.sessionFailed(s, EventTransportError, fmt.Errorf("transport: write: %w", err))
				return
			}
		case data := <-s.send:
			if err := flush(); err != nil {
				s.t.sessionFailed(s, EventTransportError, fmt.Errorf("transport: write: %w", err))
				return
			}
			if err := write(data); err != nil {
				s.t.sessionFailed(s, EventTransportError, fmt.Errorf("transport: write: %w", err))
				return
			}
		case <-tick:
			if err := write(stomp.Heartbeat); err != nil {
				s.t.sessionFailed(s, EventTransportError, fmt.Errorf("transport: heart-beat: %w", err))
				return
			}
		}
	}
}

// finish sends DISCONNECT and a close message on a graceful shutdown.
func (s *session) finish(conn *websocket.Conn) {
	s.mu.Lock()
	graceful := s.graceful
	s.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	if graceful {
		if data, err := stomp.Encode(stomp.NewDisconnect("")); err == nil {
			_ = conn.SetWriteDeadline(deadline)
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

func (s *session) readLoop(conn *websocket.Conn, heartbeat time.Duration) {
	t := s.t
	for {
		if heartbeat > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2 * heartbeat))
		} else {
			_ = conn.SetReadDeadline(time.Time{})
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				err = ErrHeartbeatTimeout
			} else {
				err = fmt.Errorf("transport: read: %w", err)
			}
			t.sessionFailed(s, EventTransportError, err)
			return
		}

		f, err := stomp.Decode(data)
		if err != nil {
			t.logger.Warn("malformed frame ignored", "error", err)
			continue
		}
		if f == nil {
			continue
		}

		switch f.Command {
		case frame.MESSAGE:
			t.route(s.generation, newInboundFrame(f))
		case frame.ERROR:
			t.sessionFailed(s, EventProtocolError, protocolError(f))
			return
		default:
			t.logger.Debug("frame ignored", "command", f.Command)
		}
	}
}

// enqueue hands f to the writer without blocking.
func (s *session) enqueue(f *frame.Frame) error {
	data, err := stomp.Encode(f)
	if err != nil {
		return err
	}
	if s.ctx.Err() != nil {
		return ErrNotConnected
	}
	select {
	case s.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// enqueueControl queues a subscription frame for the writer. The control
// queue is unbounded, so it only fails once the session is closing.
func (s *session) enqueueControl(f *frame.Frame) error {
	data, err := stomp.Encode(f)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.control = append(s.control, data)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *session) takeControl() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := s.control
	s.control = nil
	return queued
}

// close ends the session. graceful sends DISCONNECT before closing the
// socket. Safe to call more than once.
func (s *session) close(graceful bool) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.graceful = graceful
	conn := s.conn
	writer := s.writerStarted
	s.mu.Unlock()

	s.cancel()
	if conn != nil && !writer {
		_ = conn.Close()
	}
}

func protocolError(f *frame.Frame) *ProtocolError {
	return &ProtocolError{
		Message: f.Header.Get(frame.Message),
		Detail:  string(f.Body),
	}
}
