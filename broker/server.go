// Package broker is a development STOMP-over-WebSocket server for the chat
// transport. It authenticates CONNECT with a bearer token, routes the chat
// commands to room destinations and fans messages out through a PubSub, so
// several broker nodes can share one Redis.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/eleven-am/pondchat/stomp"
)

// Server accepts client sessions on Options.Path. It implements
// http.Handler.
type Server struct {
	opts       Options
	upgrader   websocket.Upgrader
	pubsub     PubSub
	ownsPubSub bool
	metrics    MetricsCollector
	logger     *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
	topics   map[string]map[*Session]struct{}
	closed   bool
}

// New creates a broker. Without Options.PubSub an in-memory LocalPubSub is
// created and owned by the server.
func New(ctx context.Context, options *Options) (*Server, error) {
	if options == nil {
		options = DefaultOptions()
	}
	opts := options.withDefaults()

	serverCtx, cancel := context.WithCancel(ctx)

	s := &Server{
		opts:     opts,
		metrics:  opts.Hooks.metrics(),
		logger:   opts.Logger.With("component", "broker"),
		ctx:      serverCtx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
		topics:   make(map[string]map[*Session]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			CheckOrigin:     createOriginChecker(&opts),
		},
	}

	s.pubsub = opts.PubSub
	if s.pubsub == nil {
		s.pubsub = NewLocalPubSub(serverCtx, opts.SendChannelBuffer)
		s.ownsPubSub = true
	}

	if err := s.pubsub.Subscribe(roomsPattern, s.deliver); err != nil {
		cancel()
		return nil, wrapF(err, "failed to subscribe to %s", roomsPattern)
	}
	return s, nil
}

func createOriginChecker(opts *Options) func(*http.Request) bool {
	patterns := append([]*regexp.Regexp(nil), opts.AllowedOriginRegexps...)
	allowed := append([]string(nil), opts.AllowedOrigins...)

	return func(r *http.Request) bool {
		if !opts.CheckOrigin {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		for _, pattern := range patterns {
			if pattern.MatchString(origin) {
				return true
			}
		}
		return false
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.opts.Path {
		http.NotFound(w, r)
		return
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.Error("upgrade", err)
		s.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	session := newSession(s, conn, uuid.NewString(), r.RemoteAddr, r.Header.Get(stomp.Authorization))
	if !s.register(session) {
		_ = conn.Close()
		return
	}
	s.metrics.ConnectionOpened(session.ID)

	go session.writePump()
	go session.readPump()
}

func (s *Server) register(session *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[session.ID] = session
	return true
}

func (s *Server) unregister(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, session.ID)
	for destination, subscribers := range s.topics {
		if _, ok := subscribers[session]; !ok {
			continue
		}
		delete(subscribers, session)
		s.metrics.SubscriptionRemoved(destination)
		if len(subscribers) == 0 {
			delete(s.topics, destination)
		}
	}
}

// SessionCount is the number of open sessions on this node.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Subscribers is the number of local sessions subscribed to destination.
func (s *Server) Subscribers(destination string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.topics[destination])
}

func (s *Server) handleFrame(session *Session, f *frame.Frame) error {
	if !session.isConnected() {
		switch f.Command {
		case frame.CONNECT, frame.STOMP:
			return s.connect(session, f)
		default:
			return unauthorized("expected CONNECT, got " + f.Command)
		}
	}

	var err error
	switch f.Command {
	case frame.CONNECT, frame.STOMP:
		err = conflict("", "session already connected")
	case frame.SUBSCRIBE:
		err = s.subscribe(session, f)
	case frame.UNSUBSCRIBE:
		err = s.unsubscribe(session, f)
	case frame.SEND:
		err = s.send(session, f)
	case frame.DISCONNECT:
		return s.disconnect(session, f)
	case frame.ACK, frame.NACK:
	default:
		err = badRequest("", "unsupported command "+f.Command)
	}
	if err != nil {
		return err
	}

	if receipt := f.Header.Get(frame.Receipt); receipt != "" {
		return session.enqueue(stomp.NewReceipt(receipt), false)
	}
	return nil
}

func (s *Server) connect(session *Session, f *frame.Frame) error {
	token := f.Header.Get(stomp.Authorization)
	if strings.TrimSpace(token) == "" {
		token = session.upgradeAuth
	}

	subject, name := session.ID, ""
	if s.opts.Verifier != nil {
		claims, err := s.opts.Verifier.Verify(token)
		if err != nil {
			return unauthorized("authentication failed").withCause(err)
		}
		subject, name = claims.Subject, claims.Name
	}

	send, receive, err := stomp.Negotiate(s.opts.HeartbeatSend, s.opts.HeartbeatReceive, f.Header.Get(frame.HeartBeat))
	if err != nil {
		return badRequest("", "invalid heart-beat header").withCause(err)
	}

	session.markConnected(subject, name, send, receive)

	if s.opts.Hooks != nil && s.opts.Hooks.OnConnect != nil {
		if err := s.opts.Hooks.OnConnect(session); err != nil {
			var e *Error
			if errors.As(err, &e) {
				return e
			}
			return unauthorized("connection rejected").withCause(err)
		}
	}

	session.logger.Info("session connected", "subject", subject, "remote", session.RemoteAddr,
		"heartbeat_send", send, "heartbeat_receive", receive)

	return session.enqueue(stomp.NewConnected(session.ID, s.opts.HeartbeatSend, s.opts.HeartbeatReceive), false)
}

func (s *Server) subscribe(session *Session, f *frame.Frame) error {
	id := f.Header.Get(frame.Id)
	destination := f.Header.Get(frame.Destination)

	if id == "" {
		return badRequest(destination, "subscription id required")
	}
	if destination == "" {
		return badRequest("", "destination required")
	}
	if !strings.HasPrefix(destination, topicRoot) {
		return notFound(destination, "unknown destination")
	}
	if !session.addSubscription(id, destination) {
		return conflict(destination, "subscription id "+id+" already in use")
	}

	s.mu.Lock()
	subscribers, ok := s.topics[destination]
	if !ok {
		subscribers = make(map[*Session]struct{})
		s.topics[destination] = subscribers
	}
	_, already := subscribers[session]
	subscribers[session] = struct{}{}
	s.mu.Unlock()

	if !already {
		s.metrics.SubscriptionAdded(destination)
	}
	session.logger.Debug("subscribed", "destination", destination, "id", id)
	return nil
}

func (s *Server) unsubscribe(session *Session, f *frame.Frame) error {
	id := f.Header.Get(frame.Id)
	if id == "" {
		return badRequest("", "subscription id required")
	}

	destination, found, stillUsed := session.removeSubscription(id)
	if !found {
		session.logger.Debug("unsubscribe for unknown id ignored", "id", id)
		return nil
	}
	if stillUsed {
		return nil
	}

	s.mu.Lock()
	if subscribers, ok := s.topics[destination]; ok {
		delete(subscribers, session)
		if len(subscribers) == 0 {
			delete(s.topics, destination)
		}
	}
	s.mu.Unlock()

	s.metrics.SubscriptionRemoved(destination)
	session.logger.Debug("unsubscribed", "destination", destination, "id", id)
	return nil
}

func (s *Server) send(session *Session, f *frame.Frame) error {
	destination := f.Header.Get(frame.Destination)

	switch {
	case destination == s.opts.SendRoute:
		var cmd sendCommand
		if err := json.Unmarshal(f.Body, &cmd); err != nil {
			return badRequest(destination, "invalid chat message").withCause(err)
		}
		if strings.TrimSpace(cmd.ReceiverID) == "" {
			return badRequest(destination, "invalid chat message").withDetails("receiverId is required")
		}
		return s.PublishJSON(roomsRoot+cmd.ReceiverID, ChatMessage{
			ID:         uuid.NewString(),
			SenderID:   session.Subject(),
			SenderName: session.Name(),
			ReceiverID: cmd.ReceiverID,
			Content:    cmd.Content,
			SentAt:     time.Now().UTC(),
		})

	case destination == s.opts.TypingRoute:
		var cmd typingCommand
		if err := json.Unmarshal(f.Body, &cmd); err != nil {
			return badRequest(destination, "invalid typing indicator").withCause(err)
		}
		if strings.TrimSpace(cmd.RoomID) == "" {
			return badRequest(destination, "invalid typing indicator").withDetails("roomId is required")
		}
		return s.PublishJSON(roomsRoot+cmd.RoomID+"/typing", TypingEvent{
			RoomID:   cmd.RoomID,
			UserID:   session.Subject(),
			IsTyping: cmd.IsTyping,
		})

	case strings.HasPrefix(destination, topicRoot):
		return s.Publish(destination, f.Body)

	default:
		return notFound(destination, "unknown destination")
	}
}

func (s *Server) disconnect(session *Session, f *frame.Frame) error {
	session.logger.Debug("client disconnecting")
	if receipt := f.Header.Get(frame.Receipt); receipt != "" {
		return session.enqueue(stomp.NewReceipt(receipt), true)
	}
	session.Close()
	return nil
}

// Publish fans body out to every subscriber of destination on every node.
func (s *Server) Publish(destination string, body []byte) error {
	if err := s.pubsub.Publish(formatTopic(destination), body); err != nil {
		if isPubSubClosed(err) {
			return unavailable(destination, "broker is shutting down").withCause(err)
		}
		return wrapF(err, "failed to publish to %s", destination).withDestination(destination)
	}
	return nil
}

// PublishJSON encodes v and publishes it to destination.
func (s *Server) PublishJSON(destination string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return internal(destination, "failed to encode message").withCause(err)
	}
	return s.Publish(destination, body)
}

// deliver sends one published message to the local subscribers of its
// destination.
func (s *Server) deliver(topic string, data []byte) {
	destination, ok := parseTopic(topic)
	if !ok {
		return
	}

	s.mu.RLock()
	targets := make([]*Session, 0, len(s.topics[destination]))
	for session := range s.topics[destination] {
		targets = append(targets, session)
	}
	s.mu.RUnlock()

	recipients := 0
	for _, session := range targets {
		for _, id := range session.subscriptionIDs(destination) {
			if err := session.enqueue(stomp.NewMessage(id, uuid.NewString(), destination, data), false); err != nil {
				session.reportError("deliver", err)
				continue
			}
			recipients++
		}
	}
	s.metrics.MessageBroadcast(destination, recipients)
}

// Close disconnects every session and stops fan-out. A PubSub passed in
// Options is left open for its owner to close.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}

	var err error
	if s.ownsPubSub {
		err = s.pubsub.Close()
	} else if unsubErr := s.pubsub.Unsubscribe(roomsPattern); unsubErr != nil && !isPubSubClosed(unsubErr) {
		err = unsubErr
	}
	s.cancel()

	if err != nil {
		return wrapF(err, "failed to close pubsub")
	}
	return nil
}
