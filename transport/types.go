package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-stomp/stomp/v3/frame"

	"github.com/eleven-am/pondchat/stomp"
)

// State of the connection to the backend.
type State string

const (
	StateIdle         State = "IDLE"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateDisconnected State = "DISCONNECTED"
	StateDeactivated  State = "DEACTIVATED"
)

// EventKind classifies what the transport reports through OnEvent.
type EventKind string

const (
	EventConnected      EventKind = "CONNECTED"
	EventDisconnected   EventKind = "DISCONNECTED"
	EventProtocolError  EventKind = "PROTOCOL_ERROR"
	EventTransportError EventKind = "TRANSPORT_ERROR"
	EventConfigError    EventKind = "CONFIG_ERROR"
)

var (
	ErrNoToken          = errors.New("transport: no bearer token available")
	ErrNotConnected     = errors.New("transport: not connected")
	ErrSendQueueFull    = errors.New("transport: send queue full")
	ErrHandshake        = errors.New("transport: handshake failed")
	ErrHeartbeatTimeout = errors.New("transport: heart-beat timeout")
)

// ProtocolError is a STOMP ERROR frame received from the server.
type ProtocolError struct {
	Message string
	Detail  string
}

func (e *ProtocolError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("stomp error: %s: %s", e.Message, e.Detail)
	}
	return "stomp error: " + e.Message
}

// Event is one notification from the transport. Err is set for the error
// kinds and for disconnects caused by a failure; Message carries the
// server's diagnostic for protocol errors.
type Event struct {
	Kind    EventKind
	Err     error
	Message string
}

// EventHandler receives transport events on the dispatch goroutine.
type EventHandler func(Event)

// ConnectionHandler is told whether the transport is connected.
type ConnectionHandler func(connected bool)

// Frame is an inbound MESSAGE delivered to a subscription handler.
type Frame struct {
	Destination  string
	Subscription string
	MessageID    string
	Headers      map[string]string
	Body         []byte
}

// Decode unmarshals the JSON body into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Body, v)
}

// Handler receives the MESSAGE frames of one subscription.
type Handler func(Frame)

// TypingArgs identifies the room and whether the user is typing in it.
type TypingArgs struct {
	RoomID   string
	IsTyping bool
}

type chatMessage struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

type typingIndicator struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// TokenProvider supplies the current bearer token, or "" when none is
// available.
type TokenProvider interface {
	CurrentToken() string
}

// RoomDestination is the event channel of a chat room.
func RoomDestination(roomID string) string {
	return "/topic/rooms/" + roomID
}

// TypingDestination is the typing channel of a chat room.
func TypingDestination(roomID string) string {
	return RoomDestination(roomID) + "/typing"
}

func newInboundFrame(f *frame.Frame) Frame {
	headers := stomp.Headers(f)
	return Frame{
		Destination:  headers[frame.Destination],
		Subscription: headers[frame.Subscription],
		MessageID:    headers[frame.MessageId],
		Headers:      headers,
		Body:         f.Body,
	}
}
