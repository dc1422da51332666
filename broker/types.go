package broker

import (
	"crypto/tls"
	"log/slog"
	"regexp"
	"time"

	"github.com/eleven-am/pondchat/auth"
)

const (
	// DefaultPath is where the broker accepts WebSocket upgrades.
	DefaultPath = "/ws"

	DefaultSendRoute   = "/app/chat.send"
	DefaultTypingRoute = "/app/chat.typing"

	topicRoot = "/topic/"
	roomsRoot = "/topic/rooms/"
)

// Verifier checks the bearer token presented on CONNECT.
type Verifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Options configures the broker's WebSocket and STOMP behavior.
type Options struct {
	Path                 string
	CheckOrigin          bool
	AllowedOrigins       []string
	AllowedOriginRegexps []*regexp.Regexp
	ReadBufferSize       int
	WriteBufferSize      int
	MaxMessageSize       int64

	// HeartbeatSend and HeartbeatReceive are advertised in CONNECTED and
	// negotiated with the client's heart-beat header.
	HeartbeatSend    time.Duration
	HeartbeatReceive time.Duration

	PingInterval      time.Duration
	PongWait          time.Duration
	WriteWait         time.Duration
	SendChannelBuffer int

	SendRoute   string
	TypingRoute string

	// Verifier authenticates CONNECT. When nil every client is accepted and
	// identified by its session id.
	Verifier Verifier
	PubSub   PubSub
	Hooks    *Hooks
	Logger   *slog.Logger
}

// ServerOptions configures the HTTP server hosting the broker.
type ServerOptions struct {
	ServerAddr         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	ServerTLSConfig    *tls.Config
	ShutdownTimeout    time.Duration
}

// DefaultOptions returns options suited to local development:
// no origin checking, 4s heart-beats, 512KB frames and 256 queued frames
// per session.
func DefaultOptions() *Options {
	return &Options{
		Path:              DefaultPath,
		CheckOrigin:       false,
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		MaxMessageSize:    512 * 1024,
		HeartbeatSend:     4 * time.Second,
		HeartbeatReceive:  4 * time.Second,
		PingInterval:      30 * time.Second,
		PongWait:          60 * time.Second,
		WriteWait:         10 * time.Second,
		SendChannelBuffer: 256,
		SendRoute:         DefaultSendRoute,
		TypingRoute:       DefaultTypingRoute,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Path == "" {
		o.Path = d.Path
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = d.ReadBufferSize
	}
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = d.WriteBufferSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.HeartbeatSend < 0 {
		o.HeartbeatSend = 0
	}
	if o.HeartbeatReceive < 0 {
		o.HeartbeatReceive = 0
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.SendChannelBuffer <= 0 {
		o.SendChannelBuffer = d.SendChannelBuffer
	}
	if o.SendRoute == "" {
		o.SendRoute = d.SendRoute
	}
	if o.TypingRoute == "" {
		o.TypingRoute = d.TypingRoute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// ChatMessage is what room subscribers receive for a chat.send command.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName,omitempty"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sentAt"`
}

// TypingEvent is what typing-channel subscribers receive.
type TypingEvent struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type sendCommand struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

type typingCommand struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}
