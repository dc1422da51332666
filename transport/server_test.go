package transport

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"

	"github.com/eleven-am/pondchat/stomp"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type received struct {
	conn  int
	frame *frame.Frame
}

type serverConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *serverConn) write(f *frame.Frame) error {
	data, err := stomp.Encode(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// mockStompServer is a minimal STOMP endpoint that records what clients
// send and lets the test push frames or drop connections.
type mockStompServer struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	conns       []*serverConn
	frames      []received
	heartbeats  int
	authHeaders []string

	// reject answers CONNECT with an ERROR frame carrying this message.
	reject string
	// heartBeat is the heart-beat header of CONNECTED.
	heartBeat string
	// silent suppresses the CONNECTED reply.
	silent bool
}

func newMockStompServer(t *testing.T) *mockStompServer {
	m := &mockStompServer{t: t, heartBeat: "0,0"}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockStompServer) URL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http") + "/ws"
}

func (m *mockStompServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.t.Errorf("Failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()

	sc := &serverConn{conn: conn}
	m.mu.Lock()
	index := len(m.conns)
	m.conns = append(m.conns, sc)
	m.authHeaders = append(m.authHeaders, r.Header.Get("Authorization"))
	reject, heartBeat, silent := m.reject, m.heartBeat, m.silent
	m.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := stomp.Decode(data)
		if err != nil {
			m.t.Errorf("Server received malformed frame: %v", err)
			return
		}

		m.mu.Lock()
		if f == nil {
			m.heartbeats++
			m.mu.Unlock()
			continue
		}
		m.frames = append(m.frames, received{conn: index, frame: f})
		m.mu.Unlock()

		switch f.Command {
		case frame.CONNECT:
			if reject != "" {
				_ = sc.write(stomp.NewError(reject, "bad credentials"))
				return
			}
			if !silent {
				reply := stomp.NewConnected("session-1", 0, 0)
				reply.Header.Set(frame.HeartBeat, heartBeat)
				_ = sc.write(reply)
			}
		case frame.DISCONNECT:
			return
		}
	}
}

func (m *mockStompServer) setHeartBeat(value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartBeat = value
}

func (m *mockStompServer) setReject(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reject = message
}

func (m *mockStompServer) connCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func (m *mockStompServer) authHeader(conn int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn >= len(m.authHeaders) {
		return ""
	}
	return m.authHeaders[conn]
}

func (m *mockStompServer) heartbeatCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeats
}

// framesOf returns the frames with command received on conn, or on every
// connection when conn is negative.
func (m *mockStompServer) framesOf(command string, conn int) []*frame.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*frame.Frame
	for _, r := range m.frames {
		if r.frame.Command == command && (conn < 0 || r.conn == conn) {
			out = append(out, r.frame)
		}
	}
	return out
}

// subscriptionID is the id of the latest SUBSCRIBE for destination.
func (m *mockStompServer) subscriptionID(destination string) string {
	subs := m.framesOf(frame.SUBSCRIBE, -1)
	for i := len(subs) - 1; i >= 0; i-- {
		if subs[i].Header.Get(frame.Destination) == destination {
			return subs[i].Header.Get(frame.Id)
		}
	}
	return ""
}

func (m *mockStompServer) latest() *serverConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.conns) == 0 {
		return nil
	}
	return m.conns[len(m.conns)-1]
}

// push delivers a MESSAGE for destination on the latest connection, using
// the latest subscription id the client registered for it.
func (m *mockStompServer) push(destination, body string) {
	m.pushWithID(m.subscriptionID(destination), destination, body)
}

func (m *mockStompServer) pushWithID(subscriptionID, destination, body string) {
	conn := m.latest()
	if conn == nil {
		m.t.Fatal("No connection to push to")
	}
	if err := conn.write(stomp.NewMessage(subscriptionID, "msg-"+subscriptionID, destination, []byte(body))); err != nil {
		m.t.Fatalf("Failed to push message: %v", err)
	}
}

// drop closes every open connection without a STOMP goodbye.
func (m *mockStompServer) drop() {
	m.mu.Lock()
	conns := append([]*serverConn(nil), m.conns...)
	m.mu.Unlock()
	for _, c := range conns {
		_ = c.conn.Close()
	}
}

func eventually(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func (r *eventRecorder) count(kind EventKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (r *eventRecorder) last(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return Event{}, false
}

type inbox struct {
	mu     sync.Mutex
	frames []Frame
}

func (i *inbox) handle(f Frame) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.frames = append(i.frames, f)
}

func (i *inbox) bodies() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, len(i.frames))
	for n, f := range i.frames {
		out[n] = string(f.Body)
	}
	return out
}

func testConfig() *Config {
	return &Config{
		ReconnectDelay:   20 * time.Millisecond,
		HandshakeTimeout: time.Second,
		WriteTimeout:     time.Second,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newTestTransport(t *testing.T, url string, tokens TokenProvider, cfg *Config) *Transport {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	tr, err := NewWithConfig(url, tokens, cfg)
	if err != nil {
		t.Fatalf("Failed to create transport: %v", err)
	}
	t.Cleanup(tr.Close)
	return tr
}
