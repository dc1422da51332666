package transport

import (
	"math"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

func TestFixedDelay(t *testing.T) {
	policy := FixedDelay(5 * time.Second)
	for attempt := 1; attempt <= 100; attempt *= 10 {
		delay, ok := policy.Delay(attempt)
		if !ok || delay != 5*time.Second {
			t.Errorf("attempt %d: expected 5s forever, got %v (%v)", attempt, delay, ok)
		}
	}
}

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		Initial: 100 * time.Millisecond,
		Max:     time.Second,
		Factor:  2,
		random:  func() float64 { return 0 },
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{20, time.Second},
	}

	for _, tt := range tests {
		delay, ok := backoff.Delay(tt.attempt)
		if !ok {
			t.Fatalf("attempt %d: unexpected give up", tt.attempt)
		}
		if delay != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, delay)
		}
	}
}

func TestExponentialBackoff_Jitter(t *testing.T) {
	backoff := &ExponentialBackoff{
		Initial: time.Second,
		Factor:  2,
		Jitter:  0.5,
		random:  func() float64 { return 1 },
	}

	delay, _ := backoff.Delay(2)
	if delay != 3*time.Second {
		t.Errorf("Expected 2s plus half jitter, got %v", delay)
	}
}

func TestExponentialBackoff_MaxAttempts(t *testing.T) {
	backoff := &ExponentialBackoff{Initial: time.Millisecond, MaxAttempts: 3}

	if _, ok := backoff.Delay(3); !ok {
		t.Error("Expected attempt 3 to be allowed")
	}
	if _, ok := backoff.Delay(4); ok {
		t.Error("Expected attempt 4 to be refused")
	}
}

func TestExponentialBackoff_Unbounded(t *testing.T) {
	backoff := &ExponentialBackoff{Initial: time.Second, Factor: 2, Jitter: 0.5}

	previous := time.Duration(0)
	for _, attempt := range []int{1, 10, 40, 64, 100, 2000, 1 << 30} {
		delay, ok := backoff.Delay(attempt)
		if !ok {
			t.Fatalf("attempt %d: unexpected give up", attempt)
		}
		if delay <= 0 || delay < previous {
			t.Fatalf("attempt %d: expected a growing positive delay, got %v after %v", attempt, delay, previous)
		}
		previous = delay
	}
	if previous != time.Duration(math.MaxInt64) {
		t.Errorf("Expected the delay to saturate, got %v", previous)
	}
}

func TestDefaultBackoff(t *testing.T) {
	backoff := DefaultBackoff()
	if backoff.Initial != time.Second || backoff.Max != 30*time.Second {
		t.Errorf("Unexpected defaults %+v", backoff)
	}
	delay, ok := backoff.Delay(100)
	if !ok || delay != 30*time.Second {
		t.Errorf("Expected cap of 30s, got %v", delay)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	if cfg.ReconnectDelay != 5*time.Second {
		t.Errorf("Expected 5s reconnect delay, got %v", cfg.ReconnectDelay)
	}
	if delay, ok := cfg.Reconnect.Delay(42); !ok || delay != 5*time.Second {
		t.Errorf("Expected fixed 5s policy, got %v (%v)", delay, ok)
	}
	if cfg.SendRoute != DefaultSendRoute || cfg.TypingRoute != DefaultTypingRoute {
		t.Errorf("Unexpected routes %s %s", cfg.SendRoute, cfg.TypingRoute)
	}
	if cfg.Logger == nil || cfg.Metrics == nil {
		t.Error("Expected logger and metrics defaults")
	}

	if cfg.HeartbeatIncoming != 0 || cfg.HeartbeatOutgoing != 0 {
		t.Errorf("Expected zero heart-beats to stay disabled, got %v / %v", cfg.HeartbeatIncoming, cfg.HeartbeatOutgoing)
	}

	d := DefaultConfig()
	if d.HeartbeatIncoming != 4*time.Second || d.HeartbeatOutgoing != 4*time.Second {
		t.Errorf("Expected 4s heart-beats, got %v / %v", d.HeartbeatIncoming, d.HeartbeatOutgoing)
	}
}

func TestReconnect_PolicyExhausted(t *testing.T) {
	server := newMockStompServer(t)
	server.setReject("nope")

	cfg := testConfig()
	cfg.Reconnect = &ExponentialBackoff{Initial: 10 * time.Millisecond, MaxAttempts: 1}
	tr := newTestTransport(t, server.URL(), nil, cfg)

	tr.Activate("token")

	eventually(t, "second attempt", func() bool { return server.connCount() == 2 })
	eventually(t, "disconnected", func() bool { return tr.State() == StateDisconnected })

	time.Sleep(100 * time.Millisecond)
	if server.connCount() != 2 {
		t.Errorf("Expected reconnecting to stop after the policy gave up, got %d sessions", server.connCount())
	}

	server.setReject("")
	tr.Activate("token")
	eventually(t, "manual reactivation", tr.IsConnected)
}

func TestStaleSessionFramesAreDropped(t *testing.T) {
	server := newMockStompServer(t)
	tr := newTestTransport(t, server.URL(), nil, nil)

	room := &inbox{}
	tr.Subscribe("/topic/rooms/r1", room.handle)
	tr.Activate("token")
	eventually(t, "subscription", func() bool {
		return len(server.framesOf(frame.SUBSCRIBE, 0)) == 1
	})

	tr.mu.Lock()
	staleGeneration := tr.generation
	tr.mu.Unlock()
	staleID := server.subscriptionID("/topic/rooms/r1")

	server.drop()
	eventually(t, "resubscribed", func() bool {
		return len(server.framesOf(frame.SUBSCRIBE, 1)) == 1
	})
	eventually(t, "connected", tr.IsConnected)

	// Frames read from the old socket before it died.
	tr.route(staleGeneration, Frame{Destination: "/topic/rooms/r1", Subscription: staleID, Body: []byte("stale-1")})
	tr.route(staleGeneration, Frame{Destination: "/topic/rooms/r1", Body: []byte("stale-2")})

	server.push("/topic/rooms/r1", "fresh")
	eventually(t, "fresh delivery", func() bool { return len(room.bodies()) == 1 })

	if got := room.bodies()[0]; got != "fresh" {
		t.Errorf("Expected only the fresh frame, got %v", room.bodies())
	}
}

func TestFramesDroppedWhileDisconnected(t *testing.T) {
	server := newMockStompServer(t)
	cfg := testConfig()
	cfg.ReconnectDelay = time.Hour
	tr := newTestTransport(t, server.URL(), nil, cfg)

	room := &inbox{}
	tr.Subscribe("/topic/rooms/r1", room.handle)
	tr.Activate("token")
	eventually(t, "subscription", func() bool {
		return len(server.framesOf(frame.SUBSCRIBE, 0)) == 1
	})

	tr.mu.Lock()
	generation := tr.generation
	tr.mu.Unlock()

	server.drop()
	eventually(t, "disconnected", func() bool { return tr.State() == StateDisconnected })

	_, pending := tr.Subscriptions()
	if len(pending) != 1 {
		t.Fatalf("Expected the subscription to be pending again, got %v", pending)
	}

	delivered := make(chan struct{})
	tr.route(generation, Frame{Destination: "/topic/rooms/r1", Body: []byte("late")})
	tr.callbacks.push(func() { close(delivered) })
	<-delivered

	if len(room.bodies()) != 0 {
		t.Errorf("Frame delivered while disconnected: %v", room.bodies())
	}
}

func TestConfig_ZeroHeartbeatsAdvertised(t *testing.T) {
	server := newMockStompServer(t)
	tr := newTestTransport(t, server.URL(), nil, &Config{ReconnectDelay: 20 * time.Millisecond, Logger: testConfig().Logger})

	tr.Activate("token")
	eventually(t, "connected", tr.IsConnected)

	connect := server.framesOf(frame.CONNECT, 0)[0]
	if got := connect.Header.Get(frame.HeartBeat); got != "0,0" {
		t.Errorf("Expected heart-beat header '0,0', got %q", got)
	}
}
