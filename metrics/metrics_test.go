package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/pondchat/auth"
	"github.com/eleven-am/pondchat/broker"
	"github.com/eleven-am/pondchat/transport"
)

func TestClient_StateGauge(t *testing.T) {
	c := NewClient(prometheus.NewRegistry())

	c.StateChanged(transport.StateConnecting)
	c.StateChanged(transport.StateConnected)

	expected := `
		# HELP pondchat_client_state Current connection state (1 for the active state)
		# TYPE pondchat_client_state gauge
		pondchat_client_state{state="CONNECTED"} 1
		pondchat_client_state{state="CONNECTING"} 0
		pondchat_client_state{state="DEACTIVATED"} 0
		pondchat_client_state{state="DISCONNECTED"} 0
		pondchat_client_state{state="IDLE"} 0
	`
	if err := testutil.CollectAndCompare(c.State, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected metric value: %v", err)
	}
}

func TestClient_Counters(t *testing.T) {
	c := NewClient(prometheus.NewRegistry())

	c.ConnectAttempt()
	c.ConnectAttempt()
	c.ReconnectScheduled(1, 5*time.Second)
	c.FrameReceived("/topic/rooms/r1", 10)
	c.FrameReceived("/topic/rooms/r1/typing", 5)
	c.FrameReceived("/topic/rooms/r2", 7)
	c.FrameDropped("inactive")
	c.CommandSent(transport.DefaultSendRoute, 30)
	c.CommandRejected(transport.DefaultTypingRoute)
	c.Error(transport.EventTransportError, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ConnectAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Reconnects))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.FramesReceived.WithLabelValues("room")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.FramesReceived.WithLabelValues("typing")))
	assert.Equal(t, 22.0, testutil.ToFloat64(c.BytesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.FramesDropped.WithLabelValues("inactive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CommandsSent.WithLabelValues(transport.DefaultSendRoute)))
	assert.Equal(t, 30.0, testutil.ToFloat64(c.BytesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CommandsRejected.WithLabelValues(transport.DefaultTypingRoute)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Errors.WithLabelValues(string(transport.EventTransportError))))
	assert.Equal(t, 1, testutil.CollectAndCount(c.ReconnectDelay))
}

func TestBroker_Counters(t *testing.T) {
	b := NewBroker(prometheus.NewRegistry())

	b.ConnectionOpened("s1")
	b.ConnectionOpened("s2")
	b.ConnectionClosed("s1", time.Minute)
	b.ConnectionError("s2", errors.New("reset"))
	b.FrameReceived("SEND", 100)
	b.FrameSent("MESSAGE", 120)
	b.MessageBroadcast("/topic/rooms/r1", 3)
	b.MessageBroadcast("/topic/news", 2)
	b.SubscriptionAdded("/topic/rooms/r1")
	b.SubscriptionAdded("/topic/rooms/r1")
	b.SubscriptionRemoved("/topic/rooms/r1")
	b.Error("upgrade", errors.New("bad request"))

	assert.Equal(t, 2.0, testutil.ToFloat64(b.Connections))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.ActiveConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.ConnectionErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.FramesReceived.WithLabelValues("SEND")))
	assert.Equal(t, 100.0, testutil.ToFloat64(b.BytesReceived))
	assert.Equal(t, 120.0, testutil.ToFloat64(b.BytesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.Broadcasts.WithLabelValues("room")))
	assert.Equal(t, 3.0, testutil.ToFloat64(b.Deliveries.WithLabelValues("room")))
	assert.Equal(t, 2.0, testutil.ToFloat64(b.Deliveries.WithLabelValues("other")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.ActiveSubscriptions))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.Errors.WithLabelValues("upgrade")))
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewClient(reg)
	NewBroker(reg)

	assert.Panics(t, func() { NewClient(reg) })
}

func TestChannelType(t *testing.T) {
	assert.Equal(t, "room", channelType("/topic/rooms/abc"))
	assert.Equal(t, "typing", channelType("/topic/rooms/abc/typing"))
	assert.Equal(t, "other", channelType("/topic/news"))
	assert.Equal(t, "other", channelType("/app/chat.send"))
}

func TestCollectors_EndToEnd(t *testing.T) {
	reg := prometheus.NewRegistry()
	brokerMetrics := NewBroker(reg)
	clientMetrics := NewClient(reg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	issuer := auth.NewIssuer("metrics-secret", time.Hour)
	opts := broker.DefaultOptions()
	opts.Verifier = issuer
	opts.Logger = logger
	opts.Hooks = &broker.Hooks{Metrics: brokerMetrics}

	srv, err := broker.New(context.Background(), opts)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Close()

	token, err := issuer.Issue("alice", "Alice")
	require.NoError(t, err)

	tr, err := transport.NewWithConfig(ts.URL+broker.DefaultPath, auth.Static(token), &transport.Config{
		ReconnectDelay: 20 * time.Millisecond,
		Logger:         logger,
		Metrics:        clientMetrics,
	})
	require.NoError(t, err)
	defer tr.Close()

	received := make(chan struct{}, 1)
	tr.Subscribe(transport.RoomDestination("r1"), func(transport.Frame) {
		received <- struct{}{}
	})
	tr.Activate("")

	require.Eventually(t, func() bool {
		return srv.Subscribers(transport.RoomDestination("r1")) == 1
	}, 3*time.Second, 10*time.Millisecond)
	require.True(t, tr.SendChatMessage("r1", "hello"))

	select {
	case <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for the chat message")
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(clientMetrics.ConnectAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(clientMetrics.State.WithLabelValues(string(transport.StateConnected))))
	assert.Equal(t, 1.0, testutil.ToFloat64(clientMetrics.CommandsSent.WithLabelValues(transport.DefaultSendRoute)))
	assert.Equal(t, 1.0, testutil.ToFloat64(clientMetrics.FramesReceived.WithLabelValues("room")))

	assert.Equal(t, 1.0, testutil.ToFloat64(brokerMetrics.ActiveConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(brokerMetrics.ActiveSubscriptions))
	assert.Equal(t, 1.0, testutil.ToFloat64(brokerMetrics.Broadcasts.WithLabelValues("room")))
	assert.Equal(t, 1.0, testutil.ToFloat64(brokerMetrics.FramesReceived.WithLabelValues("CONNECT")))
}
