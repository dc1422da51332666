package transport

import (
	"encoding/json"
	"fmt"

	"github.com/eleven-am/pondchat/stomp"
)

// SendChatMessage posts content to the room. It reports whether the
// command was handed to a live session; nothing is queued or retried when
// the transport is not connected.
func (t *Transport) SendChatMessage(roomID, content string) bool {
	err := t.Publish(t.config.SendRoute, chatMessage{ReceiverID: roomID, Content: content})
	if err != nil {
		t.logger.Warn("chat message not sent", "room", roomID, "error", err)
		return false
	}
	return true
}

// SendTyping publishes a typing indicator. It does nothing when the
// transport is not connected.
func (t *Transport) SendTyping(args TypingArgs) {
	err := t.Publish(t.config.TypingRoute, typingIndicator{RoomID: args.RoomID, IsTyping: args.IsTyping})
	if err != nil {
		t.logger.Debug("typing indicator not sent", "room", args.RoomID, "error", err)
	}
}

// Publish sends body, encoded as JSON, to route. It returns ErrNotConnected
// unless the session is established.
func (t *Transport) Publish(route string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("transport: encode body for %s: %w", route, err)
	}
	f := stomp.NewSend(route, payload)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateConnected || t.session == nil {
		t.metrics.CommandRejected(route)
		return ErrNotConnected
	}

	if err := t.session.enqueue(f); err != nil {
		t.metrics.CommandRejected(route)
		return err
	}

	t.metrics.CommandSent(route, len(payload))
	return nil
}
