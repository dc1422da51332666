package transport

import (
	"sort"

	"github.com/google/uuid"

	"github.com/eleven-am/pondchat/stomp"
)

type subscription struct {
	id          string
	destination string
	handler     Handler
}

// Subscribe registers handler for destination. While connected the
// SUBSCRIBE frame is sent at once; otherwise the registration is held and
// sent on the next successful connect. Subscribing to a destination that is
// already active keeps the existing handler.
func (t *Transport) Subscribe(destination string, handler Handler) {
	if destination == "" || handler == nil {
		t.logger.Warn("subscribe ignored: destination and handler are required", "destination", destination)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateConnected {
		t.pending[destination] = handler
		t.logger.Debug("subscription pending", "destination", destination, "state", t.state)
		return
	}

	if _, ok := t.active[destination]; ok {
		return
	}

	if !t.activateLocked(destination, handler) {
		t.pending[destination] = handler
	}
}

// Unsubscribe drops destination from both the pending and the active set,
// sending UNSUBSCRIBE when it was active on a live session.
func (t *Transport) Unsubscribe(destination string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.pending, destination)

	sub, ok := t.active[destination]
	if !ok {
		return
	}
	delete(t.active, destination)
	delete(t.bySubID, sub.id)

	if t.state == StateConnected && t.session != nil {
		if err := t.session.enqueueControl(stomp.NewUnsubscribe(sub.id)); err != nil {
			t.logger.Warn("unsubscribe frame not sent", "destination", destination, "error", err)
		}
	}
	t.logger.Debug("unsubscribed", "destination", destination, "id", sub.id)
}

// Subscriptions lists active and pending destinations, sorted.
func (t *Transport) Subscriptions() (active, pending []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	active = make([]string, 0, len(t.active))
	for destination := range t.active {
		active = append(active, destination)
	}
	pending = make([]string, 0, len(t.pending))
	for destination := range t.pending {
		pending = append(pending, destination)
	}
	sort.Strings(active)
	sort.Strings(pending)
	return active, pending
}

// activateLocked queues SUBSCRIBE on the current session under a fresh id
// and records the destination as active. It fails only when there is no
// live session, in which case the caller keeps the registration pending
// for the next connect.
func (t *Transport) activateLocked(destination string, handler Handler) bool {
	if t.session == nil {
		return false
	}

	id := uuid.NewString()
	if err := t.session.enqueueControl(stomp.NewSubscribe(id, destination)); err != nil {
		t.logger.Warn("subscribe frame not sent", "destination", destination, "error", err)
		return false
	}

	t.active[destination] = &subscription{id: id, destination: destination, handler: handler}
	t.bySubID[id] = destination
	t.logger.Debug("subscribed", "destination", destination, "id", id)
	return true
}

func (t *Transport) flushPendingLocked() {
	destinations := make([]string, 0, len(t.pending))
	for destination := range t.pending {
		destinations = append(destinations, destination)
	}
	sort.Strings(destinations)

	for _, destination := range destinations {
		handler := t.pending[destination]
		if _, ok := t.active[destination]; ok {
			delete(t.pending, destination)
			continue
		}
		if t.activateLocked(destination, handler) {
			delete(t.pending, destination)
		}
	}
}

// demoteActiveLocked moves every active registration back to pending so
// the next session subscribes again. A newer pending handler for the same
// destination wins.
func (t *Transport) demoteActiveLocked() {
	for destination, sub := range t.active {
		if _, ok := t.pending[destination]; !ok {
			t.pending[destination] = sub.handler
		}
	}
	clear(t.active)
	clear(t.bySubID)
}

// route queues an inbound MESSAGE frame for delivery. Whether the
// subscription is still active is decided on the dispatch goroutine, right
// before the handler runs.
func (t *Transport) route(generation uint64, inbound Frame) {
	t.metrics.FrameReceived(inbound.Destination, len(inbound.Body))

	t.callbacks.push(func() {
		handler := t.activeHandler(generation, inbound)
		if handler == nil {
			t.metrics.FrameDropped("inactive")
			t.logger.Debug("frame dropped: no active subscription",
				"destination", inbound.Destination, "subscription", inbound.Subscription)
			return
		}
		handler(inbound)
	})
}

func (t *Transport) activeHandler(generation uint64, inbound Frame) Handler {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateConnected || t.generation != generation {
		return nil
	}

	if inbound.Subscription != "" {
		destination, ok := t.bySubID[inbound.Subscription]
		if !ok {
			return nil
		}
		if sub, ok := t.active[destination]; ok && sub.id == inbound.Subscription {
			return sub.handler
		}
		return nil
	}

	if sub, ok := t.active[inbound.Destination]; ok {
		return sub.handler
	}
	return nil
}
