package transport

import (
	"fmt"
	"log/slog"
	"sync"
)

// callbackQueue runs callbacks one at a time, in the order they were
// pushed, on a single goroutine. Pushing never blocks.
type callbackQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	fns    []func()
	closed bool
	done   chan struct{}
	logger *slog.Logger
}

func newCallbackQueue(logger *slog.Logger) *callbackQueue {
	q := &callbackQueue{
		done:   make(chan struct{}),
		logger: logger,
	}
	q.cond = sync.NewCond(&q.mu)
	go q.dispatch()
	return q
}

func (q *callbackQueue) push(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.fns = append(q.fns, fn)
	q.cond.Signal()
}

func (q *callbackQueue) dispatch() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.fns) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.fns) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		fn := q.fns[0]
		q.fns[0] = nil
		q.fns = q.fns[1:]
		q.mu.Unlock()

		q.run(fn)
	}
}

func (q *callbackQueue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("callback panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// close lets the queue drain what is already pushed and then stops the
// dispatch goroutine.
func (q *callbackQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
}

// OnEvent subscribes to transport events. The returned function removes
// the subscription.
func (t *Transport) OnEvent(handler EventHandler) func() {
	t.listenersMu.Lock()
	id := t.nextListener
	t.nextListener++
	t.listeners[id] = handler
	t.listenersMu.Unlock()

	return func() {
		t.listenersMu.Lock()
		delete(t.listeners, id)
		t.listenersMu.Unlock()
	}
}

// OnConnectionChange subscribes to connected/disconnected transitions. The
// callback first receives the current state, then every later transition.
func (t *Transport) OnConnectionChange(callback ConnectionHandler) func() {
	// ready is only touched on the dispatch goroutine. Events queued before
	// the initial callback are already reflected in it.
	ready := false
	listener := func(event Event) {
		if !ready {
			return
		}
		switch event.Kind {
		case EventConnected:
			callback(true)
		case EventDisconnected:
			callback(false)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	connected := t.state == StateConnected
	t.callbacks.push(func() {
		ready = true
		callback(connected)
	})
	return t.OnEvent(listener)
}

// emit queues event for every listener registered at delivery time.
func (t *Transport) emit(event Event) {
	if event.Err != nil {
		t.metrics.Error(event.Kind, event.Err)
	}
	t.callbacks.push(func() {
		t.listenersMu.RLock()
		handlers := make([]EventHandler, 0, len(t.listeners))
		for _, h := range t.listeners {
			handlers = append(handlers, h)
		}
		t.listenersMu.RUnlock()

		for _, h := range handlers {
			h(event)
		}
	})
}
