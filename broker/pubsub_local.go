package broker

import (
	"context"
	"sync"
)

// LocalPubSub is an in-memory PubSub for single-node deployments and tests.
type LocalPubSub struct {
	mu         sync.RWMutex
	subs       map[string][]*localSubscription
	closed     bool
	ctx        context.Context
	cancel     context.CancelFunc
	bufferSize int
}

type localSubscription struct {
	pattern string
	handler func(topic string, data []byte)
	ch      chan PubSubMessage
	cancel  context.CancelFunc
}

// NewLocalPubSub creates a LocalPubSub. Each subscription gets a queue of
// bufferSize messages (100 when bufferSize <= 0); messages published while
// a queue is full are dropped for that subscriber.
func NewLocalPubSub(ctx context.Context, bufferSize int) *LocalPubSub {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	pubsubCtx, cancel := context.WithCancel(ctx)

	return &LocalPubSub{
		subs:       make(map[string][]*localSubscription),
		ctx:        pubsubCtx,
		cancel:     cancel,
		bufferSize: bufferSize,
	}
}

// Subscribe registers handler for pattern. A subscription's handler is
// called from one goroutine, in publish order.
func (l *LocalPubSub) Subscribe(pattern string, handler func(topic string, data []byte)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errPubSubClosed
	}
	subCtx, cancel := context.WithCancel(l.ctx)

	sub := &localSubscription{
		pattern: pattern,
		handler: handler,
		ch:      make(chan PubSubMessage, l.bufferSize),
		cancel:  cancel,
	}
	l.subs[pattern] = append(l.subs[pattern], sub)

	go l.runSubscription(subCtx, sub)

	return nil
}

func (l *LocalPubSub) runSubscription(ctx context.Context, sub *localSubscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.ch:
			if !ok {
				return
			}
			sub.handler(msg.Topic, msg.Data)
		}
	}
}

func (l *LocalPubSub) Unsubscribe(pattern string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errPubSubClosed
	}
	subs, exists := l.subs[pattern]
	if !exists {
		return notFound("pubsub", "pattern not found")
	}
	for _, sub := range subs {
		sub.cancel()
		close(sub.ch)
	}
	delete(l.subs, pattern)

	return nil
}

func (l *LocalPubSub) Publish(topic string, data []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return errPubSubClosed
	}
	msg := PubSubMessage{Topic: topic, Data: data}

	for pattern, subs := range l.subs {
		if !matchTopic(pattern, topic) {
			continue
		}
		for _, sub := range subs {
			select {
			case sub.ch <- msg:
			default:
			}
		}
	}
	return nil
}

// Close stops every subscription. It is safe to call more than once.
func (l *LocalPubSub) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	l.cancel()

	for _, subs := range l.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	l.subs = make(map[string][]*localSubscription)

	return nil
}
