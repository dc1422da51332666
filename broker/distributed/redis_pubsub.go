// Package distributed provides PubSub implementations that let several
// broker nodes serve the same rooms.
package distributed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrClosed is returned by every method once Close has been called.
var ErrClosed = errors.New("pubsub: closed")

// RedisPubSub implements broker.PubSub on Redis pattern subscriptions.
type RedisPubSub struct {
	client *redis.Client
	pubsub *redis.PubSub
	logger *slog.Logger

	mu            sync.RWMutex
	subscriptions map[string][]func(topic string, data []byte)
	patterns      map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	wg sync.WaitGroup
}

// NewRedisPubSub checks the connection and starts receiving. Handlers are
// called from a single goroutine in the order Redis delivers messages.
func NewRedisPubSub(ctx context.Context, client *redis.Client, logger *slog.Logger) (*RedisPubSub, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	pubsubCtx, cancel := context.WithCancel(ctx)

	r := &RedisPubSub{
		client:        client,
		logger:        logger.With("component", "redis_pubsub"),
		subscriptions: make(map[string][]func(topic string, data []byte)),
		patterns:      make(map[string]struct{}),
		ctx:           pubsubCtx,
		cancel:        cancel,
	}
	r.pubsub = client.Subscribe(pubsubCtx)

	r.wg.Add(1)
	go r.handleMessages()

	return r, nil
}

func (r *RedisPubSub) Subscribe(pattern string, handler func(topic string, data []byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	redisPattern := convertToRedisPattern(pattern)
	if _, exists := r.patterns[redisPattern]; !exists {
		if err := r.pubsub.PSubscribe(r.ctx, redisPattern); err != nil {
			return fmt.Errorf("failed to subscribe to pattern %s: %w", pattern, err)
		}
		r.patterns[redisPattern] = struct{}{}
	}

	r.subscriptions[pattern] = append(r.subscriptions[pattern], handler)
	return nil
}

func (r *RedisPubSub) Unsubscribe(pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if _, ok := r.subscriptions[pattern]; !ok {
		return fmt.Errorf("pubsub: pattern %s not subscribed", pattern)
	}
	delete(r.subscriptions, pattern)

	redisPattern := convertToRedisPattern(pattern)
	for p := range r.subscriptions {
		if convertToRedisPattern(p) == redisPattern {
			return nil
		}
	}

	if err := r.pubsub.PUnsubscribe(r.ctx, redisPattern); err != nil {
		return fmt.Errorf("failed to unsubscribe from pattern %s: %w", pattern, err)
	}
	delete(r.patterns, redisPattern)
	return nil
}

func (r *RedisPubSub) Publish(topic string, data []byte) error {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if err := r.client.Publish(r.ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close stops receiving and waits for the delivery goroutine. The Redis
// client itself stays open.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()

	if err := r.pubsub.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub: %w", err)
	}
	r.wg.Wait()
	return nil
}

func (r *RedisPubSub) handleMessages() {
	defer r.wg.Done()

	ch := r.pubsub.Channel()
	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.deliverMessage(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (r *RedisPubSub) deliverMessage(topic string, data []byte) {
	r.mu.RLock()
	var handlers []func(topic string, data []byte)
	for pattern, hs := range r.subscriptions {
		if matchPattern(pattern, topic) {
			handlers = append(handlers, hs...)
		}
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		r.invoke(h, topic, data)
	}
}

func (r *RedisPubSub) invoke(handler func(topic string, data []byte), topic string, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("pubsub handler panicked", "topic", topic, "panic", fmt.Sprint(rec))
		}
	}()
	handler(topic, data)
}

// convertToRedisPattern turns the ".*" suffix wildcard into Redis "*".
// Redis glob metacharacters in the literal part are escaped.
func convertToRedisPattern(pattern string) string {
	prefix, wildcard := strings.CutSuffix(pattern, ".*")
	if !wildcard || len(pattern) <= 2 {
		return escapeGlob(pattern)
	}
	return escapeGlob(prefix) + "*"
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func matchPattern(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok && len(pattern) > 2 {
		return strings.HasPrefix(topic, prefix)
	}
	return false
}
