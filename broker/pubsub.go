// This file defines the PubSub interface the broker fans messages out
// through. With LocalPubSub a single node delivers to its own sessions; a
// shared implementation such as distributed.RedisPubSub lets several broker
// nodes serve the same rooms.
package broker

import (
	"errors"
	"strings"
)

// PubSub carries published room traffic between broker nodes.
type PubSub interface {
	// Subscribe registers a handler for topics matching pattern. A pattern
	// ending in ".*" matches every topic with that prefix.
	Subscribe(pattern string, handler func(topic string, data []byte)) error

	// Unsubscribe removes all handlers for pattern.
	Unsubscribe(pattern string) error

	// Publish sends data to every handler whose pattern matches topic.
	Publish(topic string, data []byte) error

	Close() error
}

type PubSubMessage struct {
	Topic string
	Data  []byte
}

var errPubSubClosed = errors.New("pubsub: closed")

func isPubSubClosed(err error) bool {
	return errors.Is(err, errPubSubClosed)
}

func matchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok && len(pattern) > 2 {
		return strings.HasPrefix(topic, prefix)
	}
	return false
}

const topicPrefix = "pondchat:"

// formatTopic maps a STOMP destination to its PubSub topic.
func formatTopic(destination string) string {
	return topicPrefix + destination
}

// parseTopic is the inverse of formatTopic.
func parseTopic(topic string) (string, bool) {
	return strings.CutPrefix(topic, topicPrefix)
}

// roomsPattern matches every broadcast destination.
var roomsPattern = formatTopic(topicRoot + ".*")
