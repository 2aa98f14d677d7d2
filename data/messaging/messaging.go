// Package messaging defines the queue channel contract shared by the
// kafka and rabbitmq backends.
package messaging

import "context"

// Message is a single delivery from a queue backend. Delivery is at
// least once. A message stays eligible for redelivery until Ack is
// called, so handlers must tolerate duplicates.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte

	// Ack marks the message as consumed on the backend. Nil when the
	// backend has nothing to commit.
	Ack func() error
}

// Handler processes one delivered message. Returning an error does not
// ack the message. The handler owns the ack decision.
type Handler func(ctx context.Context, msg *Message) error

// Channel is a keyed, partitioned, at-least-once delivery channel.
// Messages published with the same key preserve their relative order.
type Channel interface {
	// Publish sends a message to the topic. The key selects the
	// partition, so messages sharing a key are totally ordered.
	Publish(ctx context.Context, topic string, key, value []byte) error

	// Subscribe starts consumer loops on the topic for the given group
	// and returns once they are running. Loops stop when ctx is done.
	Subscribe(ctx context.Context, topic, group string, handler Handler) error

	Close() error
}
