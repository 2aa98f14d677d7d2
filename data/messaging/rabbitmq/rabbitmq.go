// Package rabbitmq implements the queue channel on top of rabbitmq.
//
// RabbitMQ has no native partitions, so the channel fans a topic out
// over a fixed set of queues and routes each message by key hash. One
// consumer loop per queue with prefetch 1 preserves per key ordering.
package rabbitmq

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cyberkid042/distributed-job-queue/data/messaging"
	"github.com/cyberkid042/distributed-job-queue/logging/logger"
)

const confirmTimeout = 120 * time.Second

// RabbitMQ implements messaging.Channel on a rabbitmq broker.
type RabbitMQ struct {
	conn       *amqp.Connection
	partitions int
	log        *logger.Logger
	mu         sync.Mutex
}

// New creates a rabbitmq channel from an established connection.
func New(conn *amqp.Connection, partitions int) *RabbitMQ {
	if conn == nil {
		return nil
	}
	if partitions <= 0 {
		partitions = 1
	}
	return &RabbitMQ{
		conn:       conn,
		partitions: partitions,
		log:        logger.StdLogger(),
	}
}

// IsConnected checks if the rabbitmq connection is valid
func (s *RabbitMQ) IsConnected() bool {
	return s != nil && s.conn != nil && !s.conn.IsClosed()
}

func (s *RabbitMQ) partitionFor(key []byte) int {
	if len(key) == 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32()) % s.partitions
}

func queueName(topic string, partition int) string {
	return fmt.Sprintf("%s.%d", topic, partition)
}

// ensureTopology declares the topic exchange and the partition queue
// and binds them.
func (s *RabbitMQ) ensureTopology(ch *amqp.Channel, topic string, partition int) (string, error) {
	err := ch.ExchangeDeclare(
		topic,   // exchange name
		"topic", // exchange type
		true,    // durable
		false,   // auto-delete
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return "", fmt.Errorf("failed to declare exchange: %w", err)
	}

	name := queueName(topic, partition)
	q, err := ch.QueueDeclare(
		name,  // queue name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return "", fmt.Errorf("failed to declare queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name, // queue name
		name,   // routing key matches the queue name
		topic,  // exchange
		false,  // no-wait
		nil,    // arguments
	)
	if err != nil {
		return "", fmt.Errorf("failed to bind queue: %w", err)
	}

	return name, nil
}

// Publish routes one message to its key partition queue and waits for
// a broker confirmation.
func (s *RabbitMQ) Publish(ctx context.Context, topic string, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.IsConnected() {
		return fmt.Errorf("rabbitmq connection is not available")
	}

	ch, err := s.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	var once sync.Once
	closeChannel := func() {
		once.Do(func() {
			if ch != nil {
				_ = ch.Close()
			}
		})
	}
	defer closeChannel()

	partition := s.partitionFor(key)
	routingKey, err := s.ensureTopology(ch, topic, partition)
	if err != nil {
		return err
	}

	if err = ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to put channel in confirm mode: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	pubCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	err = ch.PublishWithContext(
		pubCtx,
		topic,      // exchange
		routingKey, // routing key
		true,       // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    string(key),
			Body:         value,
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	select {
	case confirmed, ok := <-confirms:
		if !ok {
			return fmt.Errorf("confirmation channel closed")
		}
		if !confirmed.Ack {
			return fmt.Errorf("failed to receive publish confirmation")
		}
	case <-pubCtx.Done():
		return fmt.Errorf("publish confirmation timed out")
	}

	return nil
}

// Subscribe starts one consumer loop per partition queue.
func (s *RabbitMQ) Subscribe(ctx context.Context, topic, group string, handler messaging.Handler) error {
	if !s.IsConnected() {
		return fmt.Errorf("rabbitmq connection is not available")
	}

	for i := 0; i < s.partitions; i++ {
		if err := s.consumePartition(ctx, topic, group, i, handler); err != nil {
			return err
		}
	}
	return nil
}

func (s *RabbitMQ) consumePartition(ctx context.Context, topic, group string, partition int, handler messaging.Handler) error {
	ch, err := s.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	queue, err := s.ensureTopology(ch, topic, partition)
	if err != nil {
		_ = ch.Close()
		return err
	}

	// Prefetch 1 keeps deliveries on this queue strictly ordered.
	if err = ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		queue, // queue
		fmt.Sprintf("%s-%d", group, partition), // consumer tag
		false, // auto-ack off, the handler acks
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		defer func() {
			if ch != nil {
				_ = ch.Close()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				msg := &messaging.Message{
					Topic:     topic,
					Partition: partition,
					Offset:    int64(d.DeliveryTag),
					Key:       []byte(d.MessageId),
					Value:     d.Body,
					Ack: func() error {
						return d.Ack(false)
					},
				}
				if err := handler(ctx, msg); err != nil {
					s.log.Error(ctx, "error processing rabbitmq message", "error", err)
				}
			}
		}
	}()

	return nil
}

// Close closes the rabbitmq channel
func (s *RabbitMQ) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.IsConnected() {
		return nil
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close rabbitmq connection: %w", err)
	}
	return nil
}
