// Package kafka implements the queue channel on top of kafka.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cyberkid042/distributed-job-queue/config"
	"github.com/cyberkid042/distributed-job-queue/data/messaging"
	"github.com/cyberkid042/distributed-job-queue/logging/logger"
)

const (
	publishTimeout  = 30 * time.Second
	retryAttempts   = 3
	retryBackoffMax = 30 * time.Second
)

// Kafka implements messaging.Channel on a kafka cluster.
type Kafka struct {
	conn      *kafka.Conn
	brokers   []string
	consumers int
	log       *logger.Logger

	mu        sync.Mutex
	writer    *kafka.Writer
	readers   map[string]*kafka.Reader
	readersMu sync.Mutex
}

// New creates a kafka channel from an established connection.
func New(conn *kafka.Conn, cfg *config.Kafka, consumers int) *Kafka {
	if conn == nil {
		return nil
	}

	brokers := cfg.Brokers
	if len(brokers) == 0 {
		if remote := conn.RemoteAddr().String(); remote != "" {
			brokers = []string{remote}
		}
	}
	if consumers <= 0 {
		consumers = 1
	}

	return &Kafka{
		conn:      conn,
		brokers:   brokers,
		consumers: consumers,
		log:       logger.StdLogger(),
		readers:   make(map[string]*kafka.Reader),
		writer: &kafka.Writer{
			Addr: kafka.TCP(brokers...),
			// Hash keeps every message with the same key on the same
			// partition, which is what gives per job ordering.
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
	}
}

// IsConnected checks if the kafka connection is valid
func (s *Kafka) IsConnected() bool {
	if s == nil || s.conn == nil {
		return false
	}
	_, err := s.conn.Controller()
	return err == nil
}

// Publish writes one message, retrying transient failures with backoff.
func (s *Kafka) Publish(ctx context.Context, topic string, key, value []byte) error {
	if !s.IsConnected() {
		return fmt.Errorf("kafka connection is not available")
	}

	writer := s.getWriter()
	if writer == nil {
		return errors.New("kafka writer is not initialized")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Time:  time.Now(),
	}

	backoff := 100 * time.Millisecond
	for attempt := 0; attempt <= retryAttempts; attempt++ {
		err := writer.WriteMessages(timeoutCtx, msg)
		if err == nil {
			return nil
		}

		if timeoutCtx.Err() != nil {
			return fmt.Errorf("publish context timeout: %w", timeoutCtx.Err())
		}

		if attempt < retryAttempts {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > retryBackoffMax {
				backoff = retryBackoffMax
			}
		}
	}

	return fmt.Errorf("failed to write message after %d attempts", retryAttempts+1)
}

// getWriter ensures a valid writer exists and returns it
func (s *Kafka) getWriter() *kafka.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil && len(s.brokers) > 0 {
		s.writer = &kafka.Writer{
			Addr:         kafka.TCP(s.brokers...),
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		}
	}

	return s.writer
}

// Subscribe starts one consumer loop per configured consumer. Each loop
// owns its reader so the group balancer can spread partitions across
// them.
func (s *Kafka) Subscribe(ctx context.Context, topic, group string, handler messaging.Handler) error {
	if !s.IsConnected() {
		return fmt.Errorf("kafka connection is not available")
	}

	for i := 0; i < s.consumers; i++ {
		reader := s.getReader(topic, group, i)
		if reader == nil {
			return errors.New("failed to create kafka reader")
		}
		go s.consumeLoop(ctx, reader, topic, group, i, handler)
	}

	return nil
}

func (s *Kafka) consumeLoop(ctx context.Context, reader *kafka.Reader, topic, group string, id int, handler messaging.Handler) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(ctx, "recovered from panic in kafka consumer", "panic", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.closeReader(topic, group, id)
			return
		default:
		}

		readCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		m, err := reader.FetchMessage(readCtx)
		cancel()

		if err != nil {
			if err == io.EOF || errors.Is(err, context.Canceled) {
				return
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				s.log.Error(ctx, "error reading kafka message", "error", err)
				time.Sleep(1 * time.Second)
			}
			continue
		}

		msg := &messaging.Message{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Key:       m.Key,
			Value:     m.Value,
			Ack: func() error {
				commitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return reader.CommitMessages(commitCtx, m)
			},
		}

		if err := handler(ctx, msg); err != nil {
			s.log.Error(ctx, "error processing kafka message", "error", err)
		}
	}
}

// getReader gets or creates a reader for the given consumer slot
func (s *Kafka) getReader(topic, group string, id int) *kafka.Reader {
	key := topic + ":" + group + ":" + strconv.Itoa(id)

	s.readersMu.Lock()
	defer s.readersMu.Unlock()

	if reader, exists := s.readers[key]; exists && reader != nil {
		return reader
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     s.brokers,
		GroupID:     group,
		Topic:       topic,
		MinBytes:    10e3,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.LastOffset,
		// CommitInterval stays zero so acks commit synchronously.
		ReadLagInterval: -1,
		ReadBackoffMin:  100 * time.Millisecond,
		ReadBackoffMax:  5 * time.Second,
		ErrorLogger:     kafka.LoggerFunc(s.logKafkaError),
	})

	s.readers[key] = reader
	return reader
}

// closeReader safely closes a reader and removes it from the map
func (s *Kafka) closeReader(topic, group string, id int) {
	key := topic + ":" + group + ":" + strconv.Itoa(id)

	s.readersMu.Lock()
	defer s.readersMu.Unlock()

	if reader, exists := s.readers[key]; exists && reader != nil {
		_ = reader.Close()
		delete(s.readers, key)
	}
}

// Close closes the kafka channel
func (s *Kafka) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error

	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close kafka writer: %w", err))
		}
		s.writer = nil
	}

	s.readersMu.Lock()
	for key, reader := range s.readers {
		if err := reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close kafka reader %s: %w", key, err))
		}
		delete(s.readers, key)
	}
	s.readersMu.Unlock()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close kafka connection: %w", err))
		}
		s.conn = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing kafka channel: %v", errs)
	}

	return nil
}

func (s *Kafka) logKafkaError(msg string, args ...any) {
	s.log.Error(context.Background(), fmt.Sprintf("kafka: "+msg, args...))
}
