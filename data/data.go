// Package data wires the storage, cache and messaging backends behind
// one facade.
package data

import (
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cyberkid042/distributed-job-queue/config"
	"github.com/cyberkid042/distributed-job-queue/data/connection"
	"github.com/cyberkid042/distributed-job-queue/data/messaging"
	"github.com/cyberkid042/distributed-job-queue/data/messaging/kafka"
	"github.com/cyberkid042/distributed-job-queue/data/messaging/rabbitmq"
	"github.com/cyberkid042/distributed-job-queue/metrics"
)

// Data represents the data layer implementation
type Data struct {
	Conn *connection.Connections

	channel   messaging.Channel
	backend   string
	collector metrics.Collector
}

// Option function type for configuring Data
type Option func(*Data)

// WithMetricsCollector sets the metrics collector
func WithMetricsCollector(collector metrics.Collector) Option {
	return func(d *Data) {
		if collector != nil {
			d.collector = collector
		}
	}
}

// New creates the data layer and returns it with a cleanup function.
func New(conf *config.Data, queue *config.Queue, opts ...Option) (*Data, func(), error) {
	conn, err := connection.New(conf)
	if err != nil {
		return nil, nil, err
	}

	d := &Data{
		Conn:      conn,
		backend:   queue.Backend,
		collector: metrics.NoOpCollector{},
	}
	for _, opt := range opts {
		opt(d)
	}

	switch queue.Backend {
	case "kafka":
		if conn.KFK == nil {
			closeQuietly(conn)
			return nil, nil, fmt.Errorf("queue backend is kafka but no kafka brokers are configured")
		}
		d.channel = kafka.New(conn.KFK, conf.Kafka, queue.Consumers)
	case "rabbitmq":
		if conn.RMQ == nil {
			closeQuietly(conn)
			return nil, nil, fmt.Errorf("queue backend is rabbitmq but no rabbitmq url is configured")
		}
		d.channel = rabbitmq.New(conn.RMQ, queue.Consumers)
	default:
		closeQuietly(conn)
		return nil, nil, fmt.Errorf("unsupported queue backend: %q", queue.Backend)
	}

	cleanup := func() {
		if errs := d.Close(); len(errs) > 0 {
			fmt.Printf("cleanup errors: %v\n", errs)
		}
	}

	return d, cleanup, nil
}

func closeQuietly(conn *connection.Connections) {
	_ = conn.Close()
}

// DB returns the sql database
func (d *Data) DB() *sql.DB {
	if d.Conn == nil {
		return nil
	}
	return d.Conn.DB
}

// Redis returns the redis client, nil when not configured
func (d *Data) Redis() *redis.Client {
	if d.Conn == nil {
		return nil
	}
	return d.Conn.RC
}

// Close closes the channel and all connections
func (d *Data) Close() (errs []error) {
	if d.channel != nil {
		if err := d.channel.Close(); err != nil {
			errs = append(errs, err)
		}
		d.channel = nil
	}
	if d.Conn != nil {
		errs = append(errs, d.Conn.Close()...)
	}
	return errs
}
