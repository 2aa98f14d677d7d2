// Package connection manages the raw clients the data layer is built on.
package connection

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/cyberkid042/distributed-job-queue/config"
)

// Connections holds all database and broker connections
type Connections struct {
	DB     *sql.DB
	RC     *redis.Client
	RMQ    *amqp.Connection
	KFK    *kafka.Conn
	closed bool
	mu     sync.Mutex
}

// New creates connections for every configured backend
func New(conf *config.Data) (*Connections, error) {
	c := &Connections{}
	var err error

	if conf.Database != nil && conf.Database.Source != "" {
		c.DB, err = newDatabase(conf.Database)
		if err != nil {
			return nil, err
		}
	}

	if conf.Redis != nil && conf.Redis.Addr != "" {
		c.RC, err = newRedisClient(conf.Redis)
		if err != nil {
			return nil, err
		}
	}

	if conf.RabbitMQ != nil && conf.RabbitMQ.URL != "" {
		c.RMQ, err = newRabbitMQConnection(conf.RabbitMQ)
		if err != nil {
			return nil, err
		}
	}

	if conf.Kafka != nil && len(conf.Kafka.Brokers) > 0 {
		c.KFK, err = newKafkaConnection(conf.Kafka)
		if err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Close closes all connections
func (d *Connections) Close() (errs []error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	if d.RC != nil {
		if err := d.pingRedis(context.Background()); err == nil {
			if err := d.RC.Close(); err != nil {
				errs = append(errs, errors.New("redis close error: "+err.Error()))
			}
		}
		d.RC = nil
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, errors.New("database close error: "+err.Error()))
		}
		d.DB = nil
	}

	if d.RMQ != nil {
		if !d.RMQ.IsClosed() {
			if err := d.RMQ.Close(); err != nil {
				errs = append(errs, errors.New("rabbitmq close error: "+err.Error()))
			}
		}
		d.RMQ = nil
	}

	if d.KFK != nil {
		if err := d.pingKafka(); err == nil {
			if err := d.KFK.Close(); err != nil {
				errs = append(errs, errors.New("kafka close error: "+err.Error()))
			}
		}
		d.KFK = nil
	}

	d.closed = true

	return errs
}

// Ping checks the primary database connection
func (d *Connections) Ping(ctx context.Context) error {
	if d.DB != nil {
		return d.DB.PingContext(ctx)
	}
	return nil
}

// pingRedis checks if the redis connection is alive
func (d *Connections) pingRedis(ctx context.Context) error {
	if d.RC == nil {
		return errors.New("redis client is nil")
	}
	return d.RC.Ping(ctx).Err()
}

// pingKafka checks if the kafka connection is alive
func (d *Connections) pingKafka() error {
	if d.KFK == nil {
		return errors.New("kafka connection is nil")
	}
	_, err := d.KFK.Controller()
	return err
}
