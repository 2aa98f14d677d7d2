package config

import (
	"time"

	"github.com/spf13/viper"
)

// Data represents the data layer configuration.
type Data struct {
	Database *Database
	Redis    *Redis
	Kafka    *Kafka
	RabbitMQ *RabbitMQ
}

// Database represents the database configuration.
type Database struct {
	// Driver is the database driver, sqlite3, mysql or postgres.
	Driver string
	// Source is the data source name.
	Source string
	// Migrate enables schema creation on startup.
	Migrate bool
	// Logging enables statement logging.
	Logging bool
	// MaxIdleConn is the maximum number of idle connections.
	MaxIdleConn int
	// MaxOpenConn is the maximum number of open connections.
	MaxOpenConn int
	// ConnMaxLifeTime is the maximum lifetime of a connection.
	ConnMaxLifeTime time.Duration
}

// Redis represents the redis configuration.
type Redis struct {
	Addr         string
	Username     string
	Password     string
	Db           int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration
	// CacheTTL is the expiry applied to cached job entries.
	CacheTTL time.Duration
}

// Kafka represents the kafka configuration.
type Kafka struct {
	Brokers        []string
	ClientID       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ConnectTimeout time.Duration
}

// RabbitMQ represents the rabbitmq configuration.
type RabbitMQ struct {
	URL               string
	Username          string
	Password          string
	Vhost             string
	ConnectionTimeout time.Duration
	HeartbeatInterval time.Duration
}

func getDataConfig(v *viper.Viper) *Data {
	return &Data{
		Database: &Database{
			Driver:          getStringOrDefault(v, "data.database.driver", "sqlite3"),
			Source:          getStringOrDefault(v, "data.database.source", "file:jobqueue.db?cache=shared&_fk=1"),
			Migrate:         getBoolOrDefault(v, "data.database.migrate", true),
			Logging:         v.GetBool("data.database.logging"),
			MaxIdleConn:     getIntOrDefault(v, "data.database.max_idle_conn", 10),
			MaxOpenConn:     getIntOrDefault(v, "data.database.max_open_conn", 100),
			ConnMaxLifeTime: getDurationOrDefault(v, "data.database.max_life_time", time.Hour),
		},
		Redis: &Redis{
			Addr:         v.GetString("data.redis.addr"),
			Username:     v.GetString("data.redis.username"),
			Password:     v.GetString("data.redis.password"),
			Db:           v.GetInt("data.redis.db"),
			ReadTimeout:  getDurationOrDefault(v, "data.redis.read_timeout", 400*time.Millisecond),
			WriteTimeout: getDurationOrDefault(v, "data.redis.write_timeout", 600*time.Millisecond),
			DialTimeout:  getDurationOrDefault(v, "data.redis.dial_timeout", time.Second),
			CacheTTL:     getDurationOrDefault(v, "data.redis.cache_ttl", 10*time.Minute),
		},
		Kafka: &Kafka{
			Brokers:        v.GetStringSlice("data.kafka.brokers"),
			ClientID:       getStringOrDefault(v, "data.kafka.client_id", "jobqueue"),
			ReadTimeout:    getDurationOrDefault(v, "data.kafka.read_timeout", 10*time.Second),
			WriteTimeout:   getDurationOrDefault(v, "data.kafka.write_timeout", 10*time.Second),
			ConnectTimeout: getDurationOrDefault(v, "data.kafka.connect_timeout", 10*time.Second),
		},
		RabbitMQ: &RabbitMQ{
			URL:               v.GetString("data.rabbitmq.url"),
			Username:          v.GetString("data.rabbitmq.username"),
			Password:          v.GetString("data.rabbitmq.password"),
			Vhost:             v.GetString("data.rabbitmq.vhost"),
			ConnectionTimeout: getDurationOrDefault(v, "data.rabbitmq.connection_timeout", 30*time.Second),
			HeartbeatInterval: getDurationOrDefault(v, "data.rabbitmq.heartbeat_interval", 10*time.Second),
		},
	}
}
