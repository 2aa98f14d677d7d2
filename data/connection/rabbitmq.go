package connection

import (
	"fmt"
	"net/url"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cyberkid042/distributed-job-queue/config"
)

// newRabbitMQConnection dials the configured broker. The URL may be a
// full amqp url or a bare host:port combined with the credential
// fields.
func newRabbitMQConnection(conf *config.RabbitMQ) (*amqp.Connection, error) {
	connURL := conf.URL
	if connURL == "" {
		return nil, fmt.Errorf("rabbitmq: URL is empty")
	}

	if !strings.HasPrefix(connURL, "amqp://") && !strings.HasPrefix(connURL, "amqps://") {
		u := url.URL{
			Scheme: "amqp",
			Host:   connURL,
		}
		if conf.Username != "" || conf.Password != "" {
			u.User = url.UserPassword(conf.Username, conf.Password)
		}
		if conf.Vhost != "" {
			u.Path = "/" + strings.TrimPrefix(conf.Vhost, "/")
		}
		connURL = u.String()
	}

	conn, err := amqp.DialConfig(connURL, amqp.Config{
		Heartbeat: conf.HeartbeatInterval,
		Dial:      amqp.DefaultDial(conf.ConnectionTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: failed to connect: %w", err)
	}

	return conn, nil
}
