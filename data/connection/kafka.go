package connection

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/cyberkid042/distributed-job-queue/config"
)

// newKafkaConnection dials the first configured broker. The connection
// is used for liveness checks while writers and readers dial on their
// own.
func newKafkaConnection(conf *config.Kafka) (*kafka.Conn, error) {
	if conf == nil || len(conf.Brokers) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), conf.ConnectTimeout)
	defer cancel()

	conn, err := kafka.DialContext(ctx, "tcp", conf.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("failed to connect to kafka: %w", err)
	}

	return conn, nil
}
