package config

import (
	"time"

	"github.com/spf13/viper"
)

// Queue represents the job queue configuration.
type Queue struct {
	// Topic is the queue topic jobs are published to.
	Topic string
	// Group is the consumer group used for job consumption.
	Group string
	// Backend selects the messaging backend, kafka or rabbitmq.
	Backend string
	// Consumers is the number of concurrent consumer loops.
	Consumers int
	// MaxRetries is the default retry budget for new jobs.
	MaxRetries int
	// DefaultPriority is the priority assigned when none is given.
	DefaultPriority int
	// BatchSize bounds how many stuck jobs a reconcile pass handles.
	BatchSize int
	// WorkerTimeout is how long a job may sit in PROCESSING before it
	// is considered stuck.
	WorkerTimeout time.Duration
	// ProcessingTimeout bounds a single handler execution.
	ProcessingTimeout time.Duration
	// ReconcileInterval is the delay between reconcile passes.
	ReconcileInterval time.Duration
}

func getQueueConfig(v *viper.Viper) *Queue {
	return &Queue{
		Topic:             getStringOrDefault(v, "queue.topic", "job-queue"),
		Group:             getStringOrDefault(v, "queue.group", "job-queue-group"),
		Backend:           getStringOrDefault(v, "queue.backend", "kafka"),
		Consumers:         getIntOrDefault(v, "queue.consumers", 3),
		MaxRetries:        getIntOrDefault(v, "queue.max_retries", 3),
		DefaultPriority:   getIntOrDefault(v, "queue.default_priority", 0),
		BatchSize:         getIntOrDefault(v, "queue.batch_size", 10),
		WorkerTimeout:     getDurationOrDefault(v, "queue.worker_timeout", 30*time.Minute),
		ProcessingTimeout: getDurationOrDefault(v, "queue.processing_timeout", 300*time.Second),
		ReconcileInterval: getDurationOrDefault(v, "queue.reconcile_interval", 60*time.Second),
	}
}
