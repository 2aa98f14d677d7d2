package config

import (
	"time"

	"github.com/spf13/viper"
)

// Observes represents the observability configuration.
type Observes struct {
	Tracer *Tracer
}

// Tracer represents the tracer configuration.
type Tracer struct {
	// Enabled turns trace exporting on.
	Enabled bool
	// Endpoint is the otlp grpc collector endpoint.
	Endpoint string
	// SampleRate is the trace sampling ratio, 0 to 1.
	SampleRate float64
	// BatchTimeout is the span batch export timeout.
	BatchTimeout time.Duration
	// ExportTimeout is the span export timeout.
	ExportTimeout time.Duration
	// MaxBatchSize is the maximum span batch size.
	MaxBatchSize int
	// MaxQueueSize is the maximum queued span count.
	MaxQueueSize int
}

func getObservesConfig(v *viper.Viper) *Observes {
	return &Observes{
		Tracer: &Tracer{
			Enabled:       v.GetBool("observes.tracer.enabled"),
			Endpoint:      getStringOrDefault(v, "observes.tracer.endpoint", "localhost:4317"),
			SampleRate:    v.GetFloat64("observes.tracer.sample_rate"),
			BatchTimeout:  getDurationOrDefault(v, "observes.tracer.batch_timeout", 5*time.Second),
			ExportTimeout: getDurationOrDefault(v, "observes.tracer.export_timeout", 30*time.Second),
			MaxBatchSize:  getIntOrDefault(v, "observes.tracer.max_batch_size", 512),
			MaxQueueSize:  getIntOrDefault(v, "observes.tracer.max_queue_size", 2048),
		},
	}
}
