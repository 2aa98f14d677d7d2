// Package metrics collects queue and data layer counters.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector interface for queue metrics
type Collector interface {
	JobSubmitted(jobType string)
	JobStarted(jobType string)
	JobCompleted(jobType string, duration time.Duration)
	JobFailed(jobType string)
	JobRetried(jobType string)
	JobCancelled(jobType string)
	SetQueueSize(n int64)
	MQPublish(system string, err error)
	MQConsume(system string, err error)
	DBQuery(duration time.Duration, err error)
	RedisCommand(command string, err error)
	Snapshot() map[string]any
}

// NoOpCollector implements Collector with no-op methods
type NoOpCollector struct{}

func (NoOpCollector) JobSubmitted(string)                {}
func (NoOpCollector) JobStarted(string)                  {}
func (NoOpCollector) JobCompleted(string, time.Duration) {}
func (NoOpCollector) JobFailed(string)                   {}
func (NoOpCollector) JobRetried(string)                  {}
func (NoOpCollector) JobCancelled(string)                {}
func (NoOpCollector) SetQueueSize(int64)                 {}
func (NoOpCollector) MQPublish(string, error)            {}
func (NoOpCollector) MQConsume(string, error)            {}
func (NoOpCollector) DBQuery(time.Duration, error)       {}
func (NoOpCollector) RedisCommand(string, error)         {}
func (NoOpCollector) Snapshot() map[string]any           { return nil }

// QueueCollector collects queue metrics with atomic counters
type QueueCollector struct {
	submitted atomic.Int64
	started   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	cancelled atomic.Int64
	queueSize atomic.Int64

	// Message queue metrics
	mqPublished     atomic.Int64
	mqPublishErrors atomic.Int64
	mqConsumed      atomic.Int64
	mqConsumeErrors atomic.Int64

	// Database metrics
	dbQueries     atomic.Int64
	dbQueryErrors atomic.Int64
	dbSlowQueries atomic.Int64

	// Redis metrics
	redisCommands atomic.Int64
	redisErrors   atomic.Int64

	// Processing time accumulation
	processingNanos atomic.Int64

	// Per job type counters
	byType sync.Map // map[string]*typeCounters
}

type typeCounters struct {
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewQueueCollector creates a new queue collector
func NewQueueCollector() *QueueCollector {
	return &QueueCollector{}
}

func (c *QueueCollector) typeCounter(jobType string) *typeCounters {
	if v, ok := c.byType.Load(jobType); ok {
		return v.(*typeCounters)
	}
	v, _ := c.byType.LoadOrStore(jobType, &typeCounters{})
	return v.(*typeCounters)
}

func (c *QueueCollector) JobSubmitted(jobType string) {
	c.submitted.Add(1)
	c.typeCounter(jobType).submitted.Add(1)
}

func (c *QueueCollector) JobStarted(jobType string) {
	c.started.Add(1)
}

func (c *QueueCollector) JobCompleted(jobType string, duration time.Duration) {
	c.completed.Add(1)
	c.processingNanos.Add(int64(duration))
	c.typeCounter(jobType).completed.Add(1)
}

func (c *QueueCollector) JobFailed(jobType string) {
	c.failed.Add(1)
	c.typeCounter(jobType).failed.Add(1)
}

func (c *QueueCollector) JobRetried(jobType string) {
	c.retried.Add(1)
}

func (c *QueueCollector) JobCancelled(jobType string) {
	c.cancelled.Add(1)
}

// SetQueueSize records the current pending plus processing backlog.
func (c *QueueCollector) SetQueueSize(n int64) {
	c.queueSize.Store(n)
}

func (c *QueueCollector) MQPublish(system string, err error) {
	c.mqPublished.Add(1)
	if err != nil {
		c.mqPublishErrors.Add(1)
	}
}

func (c *QueueCollector) MQConsume(system string, err error) {
	c.mqConsumed.Add(1)
	if err != nil {
		c.mqConsumeErrors.Add(1)
	}
}

func (c *QueueCollector) DBQuery(duration time.Duration, err error) {
	c.dbQueries.Add(1)
	if err != nil {
		c.dbQueryErrors.Add(1)
	}
	if duration > 100*time.Millisecond {
		c.dbSlowQueries.Add(1)
	}
}

func (c *QueueCollector) RedisCommand(command string, err error) {
	c.redisCommands.Add(1)
	if err != nil {
		c.redisErrors.Add(1)
	}
}

// AvgProcessingTime returns the mean handler duration across completed jobs.
func (c *QueueCollector) AvgProcessingTime() time.Duration {
	completed := c.completed.Load()
	if completed == 0 {
		return 0
	}
	return time.Duration(c.processingNanos.Load() / completed)
}

// Snapshot returns the current counter values
func (c *QueueCollector) Snapshot() map[string]any {
	perType := make(map[string]map[string]int64)
	c.byType.Range(func(k, v any) bool {
		tc := v.(*typeCounters)
		perType[k.(string)] = map[string]int64{
			"submitted": tc.submitted.Load(),
			"completed": tc.completed.Load(),
			"failed":    tc.failed.Load(),
		}
		return true
	})

	return map[string]any{
		"jobs": map[string]int64{
			"submitted":  c.submitted.Load(),
			"started":    c.started.Load(),
			"completed":  c.completed.Load(),
			"failed":     c.failed.Load(),
			"retried":    c.retried.Load(),
			"cancelled":  c.cancelled.Load(),
			"queue_size": c.queueSize.Load(),
		},
		"jobs_by_type": perType,
		"mq": map[string]int64{
			"published":      c.mqPublished.Load(),
			"publish_errors": c.mqPublishErrors.Load(),
			"consumed":       c.mqConsumed.Load(),
			"consume_errors": c.mqConsumeErrors.Load(),
		},
		"db": map[string]int64{
			"queries":      c.dbQueries.Load(),
			"query_errors": c.dbQueryErrors.Load(),
			"slow_queries": c.dbSlowQueries.Load(),
		},
		"redis": map[string]int64{
			"commands": c.redisCommands.Load(),
			"errors":   c.redisErrors.Load(),
		},
		"avg_processing_ms": c.AvgProcessingTime().Milliseconds(),
	}
}
