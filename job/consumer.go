package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cyberkid042/distributed-job-queue/data/messaging"
	"github.com/cyberkid042/distributed-job-queue/job/structs"
	"github.com/cyberkid042/distributed-job-queue/nanoid"
)

// Consumer drains the delivery channel and drives jobs through the
// state machine. Delivery is at least once, so every step is guarded
// by a conditional transition and redelivered messages become no-ops.
type Consumer struct {
	svc *Service
}

// NewConsumer creates a consumer bound to the service's channel and
// handler registry.
func NewConsumer(svc *Service) *Consumer {
	return &Consumer{svc: svc}
}

// Start subscribes the consumer group to the job topic. Message
// handling continues until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	return c.svc.channel.Subscribe(ctx, c.svc.cfg.Topic, c.svc.cfg.Group, c.handleMessage)
}

// handleMessage processes one delivery. The message is acknowledged
// unconditionally on return; the state machine carries the
// idempotency, not the ack.
func (c *Consumer) handleMessage(ctx context.Context, msg *messaging.Message) error {
	defer func() {
		if msg.Ack == nil {
			return
		}
		if err := msg.Ack(); err != nil {
			c.svc.log.Error(ctx, "Failed to acknowledge message",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}()

	var job structs.Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		c.svc.log.Error(ctx, "Dropping malformed job message",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		return nil
	}

	c.processJob(ctx, &job)
	return nil
}

// processJob runs one execution attempt for a delivered job.
func (c *Consumer) processJob(ctx context.Context, job *structs.Job) {
	workerID := "worker-" + nanoid.String(8)

	claimed, err := c.svc.repo.MarkProcessing(ctx, job.JobID, workerID)
	if err != nil {
		c.svc.log.Error(ctx, "Failed to claim job", "job_id", job.JobID, "error", err)
		return
	}
	if !claimed {
		// Redelivery, a competing worker, or a cancelled job.
		c.svc.log.Debug(ctx, "Job not claimable, skipping", "job_id", job.JobID)
		return
	}
	c.svc.collector.JobStarted(job.JobType)
	c.svc.log.Info(ctx, "Processing job",
		"job_id", job.JobID, "job_type", job.JobType, "worker_id", workerID)

	start := time.Now()
	result, execErr := c.execute(ctx, job)
	elapsed := time.Since(start)

	if execErr != nil {
		c.recordResult(ctx, job, nil, execErr, elapsed)
		c.handleFailure(ctx, job, execErr)
		return
	}

	completed, err := c.svc.repo.MarkCompleted(ctx, job.JobID)
	if err != nil {
		c.svc.log.Error(ctx, "Failed to complete job", "job_id", job.JobID, "error", err)
		return
	}
	if completed {
		c.svc.collector.JobCompleted(job.JobType, elapsed)
		c.recordResult(ctx, job, result, nil, elapsed)
		c.svc.log.Info(ctx, "Job completed",
			"job_id", job.JobID, "job_type", job.JobType, "duration", elapsed.String())
	}
}

// execute looks up the handler and runs it under the processing
// timeout. Panics are converted into attempt failures.
func (c *Consumer) execute(ctx context.Context, job *structs.Job) (result map[string]any, err error) {
	handler, err := c.svc.registry.Get(job.JobType)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, c.svc.cfg.ProcessingTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(execCtx, job)
}

// handleFailure applies the retry policy after a failed attempt. An
// accepted retry is re-published; a rejected one ends the job with the
// last error preserved.
func (c *Consumer) handleFailure(ctx context.Context, job *structs.Job, execErr error) {
	c.svc.log.Warn(ctx, "Job attempt failed",
		"job_id", job.JobID, "job_type", job.JobType, "error", execErr)

	retried, err := c.svc.repo.IncrementRetry(ctx, job.JobID)
	if err != nil {
		c.svc.log.Error(ctx, "Failed to schedule retry", "job_id", job.JobID, "error", err)
		return
	}

	if retried {
		c.svc.collector.JobRetried(job.JobType)
		refreshed, err := c.svc.repo.FindByJobID(ctx, job.JobID)
		if err != nil {
			c.svc.log.Error(ctx, "Failed to reload job for retry", "job_id", job.JobID, "error", err)
			return
		}
		c.svc.log.Info(ctx, "Job scheduled for retry", "job_id", job.JobID,
			"attempt", refreshed.RetryCount, "max_retries", refreshed.MaxRetries)
		if err := c.svc.publish(ctx, refreshed); err != nil {
			c.svc.log.Error(ctx, "Failed to publish retry", "job_id", job.JobID, "error", err)
			c.svc.failAfterPublishError(ctx, refreshed)
		}
		return
	}

	failed, err := c.svc.repo.MarkFailed(ctx, job.JobID, retriesExhaustedMessage+": "+execErr.Error())
	if err != nil {
		c.svc.log.Error(ctx, "Failed to mark job as failed", "job_id", job.JobID, "error", err)
		return
	}
	if failed {
		c.svc.collector.JobFailed(job.JobType)
		c.svc.invalidateCache(ctx, job.JobID)
		c.svc.log.Error(ctx, "Job failed permanently",
			"job_id", job.JobID, "job_type", job.JobType, "error", execErr)
	}
}

// recordResult appends one JobResult row for the attempt.
func (c *Consumer) recordResult(ctx context.Context, job *structs.Job, result map[string]any, execErr error, elapsed time.Duration) {
	res := &structs.JobResult{
		JobID:           job.ID,
		Result:          result,
		Success:         execErr == nil,
		ExecutionTimeMs: elapsed.Milliseconds(),
	}
	if execErr != nil {
		res.ErrorMessage = execErr.Error()
	}
	if err := c.svc.repo.CreateResult(ctx, res); err != nil {
		c.svc.log.Error(ctx, "Failed to record job result", "job_id", job.JobID, "error", err)
	}
}
