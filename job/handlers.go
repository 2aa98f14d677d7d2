package job

import (
	"context"
	"fmt"
	"time"

	"github.com/cyberkid042/distributed-job-queue/job/structs"
	"github.com/cyberkid042/distributed-job-queue/logging/logger"
)

// payloadData unwraps the submission envelope. Submitted payloads are
// stored under the "data" key.
func payloadData(job *structs.Job) map[string]any {
	data, _ := job.Payload["data"].(map[string]any)
	return data
}

// simulateWork sleeps for d unless the context is cancelled first.
func simulateWork(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterBuiltInHandlers registers the built-in job handlers.
func RegisterBuiltInHandlers(reg *Registry, log *logger.Logger) {
	// Email job handler
	reg.Register("email-job", func(ctx context.Context, job *structs.Job) (map[string]any, error) {
		data := payloadData(job)
		email, ok := data["email"].(string)
		if !ok || email == "" {
			return nil, fmt.Errorf("invalid 'email' parameter")
		}
		subject, _ := data["subject"].(string)

		// Simulate email sending
		if err := simulateWork(ctx, time.Second); err != nil {
			return nil, err
		}
		log.Info(ctx, "email sent", "job_id", job.JobID, "email", email, "subject", subject)

		return map[string]any{
			"email":   email,
			"subject": subject,
			"status":  "sent",
		}, nil
	})

	// Data processing job handler
	reg.Register("data-processing", func(ctx context.Context, job *structs.Job) (map[string]any, error) {
		data := payloadData(job)
		task, _ := data["task"].(string)

		if err := simulateWork(ctx, 2*time.Second); err != nil {
			return nil, err
		}
		log.Info(ctx, "data task processed", "job_id", job.JobID, "task", task)

		return map[string]any{
			"task":   task,
			"status": "processed",
		}, nil
	})

	// File processing job handler
	reg.Register("file-processing", func(ctx context.Context, job *structs.Job) (map[string]any, error) {
		if err := simulateWork(ctx, 3*time.Second); err != nil {
			return nil, err
		}
		log.Info(ctx, "file processing completed", "job_id", job.JobID)

		return map[string]any{
			"status": "processed",
		}, nil
	})

	// Test job handler, useful for exercising the pipeline end to end
	reg.Register("test-job", func(ctx context.Context, job *structs.Job) (map[string]any, error) {
		data := payloadData(job)
		message, _ := data["message"].(string)
		number := data["number"]

		if err := simulateWork(ctx, 500*time.Millisecond); err != nil {
			return nil, err
		}
		log.Info(ctx, "test job processed", "job_id", job.JobID, "message", message, "number", number)

		return map[string]any{
			"message": message,
			"number":  number,
			"status":  "ok",
		}, nil
	})
}
