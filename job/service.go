// Package job implements the queue core: submission, consumption,
// retry handling and reconciliation of jobs.
package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/cyberkid042/distributed-job-queue/config"
	"github.com/cyberkid042/distributed-job-queue/data/cache"
	"github.com/cyberkid042/distributed-job-queue/data/messaging"
	"github.com/cyberkid042/distributed-job-queue/job/data/repository"
	"github.com/cyberkid042/distributed-job-queue/job/structs"
	"github.com/cyberkid042/distributed-job-queue/logging/logger"
	"github.com/cyberkid042/distributed-job-queue/metrics"
	"github.com/cyberkid042/distributed-job-queue/paging"
	"github.com/cyberkid042/distributed-job-queue/validator"
)

// Error messages written by guarded terminal transitions.
const (
	publishFailedMessage    = "failed to queue job for processing"
	cancelledByUserMessage  = "Job cancelled by user"
	retriesExhaustedMessage = "job processing failed after all retries"
	workerTimeoutMessage    = "worker timed out"
)

// SubmitRequest is the input accepted by Submit. Payload is the raw
// submission body; the service wraps it in the {"data": ...} envelope.
type SubmitRequest struct {
	JobType string         `json:"job_type" validate:"required,max=100"`
	Payload map[string]any `json:"payload" validate:"required"`
}

// Service coordinates job persistence and delivery. Status changes go
// through the repository's conditional transitions; delivery goes
// through the messaging channel keyed by job id.
type Service struct {
	repo      repository.JobRepository
	channel   messaging.Channel
	registry  *Registry
	cfg       *config.Queue
	log       *logger.Logger
	collector metrics.Collector
	breaker   *gobreaker.CircuitBreaker
	cache     *cache.Cache[structs.Job]
	cacheTTL  time.Duration
}

// ServiceOption configures optional service collaborators.
type ServiceOption func(*Service)

// WithCollector sets the metrics collector.
func WithCollector(collector metrics.Collector) ServiceOption {
	return func(s *Service) {
		if collector != nil {
			s.collector = collector
		}
	}
}

// WithCache enables the read through cache for terminal jobs.
func WithCache(c *cache.Cache[structs.Job], ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// NewService creates the job service.
func NewService(repo repository.JobRepository, channel messaging.Channel, reg *Registry, cfg *config.Queue, log *logger.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		repo:      repo,
		channel:   channel,
		registry:  reg,
		cfg:       cfg,
		log:       log,
		collector: metrics.NoOpCollector{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "job-publish",
		MaxRequests: 100,
		Interval:    5 * time.Second,
		Timeout:     3 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	})
	return s
}

// Submit persists a new pending job and hands it to the delivery
// channel asynchronously. The returned job reflects the stored record;
// the publish outcome is not part of the submission result. A job
// whose publish fails is moved to FAILED by a guarded transition.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*structs.Job, error) {
	if errs := validator.ValidateStruct(req); len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}

	now := time.Now().UTC()
	job := &structs.Job{
		JobID:      uuid.NewString(),
		JobType:    req.JobType,
		Payload:    map[string]any{"data": req.Payload},
		Status:     structs.StatusPending,
		Priority:   s.cfg.DefaultPriority,
		MaxRetries: s.cfg.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	s.collector.JobSubmitted(job.JobType)
	s.log.Info(ctx, "Job created", "job_id", job.JobID, "job_type", job.JobType)

	s.publishAsync(job)

	return job, nil
}

// publishAsync pushes the job to the channel without blocking the
// caller. Publish errors demote the job to FAILED unless it already
// advanced past PENDING.
func (s *Service) publishAsync(job *structs.Job) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProcessingTimeout)
		defer cancel()

		if err := s.publish(ctx, job); err != nil {
			s.log.Error(ctx, "Failed to publish job", "job_id", job.JobID, "error", err)
			s.failAfterPublishError(ctx, job)
			return
		}
		s.log.Info(ctx, "Job queued for processing", "job_id", job.JobID)
	}()
}

// publish serializes the job and sends it through the circuit breaker.
func (s *Service) publish(ctx context.Context, job *structs.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to serialize job: %w", err)
	}
	_, err = s.breaker.Execute(func() (any, error) {
		return nil, s.channel.Publish(ctx, s.cfg.Topic, []byte(job.JobID), body)
	})
	return err
}

func (s *Service) failAfterPublishError(ctx context.Context, job *structs.Job) {
	ok, err := s.repo.MarkFailed(ctx, job.JobID, publishFailedMessage)
	if err != nil {
		s.log.Error(ctx, "Failed to mark job as failed", "job_id", job.JobID, "error", err)
		return
	}
	if ok {
		s.collector.JobFailed(job.JobType)
	}
}

// Get returns a job by its external id. Terminal jobs are served from
// the cache when one is configured.
func (s *Service) Get(ctx context.Context, jobID string) (*structs.Job, error) {
	if s.cache != nil {
		if job, err := s.cache.Get(ctx, jobID); err == nil && job != nil {
			return job, nil
		}
	}

	job, err := s.repo.FindByJobID(ctx, jobID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	if s.cache != nil && job.Status.IsTerminal() {
		if err := s.cache.Set(ctx, jobID, job, s.cacheTTL); err != nil {
			s.log.Warn(ctx, "Failed to cache job", "job_id", jobID, "error", err)
		}
	}
	return job, nil
}

// List returns a cursor paged job listing, optionally narrowed by
// status and job type.
func (s *Service) List(ctx context.Context, status, jobType string, params paging.Params) (*paging.Result[*structs.Job], error) {
	if status != "" {
		if _, ok := structs.ParseStatus(status); !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
		}
	}

	total, err := s.repo.Count(ctx, status, jobType)
	if err != nil {
		return nil, err
	}

	return paging.Paginate(params, func(cursor string, limit int) ([]*structs.Job, int, string, error) {
		jobs, err := s.repo.List(ctx, repository.ListParams{
			Status:  status,
			JobType: jobType,
			Cursor:  cursor,
			Limit:   limit,
		})
		if err != nil {
			return nil, 0, "", err
		}

		// limit carries one extra row; the cursor points at the last
		// row of the visible page.
		var nextCursor string
		if len(jobs) == limit && limit > 1 {
			last := jobs[limit-2]
			nextCursor = paging.EncodeCursor(last.CreatedAt, last.ID)
		}
		return jobs, total, nextCursor, nil
	})
}

// Cancel moves a pending job to FAILED with the cancellation message.
// Jobs in any other state are not cancellable.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	job, err := s.repo.FindByJobID(ctx, jobID)
	if err != nil {
		if isNotFound(err) {
			return ErrJobNotFound
		}
		return err
	}

	ok, err := s.repo.CancelPending(ctx, jobID, cancelledByUserMessage)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Warn(ctx, "Cannot cancel job", "job_id", jobID, "status", string(job.Status))
		return fmt.Errorf("%w: status is %s", ErrJobNotCancellable, job.Status)
	}

	s.collector.JobCancelled(job.JobType)
	s.invalidateCache(ctx, jobID)
	s.log.Info(ctx, "Job cancelled", "job_id", jobID)
	return nil
}

// Retry re-queues a failed job that still has retry budget. The retry
// transition and the re-publish follow the same path the consumer uses.
func (s *Service) Retry(ctx context.Context, jobID string) (*structs.Job, error) {
	job, err := s.repo.FindByJobID(ctx, jobID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	ok, err := s.repo.IncrementRetry(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.log.Warn(ctx, "Job cannot be retried", "job_id", jobID,
			"status", string(job.Status), "retry_count", job.RetryCount, "max_retries", job.MaxRetries)
		return nil, ErrJobNotRetryable
	}

	s.collector.JobRetried(job.JobType)
	s.invalidateCache(ctx, jobID)

	refreshed, err := s.repo.FindByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "Retrying job", "job_id", jobID,
		"attempt", refreshed.RetryCount, "max_retries", refreshed.MaxRetries)
	s.publishAsync(refreshed)

	return refreshed, nil
}

// Results returns every recorded execution attempt for a job, newest
// first.
func (s *Service) Results(ctx context.Context, jobID string) ([]*structs.JobResult, error) {
	job, err := s.repo.FindByJobID(ctx, jobID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return s.repo.ListResultsByJob(ctx, job.ID)
}

// Stats returns per status counts together with the collector
// snapshot. The counts come straight from the store, so the snapshot
// and the counts may disagree briefly under load.
func (s *Service) Stats(ctx context.Context) (map[string]any, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	s.collector.SetQueueSize(counts.Pending + counts.Processing)

	stats := map[string]any{
		"pending":      counts.Pending,
		"processing":   counts.Processing,
		"completed":    counts.Completed,
		"failed":       counts.Failed,
		"total":        counts.Total(),
		"success_rate": successRate(counts.Completed, counts.Failed),
	}
	if snap := s.collector.Snapshot(); snap != nil {
		stats["metrics"] = snap
	}
	return stats, nil
}

// Registry exposes the handler registry, mainly so callers can list
// the registered job types.
func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) invalidateCache(ctx context.Context, jobID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, jobID); err != nil {
		s.log.Warn(ctx, "Failed to invalidate cached job", "job_id", jobID, "error", err)
	}
}

// successRate formats completed / (completed + failed) as a percent.
func successRate(completed, failed int64) string {
	terminal := completed + failed
	if terminal == 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", float64(completed)/float64(terminal)*100)
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
