package job

import (
	"context"
	"time"

	"github.com/cyberkid042/distributed-job-queue/job/structs"
)

// Reconciler returns stuck jobs to the queue. A job is stuck when a
// worker claimed it but never reached a terminal transition within the
// worker timeout, typically because the worker died mid attempt.
type Reconciler struct {
	svc  *Service
	done chan struct{}
}

// NewReconciler creates a reconciler bound to the service.
func NewReconciler(svc *Service) *Reconciler {
	return &Reconciler{svc: svc, done: make(chan struct{})}
}

// Start launches the periodic scan and returns immediately. The loop
// runs until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.svc.cfg.ReconcileInterval)
		defer ticker.Stop()

		r.svc.log.Info(ctx, "Reconciler started",
			"interval", r.svc.cfg.ReconcileInterval.String(),
			"worker_timeout", r.svc.cfg.WorkerTimeout.String())

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Reconcile(ctx)
			}
		}
	}()
}

// Wait blocks until the loop has exited after its context was
// cancelled.
func (r *Reconciler) Wait() {
	<-r.done
}

// Reconcile runs a single scan. It returns how many stuck jobs were
// returned to the queue and how many were terminally failed. Both
// paths are conditional transitions, so a job a consumer finished
// between the scan and the update is left untouched.
func (r *Reconciler) Reconcile(ctx context.Context) (requeued, failed int) {
	cutoff := time.Now().Add(-r.svc.cfg.WorkerTimeout)
	stuck, err := r.svc.repo.FindStuck(ctx, cutoff, r.svc.cfg.BatchSize)
	if err != nil {
		r.svc.log.Error(ctx, "Stuck job scan failed", "error", err)
		return 0, 0
	}
	if len(stuck) == 0 {
		return 0, 0
	}
	r.svc.log.Warn(ctx, "Found stuck jobs", "count", len(stuck))

	for _, job := range stuck {
		if r.recoverJob(ctx, job) {
			requeued++
		} else {
			failed++
		}
	}
	r.svc.log.Info(ctx, "Reconcile pass finished", "requeued", requeued, "failed", failed)
	return requeued, failed
}

// recoverJob retries one stuck job, or fails it when the retry budget
// is spent. Reports true when the job went back to the queue.
func (r *Reconciler) recoverJob(ctx context.Context, job *structs.Job) bool {
	retried, err := r.svc.repo.IncrementRetry(ctx, job.JobID)
	if err != nil {
		r.svc.log.Error(ctx, "Failed to requeue stuck job", "job_id", job.JobID, "error", err)
		return false
	}

	if retried {
		r.svc.collector.JobRetried(job.JobType)
		refreshed, err := r.svc.repo.FindByJobID(ctx, job.JobID)
		if err != nil {
			r.svc.log.Error(ctx, "Failed to reload stuck job", "job_id", job.JobID, "error", err)
			return false
		}
		r.svc.log.Warn(ctx, "Stuck job returned to queue", "job_id", job.JobID,
			"worker_id", job.WorkerID, "attempt", refreshed.RetryCount, "max_retries", refreshed.MaxRetries)
		if err := r.svc.publish(ctx, refreshed); err != nil {
			r.svc.log.Error(ctx, "Failed to publish stuck job", "job_id", job.JobID, "error", err)
			r.svc.failAfterPublishError(ctx, refreshed)
			return false
		}
		return true
	}

	terminal, err := r.svc.repo.MarkFailed(ctx, job.JobID, workerTimeoutMessage)
	if err != nil {
		r.svc.log.Error(ctx, "Failed to fail stuck job", "job_id", job.JobID, "error", err)
		return false
	}
	if terminal {
		r.svc.collector.JobFailed(job.JobType)
		r.svc.log.Error(ctx, "Stuck job failed permanently",
			"job_id", job.JobID, "worker_id", job.WorkerID, "retry_count", job.RetryCount)
	}
	return false
}
