package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cyberkid042/distributed-job-queue/job/structs"
	"github.com/cyberkid042/distributed-job-queue/paging"
)

func openTestRepo(t *testing.T) (JobRepository, *sql.DB) {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := NewJobRepository(db, "sqlite3", nil)
	if err != nil {
		t.Fatalf("NewJobRepository: %v", err)
	}
	return repo, db
}

var jobSeq int

func newTestJob(jobType string) *structs.Job {
	jobSeq++
	now := time.Now().UTC()
	return &structs.Job{
		JobID:      fmt.Sprintf("job-%d-%d", now.UnixNano(), jobSeq),
		JobType:    jobType,
		Payload:    map[string]any{"data": map[string]any{"to": "user@example.com"}},
		Status:     structs.StatusPending,
		Priority:   0,
		MaxRetries: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func mustCreate(t *testing.T, repo JobRepository, job *structs.Job) {
	t.Helper()
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestCreateAndFind(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()

	job := newTestJob("email-job")
	mustCreate(t, repo, job)

	if job.ID == 0 {
		t.Error("Create did not set job.ID")
	}

	got, err := repo.FindByJobID(ctx, job.JobID)
	if err != nil {
		t.Fatalf("FindByJobID: %v", err)
	}
	if got.JobID != job.JobID {
		t.Errorf("JobID = %q, want %q", got.JobID, job.JobID)
	}
	if got.JobType != "email-job" {
		t.Errorf("JobType = %q, want %q", got.JobType, "email-job")
	}
	if got.Status != structs.StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, structs.StatusPending)
	}
	if got.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", got.MaxRetries)
	}
	data, ok := got.Payload["data"].(map[string]any)
	if !ok || data["to"] != "user@example.com" {
		t.Errorf("Payload = %v, want nested data.to", got.Payload)
	}
	if !got.CreatedAt.Equal(job.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, job.CreatedAt)
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Error("StartedAt and CompletedAt should be nil on a new job")
	}

	byID, err := repo.FindByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if byID.JobID != job.JobID {
		t.Errorf("FindByID JobID = %q, want %q", byID.JobID, job.JobID)
	}
}

func TestFindMissing(t *testing.T) {
	repo, _ := openTestRepo(t)

	_, err := repo.FindByJobID(context.Background(), "no-such-job")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("FindByJobID error = %v, want sql.ErrNoRows", err)
	}

	_, err = repo.FindByID(context.Background(), 99999)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("FindByID error = %v, want sql.ErrNoRows", err)
	}
}

func TestMarkProcessing(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()

	job := newTestJob("email-job")
	mustCreate(t, repo, job)

	ok, err := repo.MarkProcessing(ctx, job.JobID, "worker-abc12345")
	if err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if !ok {
		t.Fatal("MarkProcessing = false, want true")
	}

	got, err := repo.FindByJobID(ctx, job.JobID)
	if err != nil {
		t.Fatalf("FindByJobID: %v", err)
	}
	if got.Status != structs.StatusProcessing {
		t.Errorf("Status = %q, want %q", got.Status, structs.StatusProcessing)
	}
	if got.WorkerID != "worker-abc12345" {
		t.Errorf("WorkerID = %q, want %q", got.WorkerID, "worker-abc12345")
	}
	if got.StartedAt == nil {
		t.Error("StartedAt not set")
	}

	// A second claim must lose the race.
	ok, err = repo.MarkProcessing(ctx, job.JobID, "worker-other")
	if err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if ok {
		t.Error("second MarkProcessing = true, want false")
	}

	got, _ = repo.FindByJobID(ctx, job.JobID)
	if got.WorkerID != "worker-abc12345" {
		t.Errorf("WorkerID after rejected claim = %q, want original", got.WorkerID)
	}
}

func TestConcurrentClaim(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()

	job := newTestJob("email-job")
	mustCreate(t, repo, job)

	const workers = 8
	var wg sync.WaitGroup
	claims := make([]bool, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.MarkProcessing(ctx, job.JobID, fmt.Sprintf("worker-%08d", i))
			if err != nil {
				t.Errorf("MarkProcessing: %v", err)
				return
			}
			claims[i] = ok
		}()
	}
	wg.Wait()

	won := 0
	for _, ok := range claims {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Errorf("accepted claims = %d, want exactly 1", won)
	}

	got, err := repo.FindByJobID(ctx, job.JobID)
	if err != nil {
		t.Fatalf("FindByJobID: %v", err)
	}
	if got.Status != structs.StatusProcessing {
		t.Errorf("Status = %q, want %q", got.Status, structs.StatusProcessing)
	}
}

func TestMarkCompleted(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()

	job := newTestJob("email-job")
	mustCreate(t, repo, job)

	// Completing a pending job is not allowed.
	ok, err := repo.MarkCompleted(ctx, job.JobID)
	if err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if ok {
		t.Error("MarkCompleted on pending job = true, want false")
	}

	if _, err := repo.MarkProcessing(ctx, job.JobID, "worker-1"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}

	ok, err = repo.MarkCompleted(ctx, job.JobID)
	if err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if !ok {
		t.Fatal("MarkCompleted = false, want true")
	}

	got, _ := repo.FindByJobID(ctx, job.JobID)
	if got.Status != structs.StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, structs.StatusCompleted)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	// Terminal states admit no further transitions.
	ok, _ = repo.MarkCompleted(ctx, job.JobID)
	if ok {
		t.Error("MarkCompleted on completed job = true, want false")
	}
	ok, _ = repo.MarkFailed(ctx, job.JobID, "late failure")
	if ok {
		t.Error("MarkFailed on completed job = true, want false")
	}
}

func TestMarkFailed(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()

	pending := newTestJob("email-job")
	mustCreate(t, repo, pending)

	ok, err := repo.MarkFailed(ctx, pending.JobID, "could not enqueue")
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if !ok {
		t.Error("MarkFailed on pending job = false, want true")
	}

	got, _ := repo.FindByJobID(ctx, pending.JobID)
	if got.Status != structs.StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, structs.StatusFailed)
	}
	if got.ErrorMessage != "could not enqueue" {
		t.Errorf("ErrorMessage = %q", got.ErrorMessage)
	}

	// Failing an already failed job is rejected.
	ok, _ = repo.MarkFailed(ctx, pending.JobID, "again")
	if ok {
		t.Error("MarkFailed on failed job = true, want false")
	}
	got, _ = repo.FindByJobID(ctx, pending.JobID)
	if got.ErrorMessage != "could not enqueue" {
		t.Errorf("ErrorMessage overwritten to %q", got.ErrorMessage)
	}

	processing := newTestJob("email-job")
	mustCreate(t, repo, processing)
	if _, err := repo.MarkProcessing(ctx, processing.JobID, "worker-1"); err != nil {
		t.Fatal(err)
	}
	ok, _ = repo.MarkFailed(ctx, processing.JobID, "handler blew up")
	if !ok {
		t.Error("MarkFailed on processing job = false, want true")
	}
}

func TestCancelPending(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()

	job := newTestJob("email-job")
	mustCreate(t, repo, job)

	ok, err := repo.CancelPending(ctx, job.JobID, "Job cancelled by user")
	if err != nil {
		t.Fatalf("CancelPending: %v", err)
	}
	if !ok {
		t.Fatal("CancelPending = false, want true")
	}

	got, _ := repo.FindByJobID(ctx, job.JobID)
	if got.Status != structs.StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, structs.StatusFailed)
	}
	if got.ErrorMessage != "Job cancelled by user" {
		t.Errorf("ErrorMessage = %q", got.ErrorMessage)
	}

	// Cancelling a running job is rejected.
	running := newTestJob("email-job")
	mustCreate(t, repo, running)
	if _, err := repo.MarkProcessing(ctx, running.JobID, "worker-1"); err != nil {
		t.Fatal(err)
	}
	ok, _ = repo.CancelPending(ctx, running.JobID, "Job cancelled by user")
	if ok {
		t.Error("CancelPending on processing job = true, want false")
	}
}

func TestIncrementRetry(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()

	job := newTestJob("email-job")
	job.MaxRetries = 2
	mustCreate(t, repo, job)
	if _, err := repo.MarkProcessing(ctx, job.JobID, "worker-1"); err != nil {
		t.Fatal(err)
	}

	ok, err := repo.IncrementRetry(ctx, job.JobID)
	if err != nil {
		t.Fatalf("IncrementRetry: %v", err)
	}
	if !ok {
		t.Fatal("IncrementRetry = false, want true")
	}

	got, _ := repo.FindByJobID(ctx, job.JobID)
	if got.Status != structs.StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, structs.StatusPending)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}
	if got.WorkerID != "" {
		t.Errorf("WorkerID = %q, want empty", got.WorkerID)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt lost on retry, want it preserved until the next claim")
	}

	// Exhaust the budget.
	if _, err := repo.MarkProcessing(ctx, job.JobID, "worker-2"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := repo.IncrementRetry(ctx, job.JobID); !ok {
		t.Fatal("second IncrementRetry = false, want true")
	}
	if _, err := repo.MarkProcessing(ctx, job.JobID, "worker-3"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := repo.IncrementRetry(ctx, job.JobID); ok {
		t.Error("IncrementRetry past budget = true, want false")
	}

	// A failed job with budget left can be retried.
	failed := newTestJob("email-job")
	mustCreate(t, repo, failed)
	if _, err := repo.MarkFailed(ctx, failed.JobID, "boom"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := repo.IncrementRetry(ctx, failed.JobID); !ok {
		t.Error("IncrementRetry on failed job = false, want true")
	}

	// A completed job can never be retried.
	done := newTestJob("email-job")
	mustCreate(t, repo, done)
	if _, err := repo.MarkProcessing(ctx, done.JobID, "worker-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.MarkCompleted(ctx, done.JobID); err != nil {
		t.Fatal(err)
	}
	if ok, _ := repo.IncrementRetry(ctx, done.JobID); ok {
		t.Error("IncrementRetry on completed job = true, want false")
	}
}

func TestFindStuck(t *testing.T) {
	repo, db := openTestRepo(t)
	ctx := context.Background()

	fresh := newTestJob("email-job")
	mustCreate(t, repo, fresh)
	if _, err := repo.MarkProcessing(ctx, fresh.JobID, "worker-1"); err != nil {
		t.Fatal(err)
	}

	var stuckIDs []string
	for i := 0; i < 3; i++ {
		j := newTestJob("email-job")
		mustCreate(t, repo, j)
		if _, err := repo.MarkProcessing(ctx, j.JobID, "worker-1"); err != nil {
			t.Fatal(err)
		}
		// Backdate the run start past the cutoff.
		started := time.Now().UTC().Add(-time.Duration(60+i) * time.Minute).Format(timeLayout)
		if _, err := db.Exec(`UPDATE jobs SET started_at = ? WHERE job_id = ?`, started, j.JobID); err != nil {
			t.Fatalf("backdate: %v", err)
		}
		stuckIDs = append(stuckIDs, j.JobID)
	}

	cutoff := time.Now().UTC().Add(-30 * time.Minute)
	stuck, err := repo.FindStuck(ctx, cutoff, 10)
	if err != nil {
		t.Fatalf("FindStuck: %v", err)
	}
	if len(stuck) != 3 {
		t.Fatalf("len(stuck) = %d, want 3", len(stuck))
	}
	// Oldest first.
	if stuck[0].JobID != stuckIDs[2] {
		t.Errorf("stuck[0] = %q, want oldest %q", stuck[0].JobID, stuckIDs[2])
	}
	for _, j := range stuck {
		if j.JobID == fresh.JobID {
			t.Error("fresh processing job reported as stuck")
		}
	}

	limited, err := repo.FindStuck(ctx, cutoff, 2)
	if err != nil {
		t.Fatalf("FindStuck: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("len(limited) = %d, want 2", len(limited))
	}
}

func TestCountByStatus(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mustCreate(t, repo, newTestJob("email-job"))
	}
	running := newTestJob("data-processing")
	mustCreate(t, repo, running)
	if _, err := repo.MarkProcessing(ctx, running.JobID, "worker-1"); err != nil {
		t.Fatal(err)
	}
	done := newTestJob("data-processing")
	mustCreate(t, repo, done)
	if _, err := repo.MarkProcessing(ctx, done.JobID, "worker-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.MarkCompleted(ctx, done.JobID); err != nil {
		t.Fatal(err)
	}

	stats, err := repo.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if stats.Pending != 3 {
		t.Errorf("Pending = %d, want 3", stats.Pending)
	}
	if stats.Processing != 1 {
		t.Errorf("Processing = %d, want 1", stats.Processing)
	}
	if stats.Completed != 1 {
		t.Errorf("Completed = %d, want 1", stats.Completed)
	}
	if stats.Failed != 0 {
		t.Errorf("Failed = %d, want 0", stats.Failed)
	}
	if stats.Total() != 5 {
		t.Errorf("Total = %d, want 5", stats.Total())
	}

	count, err := repo.Count(ctx, string(structs.StatusPending), "")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Errorf("Count(PENDING) = %d, want 3", count)
	}
	count, err = repo.Count(ctx, "", "data-processing")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("Count(data-processing) = %d, want 2", count)
	}
}

func TestListWithCursor(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var created []*structs.Job
	for i := 0; i < 5; i++ {
		j := newTestJob("email-job")
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		j.UpdatedAt = j.CreatedAt
		mustCreate(t, repo, j)
		created = append(created, j)
	}

	page1, err := repo.List(ctx, ListParams{Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("len(page1) = %d, want 2", len(page1))
	}
	// Newest first.
	if page1[0].JobID != created[4].JobID {
		t.Errorf("page1[0] = %q, want newest %q", page1[0].JobID, created[4].JobID)
	}

	last := page1[len(page1)-1]
	cursor := paging.EncodeCursor(last.CreatedAt, last.ID)
	page2, err := repo.List(ctx, ListParams{Cursor: cursor, Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page2) != 2 {
		t.Fatalf("len(page2) = %d, want 2", len(page2))
	}
	for _, j := range page2 {
		if j.JobID == page1[0].JobID || j.JobID == page1[1].JobID {
			t.Errorf("cursor page repeated job %q", j.JobID)
		}
	}
	if page2[0].JobID != created[2].JobID {
		t.Errorf("page2[0] = %q, want %q", page2[0].JobID, created[2].JobID)
	}
}

func TestListFilters(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()

	email := newTestJob("email-job")
	mustCreate(t, repo, email)
	data := newTestJob("data-processing")
	mustCreate(t, repo, data)
	if _, err := repo.MarkProcessing(ctx, data.JobID, "worker-1"); err != nil {
		t.Fatal(err)
	}

	jobs, err := repo.List(ctx, ListParams{Status: string(structs.StatusPending)})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 || jobs[0].JobID != email.JobID {
		t.Errorf("List(PENDING) = %d jobs, want only %q", len(jobs), email.JobID)
	}

	jobs, err = repo.List(ctx, ListParams{JobType: "data-processing"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 || jobs[0].JobID != data.JobID {
		t.Errorf("List(data-processing) = %d jobs, want only %q", len(jobs), data.JobID)
	}
}

func TestJobResults(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()

	job := newTestJob("email-job")
	mustCreate(t, repo, job)

	first := &structs.JobResult{
		JobID:           job.ID,
		Result:          map[string]any{"status": "sent"},
		Success:         true,
		ExecutionTimeMs: 120,
		CreatedAt:       time.Now().UTC().Add(-time.Minute),
	}
	if err := repo.CreateResult(ctx, first); err != nil {
		t.Fatalf("CreateResult: %v", err)
	}
	if first.ID == 0 {
		t.Error("CreateResult did not set result.ID")
	}

	second := &structs.JobResult{
		JobID:           job.ID,
		Success:         false,
		ErrorMessage:    "smtp timeout",
		ExecutionTimeMs: 3000,
		CreatedAt:       time.Now().UTC(),
	}
	if err := repo.CreateResult(ctx, second); err != nil {
		t.Fatalf("CreateResult: %v", err)
	}

	results, err := repo.ListResultsByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListResultsByJob: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	// Newest first.
	if results[0].ErrorMessage != "smtp timeout" {
		t.Errorf("results[0].ErrorMessage = %q, want smtp timeout", results[0].ErrorMessage)
	}
	if results[0].Success {
		t.Error("results[0].Success = true, want false")
	}
	if !results[1].Success {
		t.Error("results[1].Success = false, want true")
	}
	if results[1].Result["status"] != "sent" {
		t.Errorf("results[1].Result = %v", results[1].Result)
	}

	other, err := repo.ListResultsByJob(ctx, job.ID+999)
	if err != nil {
		t.Fatalf("ListResultsByJob: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("results for unknown job = %d, want 0", len(other))
	}
}
