package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cyberkid042/distributed-job-queue/config"
	"github.com/cyberkid042/distributed-job-queue/data/messaging"
	"github.com/cyberkid042/distributed-job-queue/job"
	"github.com/cyberkid042/distributed-job-queue/job/data/repository"
	"github.com/cyberkid042/distributed-job-queue/job/structs"
	"github.com/cyberkid042/distributed-job-queue/logging/logger"
)

type nopChannel struct{}

func (nopChannel) Publish(ctx context.Context, topic string, key, value []byte) error { return nil }
func (nopChannel) Subscribe(ctx context.Context, topic, group string, handler messaging.Handler) error {
	return nil
}
func (nopChannel) Close() error { return nil }

func setupHandlerTest(t *testing.T) (*gin.Engine, repository.JobRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := repository.NewJobRepository(db, "sqlite3", nil)
	if err != nil {
		t.Fatalf("NewJobRepository: %v", err)
	}

	log := logger.StdLogger()
	log.SetOutput(io.Discard)

	cfg := &config.Queue{
		Topic:             "job-queue",
		Group:             "job-queue-group",
		MaxRetries:        3,
		BatchSize:         10,
		WorkerTimeout:     30 * time.Minute,
		ProcessingTimeout: 5 * time.Second,
		ReconcileInterval: time.Minute,
	}
	svc := job.NewService(repo, nopChannel{}, job.NewRegistry(), cfg, log)

	r := gin.New()
	NewJobHandler(svc, log).RegisterRoutes(r)
	return r, repo
}

func doRequest(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

var handlerJobSeq int

func makeJob(t *testing.T, repo repository.JobRepository, jobType string, maxRetries int) *structs.Job {
	t.Helper()
	handlerJobSeq++
	now := time.Now().UTC()
	j := &structs.Job{
		JobID:      fmt.Sprintf("job-%d-%d", now.UnixNano(), handlerJobSeq),
		JobType:    jobType,
		Payload:    map[string]any{"data": map[string]any{"message": "hi"}},
		Status:     structs.StatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.Create(context.Background(), j); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return j
}

func TestCreateJobAccepted(t *testing.T) {
	r, _ := setupHandlerTest(t)

	w := doRequest(t, r, http.MethodPost, "/api/jobs", map[string]any{
		"job_type": "test-job",
		"payload":  map[string]any{"message": "Hello World", "number": 42},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["job_id"] == "" || body["job_id"] == nil {
		t.Error("job_id missing in response")
	}
	if body["status"] != "PENDING" {
		t.Errorf("status = %v, want PENDING", body["status"])
	}
}

func TestCreateJobValidation(t *testing.T) {
	r, _ := setupHandlerTest(t)

	w := doRequest(t, r, http.MethodPost, "/api/jobs", map[string]any{
		"payload": map[string]any{"x": 1},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["message"] != "validation failed" {
		t.Errorf("message = %v, want validation failed", body["message"])
	}
	fields, ok := body["errors"].(map[string]any)
	if !ok || fields["job_type"] == nil {
		t.Errorf("errors = %v, want job_type entry", body["errors"])
	}
}

func TestGetJob(t *testing.T) {
	r, repo := setupHandlerTest(t)
	j := makeJob(t, repo, "email-job", 3)

	w := doRequest(t, r, http.MethodGet, "/api/jobs/"+j.JobID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["job_id"] != j.JobID {
		t.Errorf("job_id = %v, want %q", body["job_id"], j.JobID)
	}

	w = doRequest(t, r, http.MethodGet, "/api/jobs/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestListJobs(t *testing.T) {
	r, repo := setupHandlerTest(t)
	for range 3 {
		makeJob(t, repo, "email-job", 3)
	}
	makeJob(t, repo, "test-job", 3)

	w := doRequest(t, r, http.MethodGet, "/api/jobs?type=email-job&limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	items, ok := body["items"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("items = %v, want 2 entries", body["items"])
	}
	if body["total"] != float64(3) {
		t.Errorf("total = %v, want 3", body["total"])
	}
	if body["has_next"] != true {
		t.Errorf("has_next = %v, want true", body["has_next"])
	}

	// Lowercase status filters are accepted.
	w = doRequest(t, r, http.MethodGet, "/api/jobs?status=pending", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status filter status = %d, want 200", w.Code)
	}
}

func TestListJobsBadParams(t *testing.T) {
	r, _ := setupHandlerTest(t)

	if w := doRequest(t, r, http.MethodGet, "/api/jobs?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}
	if w := doRequest(t, r, http.MethodGet, "/api/jobs?status=BOGUS", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad status status = %d, want 400", w.Code)
	}
	if w := doRequest(t, r, http.MethodGet, "/api/jobs?cursor=%21%21", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad cursor status = %d, want 400", w.Code)
	}
}

func TestCancelJob(t *testing.T) {
	r, repo := setupHandlerTest(t)
	j := makeJob(t, repo, "email-job", 3)

	w := doRequest(t, r, http.MethodDelete, "/api/jobs/"+j.JobID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204; body %s", w.Code, w.Body.String())
	}

	// The job is FAILED now, so a second cancel conflicts.
	w = doRequest(t, r, http.MethodDelete, "/api/jobs/"+j.JobID, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", w.Code)
	}

	w = doRequest(t, r, http.MethodDelete, "/api/jobs/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing cancel status = %d, want 404", w.Code)
	}
}

func TestRetryJob(t *testing.T) {
	r, repo := setupHandlerTest(t)
	ctx := context.Background()

	j := makeJob(t, repo, "email-job", 3)
	if _, err := repo.MarkFailed(ctx, j.JobID, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	w := doRequest(t, r, http.MethodPost, "/api/jobs/"+j.JobID+"/retry", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != "PENDING" {
		t.Errorf("status = %v, want PENDING", body["status"])
	}
	if body["retry_count"] != float64(1) {
		t.Errorf("retry_count = %v, want 1", body["retry_count"])
	}

	exhausted := makeJob(t, repo, "email-job", 0)
	if _, err := repo.MarkFailed(ctx, exhausted.JobID, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	w = doRequest(t, r, http.MethodPost, "/api/jobs/"+exhausted.JobID+"/retry", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("exhausted retry status = %d, want 409", w.Code)
	}
}

func TestJobResults(t *testing.T) {
	r, repo := setupHandlerTest(t)
	ctx := context.Background()

	j := makeJob(t, repo, "email-job", 3)
	if err := repo.CreateResult(ctx, &structs.JobResult{
		JobID:           j.ID,
		Result:          map[string]any{"status": "sent"},
		Success:         true,
		ExecutionTimeMs: 12,
	}); err != nil {
		t.Fatalf("CreateResult: %v", err)
	}

	w := doRequest(t, r, http.MethodGet, "/api/jobs/"+j.JobID+"/results", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	var results []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 1 || results[0]["success"] != true {
		t.Errorf("results = %v, want one successful attempt", results)
	}
}

func TestStatsEndpoint(t *testing.T) {
	r, repo := setupHandlerTest(t)
	makeJob(t, repo, "email-job", 3)

	w := doRequest(t, r, http.MethodGet, "/api/jobs/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["pending"] != float64(1) {
		t.Errorf("pending = %v, want 1", body["pending"])
	}
	if body["success_rate"] != "0.00%" {
		t.Errorf("success_rate = %v, want 0.00%%", body["success_rate"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := setupHandlerTest(t)

	w := doRequest(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}
