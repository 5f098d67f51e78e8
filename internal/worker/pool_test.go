package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/logger"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/services"
)

type stubQueue struct {
	mu     sync.Mutex
	locked map[string]bool
	pushed map[string][]string
	popped []string
}

func newStubQueue(jobs ...string) *stubQueue {
	return &stubQueue{locked: map[string]bool{}, pushed: map[string][]string{}, popped: jobs}
}

func (q *stubQueue) BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.popped) == 0 {
		return redis.NewStringSliceResult(nil, redis.Nil)
	}
	next := q.popped[0]
	q.popped = q.popped[1:]
	return redis.NewStringSliceResult([]string{keys[0], next}, nil)
}

func (q *stubQueue) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.locked[key] {
		return redis.NewBoolResult(false, nil)
	}
	q.locked[key] = true
	return redis.NewBoolResult(true, nil)
}

func (q *stubQueue) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, k := range keys {
		delete(q.locked, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (q *stubQueue) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, v := range values {
		q.pushed[key] = append(q.pushed[key], v.(string))
	}
	return redis.NewIntResult(int64(len(q.pushed[key])), nil)
}

type stubJobRepo struct {
	mu       sync.Mutex
	statuses []string
	retries  int
	err      error
}

func (r *stubJobRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
	return r.err
}

func (r *stubJobRepo) UpdateError(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries = retryCount
	return r.err
}

func (r *stubJobRepo) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}

type stubIssuer struct {
	mu     sync.Mutex
	err    error
	issued int
	failed int
}

func (s *stubIssuer) Issue(ctx context.Context, job *models.Job) (*models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	if s.err != nil {
		return nil, s.err
	}
	return &models.Certificate{ID: uuid.New(), UserID: job.UserID, CourseID: job.ReferenceID}, nil
}

func (s *stubIssuer) IssueFailed(ctx context.Context, job *models.Job, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
}

func (q *stubQueue) pushedTo(key string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.pushed[key]...)
}

func observedLogger() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return &logger.Logger{SugaredLogger: zap.New(core).Sugar()}, logs
}

func certificateJob(t *testing.T, retryCount int) (models.Job, string) {
	t.Helper()
	job := models.Job{
		ID:          uuid.New(),
		UserID:      "u1",
		Type:        models.JobTypeCertificateIssuance,
		ReferenceID: "c1",
		RetryCount:  retryCount,
		MaxRetries:  3,
	}
	raw, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return job, string(raw)
}

func TestProcessCompletesJob(t *testing.T) {
	_, raw := certificateJob(t, 0)
	queue, repo, issuer := newStubQueue(), &stubJobRepo{}, &stubIssuer{}
	pool := NewPool(queue, repo, issuer, 1, logger.Nop())

	pool.process(context.Background(), 0, raw)

	if issuer.issued != 1 || repo.last() != models.JobStatusCompleted {
		t.Fatalf("expected completed job, issued=%d status=%s", issuer.issued, repo.last())
	}
	if len(queue.locked) != 0 {
		t.Fatalf("job lock must be released")
	}
}

func TestProcessSkipsLockedJob(t *testing.T) {
	job, raw := certificateJob(t, 0)
	queue, issuer := newStubQueue(), &stubIssuer{}
	queue.locked["job_lock:"+job.ID.String()] = true
	pool := NewPool(queue, &stubJobRepo{}, issuer, 1, logger.Nop())

	pool.process(context.Background(), 0, raw)
	if issuer.issued != 0 {
		t.Fatalf("a job locked by another worker must be skipped")
	}
}

func TestProcessRetriesWithBackoff(t *testing.T) {
	_, raw := certificateJob(t, 0)
	queue, repo, issuer := newStubQueue(), &stubJobRepo{}, &stubIssuer{err: errors.New("db down")}
	pool := NewPool(queue, repo, issuer, 1, logger.Nop())
	var delays []time.Duration
	pool.after = func(d time.Duration) <-chan time.Time {
		delays = append(delays, d)
		fired := make(chan time.Time, 1)
		fired <- time.Now()
		return fired
	}

	pool.process(context.Background(), 0, raw)
	pool.retries.Wait()

	if len(delays) != 1 || delays[0] != 2*time.Second {
		t.Fatalf("expected a 2s backoff, got %v", delays)
	}
	requeued := queue.pushedTo(services.CertificateQueue)
	if len(requeued) != 1 {
		t.Fatalf("expected the job to be re-queued, got %v", queue.pushed)
	}
	var job models.Job
	json.Unmarshal([]byte(requeued[0]), &job)
	if job.RetryCount != 1 || repo.last() != models.JobStatusPending {
		t.Fatalf("unexpected retry state: retry=%d status=%s", job.RetryCount, repo.last())
	}
}

func TestProcessFailsPermanentlyAfterMaxRetries(t *testing.T) {
	_, raw := certificateJob(t, 2)
	queue, repo, issuer := newStubQueue(), &stubJobRepo{}, &stubIssuer{err: errors.New("db down")}
	pool := NewPool(queue, repo, issuer, 1, logger.Nop())
	pool.after = func(d time.Duration) <-chan time.Time {
		t.Error("no retry expected")
		return nil
	}

	pool.process(context.Background(), 0, raw)
	pool.retries.Wait()

	if repo.last() != models.JobStatusFailed || repo.retries != 3 || issuer.failed != 1 {
		t.Fatalf("expected permanent failure, status=%s retries=%d failed=%d", repo.last(), repo.retries, issuer.failed)
	}
}

func TestRunDrainsQueueAndStops(t *testing.T) {
	_, raw := certificateJob(t, 0)
	queue, repo, issuer := newStubQueue(raw), &stubJobRepo{}, &stubIssuer{}
	pool := NewPool(queue, repo, issuer, 2, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for repo.last() != models.JobStatusCompleted {
		if time.Now().After(deadline) {
			t.Fatal("job was not processed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestShutdownRequeuesJobsWaitingOnBackoff(t *testing.T) {
	_, raw := certificateJob(t, 0)
	queue, repo, issuer := newStubQueue(raw), &stubJobRepo{}, &stubIssuer{err: errors.New("db down")}
	pool := NewPool(queue, repo, issuer, 1, logger.Nop())
	waiting := make(chan struct{})
	var once sync.Once
	pool.after = func(d time.Duration) <-chan time.Time {
		once.Do(func() { close(waiting) })
		return make(chan time.Time) // never fires
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	select {
	case <-waiting:
	case <-time.After(2 * time.Second):
		t.Fatal("job never reached its backoff")
	}
	if len(queue.pushedTo(services.CertificateQueue)) != 0 {
		t.Fatal("job must not be re-queued before the backoff ends")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
	requeued := queue.pushedTo(services.CertificateQueue)
	if len(requeued) != 1 {
		t.Fatalf("a job waiting on backoff must be re-queued at shutdown, got %v", requeued)
	}
	var job models.Job
	if err := json.Unmarshal([]byte(requeued[0]), &job); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if job.RetryCount != 1 || repo.last() != models.JobStatusPending {
		t.Fatalf("unexpected retry state: retry=%d status=%s", job.RetryCount, repo.last())
	}
}

func TestProcessLogsJobRepositoryErrors(t *testing.T) {
	_, raw := certificateJob(t, 0)
	log, logs := observedLogger()
	repo := &stubJobRepo{err: errors.New("connection reset")}
	pool := NewPool(newStubQueue(), repo, &stubIssuer{}, 1, log)

	pool.process(context.Background(), 0, raw)

	entries := logs.FilterMessage("job status update failed").All()
	if len(entries) != 2 {
		t.Fatalf("expected processing and completed updates to be logged, got %d", len(entries))
	}
	want := []string{models.JobStatusProcessing, models.JobStatusCompleted}
	for i, e := range entries {
		if got := e.ContextMap()["status"]; got != want[i] {
			t.Errorf("entry %d status = %v, want %s", i, got, want[i])
		}
		if e.ContextMap()["error"] != "connection reset" {
			t.Errorf("entry %d error = %v", i, e.ContextMap()["error"])
		}
	}
}

func TestProcessLogsRetryBookkeepingErrors(t *testing.T) {
	_, raw := certificateJob(t, 2)
	log, logs := observedLogger()
	repo := &stubJobRepo{err: errors.New("connection reset")}
	pool := NewPool(newStubQueue(), repo, &stubIssuer{err: errors.New("db down")}, 1, log)

	pool.process(context.Background(), 0, raw)

	if n := logs.FilterMessage("job error update failed").Len(); n != 1 {
		t.Fatalf("expected the failed error update to be logged once, got %d", n)
	}
	if n := logs.FilterMessage("job status update failed").Len(); n != 2 {
		t.Fatalf("expected processing and failed status updates to be logged, got %d", n)
	}
}

func TestBackoffDelay(t *testing.T) {
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, d := range want {
		if got := backoffDelay(i + 1); got != d {
			t.Errorf("backoffDelay(%d) = %v, want %v", i+1, got, d)
		}
	}
	if jobQueueName(models.JobTypeCertificateIssuance) != services.CertificateQueue {
		t.Errorf("certificate jobs must use %s", services.CertificateQueue)
	}
}
