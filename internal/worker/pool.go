package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/logger"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/services"
)

const (
	popTimeout      = 5 * time.Second
	jobLockTTL      = 10 * time.Minute
	defaultRetryMax = 3
)

type queueClient interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

type jobUpdater interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	UpdateError(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error
}

type certificateIssuer interface {
	Issue(ctx context.Context, job *models.Job) (*models.Certificate, error)
	IssueFailed(ctx context.Context, job *models.Job, cause error)
}

// Pool runs the background job workers. Jobs are popped with BLPOP, claimed
// with a SETNX lock, and re-queued with exponential backoff on failure.
// Re-queues still waiting on their backoff when the pool stops are pushed
// immediately, so a pending job is never left outside the queue.
type Pool struct {
	redis        queueClient
	jobRepo      jobUpdater
	certificates certificateIssuer
	workerCount  int
	log          *logger.Logger

	retries sync.WaitGroup
	// after is time.After; replaced in tests.
	after func(d time.Duration) <-chan time.Time
}

func NewPool(redisClient queueClient, jobRepo jobUpdater, certificates certificateIssuer, workerCount int, log *logger.Logger) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Pool{
		redis:        redisClient,
		jobRepo:      jobRepo,
		certificates: certificates,
		workerCount:  workerCount,
		log:          log.With("component", "worker"),
		after:        time.After,
	}
}

// Run starts the workers and blocks until ctx is cancelled and every
// worker has finished its current job.
func (p *Pool) Run(ctx context.Context) error {
	queues := []string{services.CertificateQueue}

	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id, queues)
		}(i)
	}
	p.log.Info("worker pool started", "workers", p.workerCount)

	wg.Wait()
	p.retries.Wait()
	p.log.Info("worker pool stopped")
	return nil
}

func (p *Pool) worker(ctx context.Context, id int, queues []string) {
	for {
		if ctx.Err() != nil {
			return
		}

		result, err := p.redis.BLPop(ctx, popTimeout, queues...).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				p.log.Warn("queue pop failed", "error", err, "worker", id)
				time.Sleep(time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		p.process(ctx, id, result[1])
	}
}

// process runs one popped job. The job itself runs under a context that
// ignores cancellation so it finishes even if shutdown starts meanwhile;
// ctx is only used to cut a retry backoff short.
func (p *Pool) process(ctx context.Context, workerID int, raw string) {
	work := context.WithoutCancel(ctx)

	var job models.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		p.log.Error("failed to parse job", "error", err, "worker", workerID)
		return
	}

	// Try to acquire lock
	lockKey := fmt.Sprintf("job_lock:%s", job.ID.String())
	locked, err := p.redis.SetNX(work, lockKey, "1", jobLockTTL).Result()
	if err != nil {
		p.log.Warn("job lock failed", "error", err, "jobId", job.ID, "worker", workerID)
		return
	}
	if !locked {
		return // Another worker has this job
	}
	defer p.redis.Del(work, lockKey)

	p.log.Info("processing job", "jobId", job.ID, "type", job.Type, "worker", workerID)
	p.setStatus(work, job.ID, models.JobStatusProcessing)

	var processErr error
	switch job.Type {
	case models.JobTypeCertificateIssuance:
		_, processErr = p.certificates.Issue(work, &job)
	default:
		processErr = fmt.Errorf("unknown job type: %s", job.Type)
	}

	if processErr != nil {
		p.handleFailure(ctx, work, &job, processErr)
		return
	}
	p.setStatus(work, job.ID, models.JobStatusCompleted)
	p.log.Info("job completed", "jobId", job.ID, "type", job.Type)
}

func (p *Pool) handleFailure(ctx, work context.Context, job *models.Job, err error) {
	job.RetryCount++
	errMsg := err.Error()
	maxRetries := job.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultRetryMax
	}

	if job.RetryCount < maxRetries {
		delay := backoffDelay(job.RetryCount)
		p.log.Warn("job failed, retrying", "jobId", job.ID, "attempt", job.RetryCount, "delay", delay.String(), "error", errMsg)
		p.setStatus(work, job.ID, models.JobStatusPending)
		p.setError(work, job.ID, errMsg, job.RetryCount)
		p.requeue(ctx, *job, delay)
		return
	}

	// Max retries reached
	p.log.Error("job failed permanently", "jobId", job.ID, "attempts", job.RetryCount, "error", errMsg)
	p.setStatus(work, job.ID, models.JobStatusFailed)
	p.setError(work, job.ID, errMsg, job.RetryCount)
	if job.Type == models.JobTypeCertificateIssuance {
		p.certificates.IssueFailed(work, job, err)
	}
}

// requeue pushes job back onto its queue once delay has passed, or at once
// if ctx is cancelled first. Run waits for every scheduled re-queue.
func (p *Pool) requeue(ctx context.Context, job models.Job, delay time.Duration) {
	payload, err := json.Marshal(job)
	if err != nil {
		p.log.Error("job re-queue encode failed", "error", err, "jobId", job.ID)
		p.setStatus(context.WithoutCancel(ctx), job.ID, models.JobStatusFailed)
		return
	}

	p.retries.Add(1)
	go func() {
		defer p.retries.Done()
		select {
		case <-p.after(delay):
		case <-ctx.Done():
			p.log.Info("re-queueing job early for shutdown", "jobId", job.ID)
		}

		push := context.WithoutCancel(ctx)
		if err := p.redis.LPush(push, jobQueueName(job.Type), string(payload)).Err(); err != nil {
			p.log.Error("job re-queue failed", "error", err, "jobId", job.ID)
			p.setStatus(push, job.ID, models.JobStatusFailed)
			p.setError(push, job.ID, "re-queue failed: "+err.Error(), job.RetryCount)
		}
	}()
}

func (p *Pool) setStatus(ctx context.Context, id uuid.UUID, status string) {
	if err := p.jobRepo.UpdateStatus(ctx, id, status); err != nil {
		p.log.Error("job status update failed", "error", err, "jobId", id, "status", status)
	}
}

func (p *Pool) setError(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) {
	if err := p.jobRepo.UpdateError(ctx, id, errMsg, retryCount); err != nil {
		p.log.Error("job error update failed", "error", err, "jobId", id)
	}
}

// backoffDelay is 2^attempt seconds.
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

func jobQueueName(jobType string) string {
	switch jobType {
	case models.JobTypeCertificateIssuance:
		return services.CertificateQueue
	default:
		return "queue:" + jobType
	}
}
