package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/logger"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
)

const CertificateQueue = "queue:certificate-issuance"

type jobStore interface {
	Create(ctx context.Context, j *models.Job) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

type listPusher interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

type certificateStore interface {
	Issue(ctx context.Context, c *models.Certificate) (*models.Certificate, bool, error)
}

type userReader interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

type certificateMailer interface {
	SendCertificateEmail(to, fullName, certificateNumber, courseID string) error
}

// CertificateService hands completion certificates to the issuance queue
// and performs the issuance when a worker picks the job up.
type CertificateService struct {
	jobs      jobStore
	queue     listPusher
	certs     certificateStore
	users     userReader
	mailer    certificateMailer
	publisher userEventPublisher
	audit     auditRecorder
	log       *logger.Logger
	now       Clock
}

func NewCertificateService(
	jobs jobStore,
	queue listPusher,
	certs certificateStore,
	users userReader,
	mailer certificateMailer,
	publisher userEventPublisher,
	audit auditRecorder,
	log *logger.Logger,
) *CertificateService {
	return &CertificateService{
		jobs:      jobs,
		queue:     queue,
		certs:     certs,
		users:     users,
		mailer:    mailer,
		publisher: publisher,
		audit:     audit,
		log:       log.With("component", "certificate"),
		now:       systemClock,
	}
}

func (s *CertificateService) EnqueueCertificate(ctx context.Context, userID, courseID string, cfg models.CertificateJobConfig) error {
	configBytes, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	job := &models.Job{
		UserID:      userID,
		Type:        models.JobTypeCertificateIssuance,
		ReferenceID: courseID,
		ConfigJSON:  configBytes,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("create certificate job: %w", err)
	}

	jobBytes, _ := json.Marshal(job)
	if err := s.queue.LPush(ctx, CertificateQueue, string(jobBytes)).Err(); err != nil {
		_ = s.jobs.UpdateStatus(ctx, job.ID, models.JobStatusFailed)
		return fmt.Errorf("enqueue certificate job %s: %w", job.ID, err)
	}

	s.log.Info("certificate issuance queued", "jobId", job.ID, "userId", userID, "courseId", courseID)
	return nil
}

// Issue creates the certificate for a job. Re-running a job for a user and
// course that already hold a certificate returns the stored one.
func (s *CertificateService) Issue(ctx context.Context, job *models.Job) (*models.Certificate, error) {
	var cfg models.CertificateJobConfig
	if len(job.ConfigJSON) > 0 {
		if err := json.Unmarshal(job.ConfigJSON, &cfg); err != nil {
			return nil, fmt.Errorf("decode certificate job config: %w", err)
		}
	}

	now := s.now()
	cert, created, err := s.certs.Issue(ctx, &models.Certificate{
		ID:                uuid.New(),
		UserID:            job.UserID,
		CourseID:          job.ReferenceID,
		CertificateNumber: CertificateNumber(now.Year()),
		ScorePercent:      cfg.ScorePercent,
		TotalMinutes:      cfg.TotalMinutes,
		IssuedAt:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("issue certificate: %w", err)
	}
	if !created {
		s.log.Info("certificate already issued", "userId", job.UserID, "courseId", job.ReferenceID, "certificateId", cert.ID)
		return cert, nil
	}

	s.audit.Record(ctx, AuditEvent{
		UserID:     job.UserID,
		Action:     compliance.ActionCompletionCertificate,
		Resource:   compliance.ResourceCertificate,
		ResourceID: cert.ID.String(),
		Status:     compliance.StatusSuccess,
		Metadata: map[string]interface{}{
			"courseId":          cert.CourseID,
			"certificateNumber": cert.CertificateNumber,
			"scorePercent":      cert.ScorePercent,
			"totalMinutes":      cert.TotalMinutes,
		},
	})

	if s.publisher != nil {
		msg := models.WSMessage{
			Type: models.WSTypeCertificate,
			Payload: models.CertificateIssuedEvent{
				CertificateID:     cert.ID,
				CertificateNumber: cert.CertificateNumber,
				CourseID:          cert.CourseID,
			},
		}
		if err := s.publisher.PublishUserEvent(ctx, job.UserID, msg); err != nil {
			s.log.Warn("certificate publish failed", "error", err, "userId", job.UserID)
		}
	}

	s.notify(ctx, cert)
	return cert, nil
}

// IssueFailed records a job that exhausted its retries.
func (s *CertificateService) IssueFailed(ctx context.Context, job *models.Job, cause error) {
	s.audit.Record(ctx, AuditEvent{
		UserID:     job.UserID,
		Action:     compliance.ActionCertificateIssueFailed,
		Resource:   compliance.ResourceCertificate,
		ResourceID: job.ID.String(),
		Status:     compliance.StatusError,
		Metadata: map[string]interface{}{
			"courseId":   job.ReferenceID,
			"retryCount": job.RetryCount,
			"error":      cause.Error(),
		},
	})
}

func (s *CertificateService) notify(ctx context.Context, cert *models.Certificate) {
	if s.mailer == nil || s.users == nil {
		return
	}
	user, err := s.users.GetUser(ctx, cert.UserID)
	if err != nil {
		s.log.Warn("failed to load user for certificate email", "error", err, "userId", cert.UserID)
		return
	}
	if user.Email == "" {
		return
	}
	if err := s.mailer.SendCertificateEmail(user.Email, user.FullName, cert.CertificateNumber, cert.CourseID); err != nil {
		s.log.Warn("certificate email failed", "error", err, "userId", cert.UserID)
	}
}

// CertificateNumber formats COMPL-{year}-{9 uppercase hex chars}.
func CertificateNumber(year int) string {
	return certificateNumber("COMPL", year)
}

// EnrollmentCertificateNumber formats ENROLL-{year}-{9 uppercase hex chars}.
func EnrollmentCertificateNumber(year int) string {
	return certificateNumber("ENROLL", year)
}

func certificateNumber(prefix string, year int) string {
	random := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:9]
	return fmt.Sprintf("%s-%d-%s", prefix, year, random)
}
