package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/logger"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/repository"
)

const maxUnitIDLength = 64

type enrollmentStore interface {
	CompleteUnit(ctx context.Context, userID, courseID, unitID string, at time.Time) (time.Time, bool, error)
	CompletedUnits(ctx context.Context, userID, courseID string) ([]string, error)
	IssueCertificate(ctx context.Context, c *models.EnrollmentCertificate) (*models.EnrollmentCertificate, bool, error)
	GetCertificate(ctx context.Context, userID, courseID string) (*models.EnrollmentCertificate, error)
}

// EnrollmentService tracks unit completion and awards the enrollment
// certificate once a student has the minimum instruction time and every
// required unit.
type EnrollmentService struct {
	store         enrollmentStore
	users         userReader
	requiredUnits []string
	audit         auditRecorder
	log           *logger.Logger
	now           Clock
}

func NewEnrollmentService(store enrollmentStore, users userReader, requiredUnits []string, audit auditRecorder, log *logger.Logger) *EnrollmentService {
	return &EnrollmentService{
		store:         store,
		users:         users,
		requiredUnits: requiredUnits,
		audit:         audit,
		log:           log.With("component", "enrollment"),
		now:           systemClock,
	}
}

// CompleteUnit records that the caller finished unitID. Repeating it is a
// no-op that reports the original completion.
func (s *EnrollmentService) CompleteUnit(ctx context.Context, identity, unitID string, req models.UnitCompletionRequest) (*models.UnitCompletionResult, error) {
	if err := authorizeCaller(identity, identity, req.CourseID, unitID); err != nil {
		s.reject(ctx, identity, compliance.ActionUnitCompleted, compliance.ResourceUnit, unitID, err)
		return nil, err
	}
	if len(unitID) > maxUnitIDLength {
		err := compliance.Validation("unitId must be at most %d characters", maxUnitIDLength)
		s.reject(ctx, identity, compliance.ActionUnitCompleted, compliance.ResourceUnit, "", err)
		return nil, err
	}

	completedAt, created, err := s.store.CompleteUnit(ctx, identity, req.CourseID, unitID, s.now())
	if err != nil {
		s.log.Error("unit completion failed", "error", err, "userId", identity, "unitId", unitID)
		ce := compliance.Infrastructure("Failed to record unit completion", err)
		s.reject(ctx, identity, compliance.ActionUnitCompleted, compliance.ResourceUnit, unitID, ce)
		return nil, ce
	}
	units, err := s.store.CompletedUnits(ctx, identity, req.CourseID)
	if err != nil {
		s.log.Error("completed units read failed", "error", err, "userId", identity)
		return nil, compliance.Infrastructure("Failed to load completed units", err)
	}

	if created {
		s.audit.Record(ctx, AuditEvent{
			UserID:     identity,
			Action:     compliance.ActionUnitCompleted,
			Resource:   compliance.ResourceUnit,
			ResourceID: unitID,
			Status:     compliance.StatusSuccess,
			Metadata: map[string]interface{}{
				"courseId":       req.CourseID,
				"completedUnits": units,
			},
		})
	}
	return &models.UnitCompletionResult{
		UnitID:         unitID,
		CourseID:       req.CourseID,
		CompletedUnits: units,
		AlreadyDone:    !created,
		CompletedAt:    completedAt,
	}, nil
}

// Eligibility reports how far the caller is from the enrollment certificate.
func (s *EnrollmentService) Eligibility(ctx context.Context, identity, courseID string) (*models.EnrollmentEligibility, error) {
	if err := authorizeCaller(identity, identity, courseID); err != nil {
		return nil, err
	}
	user, units, err := s.progress(ctx, identity, courseID)
	if err != nil {
		return nil, err
	}

	generated := true
	if _, err := s.store.GetCertificate(ctx, identity, courseID); repository.IsNotFound(err) {
		generated = false
	} else if err != nil {
		s.log.Error("enrollment certificate read failed", "error", err, "userId", identity)
		return nil, compliance.Infrastructure("Failed to check certificate eligibility", err)
	}

	check := s.check(user, units)
	return &models.EnrollmentEligibility{
		CourseID:             courseID,
		Eligible:             check.Eligible,
		CertificateGenerated: generated,
		CumulativeMinutes:    user.CumulativeMinutes,
		MinutesRemaining:     check.MinutesRemaining,
		CompletedUnits:       units,
		RequiredUnits:        s.requiredUnits,
		MissingRequirements:  check.MissingRequirements,
	}, nil
}

// GenerateCertificate awards the enrollment certificate. A student who
// already holds one for the course gets the stored certificate back.
func (s *EnrollmentService) GenerateCertificate(ctx context.Context, identity string, req models.EnrollmentCertificateRequest) (*models.EnrollmentCertificateResult, error) {
	if err := authorizeCaller(identity, identity, req.CourseID, req.CourseName); err != nil {
		s.reject(ctx, identity, compliance.ActionEnrollmentCertificate, compliance.ResourceCertificate, "", err)
		return nil, err
	}
	user, units, err := s.progress(ctx, identity, req.CourseID)
	if err != nil {
		s.reject(ctx, identity, compliance.ActionEnrollmentCertificate, compliance.ResourceCertificate, "", err)
		return nil, err
	}

	check := s.check(user, units)
	if !check.Eligible {
		ce := compliance.Conflict(compliance.CodeEnrollmentNotMet, "Enrollment certificate requirements not met").
			With("cumulativeMinutes", user.CumulativeMinutes).
			With("minutesRemaining", check.MinutesRemaining).
			With("missingRequirements", check.MissingRequirements)
		s.reject(ctx, identity, compliance.ActionEnrollmentCertificate, compliance.ResourceCertificate, "", ce)
		return nil, ce
	}

	studentName := strings.TrimSpace(user.FullName)
	if studentName == "" {
		studentName = "Student"
	}
	now := s.now()
	cert, created, err := s.store.IssueCertificate(ctx, &models.EnrollmentCertificate{
		ID:                uuid.New(),
		UserID:            identity,
		CourseID:          req.CourseID,
		CourseName:        req.CourseName,
		CertificateNumber: EnrollmentCertificateNumber(now.Year()),
		StudentName:       studentName,
		CumulativeMinutes: user.CumulativeMinutes,
		CompletedUnits:    units,
		IssuedAt:          now,
	})
	if err != nil {
		s.log.Error("enrollment certificate issue failed", "error", err, "userId", identity, "courseId", req.CourseID)
		ce := compliance.Infrastructure("Failed to generate enrollment certificate", err)
		s.reject(ctx, identity, compliance.ActionEnrollmentCertificate, compliance.ResourceCertificate, "", ce)
		return nil, ce
	}

	if created {
		s.audit.Record(ctx, AuditEvent{
			UserID:     identity,
			Action:     compliance.ActionEnrollmentCertificate,
			Resource:   compliance.ResourceCertificate,
			ResourceID: cert.ID.String(),
			Status:     compliance.StatusSuccess,
			Metadata: map[string]interface{}{
				"courseId":          cert.CourseID,
				"certificateNumber": cert.CertificateNumber,
				"cumulativeMinutes": cert.CumulativeMinutes,
				"completedUnits":    cert.CompletedUnits,
			},
		})
	} else {
		s.log.Info("enrollment certificate already issued", "userId", identity, "courseId", req.CourseID, "certificateId", cert.ID)
	}
	return &models.EnrollmentCertificateResult{Created: created, Certificate: cert}, nil
}

// RejectMalformed audits a certificate request whose body could not be
// decoded.
func (s *EnrollmentService) RejectMalformed(ctx context.Context, identity string, cause error) error {
	ce := malformedBody(cause)
	s.reject(ctx, identity, compliance.ActionEnrollmentCertificate, compliance.ResourceCertificate, "", ce)
	return ce
}

// RejectMalformedUnit audits a unit completion whose body could not be
// decoded.
func (s *EnrollmentService) RejectMalformedUnit(ctx context.Context, identity, unitID string, cause error) error {
	ce := malformedBody(cause)
	s.reject(ctx, identity, compliance.ActionUnitCompleted, compliance.ResourceUnit, unitID, ce)
	return ce
}

// progress loads the minutes and units the certificate is judged on. A
// student with no compliance record yet has no minutes.
func (s *EnrollmentService) progress(ctx context.Context, identity, courseID string) (*models.User, []string, error) {
	user, err := s.users.GetUser(ctx, identity)
	if repository.IsNotFound(err) {
		user, err = &models.User{ID: identity}, nil
	}
	if err != nil {
		s.log.Error("enrollment user read failed", "error", err, "userId", identity)
		return nil, nil, compliance.Infrastructure("Failed to load enrollment progress", err)
	}
	units, err := s.store.CompletedUnits(ctx, identity, courseID)
	if err != nil {
		s.log.Error("completed units read failed", "error", err, "userId", identity)
		return nil, nil, compliance.Infrastructure("Failed to load enrollment progress", err)
	}
	return user, units, nil
}

func (s *EnrollmentService) check(user *models.User, units []string) compliance.EnrollmentEligibility {
	return compliance.CheckEnrollment(compliance.EnrollmentProgress{
		CumulativeMinutes: user.CumulativeMinutes,
		CompletedUnits:    units,
		RequiredUnits:     s.requiredUnits,
	})
}

func (s *EnrollmentService) reject(ctx context.Context, identity, action, resource, resourceID string, err error) {
	ce, ok := compliance.AsError(err)
	if !ok {
		ce = compliance.Infrastructure("Unexpected error", err)
	}
	s.audit.Record(ctx, AuditEvent{
		UserID:     identity,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Status:     auditStatusFor(ce),
		Metadata:   errorMetadata(ce, nil),
	})
}
