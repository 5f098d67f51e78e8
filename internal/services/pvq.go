package services

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/logger"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/repository"
)

// PVQService tracks identity-verification attempts per session and applies
// the 24h lockout after the second failure.
type PVQService struct {
	store      txRunner
	audit      auditRecorder
	log        *logger.Logger
	now        Clock
	bcryptCost int
}

func NewPVQService(store txRunner, audit auditRecorder, log *logger.Logger) *PVQService {
	return &PVQService{
		store:      store,
		audit:      audit,
		log:        log.With("component", "pvq"),
		now:        systemClock,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// normalizeAnswer makes enrollment and verification case and whitespace insensitive.
func normalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

func (s *PVQService) Attempt(ctx context.Context, identity string, req models.PVQAttemptRequest) (*models.PVQAttemptResult, error) {
	if err := s.validateAttempt(identity, req); err != nil {
		s.recordRejection(ctx, auditUserID(identity, req.UserID), req, err)
		return nil, err
	}

	now := s.now()
	recordID := models.PVQRecordID(req.UserID, req.SessionID)

	var (
		transition compliance.PVQTransition
		correct    bool
		verifiedBy string
		rejection  *compliance.Error
	)

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		user, err := tx.LockUser(ctx, req.UserID)
		if repository.IsNotFound(err) {
			return compliance.NotFound("User not found")
		}
		if err != nil {
			return err
		}

		snapshot := compliance.PVQSnapshot{LockoutUntil: user.PVQLockoutUntil}
		if snapshot.State(now) == compliance.PVQLocked {
			rejection = compliance.PVQLockedError(*user.PVQLockoutUntil, now)
			return nil
		}

		correct, verifiedBy, err = s.grade(ctx, tx, req)
		if err != nil {
			return err
		}

		record, err := tx.LockPVQRecord(ctx, recordID)
		switch {
		case repository.IsNotFound(err):
			record = &models.PVQVerificationRecord{
				ID:        recordID,
				UserID:    req.UserID,
				CourseID:  req.CourseID,
				SessionID: req.SessionID,
			}
		case err != nil:
			return err
		}
		snapshot.AttemptCount = record.AttemptCount
		snapshot.FailureCount = record.FailureCount

		transition = compliance.NextPVQ(snapshot, correct, now)

		record.AttemptCount = transition.AttemptCount
		record.FailureCount = transition.FailureCount
		record.LastAttemptCorrect = correct
		record.LastAttemptAt = &now
		if err := tx.SavePVQRecord(ctx, record); err != nil {
			return err
		}

		switch transition.Outcome {
		case compliance.PVQLockoutActivated:
			if err := tx.SetPVQLockout(ctx, req.UserID, transition.LockoutUntil); err != nil {
				return err
			}
			rejection = compliance.PVQMaxAttemptsError(*transition.LockoutUntil)
		case compliance.PVQAccepted:
			if user.PVQLockoutUntil != nil {
				// Expired lockout; clear it so reads see an unlocked user.
				if err := tx.SetPVQLockout(ctx, req.UserID, nil); err != nil {
					return err
				}
			}
		}
		return nil
	})

	if err != nil {
		ce, ok := compliance.AsError(err)
		if !ok {
			ce = compliance.Infrastructure("Identity verification failed", err)
			s.log.Error("pvq transaction failed", "error", err, "userId", req.UserID, "sessionId", req.SessionID)
		}
		s.recordRejection(ctx, req.UserID, req, ce)
		return nil, ce
	}

	if rejection != nil {
		action := compliance.ActionPVQAttempt
		if rejection.Code == compliance.CodePVQMaxAttempts {
			action = compliance.ActionPVQLockoutActivated
			s.log.Warn("pvq lockout activated", "userId", req.UserID, "sessionId", req.SessionID)
		}
		s.audit.Record(ctx, AuditEvent{
			UserID:     req.UserID,
			Action:     action,
			Resource:   compliance.ResourcePVQ,
			ResourceID: req.SessionID,
			Status:     compliance.StatusDenied,
			Metadata: errorMetadata(rejection, map[string]interface{}{
				"courseId":     req.CourseID,
				"attemptCount": transition.AttemptCount,
				"failureCount": transition.FailureCount,
				"fromState":    transition.From,
				"toState":      transition.To,
			}),
		})
		return nil, rejection
	}

	action, status := compliance.ActionPVQAttempt, compliance.StatusSuccess
	if !correct {
		action, status = compliance.ActionPVQAttemptFailed, compliance.StatusFailure
	}
	s.audit.Record(ctx, AuditEvent{
		UserID:     req.UserID,
		Action:     action,
		Resource:   compliance.ResourcePVQ,
		ResourceID: req.SessionID,
		Status:     status,
		Metadata: map[string]interface{}{
			"courseId":          req.CourseID,
			"attemptCount":      transition.AttemptCount,
			"failureCount":      transition.FailureCount,
			"isCorrect":         correct,
			"remainingAttempts": transition.RemainingAttempts(),
			"verifiedBy":        verifiedBy,
			"fromState":         transition.From,
			"toState":           transition.To,
		},
	})

	return &models.PVQAttemptResult{
		Success:           true,
		AttemptCount:      transition.AttemptCount,
		FailureCount:      transition.FailureCount,
		IsCorrect:         correct,
		RemainingAttempts: transition.RemainingAttempts(),
		ServerTimestamp:   now,
	}, nil
}

func (s *PVQService) validateAttempt(identity string, req models.PVQAttemptRequest) *compliance.Error {
	if err := authorizeCaller(identity, req.UserID, req.CourseID, req.SessionID); err != nil {
		return err
	}
	if req.IsCorrect == nil && req.QuestionID == "" {
		return compliance.Validation("isCorrect or questionId and answer are required")
	}
	if req.QuestionID != "" && req.IsCorrect == nil && strings.TrimSpace(req.Answer) == "" {
		return compliance.Validation("answer is required")
	}
	if len(req.Answer) > compliance.MaxPVQAnswerLength {
		return compliance.Validation("answer exceeds %d characters", compliance.MaxPVQAnswerLength)
	}
	return nil
}

// grade prefers server verification against the enrolled answer; the
// client's isCorrect is used only when no answer is enrolled.
func (s *PVQService) grade(ctx context.Context, tx repository.Tx, req models.PVQAttemptRequest) (bool, string, error) {
	if req.QuestionID != "" {
		hash, err := tx.GetPVQAnswerHash(ctx, req.UserID, req.QuestionID)
		switch {
		case err == nil:
			err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(normalizeAnswer(req.Answer)))
			if err != nil && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				return false, "", err
			}
			return err == nil, "server", nil
		case !repository.IsNotFound(err):
			return false, "", err
		case req.IsCorrect == nil:
			return false, "", compliance.NotFound("No enrolled answer for question %s", req.QuestionID)
		}
	}
	return *req.IsCorrect, "client", nil
}

// EnrollAnswers stores bcrypt hashes of the user's normalized answers,
// replacing any earlier answer to the same question.
func (s *PVQService) EnrollAnswers(ctx context.Context, identity string, answers map[string]string) error {
	if err := validateEnrollment(identity, answers); err != nil {
		s.recordEnrollmentRejection(ctx, identity, err)
		return err
	}

	hashes := make(map[string]string, len(answers))
	for questionID, answer := range answers {
		hash, err := bcrypt.GenerateFromPassword([]byte(normalizeAnswer(answer)), s.bcryptCost)
		if err != nil {
			ce := compliance.Infrastructure("Failed to enroll answers", err)
			s.recordEnrollmentRejection(ctx, identity, ce)
			return ce
		}
		hashes[questionID] = string(hash)
	}

	now := s.now()
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.EnsureUser(ctx, identity); err != nil {
			return err
		}
		return tx.SavePVQAnswerHashes(ctx, identity, hashes, now)
	})
	if err != nil {
		s.log.Error("pvq enrollment failed", "error", err, "userId", identity)
		ce := compliance.Infrastructure("Failed to enroll answers", err)
		s.recordEnrollmentRejection(ctx, identity, ce)
		return ce
	}

	s.audit.Record(ctx, AuditEvent{
		UserID:   identity,
		Action:   compliance.ActionPVQAnswersEnrolled,
		Resource: compliance.ResourcePVQ,
		Status:   compliance.StatusSuccess,
		Metadata: map[string]interface{}{"questionCount": len(hashes)},
	})
	return nil
}

func validateEnrollment(identity string, answers map[string]string) *compliance.Error {
	if strings.TrimSpace(identity) == "" {
		return compliance.Unauthenticated("Authentication required")
	}
	if len(answers) == 0 {
		return compliance.Validation("answers are required")
	}
	for questionID, answer := range answers {
		switch {
		case strings.TrimSpace(questionID) == "":
			return compliance.Validation("question id is required")
		case normalizeAnswer(answer) == "":
			return compliance.Validation("answer for %s is required", questionID)
		case len(answer) > compliance.MaxPVQAnswerLength:
			return compliance.Validation("answer for %s exceeds %d characters", questionID, compliance.MaxPVQAnswerLength)
		}
	}
	return nil
}

// RejectMalformed audits a verification attempt whose body could not be decoded.
func (s *PVQService) RejectMalformed(ctx context.Context, identity string, cause error) error {
	ce := malformedBody(cause)
	s.recordRejection(ctx, identity, models.PVQAttemptRequest{}, ce)
	return ce
}

// RejectMalformedEnrollment audits an enrollment whose body could not be decoded.
func (s *PVQService) RejectMalformedEnrollment(ctx context.Context, identity string, cause error) error {
	ce := malformedBody(cause)
	s.recordEnrollmentRejection(ctx, identity, ce)
	return ce
}

func (s *PVQService) recordEnrollmentRejection(ctx context.Context, identity string, err *compliance.Error) {
	s.audit.Record(ctx, AuditEvent{
		UserID:   identity,
		Action:   compliance.ActionPVQAnswersEnrolled,
		Resource: compliance.ResourcePVQ,
		Status:   auditStatusFor(err),
		Metadata: errorMetadata(err, nil),
	})
}

func (s *PVQService) recordRejection(ctx context.Context, userID string, req models.PVQAttemptRequest, err *compliance.Error) {
	s.audit.Record(ctx, AuditEvent{
		UserID:     userID,
		Action:     compliance.ActionPVQAttempt,
		Resource:   compliance.ResourcePVQ,
		ResourceID: req.SessionID,
		Status:     auditStatusFor(err),
		Metadata: errorMetadata(err, map[string]interface{}{
			"courseId": req.CourseID,
		}),
	})
}
