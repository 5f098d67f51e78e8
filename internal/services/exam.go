package services

import (
	"context"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/logger"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/repository"
)

type certificateQueue interface {
	EnqueueCertificate(ctx context.Context, userID, courseID string, cfg models.CertificateJobConfig) error
}

// ExamService records final-exam attempts. Failures one and two lock the
// exam for 24h; the third flags an academic reset instead.
type ExamService struct {
	store        txRunner
	audit        auditRecorder
	certificates certificateQueue
	log          *logger.Logger
	now          Clock
}

func NewExamService(store txRunner, audit auditRecorder, certificates certificateQueue, log *logger.Logger) *ExamService {
	return &ExamService{
		store:        store,
		audit:        audit,
		certificates: certificates,
		log:          log.With("component", "exam"),
		now:          systemClock,
	}
}

func (s *ExamService) Attempt(ctx context.Context, identity string, req models.ExamAttemptRequest) (*models.ExamAttemptResult, error) {
	graded, verr := s.validateAttempt(identity, req)
	if verr != nil {
		s.recordRejection(ctx, auditUserID(identity, req.UserID), req, verr)
		return nil, verr
	}

	now := s.now()
	recordID := models.ExamRecordID(req.UserID, req.CourseID)

	var (
		transition        compliance.ExamTransition
		rejection         *compliance.Error
		cumulativeMinutes int
	)

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		user, err := tx.LockUser(ctx, req.UserID)
		if repository.IsNotFound(err) {
			return compliance.NotFound("User not found")
		}
		if err != nil {
			return err
		}
		cumulativeMinutes = user.CumulativeMinutes

		record, err := tx.LockExamRecord(ctx, recordID)
		switch {
		case repository.IsNotFound(err):
			record = &models.ExamAttemptRecord{ID: recordID, UserID: req.UserID, CourseID: req.CourseID}
		case err != nil:
			return err
		}

		transition = compliance.NextExam(compliance.ExamSnapshot{
			LockoutUntil:          user.ExamLockoutUntil,
			AcademicResetRequired: user.AcademicResetRequired,
			FailureCount:          record.FailureCount,
			PriorAttempts:         len(record.Attempts),
		}, graded.IsPassed, now)

		if !transition.Recorded() {
			if transition.Outcome == compliance.ExamRejectedReset {
				rejection = compliance.AcademicResetError(user.ResetAvailableAt)
			} else {
				rejection = compliance.ExamLockedError(*user.ExamLockoutUntil, now)
			}
			return nil
		}

		score := graded.Score
		record.AttemptCount = transition.AttemptNumber
		record.FailureCount = transition.FailureCount
		record.LastAttemptScore = &score
		record.IsPassed = record.IsPassed || graded.IsPassed
		if err := tx.SaveExamRecord(ctx, record); err != nil {
			return err
		}
		if err := tx.AppendExamAttempt(ctx, recordID, models.ExamAttempt{
			AttemptNumber:  transition.AttemptNumber,
			SessionID:      req.SessionID,
			Score:          graded.Score,
			TotalQuestions: graded.TotalQuestions,
			ScorePercent:   graded.ScorePercent,
			IsPassed:       graded.IsPassed,
			AttemptedAt:    now,
		}); err != nil {
			return err
		}

		state := models.ExamUserState{
			LockoutUntil:          user.ExamLockoutUntil,
			AcademicResetRequired: user.AcademicResetRequired,
			ResetAvailableAt:      user.ResetAvailableAt,
			FinalExamPassed:       user.FinalExamPassed,
			FinalExamScore:        user.FinalExamScore,
		}
		if transition.ClearFlags {
			percent := graded.ScorePercent
			state = models.ExamUserState{FinalExamPassed: true, FinalExamScore: &percent}
		}
		switch transition.Outcome {
		case compliance.ExamFailedLockout:
			state.LockoutUntil = transition.LockoutUntil
		case compliance.ExamResetFlagged:
			state.LockoutUntil = nil
			state.AcademicResetRequired = true
			state.ResetAvailableAt = transition.ResetAvailableAt
			rejection = compliance.AcademicResetError(transition.ResetAvailableAt)
		}
		return tx.SetExamState(ctx, req.UserID, state)
	})

	if err != nil {
		ce, ok := compliance.AsError(err)
		if !ok {
			ce = compliance.Infrastructure("Exam attempt processing failed", err)
			s.log.Error("exam transaction failed", "error", err, "userId", req.UserID, "courseId", req.CourseID)
		}
		s.recordRejection(ctx, req.UserID, req, ce)
		return nil, ce
	}

	metadata := map[string]interface{}{
		"sessionId":     req.SessionID,
		"attemptNumber": transition.AttemptNumber,
		"score":         graded.Score,
		"scorePercent":  graded.ScorePercent,
		"passingScore":  graded.PassingScore,
		"failureCount":  transition.FailureCount,
		"fromState":     transition.From,
		"toState":       transition.To,
	}

	if rejection != nil {
		action := compliance.ActionExamAttempt
		if transition.Outcome == compliance.ExamResetFlagged {
			action = compliance.ActionExamAcademicReset
			s.log.Warn("academic reset flagged", "userId", req.UserID, "courseId", req.CourseID)
		}
		s.audit.Record(ctx, AuditEvent{
			UserID:     req.UserID,
			Action:     action,
			Resource:   compliance.ResourceExam,
			ResourceID: req.CourseID,
			Status:     compliance.StatusDenied,
			Metadata:   errorMetadata(rejection, metadata),
		})
		return nil, rejection
	}

	if graded.IsPassed {
		s.audit.Record(ctx, AuditEvent{
			UserID:     req.UserID,
			Action:     compliance.ActionExamPassed,
			Resource:   compliance.ResourceExam,
			ResourceID: req.CourseID,
			Status:     compliance.StatusSuccess,
			Metadata:   metadata,
		})
		s.maybeIssueCertificate(ctx, req, graded.ScorePercent, cumulativeMinutes)
	} else {
		metadata["lockoutUntil"] = transition.LockoutUntil
		s.audit.Record(ctx, AuditEvent{
			UserID:     req.UserID,
			Action:     compliance.ActionExamAttemptFailed,
			Resource:   compliance.ResourceExam,
			ResourceID: req.CourseID,
			Status:     compliance.StatusFailure,
			Metadata:   metadata,
		})
	}

	return &models.ExamAttemptResult{
		Success:           true,
		AttemptNumber:     transition.AttemptNumber,
		Score:             graded.Score,
		ScorePercent:      graded.ScorePercent,
		PassingScore:      graded.PassingScore,
		IsPassed:          graded.IsPassed,
		FailureCount:      transition.FailureCount,
		RemainingAttempts: transition.RemainingAttempts(),
		ServerTimestamp:   now,
	}, nil
}

// maybeIssueCertificate never fails the exam result; enqueue errors are logged.
func (s *ExamService) maybeIssueCertificate(ctx context.Context, req models.ExamAttemptRequest, scorePercent, cumulativeMinutes int) {
	if s.certificates == nil || !compliance.EligibleForCompletion(cumulativeMinutes, scorePercent) {
		return
	}
	err := s.certificates.EnqueueCertificate(ctx, req.UserID, req.CourseID, models.CertificateJobConfig{
		ScorePercent: scorePercent,
		TotalMinutes: cumulativeMinutes,
	})
	if err != nil {
		s.log.Error("certificate issuance enqueue failed", "error", err, "userId", req.UserID, "courseId", req.CourseID)
	}
}

func (s *ExamService) validateAttempt(identity string, req models.ExamAttemptRequest) (compliance.ExamScore, *compliance.Error) {
	if err := authorizeCaller(identity, req.UserID, req.CourseID, req.SessionID); err != nil {
		return compliance.ExamScore{}, err
	}
	if req.Score == nil || req.TotalQuestions == nil {
		return compliance.ExamScore{}, compliance.Validation("Missing required parameters")
	}
	return compliance.GradeExam(*req.Score, *req.TotalQuestions)
}

// RejectMalformed audits an exam submission whose body could not be decoded.
func (s *ExamService) RejectMalformed(ctx context.Context, identity string, cause error) error {
	ce := malformedBody(cause)
	s.recordRejection(ctx, identity, models.ExamAttemptRequest{}, ce)
	return ce
}

func (s *ExamService) recordRejection(ctx context.Context, userID string, req models.ExamAttemptRequest, err *compliance.Error) {
	s.audit.Record(ctx, AuditEvent{
		UserID:     userID,
		Action:     compliance.ActionExamAttempt,
		Resource:   compliance.ResourceExam,
		ResourceID: req.CourseID,
		Status:     auditStatusFor(err),
		Metadata: errorMetadata(err, map[string]interface{}{
			"sessionId": req.SessionID,
		}),
	})
}
