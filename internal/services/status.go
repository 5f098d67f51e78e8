package services

import (
	"context"
	"time"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/logger"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/repository"
)

type statusReader interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetDailyLog(ctx context.Context, id string) (*models.DailyActivityLog, error)
}

type auditReader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]models.AuditLogEntry, error)
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

// StatusService serves read models. It never writes and never audits.
type StatusService struct {
	reader   statusReader
	audits   auditReader
	calendar *compliance.Calendar
	log      *logger.Logger
	now      Clock
}

func NewStatusService(reader statusReader, audits auditReader, calendar *compliance.Calendar, log *logger.Logger) *StatusService {
	return &StatusService{
		reader:   reader,
		audits:   audits,
		calendar: calendar,
		log:      log.With("component", "status"),
		now:      systemClock,
	}
}

func (s *StatusService) Status(ctx context.Context, identity, courseID string) (*models.ComplianceStatus, error) {
	if err := authorizeCaller(identity, identity); err != nil {
		return nil, err
	}

	user, err := s.reader.GetUser(ctx, identity)
	if repository.IsNotFound(err) {
		return nil, compliance.NotFound("User not found")
	}
	if err != nil {
		s.log.Error("status user read failed", "error", err, "userId", identity)
		return nil, compliance.Infrastructure("Failed to load compliance status", err)
	}

	now := s.now()
	dateKey := s.calendar.DateKey(now)
	_, resetAt := s.calendar.DayBounds(now)
	var day compliance.LedgerDay
	ledger, err := s.reader.GetDailyLog(ctx, compliance.DailyLogID(identity, dateKey))
	switch {
	case err == nil:
		day = ledger.Ledger()
	case !repository.IsNotFound(err):
		s.log.Error("status ledger read failed", "error", err, "userId", identity)
		return nil, compliance.Infrastructure("Failed to load compliance status", err)
	}

	dailyStatus := user.DailyStatus
	if !day.LimitReached() {
		// A lock from an earlier day does not carry over.
		dailyStatus = compliance.DailyStatusActive
	}

	return &models.ComplianceStatus{
		UserID:                identity,
		CourseID:              courseID,
		DateKey:               dateKey,
		MinutesCompleted:      day.CountedMinutes(),
		RemainingMinutes:      day.RemainingMinutes(),
		DailyStatus:           dailyStatus,
		DailyResetAt:          resetAt.UTC(),
		CumulativeMinutes:     user.CumulativeMinutes,
		PVQLockoutUntil:       activeLockout(user.PVQLockoutUntil, now),
		PVQRemainingMinutes:   compliance.LockoutRemainingMinutes(user.PVQLockoutUntil, now),
		ExamLockoutUntil:      activeLockout(user.ExamLockoutUntil, now),
		ExamRemainingHours:    compliance.LockoutRemainingHours(user.ExamLockoutUntil, now),
		AcademicResetRequired: user.AcademicResetRequired,
		ResetAvailableAt:      user.ResetAvailableAt,
		FinalExamPassed:       user.FinalExamPassed,
		ServerTimestamp:       now,
	}, nil
}

func activeLockout(until *time.Time, now time.Time) *time.Time {
	if until == nil || !until.After(now) {
		return nil
	}
	return until
}

// AuditHistory returns the caller's own entries, newest first.
func (s *StatusService) AuditHistory(ctx context.Context, identity string, limit int) ([]models.AuditLogEntry, error) {
	if err := authorizeCaller(identity, identity); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		return nil, compliance.Validation("limit must be between 1 and %d", maxAuditLimit)
	}

	entries, err := s.audits.ListByUser(ctx, identity, limit)
	if err != nil {
		s.log.Error("audit history read failed", "error", err, "userId", identity)
		return nil, compliance.Infrastructure("Failed to load audit history", err)
	}
	return entries, nil
}
