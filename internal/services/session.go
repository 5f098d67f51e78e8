package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/logger"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/repository"
)

// SessionService owns the session lifecycle around the heartbeat stream:
// start, end, and client-reported idle timeouts that feed the ledger's
// idle-exclusion path.
type SessionService struct {
	store    txRunner
	calendar *compliance.Calendar
	audit    auditRecorder
	log      *logger.Logger
	now      Clock
}

func NewSessionService(store txRunner, calendar *compliance.Calendar, audit auditRecorder, log *logger.Logger) *SessionService {
	return &SessionService{
		store:    store,
		calendar: calendar,
		audit:    audit,
		log:      log.With("component", "session"),
		now:      systemClock,
	}
}

func (s *SessionService) Start(ctx context.Context, identity, courseID string) (*models.Session, error) {
	if err := authorizeCaller(identity, identity, courseID); err != nil {
		return nil, err
	}

	now := s.now()
	session := &models.Session{
		ID:              uuid.NewString(),
		UserID:          identity,
		CourseID:        courseID,
		Status:          compliance.SessionActive,
		StartedAt:       now,
		LastHeartbeatAt: now,
	}

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.EnsureUser(ctx, identity); err != nil {
			return err
		}
		return tx.CreateSession(ctx, session)
	})
	if err != nil {
		s.log.Error("session start failed", "error", err, "userId", identity, "courseId", courseID)
		ce := compliance.Infrastructure("Failed to start session", err)
		s.record(ctx, identity, compliance.ActionSessionStart, session.ID, compliance.StatusError, errorMetadata(ce, map[string]interface{}{"courseId": courseID}))
		return nil, ce
	}

	s.record(ctx, identity, compliance.ActionSessionStart, session.ID, compliance.StatusSuccess, map[string]interface{}{
		"courseId": courseID,
	})
	return session, nil
}

// End closes an active session. Ending an already closed session is a no-op.
func (s *SessionService) End(ctx context.Context, identity, sessionID string) (*models.Session, error) {
	if err := authorizeCaller(identity, identity, sessionID); err != nil {
		return nil, err
	}

	now := s.now()
	var session *models.Session
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		session, err = tx.LockSession(ctx, identity, sessionID)
		if repository.IsNotFound(err) {
			return compliance.NotFound("Session not found")
		}
		if err != nil {
			return err
		}
		if session.Status != compliance.SessionActive {
			return nil
		}
		session.Status = compliance.SessionEnded
		session.EndedAt = &now
		return tx.SetSessionStatus(ctx, sessionID, compliance.SessionEnded, now)
	})
	if err != nil {
		ce, ok := compliance.AsError(err)
		if !ok {
			s.log.Error("session end failed", "error", err, "userId", identity, "sessionId", sessionID)
			ce = compliance.Infrastructure("Failed to end session", err)
		}
		s.record(ctx, identity, compliance.ActionSessionEnd, sessionID, auditStatusFor(ce), errorMetadata(ce, nil))
		return nil, ce
	}

	s.record(ctx, identity, compliance.ActionSessionEnd, sessionID, compliance.StatusSuccess, map[string]interface{}{
		"courseId": session.CourseID,
		"status":   session.Status,
	})
	return session, nil
}

// MarkIdle moves a session to idle_timeout and, in the same transaction,
// excludes the reported idle span from today's counted minutes and from the
// user's cumulative total.
func (s *SessionService) MarkIdle(ctx context.Context, identity, sessionID string, req models.IdleTimeoutRequest) (*models.IdleTimeoutResult, error) {
	if err := authorizeCaller(identity, identity, sessionID, req.CourseID); err != nil {
		return nil, err
	}

	now := s.now()
	dateKey := s.calendar.DateKey(now)
	idle := compliance.ClampIdleMinutes(req.IdleMinutes)

	result := &models.IdleTimeoutResult{
		SessionID:       sessionID,
		Status:          compliance.SessionIdleTimeout,
		DateKey:         dateKey,
		ServerTimestamp: now,
	}

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		session, err := tx.LockSession(ctx, identity, sessionID)
		if repository.IsNotFound(err) {
			return compliance.NotFound("Session not found")
		}
		if err != nil {
			return err
		}
		if session.CourseID != req.CourseID {
			return compliance.Conflict(compliance.CodeCourseMismatch, "Course ID mismatch for session")
		}
		switch session.Status {
		case compliance.SessionIdleTimeout:
			return compliance.Conflict(compliance.CodeSessionIdleTimeout, "Session is already marked idle")
		case compliance.SessionEnded:
			return compliance.Conflict(compliance.CodeSessionClosed, "Session has already ended")
		}
		if err := tx.SetSessionStatus(ctx, sessionID, compliance.SessionIdleTimeout, now); err != nil {
			return err
		}

		ledger, err := tx.LockDailyLog(ctx, compliance.DailyLogID(identity, dateKey))
		if repository.IsNotFound(err) {
			// Nothing credited today; nothing to exclude.
			result.RemainingMinutes = compliance.DailyLimitMinutes
			return nil
		}
		if err != nil {
			return err
		}

		before := ledger.Ledger()
		after := before.ExcludeIdle(idle)
		ledger.ApplyLedger(after)
		if err := tx.SaveDailyLogExclusion(ctx, ledger, now); err != nil {
			return err
		}
		excluded := before.CountedMinutes() - after.CountedMinutes()
		if excluded > 0 {
			if _, err := tx.AddCumulativeMinutes(ctx, identity, -excluded); err != nil {
				return err
			}
		}

		result.IdleMinutesExcluded = after.IdleMinutesExcluded
		result.AdjustedMinutesCompleted = after.AdjustedMinutesCompleted
		result.RemainingMinutes = after.RemainingMinutes()
		return nil
	})
	if err != nil {
		ce, ok := compliance.AsError(err)
		if !ok {
			s.log.Error("idle timeout failed", "error", err, "userId", identity, "sessionId", sessionID)
			ce = compliance.Infrastructure("Failed to record idle timeout", err)
		}
		s.record(ctx, identity, compliance.ActionSessionIdleTimeout, sessionID, auditStatusFor(ce), errorMetadata(ce, map[string]interface{}{"courseId": req.CourseID}))
		return nil, ce
	}

	s.record(ctx, identity, compliance.ActionSessionIdleTimeout, sessionID, compliance.StatusSuccess, map[string]interface{}{
		"courseId":                 req.CourseID,
		"idleMinutes":              idle,
		"dateKey":                  dateKey,
		"adjustedMinutesCompleted": result.AdjustedMinutesCompleted,
		"source":                   "client",
	})
	return result, nil
}

func (s *SessionService) record(ctx context.Context, userID, action, sessionID, status string, metadata map[string]interface{}) {
	s.audit.Record(ctx, AuditEvent{
		UserID:     userID,
		Action:     action,
		Resource:   compliance.ResourceSession,
		ResourceID: sessionID,
		Status:     status,
		Metadata:   metadata,
	})
}
