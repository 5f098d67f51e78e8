package services

import (
	"context"
	"time"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/logger"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/repository"
)

// HeartbeatService credits one instruction minute per accepted heartbeat.
//
// The session row, the day's ledger row and the user row are locked in
// that order inside a single transaction, and the minute counter is
// advanced by an atomic upsert, so concurrent heartbeats never lose an
// increment. A daily-limit rejection commits its state before failing.
type HeartbeatService struct {
	store    txRunner
	calendar *compliance.Calendar
	audit    auditRecorder
	log      *logger.Logger
	now      Clock
}

func NewHeartbeatService(store txRunner, calendar *compliance.Calendar, audit auditRecorder, log *logger.Logger) *HeartbeatService {
	return &HeartbeatService{
		store:    store,
		calendar: calendar,
		audit:    audit,
		log:      log.With("component", "heartbeat"),
		now:      systemClock,
	}
}

func (s *HeartbeatService) Process(ctx context.Context, identity string, req models.HeartbeatRequest) (*models.HeartbeatResult, error) {
	if err := authorizeCaller(identity, req.UserID, req.CourseID, req.SessionID); err != nil {
		s.recordRejection(ctx, auditUserID(identity, req.UserID), req, err)
		return nil, err
	}

	now := s.now()
	dateKey := s.calendar.DateKey(now)
	logID := compliance.DailyLogID(req.UserID, dateKey)

	var (
		result    *models.HeartbeatResult
		rejection *compliance.Error
	)

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		session, err := tx.LockSession(ctx, req.UserID, req.SessionID)
		if repository.IsNotFound(err) {
			return compliance.NotFound("Session not found")
		}
		if err != nil {
			return err
		}
		if cerr := compliance.CheckSession(session.Snapshot(), req.CourseID, now); cerr != nil {
			return cerr
		}

		existing, err := tx.LockDailyLog(ctx, logID)
		switch {
		case err == nil:
			if day := existing.Ledger(); day.LimitReached() {
				if err := markDailyLimit(ctx, tx, req.UserID, now); err != nil {
					return err
				}
				rejection = compliance.DailyLimitError(day.CountedMinutes(), dateKey)
				return nil
			}
		case !repository.IsNotFound(err):
			return err
		}

		ledger, isNewDay, err := tx.IncrementDailyLog(ctx, models.DailyLogSeed{
			ID:        logID,
			UserID:    req.UserID,
			CourseID:  req.CourseID,
			DateKey:   dateKey,
			SessionID: req.SessionID,
			Now:       now,
		})
		if err != nil {
			return err
		}
		if err := tx.TouchSession(ctx, session.ID, now); err != nil {
			return err
		}
		if _, err := tx.AddCumulativeMinutes(ctx, req.UserID, 1); err != nil {
			return err
		}

		day := ledger.Ledger()
		if day.LimitReached() {
			if err := markDailyLimit(ctx, tx, req.UserID, now); err != nil {
				return err
			}
			rejection = compliance.DailyLimitError(day.CountedMinutes(), dateKey)
			return nil
		}

		user, err := tx.LockUser(ctx, req.UserID)
		if err != nil {
			return err
		}
		if user.DailyStatus != compliance.DailyStatusActive {
			// A new day or an idle exclusion brought the counted total back under the cap.
			if err := tx.SetDailyStatus(ctx, req.UserID, compliance.DailyStatusActive, nil); err != nil {
				return err
			}
		}

		result = &models.HeartbeatResult{
			Success:          true,
			MinutesCompleted: day.CountedMinutes(),
			RemainingMinutes: day.RemainingMinutes(),
			IsNewDay:         isNewDay,
			DateKey:          dateKey,
			ServerTimestamp:  now,
		}
		return nil
	})

	if err != nil {
		ce, ok := compliance.AsError(err)
		if !ok {
			ce = compliance.Infrastructure("Heartbeat processing failed", err)
			s.log.Error("heartbeat transaction failed", "error", err, "userId", req.UserID, "sessionId", req.SessionID)
		}
		s.recordRejection(ctx, req.UserID, req, ce)
		return nil, ce
	}

	if rejection != nil {
		s.log.Warn("daily limit reached", "userId", req.UserID, "dateKey", dateKey)
		s.audit.Record(ctx, AuditEvent{
			UserID:     req.UserID,
			Action:     compliance.ActionDailyLimitReached,
			Resource:   compliance.ResourceCompliance,
			ResourceID: req.CourseID,
			Status:     compliance.StatusDenied,
			Metadata: errorMetadata(rejection, map[string]interface{}{
				"sessionId":        req.SessionID,
				"dateKey":          dateKey,
				"minutesCompleted": rejection.Details["minutesCompleted"],
				"dailyLimit":       compliance.DailyLimitMinutes,
			}),
		})
		return nil, rejection
	}

	s.audit.Record(ctx, AuditEvent{
		UserID:     req.UserID,
		Action:     compliance.ActionSessionHeartbeat,
		Resource:   compliance.ResourceCompliance,
		ResourceID: req.CourseID,
		Status:     compliance.StatusSuccess,
		Metadata: map[string]interface{}{
			"sessionId":        req.SessionID,
			"minutesCompleted": result.MinutesCompleted,
			"remainingMinutes": result.RemainingMinutes,
			"isNewDay":         result.IsNewDay,
			"dateKey":          dateKey,
		},
	})
	return result, nil
}

// markDailyLimit locks the user for the rest of the day, keeping the
// original lock time if the user is already locked.
func markDailyLimit(ctx context.Context, tx repository.Tx, userID string, now time.Time) error {
	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.DailyStatus == compliance.DailyStatusLocked {
		return nil
	}
	return tx.SetDailyStatus(ctx, userID, compliance.DailyStatusLocked, &now)
}

// RejectMalformed audits a heartbeat whose body could not be decoded and
// returns the error to render.
func (s *HeartbeatService) RejectMalformed(ctx context.Context, identity string, cause error) error {
	ce := malformedBody(cause)
	s.recordRejection(ctx, identity, models.HeartbeatRequest{}, ce)
	return ce
}

func (s *HeartbeatService) recordRejection(ctx context.Context, userID string, req models.HeartbeatRequest, err *compliance.Error) {
	action := compliance.ActionSessionHeartbeatFailed
	if err.Code == compliance.CodeSessionIdleTimeout {
		action = compliance.ActionSessionIdleTimeout
	}
	s.audit.Record(ctx, AuditEvent{
		UserID:     userID,
		Action:     action,
		Resource:   compliance.ResourceCompliance,
		ResourceID: req.CourseID,
		Status:     auditStatusFor(err),
		Metadata: errorMetadata(err, map[string]interface{}{
			"sessionId": req.SessionID,
		}),
	})
}
