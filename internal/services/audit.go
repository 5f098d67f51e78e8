package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/logger"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
)

type AuditEvent struct {
	UserID     string
	Action     string
	Resource   string
	ResourceID string
	Status     string
	Metadata   map[string]interface{}
}

type auditWriter interface {
	Insert(ctx context.Context, e *models.AuditLogEntry) error
}

// AuditService is the compliance audit trail. Record never fails its caller:
// write and publish errors are logged with the full event and dropped.
type AuditService struct {
	repo      auditWriter
	publisher userEventPublisher
	log       *logger.Logger
	now       Clock
}

func NewAuditService(repo auditWriter, publisher userEventPublisher, log *logger.Logger) *AuditService {
	return &AuditService{
		repo:      repo,
		publisher: publisher,
		log:       log.With("component", "audit"),
		now:       systemClock,
	}
}

func (s *AuditService) Record(ctx context.Context, ev AuditEvent) {
	now := s.now()
	client := clientInfoFrom(ctx)
	entry := &models.AuditLogEntry{
		ID:                 uuid.New(),
		UserID:             ev.UserID,
		Action:             ev.Action,
		Resource:           ev.Resource,
		ResourceID:         ev.ResourceID,
		Status:             ev.Status,
		Metadata:           ev.Metadata,
		IPAddress:          client.IPAddress,
		UserAgent:          client.UserAgent,
		Timestamp:          now,
		RetentionExpiresAt: now.AddDate(0, 0, compliance.AuditRetentionDays),
	}

	s.logEntry(entry, client.RequestID)

	// The audit write outlives a cancelled request.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.repo.Insert(writeCtx, entry); err != nil {
		s.log.Error("audit write failed",
			"error", err,
			"userId", entry.UserID,
			"action", entry.Action,
			"resource", entry.Resource,
			"resourceId", entry.ResourceID,
			"status", entry.Status,
			"metadata", entry.Metadata,
		)
	}

	if s.publisher == nil || entry.UserID == "" {
		return
	}
	msg := models.WSMessage{Type: models.WSTypeComplianceEvent, Payload: entry}
	if err := s.publisher.PublishUserEvent(writeCtx, entry.UserID, msg); err != nil {
		s.log.Warn("audit publish failed", "error", err, "userId", entry.UserID, "action", entry.Action)
	}
}

func (s *AuditService) logEntry(e *models.AuditLogEntry, requestID string) {
	kv := []interface{}{
		"auditId", e.ID,
		"userId", e.UserID,
		"action", e.Action,
		"resource", e.Resource,
		"resourceId", e.ResourceID,
		"status", e.Status,
		"requestId", requestID,
	}
	switch severityFor(e.Status) {
	case "error":
		s.log.Error("compliance audit", kv...)
	case "warn":
		s.log.Warn("compliance audit", kv...)
	default:
		s.log.Info("compliance audit", kv...)
	}
}

func severityFor(status string) string {
	switch status {
	case compliance.StatusDenied:
		return "warn"
	case compliance.StatusError, compliance.StatusFailure:
		return "error"
	default:
		return "info"
	}
}
