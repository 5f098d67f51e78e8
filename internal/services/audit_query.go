package services

import (
	"context"
	"strings"
	"time"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/logger"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
)

const (
	defaultAuditPageSize = 100
	maxAuditPageSize     = 500
	auditTrailLimit      = 500
	defaultStatsWindow   = 30 * 24 * time.Hour
)

type auditQuerier interface {
	Query(ctx context.Context, f models.AuditFilter) ([]models.AuditLogEntry, int, error)
	CountBetween(ctx context.Context, from, to time.Time) ([]models.AuditCount, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.AuditLogEntry, error)
}

// Caller is an authenticated identity and the role its token carries.
type Caller struct {
	UserID string
	Role   string
}

// AuditQueryService lets instructors and administrators search the audit
// trail across students. Refused callers are themselves audited.
type AuditQueryService struct {
	repo  auditQuerier
	audit auditRecorder
	log   *logger.Logger
	now   Clock
}

func NewAuditQueryService(repo auditQuerier, audit auditRecorder, log *logger.Logger) *AuditQueryService {
	return &AuditQueryService{
		repo:  repo,
		audit: audit,
		log:   log.With("component", "audit_query"),
		now:   systemClock,
	}
}

// Query returns one page of audit entries matching f, newest first unless
// f.Ascending is set.
func (s *AuditQueryService) Query(ctx context.Context, caller Caller, f models.AuditFilter) (*models.AuditPage, error) {
	if err := s.authorize(ctx, caller, "query"); err != nil {
		return nil, err
	}
	if f.Limit == 0 {
		f.Limit = defaultAuditPageSize
	}
	if f.Limit < 0 || f.Limit > maxAuditPageSize {
		return nil, compliance.Validation("limit must be between 1 and %d", maxAuditPageSize)
	}
	if f.Offset < 0 {
		return nil, compliance.Validation("offset must not be negative")
	}
	if f.Status != "" && !compliance.IsAuditStatus(f.Status) {
		return nil, compliance.Validation("unknown status %q", f.Status)
	}
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		return nil, compliance.Validation("startDate must not be after endDate")
	}

	logs, total, err := s.repo.Query(ctx, f)
	if err != nil {
		s.log.Error("audit query failed", "error", err, "callerId", caller.UserID)
		return nil, compliance.Infrastructure("Failed to retrieve audit logs", err)
	}
	return &models.AuditPage{
		Logs:       logs,
		Count:      len(logs),
		TotalCount: total,
		HasMore:    f.Offset+len(logs) < total,
	}, nil
}

// Stats counts the entries created in [from, to] by status, action and
// resource. A missing bound defaults to the last 30 days ending now.
func (s *AuditQueryService) Stats(ctx context.Context, caller Caller, from, to *time.Time) (*models.AuditStats, error) {
	if err := s.authorize(ctx, caller, "stats"); err != nil {
		return nil, err
	}
	end := s.now()
	if to != nil {
		end = *to
	}
	start := end.Add(-defaultStatsWindow)
	if from != nil {
		start = *from
	}
	if start.After(end) {
		return nil, compliance.Validation("startDate must not be after endDate")
	}

	counts, err := s.repo.CountBetween(ctx, start, end)
	if err != nil {
		s.log.Error("audit stats failed", "error", err, "callerId", caller.UserID)
		return nil, compliance.Infrastructure("Failed to retrieve audit log stats", err)
	}

	stats := &models.AuditStats{
		From:       start,
		To:         end,
		ByStatus:   map[string]int{},
		ByAction:   map[string]int{},
		ByResource: map[string]int{},
	}
	for _, c := range counts {
		stats.TotalEvents += c.Count
		stats.ByStatus[c.Status] += c.Count
		stats.ByAction[c.Action] += c.Count
		stats.ByResource[c.Resource] += c.Count
	}
	return stats, nil
}

// UserTrail returns the most recent entries recorded for one student.
func (s *AuditQueryService) UserTrail(ctx context.Context, caller Caller, targetUserID string) (*models.AuditTrail, error) {
	if err := s.authorize(ctx, caller, "user_trail"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(targetUserID) == "" {
		return nil, compliance.Validation("Missing required parameters")
	}

	trail, err := s.repo.ListByUser(ctx, targetUserID, auditTrailLimit)
	if err != nil {
		s.log.Error("audit trail read failed", "error", err, "callerId", caller.UserID, "userId", targetUserID)
		return nil, compliance.Infrastructure("Failed to retrieve user audit trail", err)
	}
	return &models.AuditTrail{UserID: targetUserID, Trail: trail, Count: len(trail)}, nil
}

func (s *AuditQueryService) authorize(ctx context.Context, caller Caller, operation string) *compliance.Error {
	if strings.TrimSpace(caller.UserID) == "" {
		return compliance.Unauthenticated("Authentication required")
	}
	if compliance.CanReadAuditLogs(caller.Role) {
		return nil
	}

	ce := compliance.PermissionDenied("Only admins and instructors can access audit logs")
	s.audit.Record(ctx, AuditEvent{
		UserID:   caller.UserID,
		Action:   compliance.ActionAuditAccessDenied,
		Resource: compliance.ResourceAudit,
		Status:   compliance.StatusDenied,
		Metadata: errorMetadata(ce, map[string]interface{}{
			"operation": operation,
			"role":      caller.Role,
		}),
	})
	return ce
}
