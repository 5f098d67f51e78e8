package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/logger"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
)

type stubAuditWriter struct {
	entries []*models.AuditLogEntry
	ctxErr  error
	err     error
}

func (w *stubAuditWriter) Insert(ctx context.Context, e *models.AuditLogEntry) error {
	w.ctxErr = ctx.Err()
	if w.err != nil {
		return w.err
	}
	w.entries = append(w.entries, e)
	return nil
}

type stubPublisher struct {
	userIDs  []string
	messages []models.WSMessage
	err      error
}

func (p *stubPublisher) PublishUserEvent(ctx context.Context, userID string, msg models.WSMessage) error {
	p.userIDs = append(p.userIDs, userID)
	p.messages = append(p.messages, msg)
	return p.err
}

func observedLogger() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return &logger.Logger{SugaredLogger: zap.New(core).Sugar()}, logs
}

func TestAuditRecordPersistsAndPublishes(t *testing.T) {
	writer := &stubAuditWriter{}
	publisher := &stubPublisher{}
	svc := NewAuditService(writer, publisher, logger.Nop())
	svc.now = func() time.Time { return heartbeatNoon }

	ctx := WithClientInfo(context.Background(), ClientInfo{IPAddress: "10.0.0.7", UserAgent: "test-agent", RequestID: "req-1"})
	svc.Record(ctx, AuditEvent{
		UserID:     "u1",
		Action:     compliance.ActionSessionHeartbeat,
		Resource:   compliance.ResourceSession,
		ResourceID: "s1",
		Status:     compliance.StatusSuccess,
		Metadata:   map[string]interface{}{"minutesCompleted": 3},
	})

	if len(writer.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(writer.entries))
	}
	e := writer.entries[0]
	if e.IPAddress != "10.0.0.7" || e.UserAgent != "test-agent" {
		t.Fatalf("client info not attached: %+v", e)
	}
	wantExpiry := heartbeatNoon.AddDate(0, 0, compliance.AuditRetentionDays)
	if !e.RetentionExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected retention expiry %v, got %v", wantExpiry, e.RetentionExpiresAt)
	}
	if len(publisher.messages) != 1 || publisher.userIDs[0] != "u1" || publisher.messages[0].Type != models.WSTypeComplianceEvent {
		t.Fatalf("expected a compliance_event publish, got %+v", publisher.messages)
	}
}

func TestAuditRecordOutlivesCancelledRequest(t *testing.T) {
	writer := &stubAuditWriter{}
	svc := NewAuditService(writer, nil, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Record(ctx, AuditEvent{UserID: "u1", Action: compliance.ActionSessionEnd, Status: compliance.StatusSuccess})

	if writer.ctxErr != nil {
		t.Fatalf("audit write ran with a cancelled context: %v", writer.ctxErr)
	}
	if len(writer.entries) != 1 {
		t.Fatalf("expected the entry to be written")
	}
}

func TestAuditRecordSwallowsWriteFailure(t *testing.T) {
	log, logs := observedLogger()
	writer := &stubAuditWriter{err: errors.New("insert failed")}
	publisher := &stubPublisher{err: errors.New("redis down")}
	svc := NewAuditService(writer, publisher, log)

	svc.Record(context.Background(), AuditEvent{
		UserID: "u1", Action: compliance.ActionPVQAttempt, Resource: compliance.ResourcePVQ, Status: compliance.StatusDenied,
	})

	if n := logs.FilterMessage("audit write failed").Len(); n != 1 {
		t.Fatalf("expected the write failure to be logged, got %d entries", n)
	}
	if n := logs.FilterMessage("audit publish failed").Len(); n != 1 {
		t.Fatalf("expected the publish failure to be logged, got %d entries", n)
	}
	entries := logs.FilterMessage("compliance audit").All()
	if len(entries) != 1 || entries[0].Level != zap.WarnLevel {
		t.Fatalf("denied events log at warn, got %+v", entries)
	}
}

func TestSeverityFor(t *testing.T) {
	tests := map[string]string{
		compliance.StatusSuccess: "info",
		compliance.StatusDenied:  "warn",
		compliance.StatusFailure: "error",
		compliance.StatusError:   "error",
		"":                       "info",
	}
	for status, want := range tests {
		if got := severityFor(status); got != want {
			t.Errorf("severityFor(%q) = %s, want %s", status, got, want)
		}
	}
}

func TestAuthorizeCaller(t *testing.T) {
	tests := []struct {
		name     string
		identity string
		userID   string
		required []string
		wantCode string
	}{
		{"ok", "u1", "u1", []string{"c1", "s1"}, ""},
		{"unauthenticated", "", "u1", nil, compliance.CodeUnauthenticated},
		{"missing user", "u1", "", nil, compliance.CodeValidation},
		{"missing param", "u1", "u1", []string{"c1", " "}, compliance.CodeValidation},
		{"mismatch", "u1", "u2", []string{"c1"}, compliance.CodePermissionDenied},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := authorizeCaller(tc.identity, tc.userID, tc.required...)
			if tc.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Code != tc.wantCode {
				t.Fatalf("expected %s, got %v", tc.wantCode, err)
			}
		})
	}
}
