package handlers

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/middleware"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/services"
)

// The RejectMalformed methods audit a body that failed to decode and return
// the error to render, so undecodable requests still leave an audit record.

type heartbeatProcessor interface {
	Process(ctx context.Context, identity string, req models.HeartbeatRequest) (*models.HeartbeatResult, error)
	RejectMalformed(ctx context.Context, identity string, cause error) error
}

type pvqTracker interface {
	Attempt(ctx context.Context, identity string, req models.PVQAttemptRequest) (*models.PVQAttemptResult, error)
	EnrollAnswers(ctx context.Context, identity string, answers map[string]string) error
	RejectMalformed(ctx context.Context, identity string, cause error) error
	RejectMalformedEnrollment(ctx context.Context, identity string, cause error) error
}

type examTracker interface {
	Attempt(ctx context.Context, identity string, req models.ExamAttemptRequest) (*models.ExamAttemptResult, error)
	RejectMalformed(ctx context.Context, identity string, cause error) error
}

type sessionManager interface {
	Start(ctx context.Context, identity, courseID string) (*models.Session, error)
	End(ctx context.Context, identity, sessionID string) (*models.Session, error)
	MarkIdle(ctx context.Context, identity, sessionID string, req models.IdleTimeoutRequest) (*models.IdleTimeoutResult, error)
}

type statusProvider interface {
	Status(ctx context.Context, identity, courseID string) (*models.ComplianceStatus, error)
	AuditHistory(ctx context.Context, identity string, limit int) ([]models.AuditLogEntry, error)
}

// ComplianceHandler exposes the enforcement operations. Every route runs
// behind JWT auth; the services compare the caller with the payload userId.
type ComplianceHandler struct {
	heartbeats heartbeatProcessor
	pvq        pvqTracker
	exams      examTracker
	sessions   sessionManager
	status     statusProvider
}

func NewComplianceHandler(heartbeats heartbeatProcessor, pvq pvqTracker, exams examTracker, sessions sessionManager, status statusProvider) *ComplianceHandler {
	return &ComplianceHandler{
		heartbeats: heartbeats,
		pvq:        pvq,
		exams:      exams,
		sessions:   sessions,
		status:     status,
	}
}

// requestContext carries caller metadata through to the audit trail.
func requestContext(r *http.Request) context.Context {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return services.WithClientInfo(r.Context(), services.ClientInfo{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
		RequestID: middleware.GetRequestID(r.Context()),
	})
}

func (h *ComplianceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx, identity := requestContext(r), middleware.GetUserID(r.Context())
	var req models.HeartbeatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, h.heartbeats.RejectMalformed(ctx, identity, err))
		return
	}

	res, err := h.heartbeats.Process(ctx, identity, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ComplianceHandler) PVQAttempt(w http.ResponseWriter, r *http.Request) {
	ctx, identity := requestContext(r), middleware.GetUserID(r.Context())
	var req models.PVQAttemptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, h.pvq.RejectMalformed(ctx, identity, err))
		return
	}

	res, err := h.pvq.Attempt(ctx, identity, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ComplianceHandler) EnrollPVQAnswers(w http.ResponseWriter, r *http.Request) {
	ctx, identity := requestContext(r), middleware.GetUserID(r.Context())
	var req models.EnrollPVQAnswersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, h.pvq.RejectMalformedEnrollment(ctx, identity, err))
		return
	}

	if err := h.pvq.EnrollAnswers(ctx, identity, req.Answers); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"questionCount": len(req.Answers),
	})
}

func (h *ComplianceHandler) ExamAttempt(w http.ResponseWriter, r *http.Request) {
	ctx, identity := requestContext(r), middleware.GetUserID(r.Context())
	var req models.ExamAttemptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, h.exams.RejectMalformed(ctx, identity, err))
		return
	}

	res, err := h.exams.Attempt(ctx, identity, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ComplianceHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req models.StartSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp(compliance.CodeValidation, "Invalid request body", r))
		return
	}

	session, err := h.sessions.Start(requestContext(r), middleware.GetUserID(r.Context()), req.CourseID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *ComplianceHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.End(requestContext(r), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *ComplianceHandler) IdleTimeout(w http.ResponseWriter, r *http.Request) {
	var req models.IdleTimeoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp(compliance.CodeValidation, "Invalid request body", r))
		return
	}

	res, err := h.sessions.MarkIdle(requestContext(r), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ComplianceHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.status.Status(r.Context(), middleware.GetUserID(r.Context()), r.URL.Query().Get("courseId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *ComplianceHandler) AuditHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResp(compliance.CodeValidation, "limit must be a positive integer", r))
			return
		}
		limit = n
	}

	entries, err := h.status.AuditHistory(r.Context(), middleware.GetUserID(r.Context()), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.AuditLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}
