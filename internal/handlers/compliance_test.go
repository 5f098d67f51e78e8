package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/middleware"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
)

type stubHeartbeats struct {
	identity string
	req      models.HeartbeatRequest
	res      *models.HeartbeatResult
	err      error
}

func (s *stubHeartbeats) Process(ctx context.Context, identity string, req models.HeartbeatRequest) (*models.HeartbeatResult, error) {
	s.identity, s.req = identity, req
	return s.res, s.err
}

func (s *stubHeartbeats) RejectMalformed(ctx context.Context, identity string, cause error) error {
	s.identity = identity
	return compliance.Validation("Invalid request body")
}

type stubPVQ struct {
	res       *models.PVQAttemptResult
	err       error
	answers   map[string]string
	malformed []string
}

func (s *stubPVQ) RejectMalformed(ctx context.Context, identity string, cause error) error {
	s.malformed = append(s.malformed, "attempt")
	return compliance.Validation("Invalid request body")
}

func (s *stubPVQ) RejectMalformedEnrollment(ctx context.Context, identity string, cause error) error {
	s.malformed = append(s.malformed, "enrollment")
	return compliance.Validation("Invalid request body")
}

func (s *stubPVQ) Attempt(ctx context.Context, identity string, req models.PVQAttemptRequest) (*models.PVQAttemptResult, error) {
	return s.res, s.err
}

func (s *stubPVQ) EnrollAnswers(ctx context.Context, identity string, answers map[string]string) error {
	s.answers = answers
	return s.err
}

type stubExams struct {
	res       *models.ExamAttemptResult
	err       error
	malformed int
}

func (s *stubExams) RejectMalformed(ctx context.Context, identity string, cause error) error {
	s.malformed++
	return compliance.Validation("Invalid request body")
}

func (s *stubExams) Attempt(ctx context.Context, identity string, req models.ExamAttemptRequest) (*models.ExamAttemptResult, error) {
	return s.res, s.err
}

type stubSessions struct {
	sessionID string
	idle      models.IdleTimeoutRequest
}

func (s *stubSessions) Start(ctx context.Context, identity, courseID string) (*models.Session, error) {
	return &models.Session{ID: "s-new", UserID: identity, CourseID: courseID, Status: compliance.SessionActive}, nil
}

func (s *stubSessions) End(ctx context.Context, identity, sessionID string) (*models.Session, error) {
	s.sessionID = sessionID
	return &models.Session{ID: sessionID, UserID: identity, Status: compliance.SessionEnded}, nil
}

func (s *stubSessions) MarkIdle(ctx context.Context, identity, sessionID string, req models.IdleTimeoutRequest) (*models.IdleTimeoutResult, error) {
	s.sessionID, s.idle = sessionID, req
	return &models.IdleTimeoutResult{SessionID: sessionID, Status: compliance.SessionIdleTimeout}, nil
}

type stubStatus struct {
	limit int
	err   error
}

func (s *stubStatus) Status(ctx context.Context, identity, courseID string) (*models.ComplianceStatus, error) {
	return &models.ComplianceStatus{UserID: identity, CourseID: courseID}, s.err
}

func (s *stubStatus) AuditHistory(ctx context.Context, identity string, limit int) ([]models.AuditLogEntry, error) {
	s.limit = limit
	return nil, s.err
}

func newTestHandler() (*ComplianceHandler, *stubHeartbeats, *stubPVQ, *stubExams, *stubSessions, *stubStatus) {
	hb, pvq, exams, sessions, status := &stubHeartbeats{}, &stubPVQ{}, &stubExams{}, &stubSessions{}, &stubStatus{}
	return NewComplianceHandler(hb, pvq, exams, sessions, status), hb, pvq, exams, sessions, status
}

func authedRequest(method, target string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(middleware.WithUserID(req.Context(), "u1"))
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.APIError {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error body %q: %v", rr.Body.String(), err)
	}
	return resp.Error
}

func TestHeartbeatHandlerSuccess(t *testing.T) {
	h, hb, _, _, _, _ := newTestHandler()
	hb.res = &models.HeartbeatResult{Success: true, MinutesCompleted: 12, RemainingMinutes: 228, DateKey: "2026-04-14"}

	rr := httptest.NewRecorder()
	h.Heartbeat(rr, authedRequest(http.MethodPost, "/api/v1/compliance/heartbeat", models.HeartbeatRequest{UserID: "u1", CourseID: "c1", SessionID: "s1"}))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if hb.identity != "u1" || hb.req.SessionID != "s1" {
		t.Fatalf("handler did not pass identity and payload: %+v", hb)
	}
	var res models.HeartbeatResult
	json.Unmarshal(rr.Body.Bytes(), &res)
	if res.MinutesCompleted != 12 || res.RemainingMinutes != 228 {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func rawRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(middleware.WithUserID(req.Context(), "u1"))
}

func TestHeartbeatHandlerInvalidBody(t *testing.T) {
	h, hb, _, _, _, _ := newTestHandler()

	rr := httptest.NewRecorder()
	h.Heartbeat(rr, rawRequest(http.MethodPost, "/api/v1/compliance/heartbeat", "{not json"))
	if rr.Code != http.StatusBadRequest || decodeError(t, rr).Code != compliance.CodeValidation {
		t.Fatalf("expected 400 VALIDATION_ERROR, got %d %s", rr.Code, rr.Body.String())
	}
	if hb.identity != "u1" {
		t.Fatalf("expected the rejection to be attributed to the caller, got %q", hb.identity)
	}
}

func TestMalformedBodiesRouteThroughServiceRejection(t *testing.T) {
	h, _, pvq, exams, _, _ := newTestHandler()

	rr := httptest.NewRecorder()
	h.PVQAttempt(rr, rawRequest(http.MethodPost, "/api/v1/compliance/pvq/attempts", `{"userId": 5}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.EnrollPVQAnswers(rr, rawRequest(http.MethodPut, "/api/v1/compliance/pvq/answers", `{"answers": ["blue"]}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ExamAttempt(rr, rawRequest(http.MethodPost, "/api/v1/compliance/exam/attempts", "not json"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	if len(pvq.malformed) != 2 || pvq.malformed[0] != "attempt" || pvq.malformed[1] != "enrollment" {
		t.Fatalf("expected attempt and enrollment rejections, got %v", pvq.malformed)
	}
	if exams.malformed != 1 {
		t.Fatalf("expected one exam rejection, got %d", exams.malformed)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	until := time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)
	now := until.Add(-90 * time.Minute)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", compliance.Validation("Missing required parameters"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unauthenticated", compliance.Unauthenticated("Authentication required"), http.StatusUnauthorized, "UNAUTHORIZED"},
		{"permission", compliance.PermissionDenied("User ID mismatch"), http.StatusForbidden, "PERMISSION_DENIED"},
		{"not found", compliance.NotFound("Session not found"), http.StatusNotFound, "NOT_FOUND"},
		{"conflict", compliance.Conflict(compliance.CodeCourseMismatch, "Course ID mismatch for session"), http.StatusConflict, "COURSE_MISMATCH"},
		{"daily limit", compliance.DailyLimitError(240, "2026-04-14"), http.StatusTooManyRequests, "DAILY_LIMIT_REACHED"},
		{"pvq lockout", compliance.PVQLockedError(until, now), http.StatusLocked, "PVQ_LOCKED_OUT"},
		{"infrastructure", compliance.Infrastructure("Heartbeat processing failed", errors.New("db")), http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"untyped", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, hb, _, _, _, _ := newTestHandler()
			hb.err = tc.err

			rr := httptest.NewRecorder()
			h.Heartbeat(rr, authedRequest(http.MethodPost, "/api/v1/compliance/heartbeat", models.HeartbeatRequest{UserID: "u1"}))
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			if got := decodeError(t, rr); got.Code != tc.wantCode {
				t.Fatalf("expected code %s, got %s", tc.wantCode, got.Code)
			}
		})
	}
}

func TestLockoutErrorCarriesCountdown(t *testing.T) {
	until := time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)
	h, _, pvq, _, _, _ := newTestHandler()
	pvq.err = compliance.PVQLockedError(until, until.Add(-90*time.Minute))

	correct := true
	rr := httptest.NewRecorder()
	h.PVQAttempt(rr, authedRequest(http.MethodPost, "/api/v1/compliance/pvq/attempts", models.PVQAttemptRequest{UserID: "u1", IsCorrect: &correct}))

	apiErr := decodeError(t, rr)
	if apiErr.Details["remainingMinutes"] != float64(90) {
		t.Fatalf("expected remainingMinutes detail, got %v", apiErr.Details)
	}
	if apiErr.Details["lockoutUntil"] != "2026-04-15T12:00:00Z" {
		t.Fatalf("expected lockoutUntil detail, got %v", apiErr.Details["lockoutUntil"])
	}
}

func TestExamHandler(t *testing.T) {
	h, _, _, exams, _, _ := newTestHandler()
	exams.res = &models.ExamAttemptResult{Success: true, AttemptNumber: 1, IsPassed: true, ScorePercent: 80, PassingScore: 75}

	rr := httptest.NewRecorder()
	h.ExamAttempt(rr, authedRequest(http.MethodPost, "/api/v1/compliance/exam/attempts", map[string]interface{}{
		"userId": "u1", "courseId": "c1", "sessionId": "s1", "score": 80, "totalQuestions": 100,
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestEnrollPVQAnswersHandler(t *testing.T) {
	h, _, pvq, _, _, _ := newTestHandler()

	rr := httptest.NewRecorder()
	h.EnrollPVQAnswers(rr, authedRequest(http.MethodPut, "/api/v1/compliance/pvq/answers", map[string]interface{}{
		"answers": map[string]string{"q1": "blue", "q2": "maple"},
	}))
	if rr.Code != http.StatusOK || len(pvq.answers) != 2 {
		t.Fatalf("expected answers passed through, got %d %v", rr.Code, pvq.answers)
	}
}

func TestSessionHandlers(t *testing.T) {
	h, _, _, _, sessions, _ := newTestHandler()

	rr := httptest.NewRecorder()
	h.StartSession(rr, authedRequest(http.MethodPost, "/api/v1/compliance/sessions", models.StartSessionRequest{CourseID: "c1"}))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.EndSession(rr, withURLParam(authedRequest(http.MethodPost, "/api/v1/compliance/sessions/s9/end", nil), "id", "s9"))
	if rr.Code != http.StatusOK || sessions.sessionID != "s9" {
		t.Fatalf("expected session id from URL, got %d %q", rr.Code, sessions.sessionID)
	}

	rr = httptest.NewRecorder()
	req := authedRequest(http.MethodPost, "/api/v1/compliance/sessions/s7/idle-timeout", models.IdleTimeoutRequest{CourseID: "c1", IdleMinutes: 20})
	h.IdleTimeout(rr, withURLParam(req, "id", "s7"))
	if rr.Code != http.StatusOK || sessions.sessionID != "s7" || sessions.idle.IdleMinutes != 20 {
		t.Fatalf("unexpected idle-timeout call: %d %+v", rr.Code, sessions)
	}
}

func TestAuditHistoryLimitParsing(t *testing.T) {
	tests := []struct {
		query      string
		wantStatus int
		wantLimit  int
	}{
		{"", http.StatusOK, 0},
		{"?limit=25", http.StatusOK, 25},
		{"?limit=abc", http.StatusBadRequest, 0},
		{"?limit=0", http.StatusBadRequest, 0},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			h, _, _, _, _, status := newTestHandler()
			rr := httptest.NewRecorder()
			h.AuditHistory(rr, authedRequest(http.MethodGet, "/api/v1/compliance/audit"+tc.query, nil))
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			if status.limit != tc.wantLimit {
				t.Fatalf("expected limit %d, got %d", tc.wantLimit, status.limit)
			}
		})
	}
}

func TestStatusHandler(t *testing.T) {
	h, _, _, _, _, _ := newTestHandler()
	rr := httptest.NewRecorder()
	h.Status(rr, authedRequest(http.MethodGet, "/api/v1/compliance/status?courseId=c1", nil))

	var status models.ComplianceStatus
	json.Unmarshal(rr.Body.Bytes(), &status)
	if rr.Code != http.StatusOK || status.UserID != "u1" || status.CourseID != "c1" {
		t.Fatalf("unexpected status response %d %s", rr.Code, rr.Body.String())
	}
}
