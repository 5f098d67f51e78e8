package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/handlers"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/logger"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/middleware"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/services"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/websocket"
)

type discardAudit struct{}

func (discardAudit) Record(ctx context.Context, ev services.AuditEvent) {}

func newTestRouter(t *testing.T, heartbeatLimit int) (http.Handler, *middleware.JWTAuth) {
	t.Helper()
	jwtAuth := middleware.NewJWTAuth("router-secret")
	heartbeats := services.NewHeartbeatService(nil, nil, discardAudit{}, logger.Nop())
	h := New(
		jwtAuth,
		handlers.NewComplianceHandler(heartbeats, nil, nil, nil, nil),
		handlers.NewCertificateHandler(nil, nil),
		handlers.NewEnrollmentHandler(nil),
		handlers.NewAuditHandler(nil),
		websocket.NewHub(nil, jwtAuth, "*", logger.Nop()),
		Options{
			FrontendURL:      "http://localhost:5173",
			HeartbeatLimiter: middleware.NewRateLimiter(heartbeatLimit, time.Minute),
		},
	)
	return h, jwtAuth
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(t, 12)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK || rr.Header().Get(middleware.RequestIDHeader) == "" {
		t.Fatalf("unexpected health response %d %v", rr.Code, rr.Header())
	}
}

func TestComplianceRoutesRequireAuth(t *testing.T) {
	h, _ := newTestRouter(t, 12)
	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/v1/compliance/heartbeat"},
		{http.MethodPost, "/api/v1/compliance/pvq/attempts"},
		{http.MethodPut, "/api/v1/compliance/pvq/answers"},
		{http.MethodPost, "/api/v1/compliance/exam/attempts"},
		{http.MethodPost, "/api/v1/compliance/sessions"},
		{http.MethodPost, "/api/v1/compliance/sessions/s1/end"},
		{http.MethodPost, "/api/v1/compliance/sessions/s1/idle-timeout"},
		{http.MethodGet, "/api/v1/compliance/status"},
		{http.MethodGet, "/api/v1/compliance/audit"},
		{http.MethodGet, "/api/v1/compliance/certificate"},
		{http.MethodPost, "/api/v1/compliance/units/unit-1/complete"},
		{http.MethodGet, "/api/v1/compliance/enrollment-certificate/eligibility"},
		{http.MethodPost, "/api/v1/compliance/enrollment-certificate"},
		{http.MethodGet, "/api/v1/compliance/admin/audit"},
		{http.MethodGet, "/api/v1/compliance/admin/audit/stats"},
		{http.MethodGet, "/api/v1/compliance/admin/audit/users/u1"},
	}
	for _, route := range routes {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(route.method, route.path, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", route.method, route.path, rr.Code)
		}
	}
}

func TestHeartbeatRouteIsRateLimited(t *testing.T) {
	h, jwtAuth := newTestRouter(t, 1)
	token, err := jwtAuth.GenerateAccessToken("u1", "", time.Minute)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/compliance/heartbeat", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	// The first request reaches the handler and fails on the empty body.
	if codes[0] != http.StatusBadRequest || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected [400 429], got %v", codes)
	}
}

func TestAdminAuditRouteRequiresStaffRole(t *testing.T) {
	jwtAuth := middleware.NewJWTAuth("router-secret")
	h := New(
		jwtAuth,
		handlers.NewComplianceHandler(nil, nil, nil, nil, nil),
		handlers.NewCertificateHandler(nil, nil),
		handlers.NewEnrollmentHandler(nil),
		handlers.NewAuditHandler(services.NewAuditQueryService(nil, discardAudit{}, logger.Nop())),
		websocket.NewHub(nil, jwtAuth, "*", logger.Nop()),
		Options{FrontendURL: "http://localhost:5173"},
	)
	token, err := jwtAuth.GenerateRoleToken("u1", "", "student", time.Minute)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/compliance/admin/audit/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a student token, got %d", rr.Code)
	}
}
