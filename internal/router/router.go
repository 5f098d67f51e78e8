package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/handlers"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/middleware"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/websocket"
)

type Limiter interface {
	Middleware(next http.Handler) http.Handler
}

type Options struct {
	FrontendURL string
	// HeartbeatLimiter guards the heartbeat route; APILimiter the rest of
	// the compliance API.
	HeartbeatLimiter Limiter
	APILimiter       Limiter
}

func New(
	jwtAuth *middleware.JWTAuth,
	complianceHandler *handlers.ComplianceHandler,
	certificateHandler *handlers.CertificateHandler,
	enrollmentHandler *handlers.EnrollmentHandler,
	auditHandler *handlers.AuditHandler,
	wsHub *websocket.Hub,
	opts Options,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(opts.FrontendURL))

	if opts.APILimiter == nil {
		opts.APILimiter = middleware.NewRateLimiter(120, time.Minute)
	}

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Compliance Routes ────
		r.Route("/compliance", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)

			r.Group(func(r chi.Router) {
				if opts.HeartbeatLimiter != nil {
					r.Use(opts.HeartbeatLimiter.Middleware)
				}
				r.Post("/heartbeat", complianceHandler.Heartbeat)
			})

			r.Group(func(r chi.Router) {
				r.Use(opts.APILimiter.Middleware)

				r.Post("/pvq/attempts", complianceHandler.PVQAttempt)
				r.Put("/pvq/answers", complianceHandler.EnrollPVQAnswers)
				r.Post("/exam/attempts", complianceHandler.ExamAttempt)

				r.Post("/sessions", complianceHandler.StartSession)
				r.Post("/sessions/{id}/end", complianceHandler.EndSession)
				r.Post("/sessions/{id}/idle-timeout", complianceHandler.IdleTimeout)

				r.Get("/status", complianceHandler.Status)
				r.Get("/audit", complianceHandler.AuditHistory)

				r.Get("/certificate", certificateHandler.GetCertificate)
				r.Get("/jobs/{id}", certificateHandler.GetJob)

				r.Post("/units/{unitId}/complete", enrollmentHandler.CompleteUnit)
				r.Get("/enrollment-certificate/eligibility", enrollmentHandler.Eligibility)
				r.Post("/enrollment-certificate", enrollmentHandler.GenerateCertificate)

				// Staff only; the role claim is checked per request.
				r.Get("/admin/audit", auditHandler.Query)
				r.Get("/admin/audit/stats", auditHandler.Stats)
				r.Get("/admin/audit/users/{userId}", auditHandler.UserTrail)
			})
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
