package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/middleware"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
)

type enrollmentTracker interface {
	CompleteUnit(ctx context.Context, identity, unitID string, req models.UnitCompletionRequest) (*models.UnitCompletionResult, error)
	Eligibility(ctx context.Context, identity, courseID string) (*models.EnrollmentEligibility, error)
	GenerateCertificate(ctx context.Context, identity string, req models.EnrollmentCertificateRequest) (*models.EnrollmentCertificateResult, error)
	RejectMalformed(ctx context.Context, identity string, cause error) error
	RejectMalformedUnit(ctx context.Context, identity, unitID string, cause error) error
}

// EnrollmentHandler serves unit completion and the enrollment certificate.
type EnrollmentHandler struct {
	enrollment enrollmentTracker
}

func NewEnrollmentHandler(enrollment enrollmentTracker) *EnrollmentHandler {
	return &EnrollmentHandler{enrollment: enrollment}
}

func (h *EnrollmentHandler) CompleteUnit(w http.ResponseWriter, r *http.Request) {
	ctx, identity, unitID := requestContext(r), middleware.GetUserID(r.Context()), chi.URLParam(r, "unitId")
	var req models.UnitCompletionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, h.enrollment.RejectMalformedUnit(ctx, identity, unitID, err))
		return
	}

	result, err := h.enrollment.CompleteUnit(ctx, identity, unitID, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *EnrollmentHandler) Eligibility(w http.ResponseWriter, r *http.Request) {
	result, err := h.enrollment.Eligibility(r.Context(), middleware.GetUserID(r.Context()), r.URL.Query().Get("courseId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *EnrollmentHandler) GenerateCertificate(w http.ResponseWriter, r *http.Request) {
	ctx, identity := requestContext(r), middleware.GetUserID(r.Context())
	var req models.EnrollmentCertificateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, h.enrollment.RejectMalformed(ctx, identity, err))
		return
	}

	result, err := h.enrollment.GenerateCertificate(ctx, identity, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}
