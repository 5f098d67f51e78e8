package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/middleware"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/repository"
)

type jobReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

type certificateReader interface {
	GetByUserCourse(ctx context.Context, userID, courseID string) (*models.Certificate, error)
}

// CertificateHandler lets a student follow certificate issuance and fetch
// the issued certificate.
type CertificateHandler struct {
	jobs  jobReader
	certs certificateReader
}

func NewCertificateHandler(jobs jobReader, certs certificateReader) *CertificateHandler {
	return &CertificateHandler{jobs: jobs, certs: certs}
}

func (h *CertificateHandler) GetCertificate(w http.ResponseWriter, r *http.Request) {
	courseID := strings.TrimSpace(r.URL.Query().Get("courseId"))
	if courseID == "" {
		writeJSON(w, http.StatusBadRequest, errorResp(compliance.CodeValidation, "courseId is required", r))
		return
	}

	cert, err := h.certs.GetByUserCourse(r.Context(), middleware.GetUserID(r.Context()), courseID)
	if repository.IsNotFound(err) {
		writeJSON(w, http.StatusNotFound, errorResp(compliance.CodeNotFound, "Certificate not issued", r))
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load certificate", r))
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (h *CertificateHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp(compliance.CodeValidation, "Invalid job ID", r))
		return
	}

	job, err := h.jobs.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp(compliance.CodeNotFound, "Job not found", r))
		return
	}

	if job.UserID != middleware.GetUserID(r.Context()) {
		writeJSON(w, http.StatusForbidden, errorResp(compliance.CodePermissionDenied, "Access denied", r))
		return
	}

	writeJSON(w, http.StatusOK, job)
}
