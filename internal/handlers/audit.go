package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/middleware"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/services"
)

const dateOnly = "2006-01-02"

type auditSearcher interface {
	Query(ctx context.Context, caller services.Caller, f models.AuditFilter) (*models.AuditPage, error)
	Stats(ctx context.Context, caller services.Caller, from, to *time.Time) (*models.AuditStats, error)
	UserTrail(ctx context.Context, caller services.Caller, targetUserID string) (*models.AuditTrail, error)
}

// AuditHandler is the staff view of the audit trail. The role comes from
// the access token and is checked by the service.
type AuditHandler struct {
	audits auditSearcher
}

func NewAuditHandler(audits auditSearcher) *AuditHandler {
	return &AuditHandler{audits: audits}
}

func callerFrom(r *http.Request) services.Caller {
	return services.Caller{
		UserID: middleware.GetUserID(r.Context()),
		Role:   middleware.GetRole(r.Context()),
	}
}

func (h *AuditHandler) Query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.AuditFilter{
		UserID:    strings.TrimSpace(q.Get("userId")),
		Action:    strings.TrimSpace(q.Get("action")),
		Resource:  strings.TrimSpace(q.Get("resource")),
		Status:    strings.TrimSpace(q.Get("status")),
		Ascending: strings.EqualFold(q.Get("sortOrder"), "asc"),
	}

	var err error
	if f.StartDate, err = parseAuditTime(q.Get("startDate"), false); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if f.EndDate, err = parseAuditTime(q.Get("endDate"), true); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if f.Limit, err = parseAuditInt(q.Get("limit"), "limit"); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if f.Offset, err = parseAuditInt(q.Get("offset"), "offset"); err != nil {
		handleServiceError(w, r, err)
		return
	}

	page, err := h.audits.Query(r.Context(), callerFrom(r), f)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *AuditHandler) Stats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseAuditTime(q.Get("startDate"), false)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	to, err := parseAuditTime(q.Get("endDate"), true)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	stats, err := h.audits.Stats(r.Context(), callerFrom(r), from, to)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *AuditHandler) UserTrail(w http.ResponseWriter, r *http.Request) {
	trail, err := h.audits.UserTrail(r.Context(), callerFrom(r), chi.URLParam(r, "userId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trail)
}

// parseAuditTime accepts RFC 3339 or a bare date. A bare end date covers
// the whole day.
func parseAuditTime(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(dateOnly, raw)
	if err != nil {
		return nil, compliance.Validation("invalid date %q", raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func parseAuditInt(raw, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, compliance.Validation("%s must be a non-negative integer", name)
	}
	return n, nil
}
