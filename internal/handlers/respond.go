package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/middleware"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
)

const maxBodyBytes = 1 << 20

// Shared helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: middleware.GetRequestID(r.Context()),
		},
	}
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	return nil
}

// statusFor maps an error kind to its HTTP status.
func statusFor(e *compliance.Error) int {
	switch e.Kind {
	case compliance.KindValidation:
		return http.StatusBadRequest
	case compliance.KindAuthorization:
		if e.Code == compliance.CodeUnauthenticated {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case compliance.KindNotFound:
		return http.StatusNotFound
	case compliance.KindStateConflict:
		return http.StatusConflict
	case compliance.KindPolicyViolation:
		if e.Code == compliance.CodeDailyLimitReached {
			return http.StatusTooManyRequests
		}
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	ce, ok := compliance.AsError(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResp(compliance.CodeInternal, "An unexpected error occurred", r))
		return
	}
	resp := errorResp(ce.Code, ce.Message, r)
	resp.Error.Details = ce.Details
	writeJSON(w, statusFor(ce), resp)
}
