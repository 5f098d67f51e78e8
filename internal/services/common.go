package services

import (
	"context"
	"strings"
	"time"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/repository"
)

// txRunner is satisfied by *repository.Store and by in-memory fakes.
type txRunner interface {
	WithTx(ctx context.Context, fn func(repository.Tx) error) error
}

type auditRecorder interface {
	Record(ctx context.Context, ev AuditEvent)
}

// Clock returns the server time used for every compliance timestamp.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

type clientInfoKey struct{}

// ClientInfo is request metadata attached to audit entries.
type ClientInfo struct {
	IPAddress string
	UserAgent string
	RequestID string
}

func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, info)
}

func clientInfoFrom(ctx context.Context) ClientInfo {
	info, _ := ctx.Value(clientInfoKey{}).(ClientInfo)
	return info
}

// authorizeCaller runs the pre-store checks shared by every operation:
// an authenticated caller, all required ids present, caller equals target.
func authorizeCaller(identity, userID string, required ...string) *compliance.Error {
	if strings.TrimSpace(identity) == "" {
		return compliance.Unauthenticated("Authentication required")
	}
	if strings.TrimSpace(userID) == "" {
		return compliance.Validation("Missing required parameters")
	}
	for _, v := range required {
		if strings.TrimSpace(v) == "" {
			return compliance.Validation("Missing required parameters")
		}
	}
	if identity != userID {
		return compliance.PermissionDenied("User ID mismatch")
	}
	return nil
}

// auditStatusFor maps a rejection to the audit status it is recorded with.
func auditStatusFor(err *compliance.Error) string {
	if err.Kind == compliance.KindInfrastructure {
		return compliance.StatusError
	}
	return compliance.StatusDenied
}

// malformedBody is the rejection for a request body that could not be decoded.
func malformedBody(cause error) *compliance.Error {
	ce := compliance.Validation("Invalid request body")
	ce.Err = cause
	return ce
}

func errorMetadata(err *compliance.Error, extra map[string]interface{}) map[string]interface{} {
	md := map[string]interface{}{
		"errorCode": err.Code,
		"message":   err.Message,
	}
	for k, v := range extra {
		md[k] = v
	}
	return md
}

func auditUserID(identity, userID string) string {
	if userID != "" {
		return userID
	}
	return identity
}
