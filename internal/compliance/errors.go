package compliance

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure categories every operation maps into.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthorization
	KindNotFound
	KindStateConflict
	KindPolicyViolation
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindStateConflict:
		return "state_conflict"
	case KindPolicyViolation:
		return "policy_violation"
	case KindInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// Machine-readable codes rendered to clients.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeUnauthenticated    = "UNAUTHORIZED"
	CodePermissionDenied   = "PERMISSION_DENIED"
	CodeNotFound           = "NOT_FOUND"
	CodeCourseMismatch     = "COURSE_MISMATCH"
	CodeSessionClosed      = "SESSION_CLOSED"
	CodeSessionIdleTimeout = "SESSION_IDLE_TIMEOUT"
	CodeDailyLimitReached  = "DAILY_LIMIT_REACHED"
	CodePVQLockedOut       = "PVQ_LOCKED_OUT"
	CodePVQMaxAttempts     = "PVQ_MAX_ATTEMPTS_EXCEEDED"
	CodeExamLockedOut      = "EXAM_LOCKED_OUT"
	CodeExamAcademicReset  = "EXAM_ACADEMIC_RESET"
	CodeEnrollmentNotMet   = "ENROLLMENT_REQUIREMENTS_NOT_MET"
	CodeInternal           = "INTERNAL_ERROR"
)

// Error is the tagged error every compliance operation returns. Policy
// violations are the only kind raised after state has been committed.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// With attaches a detail value and returns the same error.
func (e *Error) With(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return newError(KindValidation, CodeValidation, format, args...)
}

func Unauthenticated(format string, args ...interface{}) *Error {
	return newError(KindAuthorization, CodeUnauthenticated, format, args...)
}

func PermissionDenied(format string, args ...interface{}) *Error {
	return newError(KindAuthorization, CodePermissionDenied, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newError(KindNotFound, CodeNotFound, format, args...)
}

func Conflict(code, format string, args ...interface{}) *Error {
	return newError(KindStateConflict, code, format, args...)
}

func Policy(code, format string, args ...interface{}) *Error {
	return newError(KindPolicyViolation, code, format, args...)
}

// Infrastructure hides the cause behind a generic message; the cause stays
// reachable through errors.Unwrap for logging.
func Infrastructure(message string, cause error) *Error {
	return &Error{Kind: KindInfrastructure, Code: CodeInternal, Message: message, Err: cause}
}

// AsError returns the tagged error inside err, if any.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// KindOf classifies any error; untagged errors count as infrastructure.
func KindOf(err error) Kind {
	if ce, ok := AsError(err); ok {
		return ce.Kind
	}
	return KindInfrastructure
}

// CodeOf returns the machine code for err.
func CodeOf(err error) string {
	if ce, ok := AsError(err); ok {
		return ce.Code
	}
	return CodeInternal
}
