// Package compliance holds the state-mandated instruction rules: daily
// minute caps, idle detection, and the identity-verification and final-exam
// lockout machines. Nothing in here touches storage; services feed it
// snapshots and persist what it returns.
package compliance

import "time"

const (
	DailyLimitMinutes     = 240
	IdleTimeout           = 15 * time.Minute
	IdleTimeoutMinutes    = 15
	RequiredTotalMinutes  = 1440
	DefaultTimezone       = "America/New_York"
	AuditRetentionDays    = 1095
	MaxPVQAnswerLength    = 10000
	PVQMaxFailures        = 2
	PVQLockoutDuration    = 24 * time.Hour
	ExamMaxFailures       = 3
	ExamLockoutDuration   = 24 * time.Hour
	ExamResetWaitDuration = 72 * time.Hour
	ExamPassingPercent    = 75

	EnrollmentCertificateMinutes = 120
)

// User daily statuses.
const (
	DailyStatusActive = "active"
	DailyStatusLocked = "locked_daily_limit"
)

// Session statuses. SessionIdleTimeout is terminal.
const (
	SessionActive      = "active"
	SessionEnded       = "ended"
	SessionIdleTimeout = "idle_timeout"
)

// Audit actions.
const (
	ActionSessionStart           = "SESSION_START"
	ActionSessionEnd             = "SESSION_END"
	ActionSessionHeartbeat       = "SESSION_HEARTBEAT"
	ActionSessionHeartbeatFailed = "SESSION_HEARTBEAT_FAILED"
	ActionSessionIdleTimeout     = "SESSION_IDLE_TIMEOUT"
	ActionDailyLimitReached      = "DAILY_LIMIT_REACHED"
	ActionPVQAttempt             = "PVQ_ATTEMPT"
	ActionPVQAttemptFailed       = "PVQ_ATTEMPT_FAILED"
	ActionPVQAnswersEnrolled     = "PVQ_ANSWERS_ENROLLED"
	ActionPVQLockoutActivated    = "PVQ_LOCKOUT_ACTIVATED"
	ActionExamAttempt            = "EXAM_ATTEMPT"
	ActionExamAttemptFailed      = "EXAM_ATTEMPT_FAILED"
	ActionExamPassed             = "EXAM_PASSED"
	ActionExamAcademicReset      = "EXAM_ACADEMIC_RESET_FLAGGED"
	ActionCompletionCertificate  = "COMPLETION_CERTIFICATE_GENERATED"
	ActionCertificateIssueFailed = "COMPLETION_CERTIFICATE_FAILED"
	ActionUnitCompleted          = "UNIT_COMPLETED"
	ActionEnrollmentCertificate  = "ENROLLMENT_CERTIFICATE_GENERATED"
	ActionAuditAccessDenied      = "AUDIT_LOG_ACCESS_DENIED"
)

// Audit resources and statuses.
const (
	ResourceCompliance  = "compliance"
	ResourceSession     = "session"
	ResourcePVQ         = "pvq"
	ResourceExam        = "exam"
	ResourceCertificate = "certificate"
	ResourceUnit        = "unit"
	ResourceAudit       = "audit"

	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDenied  = "denied"
	StatusError   = "error"
)
