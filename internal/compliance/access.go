package compliance

// Caller roles carried in the access token.
const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
	RoleDMVAdmin   = "dmv_admin"
	RoleSuperAdmin = "super_admin"
)

// CanReadAuditLogs reports whether role may query other users' audit trails.
func CanReadAuditLogs(role string) bool {
	switch role {
	case RoleInstructor, RoleDMVAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// IsAuditStatus reports whether status is one the audit trail records.
func IsAuditStatus(status string) bool {
	switch status {
	case StatusSuccess, StatusFailure, StatusDenied, StatusError:
		return true
	default:
		return false
	}
}
