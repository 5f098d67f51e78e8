package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditLogEntry struct {
	ID                 uuid.UUID              `json:"id"`
	UserID             string                 `json:"userId"`
	Action             string                 `json:"action"`
	Resource           string                 `json:"resource"`
	ResourceID         string                 `json:"resourceId"`
	Status             string                 `json:"status"`
	Metadata           map[string]interface{} `json:"metadata"`
	IPAddress          string                 `json:"ipAddress,omitempty"`
	UserAgent          string                 `json:"userAgent,omitempty"`
	Timestamp          time.Time              `json:"timestamp"`
	RetentionExpiresAt time.Time              `json:"retentionExpiresAt"`
}

type Certificate struct {
	ID                uuid.UUID `json:"id"`
	UserID            string    `json:"userId"`
	CourseID          string    `json:"courseId"`
	CertificateNumber string    `json:"certificateNumber"`
	ScorePercent      int       `json:"scorePercent"`
	TotalMinutes      int       `json:"totalMinutes"`
	IssuedAt          time.Time `json:"issuedAt"`
}

// AuditFilter narrows an audit log query. Zero values match everything.
type AuditFilter struct {
	UserID    string
	Action    string
	Resource  string
	Status    string
	StartDate *time.Time
	EndDate   *time.Time
	Ascending bool
	Limit     int
	Offset    int
}

type AuditPage struct {
	Logs       []AuditLogEntry `json:"logs"`
	Count      int             `json:"count"`
	TotalCount int             `json:"totalCount"`
	HasMore    bool            `json:"hasMore"`
}

// AuditCount is one grouped row behind AuditStats.
type AuditCount struct {
	Status   string
	Action   string
	Resource string
	Count    int
}

type AuditStats struct {
	From        time.Time      `json:"from"`
	To          time.Time      `json:"to"`
	TotalEvents int            `json:"totalEvents"`
	ByStatus    map[string]int `json:"byStatus"`
	ByAction    map[string]int `json:"byAction"`
	ByResource  map[string]int `json:"byResource"`
}

type AuditTrail struct {
	UserID string          `json:"userId"`
	Trail  []AuditLogEntry `json:"trail"`
	Count  int             `json:"count"`
}

type EnrollmentCertificate struct {
	ID                uuid.UUID `json:"id"`
	UserID            string    `json:"userId"`
	CourseID          string    `json:"courseId"`
	CourseName        string    `json:"courseName"`
	CertificateNumber string    `json:"certificateNumber"`
	StudentName       string    `json:"studentName"`
	CumulativeMinutes int       `json:"cumulativeMinutes"`
	CompletedUnits    []string  `json:"completedUnits"`
	IssuedAt          time.Time `json:"issuedAt"`
}
