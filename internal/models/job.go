package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	JobTypeCertificateIssuance = "certificate-issuance"

	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

type Job struct {
	ID           uuid.UUID       `json:"id"`
	UserID       string          `json:"user_id"`
	Type         string          `json:"type"`
	ReferenceID  string          `json:"reference_id"` // course id for certificate-issuance
	ConfigJSON   json.RawMessage `json:"config"`
	Status       string          `json:"status"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	ErrorMessage *string         `json:"error_message"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at"`
}

// CertificateJobConfig is the payload of a certificate-issuance job.
type CertificateJobConfig struct {
	ScorePercent int `json:"scorePercent"`
	TotalMinutes int `json:"totalMinutes"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const (
	WSTypeComplianceEvent = "compliance_event"
	WSTypeCertificate     = "certificate_issued"
)

type CertificateIssuedEvent struct {
	CertificateID     uuid.UUID `json:"certificateId"`
	CertificateNumber string    `json:"certificateNumber"`
	CourseID          string    `json:"courseId"`
}

// API Error response
type APIError struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
