package models

import (
	"time"

	"github.com/google/uuid"
)

// User holds the compliance fields of a student account. Profile and
// credential data live with the upstream identity provider.
type User struct {
	ID                      string     `json:"id"`
	Email                   string     `json:"email"`
	FullName                string     `json:"fullName"`
	DailyStatus             string     `json:"dailyStatus"`
	DailyLockedAt           *time.Time `json:"dailyLockedAt"`
	PVQLockoutUntil         *time.Time `json:"pvqLockoutUntil"`
	ExamLockoutUntil        *time.Time `json:"examLockoutUntil"`
	AcademicResetRequired   bool       `json:"academicResetRequired"`
	ResetAvailableAt        *time.Time `json:"resetAvailableAt"`
	CumulativeMinutes       int        `json:"cumulativeMinutes"`
	FinalExamPassed         bool       `json:"finalExamPassed"`
	FinalExamScore          *int       `json:"finalExamScore"`
	CompletionCertificateID *uuid.UUID `json:"completionCertificateId"`
	CreatedAt               time.Time  `json:"createdAt"`
	UpdatedAt               time.Time  `json:"updatedAt"`
}

// ExamUserState is the slice of User the exam tracker writes.
type ExamUserState struct {
	LockoutUntil          *time.Time
	AcademicResetRequired bool
	ResetAvailableAt      *time.Time
	FinalExamPassed       bool
	FinalExamScore        *int
}
