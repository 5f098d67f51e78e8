package models

import "time"

type HeartbeatRequest struct {
	UserID    string `json:"userId"`
	CourseID  string `json:"courseId"`
	SessionID string `json:"sessionId"`
}

type HeartbeatResult struct {
	Success          bool      `json:"success"`
	MinutesCompleted int       `json:"minutesCompleted"`
	RemainingMinutes int       `json:"remainingMinutes"`
	IsNewDay         bool      `json:"isNewDay"`
	DateKey          string    `json:"dateKey"`
	ServerTimestamp  time.Time `json:"serverTimestamp"`
}

// PVQAttemptRequest carries either a client-graded IsCorrect or a
// QuestionID/Answer pair that the server checks against enrolled answers.
type PVQAttemptRequest struct {
	UserID     string `json:"userId"`
	CourseID   string `json:"courseId"`
	SessionID  string `json:"sessionId"`
	IsCorrect  *bool  `json:"isCorrect"`
	QuestionID string `json:"questionId,omitempty"`
	Answer     string `json:"answer,omitempty"`
}

type PVQAttemptResult struct {
	Success           bool      `json:"success"`
	AttemptCount      int       `json:"attemptCount"`
	FailureCount      int       `json:"failureCount"`
	IsCorrect         bool      `json:"isCorrect"`
	RemainingAttempts int       `json:"remainingAttempts"`
	ServerTimestamp   time.Time `json:"serverTimestamp"`
}

type EnrollPVQAnswersRequest struct {
	Answers map[string]string `json:"answers"`
}

type ExamAttemptRequest struct {
	UserID         string `json:"userId"`
	CourseID       string `json:"courseId"`
	SessionID      string `json:"sessionId"`
	Score          *int   `json:"score"`
	TotalQuestions *int   `json:"totalQuestions"`
}

type ExamAttemptResult struct {
	Success           bool      `json:"success"`
	AttemptNumber     int       `json:"attemptNumber"`
	Score             int       `json:"score"`
	ScorePercent      int       `json:"scorePercent"`
	PassingScore      int       `json:"passingScore"`
	IsPassed          bool      `json:"isPassed"`
	FailureCount      int       `json:"failureCount"`
	RemainingAttempts int       `json:"remainingAttempts"`
	ServerTimestamp   time.Time `json:"serverTimestamp"`
}

type StartSessionRequest struct {
	CourseID string `json:"courseId"`
}

type IdleTimeoutRequest struct {
	CourseID    string `json:"courseId"`
	IdleMinutes int    `json:"idleMinutes"`
}

type IdleTimeoutResult struct {
	SessionID                string    `json:"sessionId"`
	Status                   string    `json:"status"`
	DateKey                  string    `json:"dateKey"`
	IdleMinutesExcluded      int       `json:"idleMinutesExcluded"`
	AdjustedMinutesCompleted int       `json:"adjustedMinutesCompleted"`
	RemainingMinutes         int       `json:"remainingMinutes"`
	ServerTimestamp          time.Time `json:"serverTimestamp"`
}

// ComplianceStatus is the read model behind GET /status.
type ComplianceStatus struct {
	UserID                string     `json:"userId"`
	CourseID              string     `json:"courseId"`
	DateKey               string     `json:"dateKey"`
	MinutesCompleted      int        `json:"minutesCompleted"`
	RemainingMinutes      int        `json:"remainingMinutes"`
	DailyStatus           string     `json:"dailyStatus"`
	DailyResetAt          time.Time  `json:"dailyResetAt"`
	CumulativeMinutes     int        `json:"cumulativeMinutes"`
	PVQLockoutUntil       *time.Time `json:"pvqLockoutUntil"`
	PVQRemainingMinutes   int        `json:"pvqRemainingMinutes"`
	ExamLockoutUntil      *time.Time `json:"examLockoutUntil"`
	ExamRemainingHours    int        `json:"examRemainingHours"`
	AcademicResetRequired bool       `json:"academicResetRequired"`
	ResetAvailableAt      *time.Time `json:"resetAvailableAt"`
	FinalExamPassed       bool       `json:"finalExamPassed"`
	ServerTimestamp       time.Time  `json:"serverTimestamp"`
}

type UnitCompletionRequest struct {
	CourseID string `json:"courseId"`
}

type UnitCompletionResult struct {
	UnitID         string    `json:"unitId"`
	CourseID       string    `json:"courseId"`
	CompletedUnits []string  `json:"completedUnits"`
	AlreadyDone    bool      `json:"alreadyDone"`
	CompletedAt    time.Time `json:"completedAt"`
}

type EnrollmentEligibility struct {
	CourseID             string   `json:"courseId"`
	Eligible             bool     `json:"eligible"`
	CertificateGenerated bool     `json:"certificateGenerated"`
	CumulativeMinutes    int      `json:"cumulativeMinutes"`
	MinutesRemaining     int      `json:"minutesRemaining"`
	CompletedUnits       []string `json:"completedUnits"`
	RequiredUnits        []string `json:"requiredUnits"`
	MissingRequirements  []string `json:"missingRequirements"`
}

type EnrollmentCertificateRequest struct {
	CourseID   string `json:"courseId"`
	CourseName string `json:"courseName"`
}

type EnrollmentCertificateResult struct {
	Created     bool                   `json:"created"`
	Certificate *EnrollmentCertificate `json:"certificate"`
}
