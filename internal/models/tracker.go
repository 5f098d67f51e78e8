package models

import "time"

type PVQVerificationRecord struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"userId"`
	CourseID           string     `json:"courseId"`
	SessionID          string     `json:"sessionId"`
	AttemptCount       int        `json:"attemptCount"`
	FailureCount       int        `json:"failureCount"`
	LastAttemptCorrect bool       `json:"lastAttemptCorrect"`
	LastAttemptAt      *time.Time `json:"lastAttemptAt"`
}

func PVQRecordID(userID, sessionID string) string {
	return userID + "_" + sessionID
}

type ExamAttemptRecord struct {
	ID               string        `json:"id"`
	UserID           string        `json:"userId"`
	CourseID         string        `json:"courseId"`
	AttemptCount     int           `json:"attemptCount"`
	FailureCount     int           `json:"failureCount"`
	LastAttemptScore *int          `json:"lastAttemptScore"`
	IsPassed         bool          `json:"isPassed"`
	Attempts         []ExamAttempt `json:"attempts"`
}

type ExamAttempt struct {
	AttemptNumber  int       `json:"attemptNumber"`
	SessionID      string    `json:"sessionId"`
	Score          int       `json:"score"`
	TotalQuestions int       `json:"totalQuestions"`
	ScorePercent   int       `json:"scorePercent"`
	IsPassed       bool      `json:"isPassed"`
	AttemptedAt    time.Time `json:"attemptedAt"`
}

func ExamRecordID(userID, courseID string) string {
	return userID + "_" + courseID
}
