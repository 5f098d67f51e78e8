package models

import (
	"time"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
)

type Session struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	CourseID        string     `json:"courseId"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"startedAt"`
	LastHeartbeatAt time.Time  `json:"lastHeartbeatTimestamp"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	IdleTimeoutAt   *time.Time `json:"idleTimeoutAt,omitempty"`
}

func (s *Session) Snapshot() compliance.SessionSnapshot {
	return compliance.SessionSnapshot{
		CourseID:      s.CourseID,
		Status:        s.Status,
		LastHeartbeat: s.LastHeartbeatAt,
	}
}

type DailyActivityLog struct {
	ID                       string    `json:"id"`
	UserID                   string    `json:"userId"`
	CourseID                 string    `json:"courseId"`
	DateKey                  string    `json:"date"`
	MinutesCompleted         int       `json:"minutesCompleted"`
	AdjustedMinutesCompleted int       `json:"adjustedMinutesCompleted"`
	ExcludedFromDailyLimit   bool      `json:"excludedFromDailyLimit"`
	IdleMinutesExcluded      int       `json:"idleMinutesExcluded"`
	SessionCount             int       `json:"sessionCount"`
	Sessions                 []string  `json:"sessions"`
	Status                   string    `json:"status"`
	CreatedAt                time.Time `json:"createdAt"`
	UpdatedAt                time.Time `json:"updatedAt"`
}

func (l *DailyActivityLog) Ledger() compliance.LedgerDay {
	return compliance.LedgerDay{
		MinutesCompleted:         l.MinutesCompleted,
		AdjustedMinutesCompleted: l.AdjustedMinutesCompleted,
		ExcludedFromDailyLimit:   l.ExcludedFromDailyLimit,
		IdleMinutesExcluded:      l.IdleMinutesExcluded,
	}
}

// ApplyLedger copies the adjusted counters back onto the log.
func (l *DailyActivityLog) ApplyLedger(d compliance.LedgerDay) {
	l.MinutesCompleted = d.MinutesCompleted
	l.AdjustedMinutesCompleted = d.AdjustedMinutesCompleted
	l.ExcludedFromDailyLimit = d.ExcludedFromDailyLimit
	l.IdleMinutesExcluded = d.IdleMinutesExcluded
}

// DailyLogSeed carries what one credited heartbeat writes into the ledger.
type DailyLogSeed struct {
	ID        string
	UserID    string
	CourseID  string
	DateKey   string
	SessionID string
	Now       time.Time
}
