package compliance

import "time"

// LedgerDay is the slice of a daily activity log the cap rules read.
type LedgerDay struct {
	MinutesCompleted         int
	AdjustedMinutesCompleted int
	ExcludedFromDailyLimit   bool
	IdleMinutesExcluded      int
}

// CountedMinutes is the total that counts toward the daily cap: the
// idle-adjusted figure once any idle time was excluded, the raw figure otherwise.
func (d LedgerDay) CountedMinutes() int {
	if d.ExcludedFromDailyLimit {
		return d.AdjustedMinutesCompleted
	}
	return d.MinutesCompleted
}

// RemainingMinutes never goes below zero.
func (d LedgerDay) RemainingMinutes() int {
	return RemainingDailyMinutes(d.CountedMinutes())
}

func (d LedgerDay) LimitReached() bool {
	return d.CountedMinutes() >= DailyLimitMinutes
}

// ExcludeIdle removes idle minutes from the counted total without touching
// the raw minute counter.
func (d LedgerDay) ExcludeIdle(idleMinutes int) LedgerDay {
	if idleMinutes < 0 {
		idleMinutes = 0
	}
	current := d.CountedMinutes()
	d.ExcludedFromDailyLimit = true
	d.IdleMinutesExcluded += idleMinutes
	d.AdjustedMinutesCompleted = current - idleMinutes
	if d.AdjustedMinutesCompleted < 0 {
		d.AdjustedMinutesCompleted = 0
	}
	return d
}

func RemainingDailyMinutes(counted int) int {
	if counted >= DailyLimitMinutes {
		return 0
	}
	return DailyLimitMinutes - counted
}

// ClampIdleMinutes bounds a client-reported idle span to the idle window:
// anything longer would have been rejected by the heartbeat idle check.
func ClampIdleMinutes(idleMinutes int) int {
	if idleMinutes < 0 {
		return 0
	}
	if idleMinutes > IdleTimeoutMinutes {
		return IdleTimeoutMinutes
	}
	return idleMinutes
}

// IsIdle reports whether the gap since the last accepted heartbeat exceeds
// the idle timeout. Exactly IdleTimeout is still active.
func IsIdle(lastHeartbeat, now time.Time) bool {
	return now.Sub(lastHeartbeat) > IdleTimeout
}

// SessionSnapshot is the session state the heartbeat rule checks.
type SessionSnapshot struct {
	CourseID      string
	Status        string
	LastHeartbeat time.Time
}

// CheckSession applies the pre-credit session rules in order: course match,
// terminal status, idle gap. A nil return means the heartbeat may be credited.
func CheckSession(s SessionSnapshot, courseID string, now time.Time) *Error {
	if s.CourseID != courseID {
		return Conflict(CodeCourseMismatch, "Course ID mismatch for session")
	}
	switch s.Status {
	case SessionIdleTimeout:
		return Conflict(CodeSessionIdleTimeout, "Session was closed after inactivity; start a new session")
	case SessionEnded:
		return Conflict(CodeSessionClosed, "Session has already ended")
	}
	if IsIdle(s.LastHeartbeat, now) {
		return Conflict(CodeSessionIdleTimeout, "Session idle for more than %d minutes", IdleTimeoutMinutes).
			With("idleMinutes", int(now.Sub(s.LastHeartbeat)/time.Minute))
	}
	return nil
}

// DailyLimitError is raised once the counted total reaches the cap.
func DailyLimitError(counted int, dateKey string) *Error {
	return Policy(CodeDailyLimitReached, "Daily instruction limit of %d minutes reached", DailyLimitMinutes).
		With("minutesCompleted", counted).
		With("dateKey", dateKey)
}
