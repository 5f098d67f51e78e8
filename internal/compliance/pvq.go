package compliance

import (
	"math"
	"time"
)

type PVQState string

const (
	PVQUnlocked PVQState = "unlocked"
	PVQLocked   PVQState = "locked"
)

type PVQOutcome int

const (
	PVQRejectedLocked PVQOutcome = iota + 1
	PVQAccepted
	PVQLockoutActivated
)

// PVQSnapshot is the user's lockout field plus the per-session record.
type PVQSnapshot struct {
	LockoutUntil *time.Time
	AttemptCount int
	FailureCount int
}

// State derives the machine state; an expired lockout is simply unlocked.
func (s PVQSnapshot) State(now time.Time) PVQState {
	if s.LockoutUntil != nil && s.LockoutUntil.After(now) {
		return PVQLocked
	}
	return PVQUnlocked
}

type PVQTransition struct {
	From         PVQState
	To           PVQState
	Outcome      PVQOutcome
	AttemptCount int
	FailureCount int
	// LockoutUntil is set only when this transition activates a lockout.
	LockoutUntil *time.Time
}

func (t PVQTransition) RemainingAttempts() int {
	return max(0, PVQMaxFailures-t.FailureCount)
}

// NextPVQ is the identity-verification transition function.
//
//	locked   + any       -> locked   (rejected, nothing recorded)
//	unlocked + correct   -> unlocked (attempt recorded)
//	unlocked + incorrect -> unlocked while failures < 2
//	unlocked + incorrect -> locked   on the failure reaching 2 (now + 24h)
//
// A record still holding a full failure window from an expired lockout
// starts a fresh window.
func NextPVQ(s PVQSnapshot, correct bool, now time.Time) PVQTransition {
	from := s.State(now)
	t := PVQTransition{From: from, To: from, AttemptCount: s.AttemptCount, FailureCount: s.FailureCount}
	if from == PVQLocked {
		t.Outcome = PVQRejectedLocked
		return t
	}

	if t.FailureCount >= PVQMaxFailures {
		t.FailureCount = 0
	}
	t.AttemptCount++
	if !correct {
		t.FailureCount++
	}

	if t.FailureCount >= PVQMaxFailures {
		until := now.Add(PVQLockoutDuration)
		t.To = PVQLocked
		t.Outcome = PVQLockoutActivated
		t.LockoutUntil = &until
		return t
	}

	t.Outcome = PVQAccepted
	return t
}

// PVQLockedError is returned while a lockout is active.
func PVQLockedError(until, now time.Time) *Error {
	mins := remainingMinutes(until, now)
	return Policy(CodePVQLockedOut, "Identity verification locked. Try again in %d minutes", mins).
		With("lockoutUntil", until.UTC()).
		With("remainingMinutes", mins)
}

// PVQMaxAttemptsError is returned on the failure that activates a lockout.
func PVQMaxAttemptsError(until time.Time) *Error {
	return Policy(CodePVQMaxAttempts, "Maximum identity verification attempts exceeded. Locked for 24 hours").
		With("lockoutUntil", until.UTC()).
		With("remainingMinutes", int(PVQLockoutDuration/time.Minute))
}

func remainingMinutes(until, now time.Time) int {
	return int(math.Ceil(until.Sub(now).Minutes()))
}

func remainingHours(until, now time.Time) int {
	return int(math.Ceil(until.Sub(now).Hours()))
}

// LockoutRemainingMinutes is zero for a missing or expired lockout.
func LockoutRemainingMinutes(until *time.Time, now time.Time) int {
	if until == nil || !until.After(now) {
		return 0
	}
	return remainingMinutes(*until, now)
}
