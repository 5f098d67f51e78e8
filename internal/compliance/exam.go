package compliance

import "time"

type ExamState string

const (
	ExamOpen          ExamState = "open"
	ExamLocked        ExamState = "locked"
	ExamAcademicReset ExamState = "academic_reset"
)

type ExamOutcome int

const (
	ExamRejectedLocked ExamOutcome = iota + 1
	ExamRejectedReset
	ExamPassedOutcome
	ExamFailedLockout
	ExamResetFlagged
)

// ExamScore is the graded view of one submission.
type ExamScore struct {
	Score          int
	TotalQuestions int
	PassingScore   int
	ScorePercent   int
	IsPassed       bool
}

// GradeExam computes passingScore = ceil(75% of total), isPassed, and the
// rounded percentage using integer arithmetic only.
func GradeExam(score, totalQuestions int) (ExamScore, *Error) {
	if totalQuestions <= 0 {
		return ExamScore{}, Validation("totalQuestions must be greater than zero")
	}
	if score < 0 || score > totalQuestions {
		return ExamScore{}, Validation("score must be between 0 and totalQuestions")
	}
	passing := (ExamPassingPercent*totalQuestions + 99) / 100
	percent := (200*score + totalQuestions) / (2 * totalQuestions)
	return ExamScore{
		Score:          score,
		TotalQuestions: totalQuestions,
		PassingScore:   passing,
		ScorePercent:   percent,
		IsPassed:       score >= passing,
	}, nil
}

// ExamSnapshot joins the user's exam flags with the per-course record.
type ExamSnapshot struct {
	LockoutUntil          *time.Time
	AcademicResetRequired bool
	FailureCount          int
	PriorAttempts         int
}

func (s ExamSnapshot) State(now time.Time) ExamState {
	if s.AcademicResetRequired {
		return ExamAcademicReset
	}
	if s.LockoutUntil != nil && s.LockoutUntil.After(now) {
		return ExamLocked
	}
	return ExamOpen
}

type ExamTransition struct {
	From          ExamState
	To            ExamState
	Outcome       ExamOutcome
	AttemptNumber int
	FailureCount  int
	// Set only by the transitions that change them.
	LockoutUntil     *time.Time
	ResetAvailableAt *time.Time
	ClearFlags       bool
}

func (t ExamTransition) RemainingAttempts() int {
	return max(0, ExamMaxFailures-t.FailureCount)
}

// Recorded reports whether the attempt is appended to the record.
func (t ExamTransition) Recorded() bool {
	return t.Outcome != ExamRejectedLocked && t.Outcome != ExamRejectedReset
}

// NextExam is the final-exam transition function.
//
//	academic_reset + any  -> academic_reset (rejected)
//	locked         + any  -> locked         (rejected)
//	open           + pass -> open           (lockout and reset flags cleared)
//	open           + fail -> locked         for failures 1 and 2 (now + 24h)
//	open           + fail -> academic_reset on failure 3, with no lockout
func NextExam(s ExamSnapshot, passed bool, now time.Time) ExamTransition {
	from := s.State(now)
	t := ExamTransition{From: from, To: from, FailureCount: s.FailureCount, AttemptNumber: s.PriorAttempts + 1}
	switch from {
	case ExamAcademicReset:
		t.Outcome = ExamRejectedReset
		return t
	case ExamLocked:
		t.Outcome = ExamRejectedLocked
		return t
	}

	if passed {
		t.Outcome = ExamPassedOutcome
		t.ClearFlags = true
		return t
	}

	t.FailureCount++
	if t.FailureCount >= ExamMaxFailures {
		resetAt := now.Add(ExamResetWaitDuration)
		t.To = ExamAcademicReset
		t.Outcome = ExamResetFlagged
		t.ResetAvailableAt = &resetAt
		return t
	}

	until := now.Add(ExamLockoutDuration)
	t.To = ExamLocked
	t.Outcome = ExamFailedLockout
	t.LockoutUntil = &until
	return t
}

// EligibleForCompletion is the certificate gate checked after a pass.
func EligibleForCompletion(totalInstructionMinutes, scorePercent int) bool {
	return totalInstructionMinutes >= RequiredTotalMinutes && scorePercent >= ExamPassingPercent
}

func ExamLockedError(until, now time.Time) *Error {
	hours := remainingHours(until, now)
	return Policy(CodeExamLockedOut, "Final exam locked after a failed attempt. Try again in %d hours", hours).
		With("lockoutUntil", until.UTC()).
		With("remainingHours", hours)
}

func AcademicResetError(resetAvailableAt *time.Time) *Error {
	err := Policy(CodeExamAcademicReset, "Maximum exam attempts reached. Academic reset required")
	if resetAvailableAt != nil {
		err = err.With("resetAvailableAt", resetAvailableAt.UTC())
	}
	return err
}

func LockoutRemainingHours(until *time.Time, now time.Time) int {
	if until == nil || !until.After(now) {
		return 0
	}
	return remainingHours(*until, now)
}
