package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
)

// Tx is the set of reads and writes a compliance operation performs inside
// one database transaction. Lock* methods take row locks (SELECT ... FOR
// UPDATE) that are held until the transaction ends. Missing rows are
// reported as pgx.ErrNoRows.
type Tx interface {
	EnsureUser(ctx context.Context, userID string) error
	LockUser(ctx context.Context, userID string) (*models.User, error)
	SetDailyStatus(ctx context.Context, userID, status string, lockedAt *time.Time) error
	AddCumulativeMinutes(ctx context.Context, userID string, delta int) (int, error)
	SetPVQLockout(ctx context.Context, userID string, until *time.Time) error
	SetExamState(ctx context.Context, userID string, state models.ExamUserState) error
	SetCompletionCertificate(ctx context.Context, userID string, certificateID uuid.UUID) error

	CreateSession(ctx context.Context, s *models.Session) error
	LockSession(ctx context.Context, userID, sessionID string) (*models.Session, error)
	TouchSession(ctx context.Context, sessionID string, now time.Time) error
	SetSessionStatus(ctx context.Context, sessionID, status string, now time.Time) error
	LockStaleSessions(ctx context.Context, cutoff time.Time, limit int) ([]models.Session, error)

	LockDailyLog(ctx context.Context, id string) (*models.DailyActivityLog, error)
	IncrementDailyLog(ctx context.Context, seed models.DailyLogSeed) (*models.DailyActivityLog, bool, error)
	SaveDailyLogExclusion(ctx context.Context, log *models.DailyActivityLog, now time.Time) error

	LockPVQRecord(ctx context.Context, id string) (*models.PVQVerificationRecord, error)
	SavePVQRecord(ctx context.Context, rec *models.PVQVerificationRecord) error
	GetPVQAnswerHash(ctx context.Context, userID, questionID string) (string, error)
	SavePVQAnswerHashes(ctx context.Context, userID string, hashes map[string]string, now time.Time) error

	LockExamRecord(ctx context.Context, id string) (*models.ExamAttemptRecord, error)
	SaveExamRecord(ctx context.Context, rec *models.ExamAttemptRecord) error
	AppendExamAttempt(ctx context.Context, recordID string, attempt models.ExamAttempt) error
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithTx runs fn in a transaction. The transaction commits when fn returns
// nil and rolls back otherwise; fn's error is returned unchanged.
func (s *Store) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

const userColumns = `id, email, full_name, daily_status, daily_locked_at, pvq_lockout_until,
	exam_lockout_until, academic_reset_required, reset_available_at, cumulative_minutes,
	final_exam_passed, final_exam_score, completion_certificate_id, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(
		&u.ID, &u.Email, &u.FullName, &u.DailyStatus, &u.DailyLockedAt, &u.PVQLockoutUntil,
		&u.ExamLockoutUntil, &u.AcademicResetRequired, &u.ResetAvailableAt, &u.CumulativeMinutes,
		&u.FinalExamPassed, &u.FinalExamScore, &u.CompletionCertificateID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (t *pgTx) EnsureUser(ctx context.Context, userID string) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID)
	return err
}

func (t *pgTx) LockUser(ctx context.Context, userID string) (*models.User, error) {
	return scanUser(t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID))
}

func (t *pgTx) SetDailyStatus(ctx context.Context, userID, status string, lockedAt *time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE users SET daily_status = $2, daily_locked_at = $3, updated_at = NOW()
		WHERE id = $1`, userID, status, lockedAt)
	return err
}

// AddCumulativeMinutes applies delta atomically and floors the total at zero.
func (t *pgTx) AddCumulativeMinutes(ctx context.Context, userID string, delta int) (int, error) {
	var total int
	err := t.tx.QueryRow(ctx, `
		UPDATE users SET cumulative_minutes = GREATEST(0, cumulative_minutes + $2), updated_at = NOW()
		WHERE id = $1
		RETURNING cumulative_minutes`, userID, delta).Scan(&total)
	return total, err
}

func (t *pgTx) SetPVQLockout(ctx context.Context, userID string, until *time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE users SET pvq_lockout_until = $2, updated_at = NOW() WHERE id = $1`, userID, until)
	return err
}

func (t *pgTx) SetExamState(ctx context.Context, userID string, state models.ExamUserState) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE users SET
			exam_lockout_until = $2,
			academic_reset_required = $3,
			reset_available_at = $4,
			final_exam_passed = $5,
			final_exam_score = $6,
			updated_at = NOW()
		WHERE id = $1`,
		userID, state.LockoutUntil, state.AcademicResetRequired, state.ResetAvailableAt,
		state.FinalExamPassed, state.FinalExamScore,
	)
	return err
}

func (t *pgTx) SetCompletionCertificate(ctx context.Context, userID string, certificateID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `UPDATE users SET completion_certificate_id = $2, updated_at = NOW() WHERE id = $1`, userID, certificateID)
	return err
}

const sessionColumns = `id, user_id, course_id, status, started_at, last_heartbeat_at, ended_at, idle_timeout_at`

func scanSession(row pgx.Row) (*models.Session, error) {
	s := &models.Session{}
	if err := row.Scan(&s.ID, &s.UserID, &s.CourseID, &s.Status, &s.StartedAt, &s.LastHeartbeatAt, &s.EndedAt, &s.IdleTimeoutAt); err != nil {
		return nil, err
	}
	return s, nil
}

func (t *pgTx) CreateSession(ctx context.Context, s *models.Session) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO learning_sessions (id, user_id, course_id, status, started_at, last_heartbeat_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.UserID, s.CourseID, s.Status, s.StartedAt, s.LastHeartbeatAt,
	)
	return err
}

func (t *pgTx) LockSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	return scanSession(t.tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM learning_sessions WHERE id = $1 AND user_id = $2 FOR UPDATE`,
		sessionID, userID))
}

func (t *pgTx) TouchSession(ctx context.Context, sessionID string, now time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE learning_sessions SET last_heartbeat_at = $2 WHERE id = $1`, sessionID, now)
	return err
}

// SetSessionStatus stamps ended_at or idle_timeout_at to match the new status.
func (t *pgTx) SetSessionStatus(ctx context.Context, sessionID, status string, now time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE learning_sessions SET
			status = $2,
			ended_at = CASE WHEN $2 = 'ended' THEN $3 ELSE ended_at END,
			idle_timeout_at = CASE WHEN $2 = 'idle_timeout' THEN $3 ELSE idle_timeout_at END
		WHERE id = $1`, sessionID, status, now)
	return err
}

// LockStaleSessions skips rows another transaction holds, so a sweep never
// waits behind a live heartbeat.
func (t *pgTx) LockStaleSessions(ctx context.Context, cutoff time.Time, limit int) ([]models.Session, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+sessionColumns+` FROM learning_sessions
		WHERE status = 'active' AND last_heartbeat_at < $1
		ORDER BY last_heartbeat_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

const dailyLogColumns = `id, user_id, course_id, to_char(date_key, 'YYYY-MM-DD'), minutes_completed,
	adjusted_minutes_completed, excluded_from_daily_limit, idle_minutes_excluded, session_count,
	sessions, status, created_at, updated_at`

func scanDailyLog(row pgx.Row) (*models.DailyActivityLog, error) {
	l := &models.DailyActivityLog{}
	err := row.Scan(
		&l.ID, &l.UserID, &l.CourseID, &l.DateKey, &l.MinutesCompleted,
		&l.AdjustedMinutesCompleted, &l.ExcludedFromDailyLimit, &l.IdleMinutesExcluded, &l.SessionCount,
		&l.Sessions, &l.Status, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (t *pgTx) LockDailyLog(ctx context.Context, id string) (*models.DailyActivityLog, error) {
	return scanDailyLog(t.tx.QueryRow(ctx, `SELECT `+dailyLogColumns+` FROM daily_activity_logs WHERE id = $1 FOR UPDATE`, id))
}

// IncrementDailyLog credits one minute with a single upsert, so concurrent
// heartbeats for the same day serialize on the row instead of overwriting
// each other. The bool reports whether the row was created by this call.
func (t *pgTx) IncrementDailyLog(ctx context.Context, seed models.DailyLogSeed) (*models.DailyActivityLog, bool, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO daily_activity_logs AS d
			(id, user_id, course_id, date_key, minutes_completed, adjusted_minutes_completed,
			 session_count, sessions, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4::date, 1, 1, 1, ARRAY[$5::text], 'active', $6, $6)
		ON CONFLICT (id) DO UPDATE SET
			minutes_completed = d.minutes_completed + 1,
			adjusted_minutes_completed = CASE
				WHEN d.excluded_from_daily_limit THEN d.adjusted_minutes_completed + 1
				ELSE d.minutes_completed + 1
			END,
			sessions = CASE WHEN $5 = ANY(d.sessions) THEN d.sessions ELSE array_append(d.sessions, $5) END,
			session_count = CASE WHEN $5 = ANY(d.sessions) THEN d.session_count ELSE d.session_count + 1 END,
			updated_at = $6
		RETURNING `+dailyLogColumns+`, (xmax = 0)`,
		seed.ID, seed.UserID, seed.CourseID, seed.DateKey, seed.SessionID, seed.Now,
	)

	l := &models.DailyActivityLog{}
	var inserted bool
	err := row.Scan(
		&l.ID, &l.UserID, &l.CourseID, &l.DateKey, &l.MinutesCompleted,
		&l.AdjustedMinutesCompleted, &l.ExcludedFromDailyLimit, &l.IdleMinutesExcluded, &l.SessionCount,
		&l.Sessions, &l.Status, &l.CreatedAt, &l.UpdatedAt, &inserted,
	)
	if err != nil {
		return nil, false, err
	}
	return l, inserted, nil
}

func (t *pgTx) SaveDailyLogExclusion(ctx context.Context, l *models.DailyActivityLog, now time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE daily_activity_logs SET
			adjusted_minutes_completed = $2,
			excluded_from_daily_limit = $3,
			idle_minutes_excluded = $4,
			updated_at = $5
		WHERE id = $1`,
		l.ID, l.AdjustedMinutesCompleted, l.ExcludedFromDailyLimit, l.IdleMinutesExcluded, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (t *pgTx) LockPVQRecord(ctx context.Context, id string) (*models.PVQVerificationRecord, error) {
	r := &models.PVQVerificationRecord{}
	err := t.tx.QueryRow(ctx, `
		SELECT id, user_id, course_id, session_id, attempt_count, failure_count, last_attempt_correct, last_attempt_at
		FROM pvq_verification_records WHERE id = $1 FOR UPDATE`, id,
	).Scan(&r.ID, &r.UserID, &r.CourseID, &r.SessionID, &r.AttemptCount, &r.FailureCount, &r.LastAttemptCorrect, &r.LastAttemptAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (t *pgTx) SavePVQRecord(ctx context.Context, r *models.PVQVerificationRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO pvq_verification_records
			(id, user_id, course_id, session_id, attempt_count, failure_count, last_attempt_correct, last_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $8)
		ON CONFLICT (id) DO UPDATE SET
			attempt_count = EXCLUDED.attempt_count,
			failure_count = EXCLUDED.failure_count,
			last_attempt_correct = EXCLUDED.last_attempt_correct,
			last_attempt_at = EXCLUDED.last_attempt_at,
			updated_at = EXCLUDED.updated_at`,
		r.ID, r.UserID, r.CourseID, r.SessionID, r.AttemptCount, r.FailureCount, r.LastAttemptCorrect, r.LastAttemptAt,
	)
	return err
}

func (t *pgTx) GetPVQAnswerHash(ctx context.Context, userID, questionID string) (string, error) {
	var hash string
	err := t.tx.QueryRow(ctx, `SELECT answer_hash FROM pvq_answers WHERE user_id = $1 AND question_id = $2`, userID, questionID).Scan(&hash)
	return hash, err
}

func (t *pgTx) SavePVQAnswerHashes(ctx context.Context, userID string, hashes map[string]string, now time.Time) error {
	batch := &pgx.Batch{}
	for questionID, hash := range hashes {
		batch.Queue(`
			INSERT INTO pvq_answers (user_id, question_id, answer_hash, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, question_id) DO UPDATE SET answer_hash = EXCLUDED.answer_hash, updated_at = EXCLUDED.updated_at`,
			userID, questionID, hash, now)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) LockExamRecord(ctx context.Context, id string) (*models.ExamAttemptRecord, error) {
	r := &models.ExamAttemptRecord{}
	err := t.tx.QueryRow(ctx, `
		SELECT id, user_id, course_id, attempt_count, failure_count, last_attempt_score, is_passed
		FROM exam_attempt_records WHERE id = $1 FOR UPDATE`, id,
	).Scan(&r.ID, &r.UserID, &r.CourseID, &r.AttemptCount, &r.FailureCount, &r.LastAttemptScore, &r.IsPassed)
	if err != nil {
		return nil, err
	}

	rows, err := t.tx.Query(ctx, `
		SELECT attempt_number, session_id, score, total_questions, score_percent, is_passed, attempted_at
		FROM exam_attempts WHERE record_id = $1 ORDER BY attempt_number`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var a models.ExamAttempt
		if err := rows.Scan(&a.AttemptNumber, &a.SessionID, &a.Score, &a.TotalQuestions, &a.ScorePercent, &a.IsPassed, &a.AttemptedAt); err != nil {
			return nil, err
		}
		r.Attempts = append(r.Attempts, a)
	}
	return r, rows.Err()
}

func (t *pgTx) SaveExamRecord(ctx context.Context, r *models.ExamAttemptRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO exam_attempt_records (id, user_id, course_id, attempt_count, failure_count, last_attempt_score, is_passed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			attempt_count = EXCLUDED.attempt_count,
			failure_count = EXCLUDED.failure_count,
			last_attempt_score = EXCLUDED.last_attempt_score,
			is_passed = EXCLUDED.is_passed,
			updated_at = NOW()`,
		r.ID, r.UserID, r.CourseID, r.AttemptCount, r.FailureCount, r.LastAttemptScore, r.IsPassed,
	)
	return err
}

// AppendExamAttempt fails on a duplicate attempt number instead of
// overwriting history.
func (t *pgTx) AppendExamAttempt(ctx context.Context, recordID string, a models.ExamAttempt) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO exam_attempts (record_id, attempt_number, session_id, score, total_questions, score_percent, is_passed, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		recordID, a.AttemptNumber, a.SessionID, a.Score, a.TotalQuestions, a.ScorePercent, a.IsPassed, a.AttemptedAt,
	)
	return err
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
