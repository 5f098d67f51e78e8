package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
)

type EnrollmentRepo struct {
	pool *pgxpool.Pool
}

func NewEnrollmentRepo(pool *pgxpool.Pool) *EnrollmentRepo {
	return &EnrollmentRepo{pool: pool}
}

// CompleteUnit marks a unit done for the user and course. Completing a unit
// again keeps the first completion time; the stored time is returned along
// with whether this call recorded it.
func (r *EnrollmentRepo) CompleteUnit(ctx context.Context, userID, courseID, unitID string, at time.Time) (time.Time, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("begin unit completion transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := (&pgTx{tx: tx}).EnsureUser(ctx, userID); err != nil {
		return time.Time{}, false, err
	}

	var completedAt time.Time
	var inserted bool
	err = tx.QueryRow(ctx, `
		INSERT INTO unit_completions (user_id, course_id, unit_id, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, course_id, unit_id)
		DO UPDATE SET completed_at = unit_completions.completed_at
		RETURNING completed_at, (xmax = 0) AS inserted`,
		userID, courseID, unitID, at,
	).Scan(&completedAt, &inserted)
	if err != nil {
		return time.Time{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, false, fmt.Errorf("commit unit completion: %w", err)
	}
	return completedAt, inserted, nil
}

func (r *EnrollmentRepo) CompletedUnits(ctx context.Context, userID, courseID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT unit_id FROM unit_completions
		WHERE user_id = $1 AND course_id = $2
		ORDER BY unit_id`, userID, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// IssueCertificate stores c unless the user already holds an enrollment
// certificate for the course. It returns the stored certificate and whether
// this call created it.
func (r *EnrollmentRepo) IssueCertificate(ctx context.Context, c *models.EnrollmentCertificate) (*models.EnrollmentCertificate, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin enrollment certificate transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO enrollment_certificates
			(id, user_id, course_id, course_name, certificate_number, student_name, cumulative_minutes, completed_units, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, course_id) DO NOTHING`,
		c.ID, c.UserID, c.CourseID, c.CourseName, c.CertificateNumber, c.StudentName,
		c.CumulativeMinutes, c.CompletedUnits, c.IssuedAt,
	)
	if err != nil {
		return nil, false, err
	}
	created := tag.RowsAffected() == 1

	stored, err := scanEnrollmentCertificate(tx.QueryRow(ctx, `
		SELECT `+enrollmentCertificateColumns+`
		FROM enrollment_certificates WHERE user_id = $1 AND course_id = $2`, c.UserID, c.CourseID))
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit enrollment certificate: %w", err)
	}
	return stored, created, nil
}

func (r *EnrollmentRepo) GetCertificate(ctx context.Context, userID, courseID string) (*models.EnrollmentCertificate, error) {
	return scanEnrollmentCertificate(r.pool.QueryRow(ctx, `
		SELECT `+enrollmentCertificateColumns+`
		FROM enrollment_certificates WHERE user_id = $1 AND course_id = $2`, userID, courseID))
}

const enrollmentCertificateColumns = `id, user_id, course_id, course_name, certificate_number, student_name, cumulative_minutes, completed_units, issued_at`

func scanEnrollmentCertificate(row pgx.Row) (*models.EnrollmentCertificate, error) {
	c := &models.EnrollmentCertificate{}
	err := row.Scan(&c.ID, &c.UserID, &c.CourseID, &c.CourseName, &c.CertificateNumber, &c.StudentName,
		&c.CumulativeMinutes, &c.CompletedUnits, &c.IssuedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}
