package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
)

type CertificateRepo struct {
	pool *pgxpool.Pool
}

func NewCertificateRepo(pool *pgxpool.Pool) *CertificateRepo {
	return &CertificateRepo{pool: pool}
}

// Issue stores c unless the user already holds a certificate for the course,
// and links the stored certificate to the user. It returns the stored
// certificate and whether this call created it.
func (r *CertificateRepo) Issue(ctx context.Context, c *models.Certificate) (*models.Certificate, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin certificate transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO certificates (id, user_id, course_id, certificate_number, score_percent, total_minutes, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, course_id) DO NOTHING`,
		c.ID, c.UserID, c.CourseID, c.CertificateNumber, c.ScorePercent, c.TotalMinutes, c.IssuedAt,
	)
	if err != nil {
		return nil, false, err
	}
	created := tag.RowsAffected() == 1

	stored := &models.Certificate{}
	err = tx.QueryRow(ctx, `
		SELECT id, user_id, course_id, certificate_number, score_percent, total_minutes, issued_at
		FROM certificates WHERE user_id = $1 AND course_id = $2`, c.UserID, c.CourseID,
	).Scan(&stored.ID, &stored.UserID, &stored.CourseID, &stored.CertificateNumber, &stored.ScorePercent, &stored.TotalMinutes, &stored.IssuedAt)
	if err != nil {
		return nil, false, err
	}

	if err := (&pgTx{tx: tx}).SetCompletionCertificate(ctx, c.UserID, stored.ID); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit certificate: %w", err)
	}
	return stored, created, nil
}

func (r *CertificateRepo) GetByUserCourse(ctx context.Context, userID, courseID string) (*models.Certificate, error) {
	c := &models.Certificate{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, course_id, certificate_number, score_percent, total_minutes, issued_at
		FROM certificates WHERE user_id = $1 AND course_id = $2`, userID, courseID,
	).Scan(&c.ID, &c.UserID, &c.CourseID, &c.CertificateNumber, &c.ScorePercent, &c.TotalMinutes, &c.IssuedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}
