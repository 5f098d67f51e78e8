package repository

import (
	"context"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
)

// Non-locking reads for read models and background workers.

func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

func (s *Store) GetDailyLog(ctx context.Context, id string) (*models.DailyActivityLog, error) {
	return scanDailyLog(s.pool.QueryRow(ctx, `SELECT `+dailyLogColumns+` FROM daily_activity_logs WHERE id = $1`, id))
}
