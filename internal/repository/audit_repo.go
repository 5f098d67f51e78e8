package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Insert(ctx context.Context, e *models.AuditLogEntry) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	if e.Metadata == nil {
		metadata = []byte("{}")
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_logs
			(id, user_id, action, resource, resource_id, status, metadata, ip_address, user_agent, created_at, retention_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.UserID, e.Action, e.Resource, e.ResourceID, e.Status, metadata,
		e.IPAddress, e.UserAgent, e.Timestamp, e.RetentionExpiresAt,
	)
	return err
}

func (r *AuditRepo) ListByUser(ctx context.Context, userID string, limit int) ([]models.AuditLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+auditColumns+`
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	return scanAuditRows(rows)
}

// Query returns one page of entries matching f and the total number of
// matching entries.
func (r *AuditRepo) Query(ctx context.Context, f models.AuditFilter) ([]models.AuditLogEntry, int, error) {
	where, args := auditFilterClause(f)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := "DESC"
	if f.Ascending {
		order = "ASC"
	}
	args = append(args, f.Limit, f.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM audit_logs%s
		ORDER BY created_at %s, id %s
		LIMIT $%d OFFSET $%d`, auditColumns, where, order, order, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	entries, err := scanAuditRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// CountBetween groups the entries created in [from, to] by status, action
// and resource.
func (r *AuditRepo) CountBetween(ctx context.Context, from, to time.Time) ([]models.AuditCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, action, resource, COUNT(*)
		FROM audit_logs
		WHERE created_at >= $1 AND created_at <= $2
		GROUP BY status, action, resource`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := []models.AuditCount{}
	for rows.Next() {
		var c models.AuditCount
		if err := rows.Scan(&c.Status, &c.Action, &c.Resource, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

const auditColumns = `id, user_id, action, resource, resource_id, status, metadata, ip_address, user_agent, created_at, retention_expires_at`

// auditFilterClause renders the WHERE clause for f with numbered placeholders.
func auditFilterClause(f models.AuditFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Resource != "" {
		add("resource = $%d", f.Resource)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.StartDate != nil {
		add("created_at >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("created_at <= $%d", *f.EndDate)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type auditRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close()
}

func scanAuditRows(rows auditRows) ([]models.AuditLogEntry, error) {
	defer rows.Close()

	entries := []models.AuditLogEntry{}
	for rows.Next() {
		var e models.AuditLogEntry
		var metadata []byte
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Action, &e.Resource, &e.ResourceID, &e.Status, &metadata,
			&e.IPAddress, &e.UserAgent, &e.Timestamp, &e.RetentionExpiresAt,
		); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteExpired removes at most batchSize entries whose retention window
// closed before cutoff and returns how many were removed.
func (r *AuditRepo) DeleteExpired(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM audit_logs
		WHERE id IN (
			SELECT id FROM audit_logs
			WHERE retention_expires_at < $1
			LIMIT $2
		)`, cutoff, batchSize)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
