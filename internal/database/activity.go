package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/polarfoxDev/ballast/internal/model"
)

// InsertActivity appends one entry to the activity log. The log is
// append-only: there is deliberately no update or single-row delete.
func (d *DB) InsertActivity(ctx context.Context, e *model.ActivityEntry) error {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO activity_log (activity_type, backup_id, backup_name, actor_id, actor_name, details, status, origin, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.Type, nullString(e.BackupID), nullString(e.BackupName), e.ActorID, e.ActorName,
		e.Details, e.Status, nullString(e.Origin), nullString(e.UserAgent), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// ActivityFilter narrows QueryActivity. Zero values mean "any".
type ActivityFilter struct {
	Type   model.ActivityType
	Status model.ActivityStatus
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}

func (f ActivityFilter) where() (string, []any) {
	query := ` WHERE 1=1`
	args := []any{}
	if f.Type != "" {
		query += ` AND activity_type = ?`
		args = append(args, f.Type)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, f.Until)
	}
	return query, args
}

// QueryActivity returns matching entries newest-first plus the total match
// count, so callers can paginate.
func (d *DB) QueryActivity(ctx context.Context, f ActivityFilter) ([]model.ActivityEntry, int, error) {
	where, args := f.where()

	var total int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count activity entries: %w", err)
	}

	query := `
		SELECT id, activity_type, backup_id, backup_name, actor_id, actor_name, details, status, origin, user_agent, created_at
		FROM activity_log` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, f.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query activity log: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes as [] instead of null
	entries := make([]model.ActivityEntry, 0)
	for rows.Next() {
		var e model.ActivityEntry
		var backupID, backupName, origin, userAgent sql.NullString
		if err := rows.Scan(&e.ID, &e.Type, &backupID, &backupName, &e.ActorID, &e.ActorName,
			&e.Details, &e.Status, &origin, &userAgent, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		e.BackupID = backupID.String
		e.BackupName = backupName.String
		e.Origin = origin.String
		e.UserAgent = userAgent.String
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// ActivityStats aggregates the log for the dashboard.
type ActivityStats struct {
	TotalActivities int                        `json:"totalActivities"`
	TodayActivities int                        `json:"todayActivities"`
	SuccessCount    int                        `json:"successCount"`
	FailedCount     int                        `json:"failedCount"`
	WarningCount    int                        `json:"warningCount"`
	ByType          map[model.ActivityType]int `json:"byType"`
}

func (d *DB) GetActivityStats(ctx context.Context) (*ActivityStats, error) {
	stats := &ActivityStats{ByType: make(map[model.ActivityType]int)}

	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'warning' THEN 1 ELSE 0 END), 0)
		FROM activity_log
	`, startOfDay).Scan(&stats.TotalActivities, &stats.TodayActivities,
		&stats.SuccessCount, &stats.FailedCount, &stats.WarningCount)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate activity stats: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, `SELECT activity_type, COUNT(*) FROM activity_log GROUP BY activity_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t model.ActivityType
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("failed to scan activity breakdown: %w", err)
		}
		stats.ByType[t] = n
	}
	return stats, rows.Err()
}

// PruneActivity removes entries older than the cutoff. This is an operator
// maintenance action, not part of normal operation.
func (d *DB) PruneActivity(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := d.db.ExecContext(ctx, `DELETE FROM activity_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune activity log: %w", err)
	}
	return res.RowsAffected()
}
