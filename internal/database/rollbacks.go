package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/polarfoxDev/ballast/internal/model"
)

const rollbackColumns = `id, backup_id, rollback_type, status, table_names,
	items_restored, items_failed, initiated_by, completed_at, error, notes,
	created_at, updated_at`

func (d *DB) CreateRollback(ctx context.Context, r *model.Rollback) error {
	tables, err := json.Marshal(orEmptySlice(r.TableNames))
	if err != nil {
		return fmt.Errorf("failed to encode table names: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO rollbacks (`+rollbackColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.BackupID, r.Type, r.Status, string(tables),
		r.ItemsRestored, r.ItemsFailed, r.InitiatedBy, nullTime(r.CompletedAt), r.Error, r.Notes,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rollback %s: %w", r.ID, err)
	}
	return nil
}

// GetRollback retrieves a rollback by ID, or nil if it does not exist.
func (d *DB) GetRollback(ctx context.Context, id string) (*model.Rollback, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+rollbackColumns+` FROM rollbacks WHERE id = ?`, id)
	r, err := scanRollback(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

func (d *DB) UpdateRollback(ctx context.Context, r *model.Rollback) error {
	r.UpdatedAt = time.Now()
	_, err := d.db.ExecContext(ctx, `
		UPDATE rollbacks SET
			status = ?, items_restored = ?, items_failed = ?, completed_at = ?,
			error = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`,
		r.Status, r.ItemsRestored, r.ItemsFailed, nullTime(r.CompletedAt),
		r.Error, r.Notes, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rollback %s: %w", r.ID, err)
	}
	return nil
}

func (d *DB) ListRollbacks(ctx context.Context, backupID string, limit int) ([]model.Rollback, error) {
	query := `SELECT ` + rollbackColumns + ` FROM rollbacks`
	args := []any{}
	if backupID != "" {
		query += ` WHERE backup_id = ?`
		args = append(args, backupID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollbacks: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes as [] instead of null
	rollbacks := make([]model.Rollback, 0)
	for rows.Next() {
		r, err := scanRollback(rows)
		if err != nil {
			return nil, err
		}
		rollbacks = append(rollbacks, *r)
	}
	return rollbacks, rows.Err()
}

func scanRollback(row interface{ Scan(...any) error }) (*model.Rollback, error) {
	var r model.Rollback
	var tables string
	var completedAt sql.NullTime
	if err := row.Scan(
		&r.ID, &r.BackupID, &r.Type, &r.Status, &tables,
		&r.ItemsRestored, &r.ItemsFailed, &r.InitiatedBy, &completedAt, &r.Error, &r.Notes,
		&r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rollback: %w", err)
	}
	if err := json.Unmarshal([]byte(tables), &r.TableNames); err != nil {
		return nil, fmt.Errorf("failed to decode table names for rollback %s: %w", r.ID, err)
	}
	r.CompletedAt = timePtr(completedAt)
	return &r, nil
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// HasActiveRollback reports whether any rollback is currently pending or in
// progress. Backs the system-wide single-active-rollback rule across
// process restarts.
func (d *DB) HasActiveRollback(ctx context.Context) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rollbacks WHERE status IN ('pending', 'in_progress')`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count active rollbacks: %w", err)
	}
	return n > 0, nil
}
