package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/polarfoxDev/ballast/internal/model"
)

func (d *DB) CreateLabel(ctx context.Context, l *model.BackupLabel) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO backup_labels (id, name, color, description, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, l.ID, l.Name, l.Color, l.Description, l.CreatedBy, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert label %s: %w", l.Name, err)
	}
	return nil
}

// GetLabel retrieves a label by ID, or nil if it does not exist.
func (d *DB) GetLabel(ctx context.Context, id string) (*model.BackupLabel, error) {
	var l model.BackupLabel
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, color, description, created_by, created_at
		FROM backup_labels WHERE id = ?
	`, id).Scan(&l.ID, &l.Name, &l.Color, &l.Description, &l.CreatedBy, &l.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan label: %w", err)
	}
	return &l, nil
}

// GetLabelByName retrieves a label by its unique name, or nil.
func (d *DB) GetLabelByName(ctx context.Context, name string) (*model.BackupLabel, error) {
	var l model.BackupLabel
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, color, description, created_by, created_at
		FROM backup_labels WHERE name = ?
	`, name).Scan(&l.ID, &l.Name, &l.Color, &l.Description, &l.CreatedBy, &l.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan label: %w", err)
	}
	return &l, nil
}

func (d *DB) ListLabels(ctx context.Context) ([]model.BackupLabel, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, name, color, description, created_by, created_at
		FROM backup_labels ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes as [] instead of null
	labels := make([]model.BackupLabel, 0)
	for rows.Next() {
		var l model.BackupLabel
		if err := rows.Scan(&l.ID, &l.Name, &l.Color, &l.Description, &l.CreatedBy, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// DeleteLabel removes a label and all its assignments in one transaction.
func (d *DB) DeleteLabel(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM backup_label_assignments WHERE label_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete assignments of label %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM backup_labels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete label %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit label delete: %w", err)
	}
	return nil
}

// AssignLabel attaches a label to a backup. Assigning twice is a no-op.
func (d *DB) AssignLabel(ctx context.Context, backupID, labelID string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO backup_label_assignments (backup_id, label_id) VALUES (?, ?)
		ON CONFLICT (backup_id, label_id) DO NOTHING
	`, backupID, labelID)
	if err != nil {
		return fmt.Errorf("failed to assign label %s to backup %s: %w", labelID, backupID, err)
	}
	return nil
}

func (d *DB) RemoveLabel(ctx context.Context, backupID, labelID string) error {
	_, err := d.db.ExecContext(ctx, `
		DELETE FROM backup_label_assignments WHERE backup_id = ? AND label_id = ?
	`, backupID, labelID)
	if err != nil {
		return fmt.Errorf("failed to remove label %s from backup %s: %w", labelID, backupID, err)
	}
	return nil
}

func (d *DB) LabelsForBackup(ctx context.Context, backupID string) ([]model.BackupLabel, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT l.id, l.name, l.color, l.description, l.created_by, l.created_at
		FROM backup_labels l
		JOIN backup_label_assignments a ON a.label_id = l.id
		WHERE a.backup_id = ?
		ORDER BY l.name
	`, backupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels of backup %s: %w", backupID, err)
	}
	defer rows.Close()

	labels := make([]model.BackupLabel, 0)
	for rows.Next() {
		var l model.BackupLabel
		if err := rows.Scan(&l.ID, &l.Name, &l.Color, &l.Description, &l.CreatedBy, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

func (d *DB) BackupsWithLabel(ctx context.Context, labelID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT backup_id FROM backup_label_assignments WHERE label_id = ? ORDER BY backup_id
	`, labelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query backups of label %s: %w", labelID, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan backup id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LabelCountsByBackup returns how many labels each backup carries, for the
// retention engine's protection decision. Backups without labels are absent
// from the map.
func (d *DB) LabelCountsByBackup(ctx context.Context) (map[string]int, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT backup_id, COUNT(*) FROM backup_label_assignments GROUP BY backup_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query label counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan label count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}
