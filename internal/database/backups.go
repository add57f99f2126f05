package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/polarfoxDev/ballast/internal/model"
)

const backupColumns = `id, name, description, backup_type, trigger_type, status,
	size_bytes, file_count, table_count, storage_key, checksum, created_by,
	completed_at, expires_at, error, metadata, notes, created_at, updated_at`

// CreateBackupWithItems inserts a backup and all its items in one
// transaction, so a crash mid-create never leaves a half-registered backup.
func (d *DB) CreateBackupWithItems(ctx context.Context, b *model.Backup, items []model.BackupItem) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	meta, err := json.Marshal(orEmpty(b.Metadata))
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO backups (`+backupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID, b.Name, b.Description, b.Type, b.Trigger, b.Status,
		b.SizeBytes, b.FileCount, b.TableCount, b.StorageKey, b.Checksum, b.CreatedBy,
		nullTime(b.CompletedAt), nullTime(b.ExpiresAt), b.Error, string(meta), b.Notes,
		b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert backup %s: %w", b.ID, err)
	}

	for i := range items {
		it := &items[i]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO backup_items (id, backup_id, item_type, name, size_bytes, record_count, storage_key, checksum, status, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, it.ID, it.BackupID, it.Type, it.Name, it.SizeBytes, it.RecordCount, it.StorageKey, it.Checksum, it.Status, it.Error)
		if err != nil {
			return fmt.Errorf("failed to insert item %s of backup %s: %w", it.Name, b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit backup %s: %w", b.ID, err)
	}
	return nil
}

// GetBackup retrieves a backup by ID, or nil if it does not exist.
func (d *DB) GetBackup(ctx context.Context, id string) (*model.Backup, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+backupColumns+` FROM backups WHERE id = ?`, id)
	b, err := scanBackup(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan backup: %w", err)
	}
	return b, nil
}

// BackupFilter narrows ListBackups. Zero values mean "any".
type BackupFilter struct {
	Statuses      []model.BackupStatus
	Type          model.BackupType
	Trigger       model.TriggerType
	CreatedBefore time.Time
	Limit         int
	Offset        int
}

func (d *DB) ListBackups(ctx context.Context, f BackupFilter) ([]model.Backup, error) {
	query := `SELECT ` + backupColumns + ` FROM backups WHERE 1=1`
	args := []any{}

	if len(f.Statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(f.Statuses)) + `)`
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	if f.Type != "" {
		query += ` AND backup_type = ?`
		args = append(args, f.Type)
	}
	if f.Trigger != "" {
		query += ` AND trigger_type = ?`
		args = append(args, f.Trigger)
	}
	if !f.CreatedBefore.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, f.CreatedBefore)
	}

	query += ` ORDER BY created_at DESC`
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
		return nil, fmt.Errorf("failed to query backups: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes as [] instead of null
	backups := make([]model.Backup, 0)
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup: %w", err)
		}
		backups = append(backups, *b)
	}
	return backups, rows.Err()
}

// UpdateBackup persists all mutable backup fields.
func (d *DB) UpdateBackup(ctx context.Context, b *model.Backup) error {
	b.UpdatedAt = time.Now()

	meta, err := json.Marshal(orEmpty(b.Metadata))
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	res, err := d.db.ExecContext(ctx, `
		UPDATE backups SET
			name = ?, description = ?, status = ?, size_bytes = ?, file_count = ?,
			table_count = ?, storage_key = ?, checksum = ?, completed_at = ?,
			expires_at = ?, error = ?, metadata = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`,
		b.Name, b.Description, b.Status, b.SizeBytes, b.FileCount,
		b.TableCount, b.StorageKey, b.Checksum, nullTime(b.CompletedAt),
		nullTime(b.ExpiresAt), b.Error, string(meta), b.Notes, b.UpdatedAt,
		b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update backup %s: %w", b.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetItems returns all items of a backup ordered by name.
func (d *DB) GetItems(ctx context.Context, backupID string) ([]model.BackupItem, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, backup_id, item_type, name, size_bytes, record_count, storage_key, checksum, status, error
		FROM backup_items WHERE backup_id = ? ORDER BY name
	`, backupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items of backup %s: %w", backupID, err)
	}
	defer rows.Close()

	items := make([]model.BackupItem, 0)
	for rows.Next() {
		var it model.BackupItem
		if err := rows.Scan(&it.ID, &it.BackupID, &it.Type, &it.Name, &it.SizeBytes,
			&it.RecordCount, &it.StorageKey, &it.Checksum, &it.Status, &it.Error); err != nil {
			return nil, fmt.Errorf("failed to scan backup item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetItem retrieves one item by ID, or nil if it does not exist.
func (d *DB) GetItem(ctx context.Context, id string) (*model.BackupItem, error) {
	var it model.BackupItem
	err := d.db.QueryRowContext(ctx, `
		SELECT id, backup_id, item_type, name, size_bytes, record_count, storage_key, checksum, status, error
		FROM backup_items WHERE id = ?
	`, id).Scan(&it.ID, &it.BackupID, &it.Type, &it.Name, &it.SizeBytes,
		&it.RecordCount, &it.StorageKey, &it.Checksum, &it.Status, &it.Error)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan backup item: %w", err)
	}
	return &it, nil
}

// UpdateItem persists one item's mutable fields.
func (d *DB) UpdateItem(ctx context.Context, it *model.BackupItem) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE backup_items SET
			size_bytes = ?, record_count = ?, storage_key = ?, checksum = ?, status = ?, error = ?
		WHERE id = ?
	`, it.SizeBytes, it.RecordCount, it.StorageKey, it.Checksum, it.Status, it.Error, it.ID)
	if err != nil {
		return fmt.Errorf("failed to update item %s: %w", it.ID, err)
	}
	return nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBackup(row rowScanner) (*model.Backup, error) {
	var b model.Backup
	var completedAt, expiresAt sql.NullTime
	var meta string
	err := row.Scan(
		&b.ID, &b.Name, &b.Description, &b.Type, &b.Trigger, &b.Status,
		&b.SizeBytes, &b.FileCount, &b.TableCount, &b.StorageKey, &b.Checksum, &b.CreatedBy,
		&completedAt, &expiresAt, &b.Error, &meta, &b.Notes, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.CompletedAt = timePtr(completedAt)
	b.ExpiresAt = timePtr(expiresAt)
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &b.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of backup %s: %w", b.ID, err)
		}
	}
	return &b, nil
}
