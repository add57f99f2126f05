package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	db *sql.DB
}

func InitDB(dbPath string) (*DB, error) {
	// Retry logic for handling concurrent initialization
	var db *sql.DB
	var err error
	maxRetries := 5
	baseDelay := 100 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			time.Sleep(delay)
		}

		db, err = sql.Open("sqlite", dbPath)
		if err != nil {
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("failed to open database after %d attempts: %w", maxRetries, err)
			}
			continue
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Minute * 5)

		// Configure SQLite pragmas for better concurrency and performance
		pragmas := []string{
			"PRAGMA busy_timeout = 10000", // 10 second timeout - set this FIRST
			"PRAGMA journal_mode = WAL",
			"PRAGMA foreign_keys = ON",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA cache_size = -64000",
			"PRAGMA temp_store = MEMORY",
		}

		pragmaFailed := false
		for _, pragma := range pragmas {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				if attempt == maxRetries-1 {
					return nil, fmt.Errorf("failed to set pragma %q after %d attempts: %w", pragma, maxRetries, err)
				}
				pragmaFailed = true
				break
			}
		}

		if pragmaFailed {
			continue
		}

		if err := createSchema(db); err != nil {
			db.Close()
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("failed to create schema after %d attempts: %w", maxRetries, err)
			}
			continue
		}

		return &DB{db: db}, nil
	}

	if db != nil {
		db.Close()
	}
	return nil, fmt.Errorf("failed to initialize database after %d attempts: %w", maxRetries, err)
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS backups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		backup_type TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		status TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		file_count INTEGER NOT NULL DEFAULT 0,
		table_count INTEGER NOT NULL DEFAULT 0,
		storage_key TEXT NOT NULL DEFAULT '',
		checksum TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		completed_at TIMESTAMP,
		expires_at TIMESTAMP,
		error TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_backups_status ON backups(status);
	CREATE INDEX IF NOT EXISTS idx_backups_created_at ON backups(created_at);
	CREATE INDEX IF NOT EXISTS idx_backups_trigger ON backups(trigger_type);

	CREATE TABLE IF NOT EXISTS backup_items (
		id TEXT PRIMARY KEY,
		backup_id TEXT NOT NULL REFERENCES backups(id) ON DELETE CASCADE,
		item_type TEXT NOT NULL,
		name TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		record_count INTEGER,
		storage_key TEXT NOT NULL,
		checksum TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_backup_items_backup ON backup_items(backup_id);
	CREATE INDEX IF NOT EXISTS idx_backup_items_status ON backup_items(status);

	CREATE TABLE IF NOT EXISTS rollbacks (
		id TEXT PRIMARY KEY,
		backup_id TEXT NOT NULL REFERENCES backups(id),
		rollback_type TEXT NOT NULL,
		status TEXT NOT NULL,
		table_names TEXT NOT NULL DEFAULT '[]',
		items_restored INTEGER NOT NULL DEFAULT 0,
		items_failed INTEGER NOT NULL DEFAULT 0,
		initiated_by TEXT NOT NULL,
		completed_at TIMESTAMP,
		error TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rollbacks_backup ON rollbacks(backup_id);
	CREATE INDEX IF NOT EXISTS idx_rollbacks_status ON rollbacks(status);

	CREATE TABLE IF NOT EXISTS backup_labels (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		color TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS backup_label_assignments (
		backup_id TEXT NOT NULL REFERENCES backups(id) ON DELETE CASCADE,
		label_id TEXT NOT NULL REFERENCES backup_labels(id) ON DELETE CASCADE,
		PRIMARY KEY (backup_id, label_id)
	);

	CREATE INDEX IF NOT EXISTS idx_label_assignments_label ON backup_label_assignments(label_id);

	CREATE TABLE IF NOT EXISTS activity_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		activity_type TEXT NOT NULL,
		backup_id TEXT,
		backup_name TEXT,
		actor_id TEXT NOT NULL,
		actor_name TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		origin TEXT,
		user_agent TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activity_type ON activity_log(activity_type);
	CREATE INDEX IF NOT EXISTS idx_activity_status ON activity_log(status);
	CREATE INDEX IF NOT EXISTS idx_activity_created_at ON activity_log(created_at);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// GetDB returns the underlying *sql.DB for use by other packages
func (d *DB) GetDB() *sql.DB {
	return d.db
}

// CleanupInterrupted marks backups and rollbacks that were in flight during
// a crash or restart as failed, so nothing is left pending forever.
func (d *DB) CleanupInterrupted(ctx context.Context) (int, error) {
	now := time.Now()
	total := 0

	res, err := d.db.ExecContext(ctx, `
		UPDATE backups
		SET status = 'failed', error = 'interrupted by restart', updated_at = ?
		WHERE status IN ('pending', 'in_progress')
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup interrupted backups: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += int(n)
	}

	res, err = d.db.ExecContext(ctx, `
		UPDATE rollbacks
		SET status = 'failed', error = 'interrupted by restart', updated_at = ?
		WHERE status IN ('pending', 'in_progress')
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup interrupted rollbacks: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += int(n)
	}

	return total, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	s := "?"
	for i := 1; i < n; i++ {
		s += ",?"
	}
	return s
}
