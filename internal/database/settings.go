package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/polarfoxDev/ballast/internal/model"
)

// Settings keys. Free-form key/value rows; semantics live here.
const (
	keyScheduleEnabled  = "schedule.enabled"
	keyScheduleCron     = "schedule.cron"
	keyScheduleType     = "schedule.backup_type"
	keyScheduleLastRun  = "schedule.last_run"
	keyScheduleNextRun  = "schedule.next_run"
	keyRetentionEnabled = "retention.enabled"
	keyRetentionDays    = "retention.days"
	keyProtectLabeled   = "retention.protect_labeled"
	keyProtectManual    = "retention.protect_manual"
	keyRetentionCleanup = "retention.last_cleanup"
	keyRetentionDeleted = "retention.deleted_count"
)

func (d *DB) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, true, nil
}

func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// LoadScheduleState reads the scheduler settings, falling back to the
// defaults for keys that were never written.
func (d *DB) LoadScheduleState(ctx context.Context) (model.ScheduleState, error) {
	s := model.DefaultScheduleState()
	var err error
	if s.Enabled, err = d.boolSetting(ctx, keyScheduleEnabled, s.Enabled); err != nil {
		return s, err
	}
	if v, ok, err := d.GetSetting(ctx, keyScheduleCron); err != nil {
		return s, err
	} else if ok {
		s.Cron = v
	}
	if v, ok, err := d.GetSetting(ctx, keyScheduleType); err != nil {
		return s, err
	} else if ok {
		s.BackupType = model.BackupType(v)
	}
	if s.LastRun, err = d.timeSetting(ctx, keyScheduleLastRun); err != nil {
		return s, err
	}
	if s.NextRun, err = d.timeSetting(ctx, keyScheduleNextRun); err != nil {
		return s, err
	}
	return s, nil
}

func (d *DB) SaveScheduleState(ctx context.Context, s model.ScheduleState) error {
	pairs := map[string]string{
		keyScheduleEnabled: strconv.FormatBool(s.Enabled),
		keyScheduleCron:    s.Cron,
		keyScheduleType:    string(s.BackupType),
		keyScheduleLastRun: formatTime(s.LastRun),
		keyScheduleNextRun: formatTime(s.NextRun),
	}
	return d.setAll(ctx, pairs)
}

// LoadRetentionPolicy reads the retention settings, falling back to the
// defaults for keys that were never written.
func (d *DB) LoadRetentionPolicy(ctx context.Context) (model.RetentionPolicy, error) {
	p := model.DefaultRetentionPolicy()
	var err error
	if p.Enabled, err = d.boolSetting(ctx, keyRetentionEnabled, p.Enabled); err != nil {
		return p, err
	}
	if v, ok, err := d.GetSetting(ctx, keyRetentionDays); err != nil {
		return p, err
	} else if ok {
		if days, err := strconv.Atoi(v); err == nil {
			p.RetentionDays = days
		}
	}
	if p.ProtectLabeled, err = d.boolSetting(ctx, keyProtectLabeled, p.ProtectLabeled); err != nil {
		return p, err
	}
	if p.ProtectManual, err = d.boolSetting(ctx, keyProtectManual, p.ProtectManual); err != nil {
		return p, err
	}
	if p.LastCleanup, err = d.timeSetting(ctx, keyRetentionCleanup); err != nil {
		return p, err
	}
	if v, ok, err := d.GetSetting(ctx, keyRetentionDeleted); err != nil {
		return p, err
	} else if ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			p.DeletedCount = n
		}
	}
	return p, nil
}

func (d *DB) SaveRetentionPolicy(ctx context.Context, p model.RetentionPolicy) error {
	pairs := map[string]string{
		keyRetentionEnabled: strconv.FormatBool(p.Enabled),
		keyRetentionDays:    strconv.Itoa(p.RetentionDays),
		keyProtectLabeled:   strconv.FormatBool(p.ProtectLabeled),
		keyProtectManual:    strconv.FormatBool(p.ProtectManual),
		keyRetentionCleanup: formatTime(p.LastCleanup),
		keyRetentionDeleted: strconv.FormatInt(p.DeletedCount, 10),
	}
	return d.setAll(ctx, pairs)
}

func (d *DB) setAll(ctx context.Context, pairs map[string]string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for key, value := range pairs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, value, now); err != nil {
			return fmt.Errorf("failed to write setting %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settings: %w", err)
	}
	return nil
}

func (d *DB) boolSetting(ctx context.Context, key string, def bool) (bool, error) {
	v, ok, err := d.GetSetting(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, nil
	}
	return b, nil
}

func (d *DB) timeSetting(ctx context.Context, key string) (*time.Time, error) {
	v, ok, err := d.GetSetting(ctx, key)
	if err != nil || !ok || v == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, nil
	}
	return &t, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
