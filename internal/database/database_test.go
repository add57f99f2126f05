package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarfoxDev/ballast/internal/model"
)

func newDB(t *testing.T) *DB {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *DB, b model.Backup, items ...model.BackupItem) model.Backup {
	t.Helper()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	b.UpdatedAt = b.CreatedAt
	for i := range items {
		items[i].ID = uuid.NewString()
		items[i].BackupID = b.ID
	}
	require.NoError(t, db.CreateBackupWithItems(context.Background(), &b, items))
	return b
}

func TestBackupRoundtrip(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	rc := 42
	now := time.Now()
	b := seed(t, db, model.Backup{
		Name: "nightly", Description: "desc", Type: model.BackupFull,
		Trigger: model.TriggerManual, Status: model.BackupPending,
		CreatedBy: "u1", Metadata: map[string]string{"k": "v"}, CreatedAt: now,
	}, model.BackupItem{
		Type: model.ItemTable, Name: "forum_posts", SizeBytes: 10,
		RecordCount: &rc, StorageKey: "k", Checksum: "c", Status: model.ItemPending,
	})

	got, err := db.GetBackup(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "nightly", got.Name)
	assert.Equal(t, map[string]string{"k": "v"}, got.Metadata)
	assert.Nil(t, got.CompletedAt)

	items, err := db.GetItems(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].RecordCount)
	assert.Equal(t, 42, *items[0].RecordCount)

	missing, err := db.GetBackup(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListBackups_Filters(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	now := time.Now()

	seed(t, db, model.Backup{Name: "old", Type: model.BackupFull, Trigger: model.TriggerAutomatic,
		Status: model.BackupCompleted, CreatedBy: "s", CreatedAt: now.Add(-48 * time.Hour)})
	seed(t, db, model.Backup{Name: "manual", Type: model.BackupDatabase, Trigger: model.TriggerManual,
		Status: model.BackupCompleted, CreatedBy: "u1", CreatedAt: now.Add(-time.Hour)})
	seed(t, db, model.Backup{Name: "broken", Type: model.BackupFull, Trigger: model.TriggerAutomatic,
		Status: model.BackupFailed, CreatedBy: "s", CreatedAt: now})

	all, err := db.ListBackups(ctx, BackupFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "broken", all[0].Name, "newest first")

	completed, err := db.ListBackups(ctx, BackupFilter{Statuses: []model.BackupStatus{model.BackupCompleted}})
	require.NoError(t, err)
	assert.Len(t, completed, 2)

	manual, err := db.ListBackups(ctx, BackupFilter{Trigger: model.TriggerManual})
	require.NoError(t, err)
	require.Len(t, manual, 1)
	assert.Equal(t, "manual", manual[0].Name)

	old, err := db.ListBackups(ctx, BackupFilter{CreatedBefore: now.Add(-24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, "old", old[0].Name)

	paged, err := db.ListBackups(ctx, BackupFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "manual", paged[0].Name)
}

func TestUpdateBackup_Missing(t *testing.T) {
	db := newDB(t)
	b := model.Backup{ID: "ghost", Name: "x", Type: model.BackupFull, Trigger: model.TriggerManual,
		Status: model.BackupPending, CreatedBy: "u", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	assert.Error(t, db.UpdateBackup(context.Background(), &b))
}

func TestScheduleStateRoundtrip(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	// Unset settings fall back to the default weekly schedule.
	state, err := db.LoadScheduleState(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultScheduleState().Cron, state.Cron)

	last := time.Date(2026, 1, 11, 2, 0, 0, 0, time.UTC)
	next := last.AddDate(0, 0, 7)
	state = model.ScheduleState{Enabled: false, Cron: "30 4 * * *", BackupType: model.BackupDatabase,
		LastRun: &last, NextRun: &next}
	require.NoError(t, db.SaveScheduleState(ctx, state))

	got, err := db.LoadScheduleState(ctx)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, "30 4 * * *", got.Cron)
	require.NotNil(t, got.LastRun)
	assert.True(t, got.LastRun.Equal(last))
	require.NotNil(t, got.NextRun)
	assert.True(t, got.NextRun.Equal(next))
}

func TestRetentionPolicyRoundtrip(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	policy, err := db.LoadRetentionPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultRetentionPolicy(), policy)

	policy.RetentionDays = 14
	policy.ProtectManual = false
	policy.DeletedCount = 3
	now := time.Now().Truncate(time.Second)
	policy.LastCleanup = &now
	require.NoError(t, db.SaveRetentionPolicy(ctx, policy))

	got, err := db.LoadRetentionPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 14, got.RetentionDays)
	assert.False(t, got.ProtectManual)
	assert.Equal(t, int64(3), got.DeletedCount)
	require.NotNil(t, got.LastCleanup)
	assert.True(t, got.LastCleanup.Equal(now))
}

func TestCleanupInterrupted(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	stuck := seed(t, db, model.Backup{Name: "stuck", Type: model.BackupFull, Trigger: model.TriggerScheduled,
		Status: model.BackupInProgress, CreatedBy: "s"})
	fine := seed(t, db, model.Backup{Name: "fine", Type: model.BackupFull, Trigger: model.TriggerManual,
		Status: model.BackupCompleted, CreatedBy: "u"})

	now := time.Now()
	r := model.Rollback{ID: uuid.NewString(), BackupID: fine.ID, Type: model.RollbackFull,
		Status: model.RollbackInProgress, InitiatedBy: "u", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateRollback(ctx, &r))

	n, err := db.CleanupInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := db.GetBackup(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BackupFailed, got.Status)
	assert.Equal(t, "interrupted by restart", got.Error)

	kept, err := db.GetBackup(ctx, fine.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BackupCompleted, kept.Status)

	rb, err := db.GetRollback(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RollbackFailed, rb.Status)
}
