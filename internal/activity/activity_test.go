package activity

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarfoxDev/ballast/internal/database"
	"github.com/polarfoxDev/ballast/internal/model"
)

func setupLog(t *testing.T) (*Log, *database.DB) {
	t.Helper()
	db, err := database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	l := NewLog(db, zerolog.Nop())
	t.Cleanup(l.Close)
	return l, db
}

func TestLog_RecordAndQuery(t *testing.T) {
	l, _ := setupLog(t)
	ctx := context.Background()

	l.Record(model.ActivityEntry{
		Type:       model.ActivityBackupCreated,
		BackupID:   "b1",
		BackupName: "nightly",
		ActorID:    "u1",
		ActorName:  "alice",
		Details:    "manual full backup",
	})
	l.Record(model.ActivityEntry{
		Type:      model.ActivityIntegrityCheck,
		BackupID:  "b1",
		ActorID:   "u1",
		ActorName: "alice",
		Status:    model.ActivityWarning,
	})
	l.Flush()

	res, err := l.Query(ctx, database.ActivityFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.False(t, res.HasMore)

	// Filter by type
	res, err = l.Query(ctx, database.ActivityFilter{Type: model.ActivityBackupCreated})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "nightly", res.Entries[0].BackupName)
	assert.Equal(t, model.ActivitySuccess, res.Entries[0].Status)
}

func TestLog_QueryPagination(t *testing.T) {
	l, _ := setupLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.Record(model.ActivityEntry{
			Type:      model.ActivityBackupCreated,
			ActorID:   "u1",
			ActorName: "alice",
		})
	}
	l.Flush()

	res, err := l.Query(ctx, database.ActivityFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, res.Entries, 2)
	assert.Equal(t, 5, res.Total)
	assert.True(t, res.HasMore)

	res, err = l.Query(ctx, database.ActivityFilter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, res.Entries, 1)
	assert.False(t, res.HasMore)
}

func TestLog_BackupNameSurvivesDeletion(t *testing.T) {
	l, db := setupLog(t)
	ctx := context.Background()

	now := time.Now()
	b := &model.Backup{
		ID: "b1", Name: "pre-upgrade", Type: model.BackupFull, Trigger: model.TriggerManual,
		Status: model.BackupPending, CreatedBy: "u1", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, db.CreateBackupWithItems(ctx, b, nil))

	l.Record(model.ActivityEntry{
		Type: model.ActivityBackupDeleted, BackupID: b.ID, BackupName: b.Name,
		ActorID: "u1", ActorName: "alice",
	})
	l.Flush()

	// Hard-delete the backup row; the denormalized name must survive.
	_, err := db.GetDB().Exec(`DELETE FROM backup_items WHERE backup_id = 'b1'`)
	require.NoError(t, err)
	_, err = db.GetDB().Exec(`DELETE FROM backups WHERE id = 'b1'`)
	require.NoError(t, err)

	res, err := l.Query(ctx, database.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "pre-upgrade", res.Entries[0].BackupName)
}

func TestLog_Stats(t *testing.T) {
	l, _ := setupLog(t)
	ctx := context.Background()

	l.Record(model.ActivityEntry{Type: model.ActivityBackupCreated, ActorID: "u1", ActorName: "a"})
	l.Record(model.ActivityEntry{Type: model.ActivityBackupCreated, ActorID: "u1", ActorName: "a", Status: model.ActivityFailed})
	l.Record(model.ActivityEntry{Type: model.ActivityRetentionCleanup, ActorID: "system", ActorName: "System", Status: model.ActivityWarning})
	l.Flush()

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalActivities)
	assert.Equal(t, 1, stats.SuccessCount)
	assert.Equal(t, 1, stats.FailedCount)
	assert.Equal(t, 1, stats.WarningCount)
	assert.Equal(t, 2, stats.ByType[model.ActivityBackupCreated])
}

func TestLog_QueryTimeWindow(t *testing.T) {
	l, _ := setupLog(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{0, time.Hour, 2 * time.Hour} {
		l.Record(model.ActivityEntry{
			Type: model.ActivityBackupCreated, ActorID: "u1", ActorName: "a",
			CreatedAt: base.Add(offset),
		})
	}
	l.Flush()

	res, err := l.Query(ctx, database.ActivityFilter{Since: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)

	res, err = l.Query(ctx, database.ActivityFilter{
		Since: base.Add(30 * time.Minute),
		Until: base.Add(90 * time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, base.Add(time.Hour), res.Entries[0].CreatedAt.UTC())
}

func TestLog_Stats_TodayBoundary(t *testing.T) {
	l, _ := setupLog(t)
	ctx := context.Background()

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	l.Record(model.ActivityEntry{
		Type: model.ActivityBackupCreated, ActorID: "u1", ActorName: "a",
		CreatedAt: midnight.Add(time.Second),
	})
	l.Record(model.ActivityEntry{
		Type: model.ActivityBackupCreated, ActorID: "u1", ActorName: "a",
		CreatedAt: midnight.Add(-time.Second),
	})
	l.Flush()

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalActivities)
	assert.Equal(t, 1, stats.TodayActivities, "today starts at local midnight")
}

func TestLog_ExportCSV(t *testing.T) {
	l, _ := setupLog(t)
	ctx := context.Background()

	l.Record(model.ActivityEntry{
		Type: model.ActivityBackupCreated, BackupID: "b1", BackupName: "nightly",
		ActorID: "u1", ActorName: "alice", Details: "details, with comma",
	})
	l.Flush()

	var buf bytes.Buffer
	require.NoError(t, l.Export(ctx, database.ActivityFilter{}, CSVRenderer{}, &buf, false))

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "backup_name")
	assert.Contains(t, lines[1], "nightly")
	assert.Contains(t, lines[1], `"details, with comma"`)
}

func TestLog_RecordNeverBlocksWhenClosed(t *testing.T) {
	db, err := database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	l := NewLog(db, zerolog.Nop())
	l.Close()

	done := make(chan struct{})
	go func() {
		l.Record(model.ActivityEntry{Type: model.ActivityBackupCreated, ActorID: "u1", ActorName: "a"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked after Close")
	}
}

func TestExportFilename(t *testing.T) {
	name := ExportFilename(CSVRenderer{})
	assert.True(t, strings.HasPrefix(name, "activity-log-"))
	assert.True(t, strings.HasSuffix(name, ".csv"))
}
