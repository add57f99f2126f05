package settings

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarfoxDev/ballast/internal/activity"
	"github.com/polarfoxDev/ballast/internal/database"
	"github.com/polarfoxDev/ballast/internal/model"
)

var alice = model.Actor{ID: "u1", Name: "alice"}

func newService(t *testing.T) (*Service, *database.DB, *activity.Log) {
	t.Helper()
	db, err := database.InitDB(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := activity.NewLog(db, zerolog.Nop())
	t.Cleanup(log.Close)
	return NewService(db, log, zerolog.Nop()), db, log
}

func TestGetSchedule_Defaults(t *testing.T) {
	s, _, _ := newService(t)

	v, err := s.GetSchedule(context.Background())
	require.NoError(t, err)
	assert.True(t, v.Enabled)
	assert.Equal(t, "0 2 * * 0", v.Cron)
	assert.Equal(t, model.BackupFull, v.BackupType)
	assert.Equal(t, "Every Sunday at 2:00 AM", v.Description)
}

func TestUpdateSchedule(t *testing.T) {
	s, db, log := newService(t)
	ctx := context.Background()

	orig := nowFunc
	nowFunc = func() time.Time { return time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC) }
	defer func() { nowFunc = orig }()

	v, err := s.UpdateSchedule(ctx, ScheduleUpdate{
		Enabled: true, Cron: "30 3 * * *", BackupType: model.BackupDatabase,
	}, alice, "")
	require.NoError(t, err)
	assert.Equal(t, "Daily at 3:30 AM", v.Description)
	require.NotNil(t, v.NextRun)
	assert.Equal(t, time.Date(2026, 1, 6, 3, 30, 0, 0, time.UTC), v.NextRun.UTC())

	state, err := db.LoadScheduleState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "30 3 * * *", state.Cron)
	assert.Equal(t, model.BackupDatabase, state.BackupType)

	log.Flush()
	res, err := log.Query(ctx, database.ActivityFilter{Type: model.ActivityScheduleChanged})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	assert.Contains(t, res.Entries[0].Details, "Daily at 3:30 AM")
}

func TestUpdateSchedule_DisableClearsNextRun(t *testing.T) {
	s, _, _ := newService(t)

	v, err := s.UpdateSchedule(context.Background(), ScheduleUpdate{
		Enabled: false, Cron: "0 2 * * 0", BackupType: model.BackupFull,
	}, alice, "")
	require.NoError(t, err)
	assert.Nil(t, v.NextRun)
}

func TestUpdateSchedule_Validation(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	_, err := s.UpdateSchedule(ctx, ScheduleUpdate{Enabled: true, Cron: "bad", BackupType: model.BackupFull}, alice, "")
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = s.UpdateSchedule(ctx, ScheduleUpdate{Enabled: true, Cron: "0 2 * * 0", BackupType: model.BackupPreUpdate}, alice, "")
	assert.ErrorIs(t, err, model.ErrInvalidInput, "pre-update backups are not schedulable")
}

func TestUpdateRetention(t *testing.T) {
	s, db, _ := newService(t)
	ctx := context.Background()

	// Simulate an earlier cleanup so the counters must survive the update.
	seeded := model.DefaultRetentionPolicy()
	seeded.DeletedCount = 7
	now := time.Now()
	seeded.LastCleanup = &now
	require.NoError(t, db.SaveRetentionPolicy(ctx, seeded))

	got, err := s.UpdateRetention(ctx, RetentionUpdate{
		Enabled: true, RetentionDays: 14, ProtectLabeled: true, ProtectManual: false,
	}, alice, "")
	require.NoError(t, err)
	assert.Equal(t, 14, got.RetentionDays)
	assert.False(t, got.ProtectManual)
	assert.Equal(t, int64(7), got.DeletedCount)
	require.NotNil(t, got.LastCleanup)

	_, err = s.UpdateRetention(ctx, RetentionUpdate{Enabled: true, RetentionDays: 0}, alice, "")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestUpdateRetention_Bounds(t *testing.T) {
	s, db, _ := newService(t)
	ctx := context.Background()

	for _, days := range []int{-1, 0, 366, 4000} {
		_, err := s.UpdateRetention(ctx, RetentionUpdate{Enabled: true, RetentionDays: days}, alice, "")
		assert.ErrorIs(t, err, model.ErrInvalidInput, "days=%d", days)
	}

	// The rejected updates must not have touched the stored policy.
	policy, err := db.LoadRetentionPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultRetentionPolicy().RetentionDays, policy.RetentionDays)

	got, err := s.UpdateRetention(ctx, RetentionUpdate{Enabled: true, RetentionDays: 365}, alice, "")
	require.NoError(t, err)
	assert.Equal(t, 365, got.RetentionDays)
}
