package scheduler

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/polarfoxDev/ballast/internal/activity"
	"github.com/polarfoxDev/ballast/internal/catalog"
	"github.com/polarfoxDev/ballast/internal/database"
	"github.com/polarfoxDev/ballast/internal/model"
	"github.com/polarfoxDev/ballast/internal/retention"
	"github.com/polarfoxDev/ballast/internal/source"
	"github.com/polarfoxDev/ballast/internal/storage"
)

func newScheduler(t *testing.T) (*Scheduler, *database.DB) {
	t.Helper()
	dir := t.TempDir()

	db, err := database.InitDB(filepath.Join(dir, "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	appDB, err := sql.Open("sqlite", filepath.Join(dir, "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { appDB.Close() })
	_, err = appDB.Exec(`CREATE TABLE members (id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO members (name) VALUES ('x');`)
	require.NoError(t, err)

	store, err := storage.NewFileStore(filepath.Join(dir, "store"))
	require.NoError(t, err)

	log := activity.NewLog(db, zerolog.Nop())
	t.Cleanup(log.Close)

	backups := catalog.NewService(db, store, source.NewSQLSource(appDB), log, zerolog.Nop())
	ret := retention.NewEngine(db, log, zerolog.Nop())
	return New(db, backups, ret, zerolog.Nop()), db
}

func saveSchedule(t *testing.T, db *database.DB, enabled bool, cron string) {
	t.Helper()
	require.NoError(t, db.SaveScheduleState(context.Background(), model.ScheduleState{
		Enabled: enabled, Cron: cron, BackupType: model.BackupDatabase,
	}))
}

func TestTick_MatchingMinuteRunsBackup(t *testing.T) {
	s, db := newScheduler(t)
	ctx := context.Background()
	saveSchedule(t, db, true, "0 2 * * 0")

	sunday := time.Date(2026, 1, 11, 2, 0, 30, 0, time.UTC)
	outcome, err := s.Tick(ctx, sunday)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	backups, err := db.ListBackups(ctx, database.BackupFilter{})
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, model.TriggerScheduled, backups[0].Trigger)
	assert.Equal(t, model.BackupCompleted, backups[0].Status)
	assert.Equal(t, "system", backups[0].CreatedBy)

	state, err := db.LoadScheduleState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state.LastRun)
	assert.True(t, state.LastRun.Equal(sunday))
	require.NotNil(t, state.NextRun)
	assert.Equal(t, time.Date(2026, 1, 18, 2, 0, 0, 0, time.UTC), state.NextRun.UTC())
}

func TestTick_NonMatchingMinuteIsIdle(t *testing.T) {
	s, db := newScheduler(t)
	ctx := context.Background()
	saveSchedule(t, db, true, "0 2 * * 0")

	outcome, err := s.Tick(ctx, time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIdle, outcome)

	backups, err := db.ListBackups(ctx, database.BackupFilter{})
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestTick_DisabledSchedule(t *testing.T) {
	s, db := newScheduler(t)
	saveSchedule(t, db, false, "* * * * *")

	outcome, err := s.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, OutcomeIdle, outcome)
}

func TestTick_OverlapIsSkipped(t *testing.T) {
	s, db := newScheduler(t)
	saveSchedule(t, db, true, "* * * * *")

	s.running.Store(true)
	outcome, err := s.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)

	backups, err := db.ListBackups(context.Background(), database.BackupFilter{})
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestTick_InvalidCron(t *testing.T) {
	s, db := newScheduler(t)
	saveSchedule(t, db, true, "nonsense")

	outcome, err := s.Tick(context.Background(), time.Now())
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	assert.Equal(t, OutcomeFailed, outcome)
}

func TestRefreshNextRun(t *testing.T) {
	s, db := newScheduler(t)
	ctx := context.Background()
	saveSchedule(t, db, true, "0 2 * * 0")

	monday := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.RefreshNextRun(ctx, monday))

	state, err := db.LoadScheduleState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state.NextRun)
	assert.Equal(t, time.Date(2026, 1, 11, 2, 0, 0, 0, time.UTC), state.NextRun.UTC())

	saveSchedule(t, db, false, "0 2 * * 0")
	require.NoError(t, s.RefreshNextRun(ctx, monday))
	state, err = db.LoadScheduleState(ctx)
	require.NoError(t, err)
	assert.Nil(t, state.NextRun)
}
