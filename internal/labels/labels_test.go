package labels

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
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
	db, err := database.InitDB(filepath.Join(t.TempDir(), "labels.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := activity.NewLog(db, zerolog.Nop())
	t.Cleanup(log.Close)
	return NewService(db, log, zerolog.Nop()), db, log
}

func seedBackup(t *testing.T, db *database.DB) *model.Backup {
	t.Helper()
	now := time.Now()
	b := &model.Backup{
		ID: uuid.NewString(), Name: "b", Type: model.BackupFull, Trigger: model.TriggerManual,
		Status: model.BackupCompleted, CreatedBy: "u1", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, db.CreateBackupWithItems(context.Background(), b, nil))
	return b
}

func TestCreate(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	l, err := s.Create(ctx, CreateRequest{Name: "pre-migration", Color: "#FF8800", Actor: alice})
	require.NoError(t, err)
	assert.NotEmpty(t, l.ID)
	assert.Equal(t, "u1", l.CreatedBy)

	_, err = s.Create(ctx, CreateRequest{Name: "pre-migration", Color: "#00FF00", Actor: alice})
	assert.ErrorIs(t, err, model.ErrConflict, "duplicate name")
}

func TestCreate_Validation(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		color string
	}{
		{"", "#FF8800"},
		{strings.Repeat("x", 51), "#FF8800"},
		{"ok", ""},
		{"ok", "#FFF"},
		{"ok", "#GGGGGG"},
		{"ok", "FF8800"},
		{"ok", "#FF8800extra"},
	}
	for _, tt := range tests {
		_, err := s.Create(ctx, CreateRequest{Name: tt.name, Color: tt.color, Actor: alice})
		assert.ErrorIs(t, err, model.ErrInvalidInput, "%q %q", tt.name, tt.color)
	}

	// 50 characters is still fine, both hex cases are accepted.
	_, err := s.Create(ctx, CreateRequest{Name: strings.Repeat("x", 50), Color: "#ab01EF", Actor: alice})
	assert.NoError(t, err)
}

func TestAssign_Idempotent(t *testing.T) {
	s, db, log := newService(t)
	ctx := context.Background()
	b := seedBackup(t, db)

	l, err := s.Create(ctx, CreateRequest{Name: "keep", Color: "#00FF00", Actor: alice})
	require.NoError(t, err)

	require.NoError(t, s.Assign(ctx, b.ID, l.ID, alice, ""))
	require.NoError(t, s.Assign(ctx, b.ID, l.ID, alice, ""))

	got, err := s.ForBackup(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "keep", got[0].Name)

	log.Flush()
	res, err := log.Query(ctx, database.ActivityFilter{Type: model.ActivityLabelAssigned})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Total, 1)
}

func TestAssign_MissingEither(t *testing.T) {
	s, db, _ := newService(t)
	ctx := context.Background()
	b := seedBackup(t, db)

	l, err := s.Create(ctx, CreateRequest{Name: "keep", Color: "#00FF00", Actor: alice})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Assign(ctx, "missing", l.ID, alice, ""), model.ErrNotFound)
	assert.ErrorIs(t, s.Assign(ctx, b.ID, "missing", alice, ""), model.ErrNotFound)
}

func TestRemove(t *testing.T) {
	s, db, _ := newService(t)
	ctx := context.Background()
	b := seedBackup(t, db)

	l, err := s.Create(ctx, CreateRequest{Name: "keep", Color: "#00FF00", Actor: alice})
	require.NoError(t, err)
	require.NoError(t, s.Assign(ctx, b.ID, l.ID, alice, ""))
	require.NoError(t, s.Remove(ctx, b.ID, l.ID, alice, ""))

	got, err := s.ForBackup(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDelete_CascadesAssignments(t *testing.T) {
	s, db, _ := newService(t)
	ctx := context.Background()
	first := seedBackup(t, db)
	second := seedBackup(t, db)

	l, err := s.Create(ctx, CreateRequest{Name: "temp", Color: "#112233", Actor: alice})
	require.NoError(t, err)
	require.NoError(t, s.Assign(ctx, first.ID, l.ID, alice, ""))
	require.NoError(t, s.Assign(ctx, second.ID, l.ID, alice, ""))

	require.NoError(t, s.Delete(ctx, l.ID, alice, ""))

	for _, b := range []*model.Backup{first, second} {
		got, err := s.ForBackup(ctx, b.ID)
		require.NoError(t, err)
		assert.Empty(t, got)
	}

	assert.ErrorIs(t, s.Delete(ctx, l.ID, alice, ""), model.ErrNotFound)

	// The label name is free again.
	_, err = s.Create(ctx, CreateRequest{Name: "temp", Color: "#112233", Actor: alice})
	assert.NoError(t, err)
}

func TestWithLabel(t *testing.T) {
	s, db, _ := newService(t)
	ctx := context.Background()
	first := seedBackup(t, db)
	second := seedBackup(t, db)
	other := seedBackup(t, db)

	l, err := s.Create(ctx, CreateRequest{Name: "keep", Color: "#00FF00", Actor: alice})
	require.NoError(t, err)
	require.NoError(t, s.Assign(ctx, first.ID, l.ID, alice, ""))
	require.NoError(t, s.Assign(ctx, second.ID, l.ID, alice, ""))

	got, err := s.WithLabel(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, b := range got {
		assert.NotEqual(t, other.ID, b.ID)
	}

	_, err = s.WithLabel(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestList_SortedByName(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := s.Create(ctx, CreateRequest{Name: name, Color: "#000000", Actor: alice})
		require.NoError(t, err)
	}
	got, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "alpha", got[0].Name)
	assert.Equal(t, "zeta", got[2].Name)
}
