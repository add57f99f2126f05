package source

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/polarfoxDev/ballast/internal/checksum"
	"github.com/polarfoxDev/ballast/internal/model"
)

func openAppDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE forum_posts (id INTEGER PRIMARY KEY, author TEXT, body TEXT);
		CREATE TABLE classifieds (id INTEGER PRIMARY KEY, title TEXT, price REAL);
		INSERT INTO forum_posts (author, body) VALUES ('alice', 'first post'), ('bob', 'second post');
		INSERT INTO classifieds (title, price) VALUES ('bike', 120.5);
	`)
	require.NoError(t, err)
	return db
}

func TestSQLSource_UnitsListsTables(t *testing.T) {
	src := NewSQLSource(openAppDB(t))
	units, err := src.Units(context.Background(), []model.ItemType{model.ItemTable})
	require.NoError(t, err)

	names := make([]string, len(units))
	for i, u := range units {
		names[i] = u.Name
	}
	assert.Equal(t, []string{"classifieds", "forum_posts"}, names)
}

func TestSQLSource_UnitsRespectsExclude(t *testing.T) {
	src := NewSQLSource(openAppDB(t), "classifieds")
	units, err := src.Units(context.Background(), []model.ItemType{model.ItemTable})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "forum_posts", units[0].Name)
}

func TestSQLSource_UnitsEmptyForNonTableTypes(t *testing.T) {
	src := NewSQLSource(openAppDB(t))
	units, err := src.Units(context.Background(), []model.ItemType{model.ItemFile, model.ItemConfig})
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestSQLSource_DumpProducesRecordStream(t *testing.T) {
	src := NewSQLSource(openAppDB(t))
	unit := Unit{Type: model.ItemTable, Name: "forum_posts"}

	content, count, err := src.Dump(context.Background(), unit)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	parsed, err := checksum.CountRecords(content)
	require.NoError(t, err)
	assert.Equal(t, count, parsed)
}

func TestSQLSource_RestoreRoundTrip(t *testing.T) {
	db := openAppDB(t)
	src := NewSQLSource(db)
	ctx := context.Background()
	unit := Unit{Type: model.ItemTable, Name: "forum_posts"}

	content, _, err := src.Dump(ctx, unit)
	require.NoError(t, err)

	// Mutate live data, then restore the dump over it.
	_, err = db.Exec(`DELETE FROM forum_posts; INSERT INTO forum_posts (author, body) VALUES ('eve', 'tampered')`)
	require.NoError(t, err)

	require.NoError(t, src.Restore(ctx, unit, content))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM forum_posts`).Scan(&n))
	assert.Equal(t, 2, n)

	var author string
	require.NoError(t, db.QueryRow(`SELECT author FROM forum_posts WHERE id = 1`).Scan(&author))
	assert.Equal(t, "alice", author)
}

func TestSQLSource_RejectsBadTableName(t *testing.T) {
	src := NewSQLSource(openAppDB(t))
	_, _, err := src.Dump(context.Background(), Unit{Type: model.ItemTable, Name: `posts"; DROP TABLE x--`})
	assert.Error(t, err)
}

func TestFileSource_WalkDumpRestore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "avatars"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "avatars", "a.png"), []byte("png-bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "banner.jpg"), []byte("jpg-bytes"), 0o644))

	src := NewFileSource(root, model.ItemFile)
	ctx := context.Background()

	units, err := src.Units(ctx, []model.ItemType{model.ItemFile})
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "avatars/a.png", units[0].Name)

	content, count, err := src.Dump(ctx, units[0])
	require.NoError(t, err)
	assert.Equal(t, -1, count)
	assert.Equal(t, []byte("png-bytes"), content)

	require.NoError(t, os.Remove(filepath.Join(root, "avatars", "a.png")))
	require.NoError(t, src.Restore(ctx, units[0], content))
	restored, err := os.ReadFile(filepath.Join(root, "avatars", "a.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), restored)
}

func TestComposite_RoutesByType(t *testing.T) {
	db := openAppDB(t)
	tables := NewSQLSource(db)
	files := NewFileSource(t.TempDir(), model.ItemFile)

	src := NewComposite(tables, files).
		Route(model.ItemTable, tables).
		Route(model.ItemFile, files)

	units, err := src.Units(context.Background(), []model.ItemType{model.ItemTable, model.ItemFile})
	require.NoError(t, err)
	assert.Len(t, units, 2) // two tables, no files

	_, count, err := src.Dump(context.Background(), Unit{Type: model.ItemTable, Name: "classifieds"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
