package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ballast.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/ballast/ballast.db
storage:
  root: /var/lib/ballast/store
source:
  database:
    path: /srv/app/app.db
    exclude:
      - sessions
      - cache
  files:
    root: /srv/app/uploads
  config:
    root: /srv/app/config
api:
  listen: ":9090"
  corsOrigins:
    - https://admin.example.org
logging:
  level: debug
  pretty: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/ballast/ballast.db", cfg.Database.Path)
	assert.Equal(t, "/var/lib/ballast/store", cfg.Storage.Root)
	assert.Equal(t, []string{"sessions", "cache"}, cfg.Source.Database.Exclude)
	assert.Equal(t, "/srv/app/uploads", cfg.Source.Files.Root)
	assert.Equal(t, ":9090", cfg.API.Listen)
	assert.Equal(t, []string{"https://admin.example.org"}, cfg.API.CORSOrigins)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Pretty)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/ballast.db
storage:
  root: /tmp/store
source:
  database:
    path: /tmp/app.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.API.Listen)
	assert.Equal(t, []string{"*"}, cfg.API.CORSOrigins)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Pretty)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("BALLAST_DATA", "/data/ballast")
	t.Setenv("APP_DB", "app.db")

	path := writeConfig(t, `
database:
  path: ${BALLAST_DATA}/ballast.db
storage:
  root: $BALLAST_DATA/store
source:
  database:
    path: ${BALLAST_DATA}/${APP_DB}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/ballast/ballast.db", cfg.Database.Path)
	assert.Equal(t, "/data/ballast/store", cfg.Storage.Root)
	assert.Equal(t, "/data/ballast/app.db", cfg.Source.Database.Path)
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no database path", "storage:\n  root: /tmp/store\nsource:\n  database:\n    path: /tmp/app.db\n"},
		{"no storage root", "database:\n  path: /tmp/b.db\nsource:\n  database:\n    path: /tmp/app.db\n"},
		{"no source database", "database:\n  path: /tmp/b.db\nstorage:\n  root: /tmp/store\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_FileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "database: [not a mapping"))
	assert.Error(t, err)
}
