package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDBAppliesMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "menu.db")

	db, err := NewDB(path, nil)
	require.NoError(t, err)
	defer db.Close()

	var tables []string
	err = db.SQL.Select(&tables, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	require.NoError(t, err)

	assert.Contains(t, tables, "restaurants")
	assert.Contains(t, tables, "menu_items")
	assert.Contains(t, tables, "user_menus")
	assert.Contains(t, tables, "execution_metrics")
}

func TestRunMigrationsIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "menu.db")

	require.NoError(t, RunMigrations(path))
	require.NoError(t, RunMigrations(path))
}
