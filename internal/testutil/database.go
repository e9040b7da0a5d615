package testutil

import (
	"path/filepath"
	"testing"

	"menu-planner/internal/database"

	"github.com/jmoiron/sqlx"
)

// NewTestDatabase returns a migrated SQLite database that lives in the
// test's temporary directory.
func NewTestDatabase(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db.SQL
}
