package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestDB opens a fresh migrated database in a per-test temp directory.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "opening test database should succeed")
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(db), "migrations should apply cleanly")
	return db
}
