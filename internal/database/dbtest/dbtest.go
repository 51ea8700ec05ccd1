// Package dbtest provides throwaway migrated databases for tests.
package dbtest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ksdme/mailvault/internal/database"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

// Opens a migrated sqlite database inside the test's temp directory.
// It is closed when the test finishes.
func New(t testing.TB) *bun.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.sqlite3")
	db, err := database.Open(database.DriverSQLite, fmt.Sprintf("file:%s?_foreign_keys=on", path))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.Migrate(context.Background(), db))
	return db
}
