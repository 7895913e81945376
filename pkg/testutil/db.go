// Package testutil holds helpers shared by package tests that need a real
// database.
package testutil

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/bitechdev/TableSpec/pkg/common"
	"github.com/bitechdev/TableSpec/pkg/common/adapters/database"
	"github.com/bitechdev/TableSpec/pkg/logger"
	"github.com/stretchr/testify/require"
)

// OpenSQLite opens a file-backed SQLite database in a per-test directory.
func OpenSQLite(t testing.TB) *database.GormAdapter {
	t.Helper()
	if logger.Logger == nil {
		logger.Init(true, "warn")
	}

	db, err := database.Open(database.Options{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Exec runs each statement and fails the test on the first error.
func Exec(t testing.TB, db common.Database, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		_, err := db.Exec(context.Background(), stmt)
		require.NoError(t, err, "Failed to execute %q", stmt)
	}
}

// Count returns the number of rows in table.
func Count(t testing.TB, db common.Database, table string) int64 {
	t.Helper()
	rows, err := db.Query(context.Background(), "SELECT COUNT(*) FROM "+common.QuoteIdent(table))
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var n int64
	require.NoError(t, rows.Scan(&n))
	return n
}

// Registry creates the category registry tables and registers each
// category→table pair. An empty table registers an unconfigured category.
func Registry(t testing.TB, db *database.GormAdapter, categories map[string]string) {
	t.Helper()
	require.NoError(t, db.Migrate(context.Background()))
	for name, table := range categories {
		var value interface{}
		if table != "" {
			value = table
		}
		_, err := db.Exec(context.Background(), `INSERT INTO categories (name, data_table) VALUES (`+placeholders(db, 2)+`)`, name, value)
		require.NoError(t, err)
	}
}

func placeholders(db common.Database, n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = "?"
		if db.Dialect() == common.DialectPostgres {
			marks[i] = "$" + strconv.Itoa(i+1)
		}
	}
	return strings.Join(marks, ", ")
}

// GroupsSchema is a master-data table shaped like a typical upload target.
const GroupsSchema = `CREATE TABLE "groups" (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sap_field_name VARCHAR(40),
	db_field_name VARCHAR(40),
	description TEXT,
	amount NUMERIC(10,2),
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`
