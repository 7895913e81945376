package common

import (
	"context"
	"database/sql"
)

// Dialect names the relational backend behind a Database.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Database is the handle every component receives explicitly. Statements are
// passed to the driver untouched, so placeholders must already match Dialect.
type Database interface {
	Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
	// WithConnection pins a single pooled connection for the duration of fn
	// and returns it to the pool afterwards, whatever fn returns.
	WithConnection(ctx context.Context, fn func(Database) error) error
	Ping(ctx context.Context) error
	Dialect() Dialect
}

type Result interface {
	RowsAffected() int64
}
