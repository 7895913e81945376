package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/bitechdev/TableSpec/pkg/common"
	"github.com/bitechdev/TableSpec/pkg/logger"
	"gorm.io/gorm"
)

// GormAdapter adapts GORM to work with our Database interface.
//
// Statements are built with dialect-native placeholders, so they are sent
// straight to the underlying connection pool instead of going through
// gorm's own placeholder rewriting.
type GormAdapter struct {
	db      *gorm.DB
	sqlDB   *sql.DB
	dialect common.Dialect
	slow    time.Duration
}

// NewGormAdapter creates a new GORM adapter
func NewGormAdapter(db *gorm.DB) *GormAdapter {
	sqlDB, err := db.DB()
	if err != nil {
		logger.Warn("Unable to obtain sql.DB from gorm: %v", err)
	}
	return &GormAdapter{db: db, sqlDB: sqlDB, dialect: dialectOf(db)}
}

func dialectOf(db *gorm.DB) common.Dialect {
	if db.Dialector != nil && db.Dialector.Name() == "postgres" {
		return common.DialectPostgres
	}
	return common.DialectSQLite
}

func (g *GormAdapter) child(tx *gorm.DB) *GormAdapter {
	return &GormAdapter{db: tx, sqlDB: g.sqlDB, dialect: g.dialect, slow: g.slow}
}

// Gorm exposes the wrapped *gorm.DB
func (g *GormAdapter) Gorm() *gorm.DB {
	return g.db
}

func (g *GormAdapter) Dialect() common.Dialect {
	return g.dialect
}

func (g *GormAdapter) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	logger.Debug("query: %s", query)
	defer g.trace(time.Now(), query)
	rows, err := g.db.WithContext(ctx).Statement.ConnPool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Classify("query", err)
	}
	return rows, nil
}

func (g *GormAdapter) Exec(ctx context.Context, query string, args ...interface{}) (common.Result, error) {
	logger.Debug("exec: %s", query)
	defer g.trace(time.Now(), query)
	res, err := g.db.WithContext(ctx).Statement.ConnPool.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, Classify("exec", err)
	}
	return &sqlResult{res: res}, nil
}

func (g *GormAdapter) trace(begin time.Time, query string) {
	if g.slow <= 0 {
		return
	}
	if elapsed := time.Since(begin); elapsed > g.slow {
		logger.Warn("slow statement (%s > %s): %s", elapsed, g.slow, query)
	}
}

// WithConnection pins a single pooled connection for the duration of fn.
func (g *GormAdapter) WithConnection(ctx context.Context, fn func(common.Database) error) error {
	entered := false
	err := g.db.WithContext(ctx).Connection(func(tx *gorm.DB) error {
		entered = true
		return fn(g.child(tx))
	})
	if err != nil && !entered {
		return Classify("connection", err)
	}
	return err
}

func (g *GormAdapter) Ping(ctx context.Context) error {
	if g.sqlDB == nil {
		return common.Errorf(common.KindDatabase, "database handle is not available")
	}
	if err := g.sqlDB.PingContext(ctx); err != nil {
		return Classify("ping", err)
	}
	return nil
}

// Close releases the underlying pool.
func (g *GormAdapter) Close() error {
	if g.sqlDB == nil {
		return nil
	}
	return g.sqlDB.Close()
}

type sqlResult struct {
	res sql.Result
}

func (r *sqlResult) RowsAffected() int64 {
	if r.res == nil {
		return 0
	}
	n, err := r.res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
