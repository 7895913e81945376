package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/bitechdev/TableSpec/pkg/logger"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"
)

// Options configures Open.
type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// SlowThreshold logs statements that take longer at warn level. Zero disables it.
	SlowThreshold time.Duration
}

// zapWriter routes gorm's logger output to the package logger.
type zapWriter struct{}

func (zapWriter) Printf(format string, args ...interface{}) {
	logger.Debug(strings.TrimSpace(format), args...)
}

// Open connects with the configured driver and applies the pool settings.
func Open(opts Options) (*GormAdapter, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(opts.Driver) {
	case "postgres", "postgresql", "pgx":
		dialector = postgres.Open(opts.DSN)
	case "sqlite", "sqlite3", "":
		dialector = sqlite.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	gormLogger := gormlog.New(zapWriter{}, gormlog.Config{
		SlowThreshold:             opts.SlowThreshold,
		LogLevel:                  gormlog.Warn,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
		Colorful:                  false,
	})

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", opts.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("obtain connection pool: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	adapter := NewGormAdapter(db)
	adapter.slow = opts.SlowThreshold
	logger.Info("Connected to %s database", adapter.Dialect())
	return adapter, nil
}
