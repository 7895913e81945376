package database

import (
	"context"
	"embed"
	"fmt"

	"github.com/bitechdev/TableSpec/pkg/common"
	"github.com/bitechdev/TableSpec/pkg/logger"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...interface{}) { logger.Info(format, v...) }
func (gooseLogger) Fatalf(format string, v ...interface{}) { logger.Fatal(format, v...) }

// Migrate creates the category registry tables. Data tables are never touched.
func (g *GormAdapter) Migrate(ctx context.Context) error {
	if g.sqlDB == nil {
		return common.Errorf(common.KindDatabase, "database handle is not available")
	}

	dialect := "sqlite3"
	if g.dialect == common.DialectPostgres {
		dialect = "postgres"
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, g.sqlDB, "migrations"); err != nil {
		return fmt.Errorf("apply registry migrations: %w", err)
	}
	return nil
}
