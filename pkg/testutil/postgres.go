package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bitechdev/TableSpec/pkg/common/adapters/database"
	"github.com/bitechdev/TableSpec/pkg/logger"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

// PostgresConfig holds the credentials of the throwaway container.
type PostgresConfig struct {
	User     string
	Password string
	Database string

	// HostPort is populated after the container is started.
	HostPort string
}

func (c *PostgresConfig) ConnectionURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", c.User, c.Password, c.HostPort, c.Database)
}

func NewPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		User:     "tablespec",
		Password: "supersecret",
		Database: "tablespec",
	}
}

// OpenPostgres starts a PostgreSQL container and connects to it. The test is
// skipped in -short mode or when no Docker daemon is reachable. The container
// is purged when the test finishes.
func OpenPostgres(t testing.TB) *database.GormAdapter {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL tests in short mode")
	}
	if logger.Logger == nil {
		logger.Init(true, "warn")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker is not available: %s", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker is not reachable: %s", err)
	}

	cfg := NewPostgresConfig()
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16",
		Env: []string{
			fmt.Sprintf("POSTGRES_PASSWORD=%s", cfg.Password),
			fmt.Sprintf("POSTGRES_USER=%s", cfg.User),
			fmt.Sprintf("POSTGRES_DB=%s", cfg.Database),
			"listen_addresses = '*'",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{
			Name: "no",
		}
	})
	if err != nil {
		t.Fatalf("starting postgres container: %s", err)
	}
	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Logf("purging postgres container: %s", err)
		}
	})
	_ = resource.Expire(600)

	cfg.HostPort = resource.GetHostPort("5432/tcp")
	pool.MaxWait = 120 * time.Second

	var db *database.GormAdapter
	if err := pool.Retry(func() error {
		conn, err := database.Open(database.Options{Driver: "postgres", DSN: cfg.ConnectionURL()})
		if err != nil {
			return err
		}
		if err := conn.Ping(context.Background()); err != nil {
			_ = conn.Close()
			return err
		}
		db = conn
		return nil
	}); err != nil {
		t.Fatalf("could not connect to postgres: %s", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// GroupsSchemaPostgres is GroupsSchema for PostgreSQL, with a natural unique
// key on sap_field_name and indexes the unique-key discovery must ignore.
var GroupsSchemaPostgres = []string{
	`CREATE TABLE "groups" (
	id SERIAL PRIMARY KEY,
	sap_field_name VARCHAR(40) UNIQUE,
	db_field_name VARCHAR(40),
	description TEXT,
	amount NUMERIC(10,2),
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE UNIQUE INDEX groups_lower_description ON "groups" (lower(description))`,
	`CREATE UNIQUE INDEX groups_db_field_active ON "groups" (db_field_name) WHERE status = 'active'`,
	`CREATE UNIQUE INDEX groups_db_field_status ON "groups" (db_field_name, status)`,
}
