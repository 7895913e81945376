package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitechdev/TableSpec/pkg/common/adapters/database"
	"github.com/bitechdev/TableSpec/pkg/config"
	"github.com/bitechdev/TableSpec/pkg/logger"
	"github.com/bitechdev/TableSpec/pkg/metrics"
	"github.com/bitechdev/TableSpec/pkg/querybuilder"
	"github.com/bitechdev/TableSpec/pkg/tablespec"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := pflag.String("config", "", "path to the YAML configuration file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tablespec: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Log.Dev, cfg.Log.Level)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("Server stopped: %+v", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	db, err := database.Open(cfg.Database.Options())
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	handler := tablespec.NewHandler(db, tablespec.Options{
		Registry:       cfg.Registry.Category(),
		DefaultSchema:  cfg.Database.Schema,
		Limits:         cfg.Query.Limits(),
		SearchMode:     querybuilder.ParseSearchMode(cfg.Query.SearchMode),
		BatchSize:      cfg.Upload.BatchSize,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      tablespec.NewRouter(cfg.Server.Router, handler, metrics.NewRegistry()),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server on %s (router=%s)", cfg.Server.Address, cfg.Server.Router)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
