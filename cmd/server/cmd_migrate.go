package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dextra-ledger/internal/storage/migrations"
	pgstore "dextra-ledger/internal/storage/postgres"
)

var cmdMigrate = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the PostgreSQL and ClickHouse schemas",
	Args:  cobra.NoArgs,
	Run:   migrate,
}

func init() {
	cmdMain.AddCommand(cmdMigrate)
}

func migrate(cmd *cobra.Command, _ []string) {
	cfg, logger := loadConfig(cmd)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.UseMemory {
		logger.Info("in-memory storage selected, nothing to migrate")
		return
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, 1)
	checkf(err, "connect postgres")
	defer pool.Close()

	applied, err := migrations.RunPostgresMigrations(ctx, pool, logger)
	checkf(err, "postgres migrations")
	logger.WithField("files", len(applied)).Info("postgres schema up to date")

	if cfg.ClickhouseDSN == "" {
		return
	}
	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN, logger)
	checkf(err, "clickhouse migrations")
	check(conn.Close())
	logger.Info("clickhouse schema up to date")
}
