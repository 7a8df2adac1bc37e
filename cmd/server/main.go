// Package main runs the staking ledger service.
//
// Subcommands:
//   - serve:   HTTP API, event stream, stats scheduler and metrics endpoint
//   - migrate: apply the PostgreSQL and ClickHouse schemas
//   - pda:     print the protocol authority and custody accounts
//
// Configuration comes from .env, the environment and flags, in increasing precedence.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dextra-ledger/internal/config"
	"dextra-ledger/internal/logging"
)

var cmdMain = &cobra.Command{
	Use:   "server",
	Short: "Multi-pool staking ledger",
	Run:   printUsageAndExit1,
}

var flagMain struct {
	EnvFile string
}

func init() {
	flags := cmdMain.PersistentFlags()
	flags.StringVar(&flagMain.EnvFile, "env-file", ".env", "Environment file loaded before the process environment")

	flags.String(config.FlagName("listen_addr"), ":8080", "API listen address")
	flags.String(config.FlagName("metrics_addr"), ":9090", "Metrics listen address (empty disables the separate listener)")
	flags.String(config.FlagName("postgres_dsn"), "", "PostgreSQL connection string")
	flags.String(config.FlagName("clickhouse_dsn"), "", "ClickHouse connection string for the event archive")
	flags.Bool(config.FlagName("use_memory"), false, "Use in-memory storage instead of PostgreSQL")
	flags.String(config.FlagName("program_id"), "", "Program id the protocol authority is derived from")
	flags.String(config.FlagName("owner"), "", "Owner to initialize the protocol with at startup")
	flags.String(config.FlagName("solana_rpc_endpoint"), "", "Solana RPC endpoint for block time and mint decimals")
	flags.String(config.FlagName("clock"), "system", "Ledger clock: system or rpc")
	flags.String(config.FlagName("log_level"), "info", "Log level")
	flags.String(config.FlagName("log_format"), "text", "Log format: text or json")
	flags.Uint64(config.FlagName("referral_bps"), 0, "Referral commission at initialize (0 keeps the default)")
	flags.String(config.FlagName("stats_schedule"), "@every 1m", "Cron schedule of the pool statistics refresh")
	flags.Duration(config.FlagName("signature_window"), 5*time.Minute, "Accepted clock drift of signed request timestamps")
}

func main() {
	if err := cmdMain.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and builds the process logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger) {
	cfg, err := config.Load(cmd.Flags(), flagMain.EnvFile)
	checkf(err, "load config")
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	checkf(err, "configure logging")
	return cfg, logger
}

func printUsageAndExit1(cmd *cobra.Command, _ []string) {
	_ = cmd.Usage()
	os.Exit(1)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func check(err error) {
	if err != nil {
		fatalf("%v", err)
	}
}

func checkf(err error, format string, otherArgs ...interface{}) {
	if err != nil {
		fatalf(format+": %v", append(otherArgs, err)...)
	}
}
