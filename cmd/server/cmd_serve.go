package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dextra-ledger/internal/api"
	"dextra-ledger/internal/clock"
	"dextra-ledger/internal/config"
	"dextra-ledger/internal/domain"
	"dextra-ledger/internal/events"
	"dextra-ledger/internal/governance"
	"dextra-ledger/internal/ledger"
	"dextra-ledger/internal/observability"
	"dextra-ledger/internal/relay"
	"dextra-ledger/internal/runtime"
	"dextra-ledger/internal/scheduler"
	"dextra-ledger/internal/solana"
	"dextra-ledger/internal/storage"
	chstore "dextra-ledger/internal/storage/clickhouse"
	"dextra-ledger/internal/storage/memory"
	pgstore "dextra-ledger/internal/storage/postgres"
	"dextra-ledger/internal/token"
)

const shutdownTimeout = 30 * time.Second

var cmdServe = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger API",
	Args:  cobra.NoArgs,
	Run:   serve,
}

var flagServe struct {
	Mints  []string
	Funds  []string
	PGConn int32
}

func init() {
	cmdMain.AddCommand(cmdServe)
	cmdServe.Flags().StringSliceVar(&flagServe.Mints, "mint", nil, "Register a custody mint as address:decimals")
	cmdServe.Flags().StringSliceVar(&flagServe.Funds, "fund", nil, "Credit an associated account at startup as owner:mint:amount")
	cmdServe.Flags().Int32Var(&flagServe.PGConn, "pg-max-conns", 10, "PostgreSQL pool size")
}

// backends holds the storage opened for a run.
type backends struct {
	store  storage.Store
	events storage.EventStore
	nonces storage.NonceStore
	close  func()
}

func openBackends(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*backends, error) {
	if cfg.UseMemory {
		logger.Info("using in-memory storage")
		return &backends{
			store:  memory.NewStore(),
			events: memory.NewEventStore(),
			nonces: memory.NewNonceStore(),
			close:  func() {},
		}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, flagServe.PGConn)
	if err != nil {
		return nil, err
	}
	b := &backends{
		store:  pgstore.NewStore(pool),
		events: pgstore.NewEventStore(pool),
		nonces: pgstore.NewNonceStore(pool),
		close:  pool.Close,
	}
	logger.Info("connected to postgres")

	if cfg.ClickhouseDSN == "" {
		return b, nil
	}
	conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, err
	}
	b.events = chstore.NewEventStore(conn)
	b.close = func() {
		conn.Close()
		pool.Close()
	}
	logger.Info("archiving events to clickhouse")
	return b, nil
}

func serve(cmd *cobra.Command, _ []string) {
	cfg, logger := loadConfig(cmd)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := observability.NewMetrics("", prometheus.DefaultRegisterer)

	stores, err := openBackends(ctx, cfg, logger)
	checkf(err, "open storage")
	defer stores.close()

	tokens := token.NewMemoryLedger()
	check(seedLedger(ctx, tokens))

	var rpc *solana.HTTPClient
	if cfg.RPCEndpoint != "" {
		rpc = solana.NewHTTPClient(cfg.RPCEndpoint, solana.WithLatencyObserver(metrics.RecordRPCLatency))
	}

	var clk clock.Clock = clock.System{}
	if cfg.Clock == "rpc" {
		clk = clock.NewRPC(rpc)
	}

	var decimals token.DecimalsSource = tokens
	if rpc != nil {
		decimals = token.NewRPCDecimals(rpc)
	}

	gate, err := relay.NewGate(
		cfg.ProgramKey(),
		runtime.New(logger, token.NewProgram(tokens), governance.NewProgram(tokens, logger)),
		[]solana.PublicKey{solana.GovernanceProgramID},
		logger,
	)
	checkf(err, "create relay gate")

	hub := events.NewHub(logger)
	engine, err := ledger.New(ledger.Options{
		Store:       stores.store,
		Tokens:      tokens,
		Clock:       clk,
		Gate:        gate,
		Mints:       token.NewMintResolver(decimals),
		Sink:        events.Fanout{events.NewLogSink(logger), hub, events.NewStoreSink(stores.events)},
		Metrics:     metrics,
		Logger:      logger,
		ReferralBPS: cfg.ReferralBPS,
	})
	checkf(err, "create engine")

	logger.WithFields(logrus.Fields{
		"program_id": cfg.ProgramID,
		"authority":  engine.Authority().String(),
	}).Info("protocol authority derived")

	if owner := cfg.OwnerKey(); !owner.IsZero() {
		_, err := engine.Initialize(ctx, owner)
		switch {
		case err == nil:
			logger.WithField("owner", cfg.Owner).Info("protocol initialized")
		case errors.Is(err, domain.ErrAlreadyInitialized):
		default:
			checkf(err, "initialize protocol")
		}
	}

	go hub.Run(ctx)

	stats := scheduler.New(engine, metrics, logger)
	checkf(stats.Start(cfg.StatsSchedule), "start stats scheduler")

	server := api.NewServer(api.Options{
		Engine: engine,
		Events: http.HandlerFunc(hub.ServeWS),
		Stats:  stats,
		Logger: logger,

		Nonces:          stores.nonces,
		SignatureWindow: cfg.SignatureWindow,
	})

	errCh := make(chan error, 2)
	go func() { errCh <- server.Start(cfg.ListenAddr) }()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && cfg.MetricsAddr != cfg.ListenAddr {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.WithField("addr", cfg.MetricsAddr).Info("metrics listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("received signal, initiating graceful shutdown")
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("server failed")
		}
	}
	cancel()

	// A second signal forces exit.
	force := make(chan os.Signal, 1)
	signal.Notify(force, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-force
		logger.Warn("received second signal, forcing exit")
		os.Exit(1)
	}()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("api shutdown")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("metrics shutdown")
		}
	}
	select {
	case <-stats.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("stats refresh still running at shutdown")
	}
	logger.Info("shutdown complete")
}

// seedLedger registers the --mint and --fund entries in the in-memory token ledger.
func seedLedger(ctx context.Context, tokens *token.MemoryLedger) error {
	for _, entry := range flagServe.Mints {
		parts := strings.Split(entry, ":")
		if len(parts) != 2 {
			return fmt.Errorf("invalid --mint %q: want address:decimals", entry)
		}
		mint, err := solana.ParsePublicKey(parts[0])
		if err != nil {
			return fmt.Errorf("invalid --mint %q: %w", entry, err)
		}
		decimals, err := strconv.ParseUint(parts[1], 10, 8)
		if err != nil {
			return fmt.Errorf("invalid --mint %q: %w", entry, err)
		}
		tokens.CreateMint(mint, uint8(decimals))
	}

	for _, entry := range flagServe.Funds {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return fmt.Errorf("invalid --fund %q: want owner:mint:amount", entry)
		}
		owner, err := solana.ParsePublicKey(parts[0])
		if err != nil {
			return fmt.Errorf("invalid --fund %q: %w", entry, err)
		}
		mint, err := solana.ParsePublicKey(parts[1])
		if err != nil {
			return fmt.Errorf("invalid --fund %q: %w", entry, err)
		}
		amount, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid --fund %q: %w", entry, err)
		}
		if _, err := tokens.MintDecimals(ctx, mint); err != nil {
			return fmt.Errorf("invalid --fund %q: %w", entry, err)
		}
		address, err := tokens.EnsureAssociated(ctx, owner, mint)
		if err != nil {
			return fmt.Errorf("open account for %s: %w", owner, err)
		}
		if err := tokens.MintTo(address, amount); err != nil {
			return fmt.Errorf("fund %s: %w", address, err)
		}
	}
	return nil
}
