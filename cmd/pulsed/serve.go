package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ssd-technologies/agentpulse/internal/config"
	"github.com/ssd-technologies/agentpulse/internal/indexer"
	"github.com/ssd-technologies/agentpulse/internal/ledger"
	"github.com/ssd-technologies/agentpulse/internal/logging"
	"github.com/ssd-technologies/agentpulse/internal/node"
	"github.com/ssd-technologies/agentpulse/internal/server"
	"github.com/ssd-technologies/agentpulse/internal/storage"
)

func newServeCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Deploy the contracts and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.String("addr", "", "HTTP listen address (overrides server.addr)")
	f.String("db", "", "SQLite index path (overrides indexer.database_path)")
	f.String("owner", "", "Contract owner address (overrides chain.owner)")
	f.String("log-level", "", "Log level: debug, info, warn, error")
	f.Int("rate-limit", 0, "Requests per IP per window (overrides server.rate_limit)")
	_ = v.BindPFlag("server.addr", f.Lookup("addr"))
	_ = v.BindPFlag("indexer.database_path", f.Lookup("db"))
	_ = v.BindPFlag("chain.owner", f.Lookup("owner"))
	_ = v.BindPFlag("logging.level", f.Lookup("log-level"))
	_ = v.BindPFlag("server.rate_limit", f.Lookup("rate-limit"))
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Verbose:     verbose,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	n, err := node.Deploy(cfg, ledger.SystemClock{}, logger)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(cfg.Indexer.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := storage.NewDB(cfg.Indexer.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The chain lives in memory, so an index from an earlier run is stale.
	if cursor, err := db.Cursor(ctx); err != nil {
		return err
	} else if cursor > n.Chain.LastSeq() {
		logger.Warn("index belongs to a previous chain, resetting",
			zap.Uint64("cursor", cursor),
			zap.Uint64("chain_seq", n.Chain.LastSeq()))
		if err := db.Reset(ctx); err != nil {
			return err
		}
	}

	ix := indexer.New(n.Chain, n.Registry, db, indexer.Options{
		Buffer:            cfg.Indexer.Buffer,
		Staleness:         cfg.Indexer.Staleness,
		ReconcileInterval: cfg.Indexer.ReconcileInterval,
		Logger:            logger.Named("indexer"),
	})
	srv := server.New(cfg.Server, n, ix, db, logger.Named("http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ix.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	ix.StartWorkers(gctx)

	logger.Info("pulsed started",
		zap.String("addr", cfg.Server.Addr),
		zap.String("db", cfg.Indexer.DatabasePath),
		zap.String("registry", n.Registry.Address().Hex()))
	err = g.Wait()
	logger.Info("pulsed stopped")
	return err
}
