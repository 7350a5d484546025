package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"claimCurve/internal/chain"
	"claimCurve/internal/config"
	"claimCurve/internal/mark"
	"claimCurve/internal/model"
	"claimCurve/internal/storage/postgres"
	"claimCurve/internal/token"
)

func runMetrics(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadMetrics(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Input == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.PGDSN == "" {
		return fmt.Errorf("pg dsn is required")
	}

	windowDuration, err := time.ParseDuration(cfg.Window)
	if err != nil {
		return fmt.Errorf("invalid window: %w", err)
	}
	if windowDuration <= 0 {
		return fmt.Errorf("window must be positive")
	}
	windowSeconds := uint64(windowDuration.Seconds())
	if windowSeconds == 0 {
		return fmt.Errorf("window must be at least 1s")
	}

	recomputeFrom, err := config.ParseTimestamp(cfg.RecomputeFrom)
	if err != nil {
		return fmt.Errorf("parse recompute-from: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	var progress mark.ProgressStore = store
	if cfg.ProgressFile != "" {
		progress = &mark.ProgressFile{Path: cfg.ProgressFile}
	}
	stateStore := &mark.NamedState{Store: progress, Name: fmt.Sprintf("metrics:%d", windowSeconds)}

	agg := mark.NewAggregator(mark.Config{
		WindowSeconds: windowSeconds,
		BatchSize:     cfg.BatchSize,
		RecomputeFrom: recomputeFrom,
		StateStore:    stateStore,
	}, store, logger)

	if cfg.StateFile != "" || cfg.PoolID != "" {
		desc, err := describeStoredPool(ctx, cfg, store, logger)
		if err != nil {
			return err
		}
		agg.Register(desc)
	}

	logger.Info("metrics start",
		zap.String("input", cfg.Input),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Uint64("window_seconds", windowSeconds),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Uint64("recompute_from", recomputeFrom),
	)

	return agg.Run(ctx, cfg.Input)
}

// describeStoredPool builds the pool row from a stored engine state, filling in
// token symbols over RPC when one is configured.
func describeStoredPool(ctx context.Context, cfg config.MetricsConfig, pg *postgres.Store, logger *zap.Logger) (model.Pool, error) {
	states := &stateStore{file: cfg.StateFile, poolID: cfg.PoolID, pg: pg}
	st, err := states.load(ctx)
	if err != nil {
		return model.Pool{}, err
	}
	desc := mark.DescribePool(st, st.LastUpdate)
	if cfg.RPCURL == "" {
		return desc, nil
	}

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, chain.WithLogger(logger))
	if err != nil {
		return model.Pool{}, fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	cache := token.NewMetaCache()
	for _, meta := range []*model.TokenMeta{&desc.Asset, &desc.Claim, &desc.Yield} {
		addr := common.HexToAddress(meta.Address)
		if addr == (common.Address{}) {
			continue
		}
		fetched, err := cache.Lookup(ctx, chainClient, addr, logger)
		if err != nil {
			logger.Warn("token metadata", zap.String("token", meta.Address), zap.Error(err))
			continue
		}
		if fetched.Decimals != meta.Decimals {
			logger.Warn("token decimals differ from pool params",
				zap.String("token", meta.Address),
				zap.Uint8("onchain", fetched.Decimals),
				zap.Uint8("params", meta.Decimals),
			)
		}
		meta.Symbol, meta.Name = fetched.Symbol, fetched.Name
	}
	return desc, nil
}
